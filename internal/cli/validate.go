package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-io/quarry/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a deployment descriptor",
	Long: `Checks the deployment descriptor for schema errors, duplicate or
unknown resource identifiers, unknown resource types and self references,
and verifies the dependency graph is acyclic. Nothing is provisioned.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	// Validation includes cycle detection so a descriptor that parses but
	// cannot be ordered still fails here, not at apply time.
	if _, err := engine.BuildDAG(dep.Resources); err != nil {
		return err
	}

	fmt.Printf("Success! Deployment %q is valid: %d resources.\n", dep.Name, len(dep.Resources))
	return nil
}
