package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-io/quarry/internal/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan [file]",
	Short: "Show what an apply would change",
	Long: `Diffs the deployment descriptor against recorded state and prints
the ordered set of create, update and delete actions an apply would
perform. Nothing is provisioned.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	store, err := openStore(dep.Name)
	if err != nil {
		return err
	}
	st, err := store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	plan, err := engine.CreatePlan(dep, st)
	if err != nil {
		return err
	}

	renderPlanSummary(plan)
	if len(plan.Changes()) == 0 {
		fmt.Println("\nNo changes. Deployment is up-to-date.")
		return nil
	}
	renderPlanChanges(plan)
	return nil
}
