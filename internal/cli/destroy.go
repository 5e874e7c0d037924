package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-io/quarry/internal/engine"
	"github.com/quarry-io/quarry/internal/state"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [file]",
	Short: "Delete every resource a deployment manages",
	Long: `Deletes all resources recorded in the deployment's state, in
reverse dependency order so dependents are removed before the resources
they depend on.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	registry := newRegistry()
	eng := newEngine(registry, dep)

	store, err := openStore(dep.Name)
	if err != nil {
		return err
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	st, err := store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	plan, err := engine.DestroyPlan(dep.Name, st)
	if err != nil {
		return err
	}

	renderPlanSummary(plan)
	if len(plan.Changes()) == 0 {
		fmt.Println("\nNo resources to destroy.")
		return nil
	}
	renderPlanChanges(plan)

	if !destroyAutoApprove {
		fmt.Println()
		if !confirm("Do you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}
	fmt.Println()

	tracker := state.NewTracker(store, st)
	report, err := eng.ApplyWithCallback(ctx, dep.Provider, plan, tracker, progressCallback)
	renderReport(report)
	return err
}
