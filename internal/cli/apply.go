package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-io/quarry/internal/engine"
	"github.com/quarry-io/quarry/internal/state"
)

var (
	applyAutoApprove bool
	applyParallelism int
)

var applyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Apply a deployment descriptor",
	Long: `Creates, updates or deletes resources so the provider converges on
the deployment descriptor. Steps run in dependency order, independent steps
in parallel. A failed step halts forward progress and rolls back every step
this run applied, in reverse order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Override the deployment's concurrency bound")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	registry := newRegistry()
	eng := newEngine(registry, dep)
	if applyParallelism > 0 {
		eng.Parallelism = applyParallelism
	}

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

	if !applyAutoApprove {
		fmt.Println()
		if !confirm("Do you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}
	fmt.Println()

	tracker := state.NewTracker(store, st)
	report, err := eng.ApplyWithCallback(ctx, dep.Provider, plan, tracker, progressCallback)
	renderReport(report)
	return err
}
