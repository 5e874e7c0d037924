package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarry-io/quarry/internal/engine"
	"github.com/quarry-io/quarry/internal/errs"
	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/state"
)

var rollbackProvider string

var rollbackCmd = &cobra.Command{
	Use:   "rollback <deployment>",
	Short: "Clean up resources left behind by an interrupted run",
	Long: `Inspects the deployment's recorded state for resources stuck in
applying, failed or rolled-back-failed status after a crashed or killed run
and deletes them in reverse dependency order. Applied resources are left
alone; use destroy to remove those.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackProvider, "provider", "memory", "Provider the stuck resources belong to")
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deployment := args[0]

	registry := newRegistry()
	eng := engine.NewEngine(registry)

	store, err := openStore(deployment)
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

	steps, err := stuckSteps(st)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		fmt.Println("Nothing to roll back. State is clean.")
		return nil
	}

	fmt.Printf("Rolling back %d resource(s):\n", len(steps))
	for i := len(steps) - 1; i >= 0; i-- {
		fmt.Printf("  - %s\n", steps[i].ResourceID)
	}
	fmt.Println()

	tracker := state.NewTracker(store, st)
	report := eng.Rollback(ctx, rollbackProvider, steps, tracker)
	if err := tracker.Finish(ctx); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}

	if report.Partial() {
		return &errs.PartialRollbackError{FailedResources: report.Failed}
	}
	fmt.Printf("Rollback complete! Resources: %d removed.\n", len(report.Compensated))
	return nil
}

// stuckSteps synthesizes compensation steps, in creation order, for every
// resource an interrupted run left in a non-terminal status. The engine
// unwinds them in reverse.
func stuckSteps(st *ir.State) ([]*ir.PlanStep, error) {
	dag, err := engine.BuildDAGFromState(st.Resources)
	if err != nil {
		return nil, err
	}

	var steps []*ir.PlanStep
	for _, id := range dag.CreationOrder() {
		rs := st.Resources[id]
		switch rs.Status {
		case ir.StatusApplying, ir.StatusFailed, ir.StatusRolledBackFailed:
			steps = append(steps, &ir.PlanStep{
				ResourceID: id,
				Action:     ir.ActionCreate,
				Prior:      rs,
			})
		}
	}
	return steps, nil
}
