package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/logging"
	"github.com/quarry-io/quarry/internal/provider"
	"github.com/quarry-io/quarry/internal/state"
)

// Rollback reverses applied steps in strict reverse order of original
// application, regardless of graph shape, so dependents are always removed
// before their dependencies. Creates are compensated by deletes; updates by
// re-applying the prior property snapshot.
//
// A compensating action that itself fails is recorded, not retried
// indefinitely: the resource is marked RolledBackFailed and unwinding
// continues, surfacing a partial-rollback condition to the caller.
func (e *Engine) Rollback(ctx context.Context, providerName string, applied []*ir.PlanStep, tracker *state.Tracker) *ir.RollbackReport {
	report := &ir.RollbackReport{}

	prov, err := e.registry.Get(providerName)
	if err != nil {
		for _, step := range applied {
			report.Failed = append(report.Failed, step.ResourceID)
		}
		return report
	}

	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		start := time.Now()

		compErr := e.compensate(ctx, prov, step, tracker)
		outcome := ir.StepOutcome{
			ResourceID: step.ResourceID,
			Action:     step.Action,
			Duration:   time.Since(start),
		}

		if compErr != nil {
			outcome.Status = ir.StatusRolledBackFailed
			outcome.Err = compErr
			report.Failed = append(report.Failed, step.ResourceID)
			logging.Error("compensating action failed",
				"resource", step.ResourceID, "error", compErr.Error())

			if rs, ok := tracker.Get(step.ResourceID); ok {
				marked := *rs
				marked.Status = ir.StatusRolledBackFailed
				marked.LastError = compErr.Error()
				if err := tracker.Put(ctx, &marked); err != nil {
					logging.Error("failed to persist rollback state",
						"resource", step.ResourceID, "error", err.Error())
				}
			}
		} else {
			outcome.Status = ir.StatusRolledBack
			logging.Info("compensated", "resource", step.ResourceID, "action", string(step.Action))
		}

		report.Compensated = append(report.Compensated, outcome)
	}

	return report
}

// compensate issues the reversing call for one applied step.
func (e *Engine) compensate(ctx context.Context, prov provider.Provider, step *ir.PlanStep, tracker *state.Tracker) error {
	rs, ok := tracker.Get(step.ResourceID)
	if !ok {
		return nil // already gone
	}

	timeout := stepTimeout(stepTimeoutDecl(step), e.StepTimeout)
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch step.Action {
	case ir.ActionCreate:
		err := RetryWithBackoff(opCtx, e.Retry, func() error {
			_, derr := prov.Delete(opCtx, rs.Handle, rs.Type)
			return derr
		})
		if err == nil {
			err = e.waitFor(opCtx, prov, step.ResourceID, rs.Handle, rs.Type, provider.StatusGone, timeout)
		}
		if err != nil {
			return asStepError(err, step.ResourceID, "delete", timeout)
		}
		return tracker.Remove(ctx, step.ResourceID)

	case ir.ActionUpdate:
		if step.Prior == nil {
			return fmt.Errorf("no prior snapshot recorded for resource %q", step.ResourceID)
		}
		err := RetryWithBackoff(opCtx, e.Retry, func() error {
			_, uerr := prov.Update(opCtx, rs.Handle, rs.Type, step.Prior.Properties)
			return uerr
		})
		if err == nil {
			err = e.waitFor(opCtx, prov, step.ResourceID, rs.Handle, rs.Type, provider.StatusReady, timeout)
		}
		if err != nil {
			return asStepError(err, step.ResourceID, "update", timeout)
		}

		reverted := &ir.ResourceState{
			ID:           step.ResourceID,
			Type:         rs.Type,
			Handle:       rs.Handle,
			Properties:   step.Prior.Properties,
			PropsHash:    step.Prior.PropsHash,
			Status:       ir.StatusRolledBack,
			Dependencies: step.Prior.Dependencies,
		}
		return tracker.Put(ctx, reverted)

	default:
		return fmt.Errorf("cannot compensate action %q for resource %q", step.Action, step.ResourceID)
	}
}
