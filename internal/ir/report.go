package ir

import "time"

// StepOutcome records how a single plan step ended.
type StepOutcome struct {
	ResourceID string
	Action     Action
	Status     Status
	Duration   time.Duration
	Err        error
}

// ExecutionReport summarizes an apply run. Applied preserves completion
// order, which the rollback coordinator reverses.
type ExecutionReport struct {
	Deployment string
	Outcomes   []StepOutcome
	Applied    []*PlanStep
	Cancelled  bool
	Rollback   *RollbackReport
}

// FailedResource returns the identifier of the first failed step, if any.
func (r *ExecutionReport) FailedResource() string {
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			return o.ResourceID
		}
	}
	return ""
}

// LastApplied returns the identifier of the most recently applied step.
func (r *ExecutionReport) LastApplied() string {
	if len(r.Applied) == 0 {
		return ""
	}
	return r.Applied[len(r.Applied)-1].ResourceID
}

// RollbackReport summarizes the unwinding of applied steps.
type RollbackReport struct {
	Compensated []StepOutcome
	// Failed lists resources whose compensating action itself failed and
	// which now require manual intervention.
	Failed []string
}

// Partial reports whether any compensating action failed.
func (r *RollbackReport) Partial() bool {
	return len(r.Failed) > 0
}
