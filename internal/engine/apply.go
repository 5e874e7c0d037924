package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quarry-io/quarry/internal/errs"
	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/logging"
	"github.com/quarry-io/quarry/internal/provider"
	"github.com/quarry-io/quarry/internal/state"
)

const defaultParallelism = 10

// Engine executes deployment plans against a cloud provisioning API. It is
// the only layer authorized to trigger rollback.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds how many independent steps run concurrently.
	Parallelism int
	// StepTimeout is the default per-resource stabilization timeout,
	// overridable per descriptor.
	StepTimeout time.Duration
	// PollInterval is how often readiness is polled.
	PollInterval time.Duration
	// Retry governs transient provider error retries.
	Retry *RetryPolicy
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry:     registry,
		Parallelism:  defaultParallelism,
		StepTimeout:  DefaultTimeout,
		PollInterval: DefaultPollInterval,
		Retry:        DefaultRetryPolicy(),
	}
}

// ApplyEvent reports progress of a single step.
type ApplyEvent struct {
	ResourceID string
	Action     ir.Action
	Phase      string // "started", "completed", "failed"
	Duration   time.Duration
	Err        error
}

// ApplyCallback receives progress events if set.
type ApplyCallback func(event ApplyEvent)

// Apply executes the plan. Create/Update steps run concurrently where the
// dependency graph allows; a step never starts before all its predecessors
// are Applied. Delete steps run afterwards in their reverse-dependency plan
// order. On any step failure forward execution halts, in-flight steps finish
// or time out, and the already-applied steps are rolled back in reverse
// completion order.
func (e *Engine) Apply(ctx context.Context, providerName string, plan *ir.Plan, tracker *state.Tracker) (*ir.ExecutionReport, error) {
	return e.ApplyWithCallback(ctx, providerName, plan, tracker, nil)
}

// ApplyWithCallback is Apply with per-step progress events.
func (e *Engine) ApplyWithCallback(ctx context.Context, providerName string, plan *ir.Plan, tracker *state.Tracker, callback ApplyCallback) (*ir.ExecutionReport, error) {
	prov, err := e.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	report := &ir.ExecutionReport{Deployment: plan.Metadata.Deployment}

	var forward, deletes []*ir.PlanStep
	for _, step := range plan.Steps {
		switch step.Action {
		case ir.ActionNoOp:
			continue
		case ir.ActionDelete:
			deletes = append(deletes, step)
		default:
			forward = append(forward, step)
		}
	}

	run := &applyRun{
		engine:   e,
		provider: prov,
		tracker:  tracker,
		report:   report,
		emit:     callback,
	}

	stepErr := run.applyForward(ctx, forward)

	// Deletes execute only once every create/update succeeded; they are
	// already ordered dependents-first by the reconciler.
	if stepErr == nil {
		stepErr = run.applyDeletes(ctx, deletes)
	}

	if stepErr != nil {
		report.Cancelled = ctx.Err() != nil
		logging.Warn("apply halted, rolling back",
			"deployment", plan.Metadata.Deployment,
			"applied", len(report.Applied),
			"cause", stepErr.Error())

		// Rollback proceeds even when the apply context was cancelled.
		rbReport := e.Rollback(context.WithoutCancel(ctx), providerName, report.Applied, tracker)
		report.Rollback = rbReport

		if rbReport.Partial() {
			return report, &errs.PartialRollbackError{FailedResources: rbReport.Failed}
		}
		return report, stepErr
	}

	if err := tracker.Finish(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// applyRun carries the shared mutable bookkeeping of one Apply invocation.
type applyRun struct {
	engine   *Engine
	provider provider.Provider
	tracker  *state.Tracker
	report   *ir.ExecutionReport
	emit     ApplyCallback

	mu sync.Mutex
}

func (r *applyRun) event(ev ApplyEvent) {
	if r.emit != nil {
		r.emit(ev)
	}
}

func (r *applyRun) recordOutcome(o ir.StepOutcome, step *ir.PlanStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Outcomes = append(r.report.Outcomes, o)
	if o.Status == ir.StatusApplied && step != nil {
		// Applied preserves completion order; rollback reverses it.
		r.report.Applied = append(r.report.Applied, step)
	}
}

// applyForward runs Create/Update steps with dependency gating and a bounded
// worker pool.
func (r *applyRun) applyForward(ctx context.Context, steps []*ir.PlanStep) error {
	if len(steps) == 0 {
		return nil
	}

	parallelism := r.engine.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	sem := semaphore.NewWeighted(int64(parallelism))

	inPlan := make(map[string]*ir.PlanStep, len(steps))
	for _, s := range steps {
		inPlan[s.ResourceID] = s
	}

	applied := make(map[string]bool)
	failed := make(map[string]bool)
	var firstErr error
	gateMu := sync.Mutex{}
	gate := sync.NewCond(&gateMu)

	var wg sync.WaitGroup
	for _, step := range steps {
		wg.Add(1)
		go func(s *ir.PlanStep) {
			defer wg.Done()

			// Wait until every in-plan predecessor is Applied, or give up
			// if one failed or the run is halting.
			gateMu.Lock()
			for {
				if firstErr != nil {
					gateMu.Unlock()
					return
				}
				ready, depFailed := true, false
				for _, dep := range s.DependsOn {
					if _, planned := inPlan[dep]; !planned {
						continue // predecessor already Applied in a prior run
					}
					if failed[dep] {
						depFailed = true
						break
					}
					if !applied[dep] {
						ready = false
						break
					}
				}
				if depFailed {
					failed[s.ResourceID] = true
					gateMu.Unlock()
					gate.Broadcast()
					return
				}
				if ready {
					break
				}
				gate.Wait()
			}
			gateMu.Unlock()

			// A cancellation request halts scheduling of new steps
			// immediately; in-flight steps finish or time out below.
			if err := ctx.Err(); err != nil {
				gateMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				gateMu.Unlock()
				gate.Broadcast()
				return
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				gateMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				gateMu.Unlock()
				gate.Broadcast()
				return
			}
			err := r.executeStep(ctx, s)
			sem.Release(1)

			gateMu.Lock()
			if err != nil {
				failed[s.ResourceID] = true
				if firstErr == nil {
					firstErr = err
				}
			} else {
				applied[s.ResourceID] = true
			}
			gateMu.Unlock()
			gate.Broadcast()
		}(step)
	}
	wg.Wait()

	return firstErr
}

// applyDeletes removes stale resources sequentially in plan order, which the
// reconciler already arranged dependents-first.
func (r *applyRun) applyDeletes(ctx context.Context, steps []*ir.PlanStep) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("apply cancelled: %w", err)
		}
		if err := r.executeStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// executeStep performs one plan step: invokes the provider, waits for the
// resource to stabilize, and records the resulting state. State is written
// for every attempted step, success or failure.
func (r *applyRun) executeStep(ctx context.Context, step *ir.PlanStep) error {
	start := time.Now()
	r.event(ApplyEvent{ResourceID: step.ResourceID, Action: step.Action, Phase: "started"})

	// In-flight steps run to completion under their own timeout even when
	// the apply context is cancelled.
	timeout := stepTimeout(stepTimeoutDecl(step), r.engine.StepTimeout)
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := r.performStep(stepCtx, step, timeout)
	duration := time.Since(start)

	if err != nil {
		r.event(ApplyEvent{ResourceID: step.ResourceID, Action: step.Action, Phase: "failed", Duration: duration, Err: err})
		r.recordOutcome(ir.StepOutcome{
			ResourceID: step.ResourceID,
			Action:     step.Action,
			Status:     ir.StatusFailed,
			Duration:   duration,
			Err:        err,
		}, nil)
		return err
	}

	r.event(ApplyEvent{ResourceID: step.ResourceID, Action: step.Action, Phase: "completed", Duration: duration})
	status := ir.StatusApplied
	recordStep := step
	if step.Action == ir.ActionDelete {
		// Deleted resources leave state entirely; they are not rollback
		// candidates.
		recordStep = nil
	}
	r.recordOutcome(ir.StepOutcome{
		ResourceID: step.ResourceID,
		Action:     step.Action,
		Status:     status,
		Duration:   duration,
	}, recordStep)
	return nil
}

func (r *applyRun) performStep(ctx context.Context, step *ir.PlanStep, timeout time.Duration) error {
	e := r.engine
	id := step.ResourceID

	switch step.Action {
	case ir.ActionCreate, ir.ActionUpdate:
		res := step.Desired
		rs := &ir.ResourceState{
			ID:           id,
			Type:         res.Type,
			Properties:   res.Properties,
			PropsHash:    ir.HashProperties(res.Properties),
			Status:       ir.StatusApplying,
			Dependencies: res.DependsOn,
		}
		if step.Prior != nil {
			rs.Handle = step.Prior.Handle
		}
		if err := r.tracker.Put(ctx, rs); err != nil {
			return err
		}

		var remote provider.RemoteStatus
		opErr := RetryWithBackoff(ctx, e.Retry, func() error {
			var err error
			if step.Action == ir.ActionCreate {
				var handle string
				handle, remote, err = r.provider.Create(ctx, res.Type, res.Properties)
				if err == nil {
					rs.Handle = handle
				}
			} else {
				remote, err = r.provider.Update(ctx, rs.Handle, res.Type, res.Properties)
			}
			return err
		})
		if opErr == nil && remote != provider.StatusReady {
			opErr = e.waitFor(ctx, r.provider, id, rs.Handle, res.Type, provider.StatusReady, timeout)
		}

		if opErr != nil {
			opErr = asStepError(opErr, id, string(step.Action), timeout)
			rs.Status = ir.StatusFailed
			rs.LastError = opErr.Error()
			if err := r.tracker.Put(context.WithoutCancel(ctx), rs); err != nil {
				logging.Error("failed to persist failed state", "resource", id, "error", err.Error())
			}
			return opErr
		}

		rs.Status = ir.StatusApplied
		rs.LastError = ""
		return r.tracker.Put(ctx, rs)

	case ir.ActionDelete:
		prior := step.Prior
		rs := *prior
		rs.Status = ir.StatusApplying
		if err := r.tracker.Put(ctx, &rs); err != nil {
			return err
		}

		opErr := RetryWithBackoff(ctx, e.Retry, func() error {
			_, err := r.provider.Delete(ctx, prior.Handle, prior.Type)
			return err
		})
		if opErr == nil {
			opErr = e.waitFor(ctx, r.provider, id, prior.Handle, prior.Type, provider.StatusGone, timeout)
		}

		if opErr != nil {
			opErr = asStepError(opErr, id, "delete", timeout)
			rs.Status = ir.StatusFailed
			rs.LastError = opErr.Error()
			if err := r.tracker.Put(context.WithoutCancel(ctx), &rs); err != nil {
				logging.Error("failed to persist failed state", "resource", id, "error", err.Error())
			}
			return opErr
		}

		return r.tracker.Remove(ctx, id)

	default:
		return fmt.Errorf("unexpected plan action %q for resource %q", step.Action, id)
	}
}

// waitFor polls the provider until the resource reaches want, the provider
// reports failure, or the step deadline passes.
func (e *Engine) waitFor(ctx context.Context, prov provider.Provider, id, handle string, typ ir.Kind, want provider.RemoteStatus, timeout time.Duration) error {
	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := prov.GetStatus(ctx, handle, typ)
		if err != nil {
			if !errs.IsTransient(err) {
				return err
			}
			// Transient status errors fall through to the next poll.
		} else {
			switch status {
			case want:
				return nil
			case provider.StatusFailed:
				return errs.NewProviderError(id, "status", false,
					fmt.Errorf("provider reported resource failure"))
			case provider.StatusGone:
				if want != provider.StatusGone {
					return errs.NewProviderError(id, "status", false,
						fmt.Errorf("resource disappeared while waiting for %s", want))
				}
			}
		}

		select {
		case <-ctx.Done():
			// A user interrupt is not a stabilization timeout; only a spent
			// deadline is.
			if errors.Is(ctx.Err(), context.Canceled) {
				return fmt.Errorf("wait for resource %q interrupted: %w", id, ctx.Err())
			}
			return &errs.TimeoutError{ResourceID: id, Timeout: timeout.String()}
		case <-ticker.C:
		}
	}
}

// asStepError normalizes a step failure: context deadlines become
// TimeoutError, everything else keeps its type but is guaranteed to name
// the resource.
func asStepError(err error, id, op string, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	var (
		terr *errs.TimeoutError
		perr *errs.ProviderError
	)
	switch {
	case errors.As(err, &terr):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &errs.TimeoutError{ResourceID: id, Timeout: timeout.String()}
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &perr):
		return err
	default:
		return errs.NewProviderError(id, op, false, err)
	}
}

func stepTimeoutDecl(step *ir.PlanStep) string {
	if step.Desired != nil {
		return step.Desired.Timeout
	}
	return ""
}
