package engine

import (
	"time"

	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/logging"
)

// CreatePlan computes the minimal action set to move current state to the
// desired descriptor set. Planning alone has no side effects, so calling it
// repeatedly against the same inputs yields an identical plan.
//
// Create/Update steps appear in dependency order. Delete steps (resources
// present in state but absent from desired) are appended after all
// Creates/Updates, in reverse dependency order, so dependents are torn down
// before the resources they reference.
func CreatePlan(dep *ir.Deployment, state *ir.State) (*ir.Plan, error) {
	logging.Debug("creating plan",
		"deployment", dep.Name,
		"resources", len(dep.Resources),
		"state_resources", len(state.Resources))

	dag, err := BuildDAG(dep.Resources)
	if err != nil {
		return nil, err
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Deployment: dep.Name,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		},
		Summary: &ir.PlanSummary{},
	}

	desired := make(map[string]*ir.Resource, len(dep.Resources))
	for _, res := range dep.Resources {
		desired[res.ID] = res
	}

	for _, id := range dag.CreationOrder() {
		res := desired[id]
		step := &ir.PlanStep{
			ResourceID: id,
			Desired:    res,
			DependsOn:  dag.Dependencies(id),
		}

		prior, exists := state.Resources[id]
		switch {
		case !exists:
			step.Action = ir.ActionCreate
			step.Diff = createDiff(res.Properties)
			plan.Summary.Create++
		case prior.PropsHash != ir.HashProperties(res.Properties):
			step.Action = ir.ActionUpdate
			step.Prior = prior
			step.Diff = updateDiff(prior.Properties, res.Properties)
			plan.Summary.Update++
		default:
			step.Action = ir.ActionNoOp
			step.Prior = prior
			plan.Summary.NoOp++
		}
		plan.Steps = append(plan.Steps, step)
	}

	deletes, err := deleteSteps(desired, state)
	if err != nil {
		return nil, err
	}
	plan.Steps = append(plan.Steps, deletes...)
	plan.Summary.Delete = len(deletes)

	return plan, nil
}

// DestroyPlan produces a plan that deletes every resource in state, in
// reverse dependency order.
func DestroyPlan(deployment string, state *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Deployment: deployment,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		},
		Summary: &ir.PlanSummary{},
	}

	deletes, err := deleteSteps(nil, state)
	if err != nil {
		return nil, err
	}
	plan.Steps = deletes
	plan.Summary.Delete = len(deletes)
	return plan, nil
}

// deleteSteps emits Delete steps for state entries absent from desired, in
// reverse dependency order derived from the recorded dependencies.
func deleteSteps(desired map[string]*ir.Resource, state *ir.State) ([]*ir.PlanStep, error) {
	stale := make(map[string]*ir.ResourceState)
	for id, rs := range state.Resources {
		if _, keep := desired[id]; !keep {
			stale[id] = rs
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	dag, err := BuildDAGFromState(stale)
	if err != nil {
		return nil, err
	}

	var steps []*ir.PlanStep
	for _, id := range dag.DestructionOrder() {
		rs, ok := stale[id]
		if !ok {
			continue
		}
		steps = append(steps, &ir.PlanStep{
			ResourceID: id,
			Action:     ir.ActionDelete,
			Prior:      rs,
			Diff:       deleteDiff(rs.Properties),
		})
	}
	return steps, nil
}

func createDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(props))
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: ir.ActionCreate}
	}
	return diff
}

func deleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(props))
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: ir.ActionDelete}
	}
	return diff
}

func updateDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	for k, priorVal := range prior {
		desiredVal, stillSet := desired[k]
		switch {
		case !stillSet:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: ir.ActionDelete}
		case ir.HashProperties(map[string]any{k: priorVal}) != ir.HashProperties(map[string]any{k: desiredVal}):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: ir.ActionUpdate}
		}
	}
	for k, desiredVal := range desired {
		if _, wasSet := prior[k]; !wasSet {
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: ir.ActionCreate}
		}
	}
	return diff
}
