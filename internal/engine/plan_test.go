package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-io/quarry/internal/ir"
)

func vpcDeployment() *ir.Deployment {
	return &ir.Deployment{
		Name: "web",
		Resources: []*ir.Resource{
			{ID: "v1", Type: ir.KindVPC, Properties: map[string]any{"cidr_block": "10.0.0.0/16"}},
			{ID: "s1", Type: ir.KindSubnet, DependsOn: []string{"v1"},
				Properties: map[string]any{"cidr_block": "10.0.1.0/24"}},
			{ID: "sg1", Type: ir.KindSecurityGroup, DependsOn: []string{"v1"},
				Properties: map[string]any{"name": "web-sg"}},
			{ID: "i1", Type: ir.KindInstance, DependsOn: []string{"s1", "sg1"},
				Properties: map[string]any{"instance_type": "t3.micro"}},
		},
	}
}

func appliedState(dep *ir.Deployment) *ir.State {
	st := ir.NewState(dep.Name)
	for _, res := range dep.Resources {
		// Snapshot a copy so tests can mutate the descriptor afterwards.
		props := make(map[string]any, len(res.Properties))
		for k, v := range res.Properties {
			props[k] = v
		}
		st.Resources[res.ID] = &ir.ResourceState{
			ID:           res.ID,
			Type:         res.Type,
			Handle:       "mem-" + res.ID,
			Properties:   props,
			PropsHash:    ir.HashProperties(props),
			Status:       ir.StatusApplied,
			Dependencies: res.DependsOn,
		}
	}
	return st
}

func stepActions(plan *ir.Plan) map[string]ir.Action {
	actions := make(map[string]ir.Action, len(plan.Steps))
	for _, s := range plan.Steps {
		actions[s.ResourceID] = s.Action
	}
	return actions
}

func stepIndex(plan *ir.Plan, id string) int {
	for i, s := range plan.Steps {
		if s.ResourceID == id {
			return i
		}
	}
	return -1
}

func TestCreatePlan_FreshState(t *testing.T) {
	dep := vpcDeployment()
	plan, err := CreatePlan(dep, ir.NewState(dep.Name))
	require.NoError(t, err)

	assert.Equal(t, 4, plan.Summary.Create)
	assert.Zero(t, plan.Summary.Update)
	assert.Zero(t, plan.Summary.Delete)

	ids := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		ids = append(ids, s.ResourceID)
		assert.Equal(t, ir.ActionCreate, s.Action)
	}
	assert.Equal(t, []string{"v1", "s1", "sg1", "i1"}, ids)

	// Create diffs carry every desired property.
	v1 := plan.Steps[0]
	require.Contains(t, v1.Diff, "cidr_block")
	assert.Equal(t, ir.ActionCreate, v1.Diff["cidr_block"].Action)
	assert.Equal(t, "10.0.0.0/16", v1.Diff["cidr_block"].After)
}

func TestCreatePlan_RoundTripIsNoOp(t *testing.T) {
	dep := vpcDeployment()
	plan, err := CreatePlan(dep, appliedState(dep))
	require.NoError(t, err)

	assert.Equal(t, 4, plan.Summary.NoOp)
	assert.Empty(t, plan.Changes())
}

func TestCreatePlan_DetectsDrift(t *testing.T) {
	dep := vpcDeployment()
	st := appliedState(dep)
	dep.Resources[3].Properties["instance_type"] = "t3.large"

	plan, err := CreatePlan(dep, st)
	require.NoError(t, err)

	actions := stepActions(plan)
	assert.Equal(t, ir.ActionUpdate, actions["i1"])
	assert.Equal(t, ir.ActionNoOp, actions["v1"])
	assert.Equal(t, 1, plan.Summary.Update)
	assert.Equal(t, 3, plan.Summary.NoOp)

	i1 := plan.Steps[stepIndex(plan, "i1")]
	require.NotNil(t, i1.Prior)
	require.Contains(t, i1.Diff, "instance_type")
	assert.Equal(t, "t3.micro", i1.Diff["instance_type"].Before)
	assert.Equal(t, "t3.large", i1.Diff["instance_type"].After)
}

func TestCreatePlan_NumericTypeChangesAreNotDrift(t *testing.T) {
	st := ir.NewState("web")
	st.Resources["v1"] = &ir.ResourceState{
		ID: "v1", Type: ir.KindVPC,
		Properties: map[string]any{"mtu": float64(1500)},
		PropsHash:  ir.HashProperties(map[string]any{"mtu": float64(1500)}),
		Status:     ir.StatusApplied,
	}
	dep := &ir.Deployment{Name: "web", Resources: []*ir.Resource{
		{ID: "v1", Type: ir.KindVPC, Properties: map[string]any{"mtu": 1500}},
	}}

	plan, err := CreatePlan(dep, st)
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoOp, plan.Steps[0].Action)
}

func TestCreatePlan_DeletesFollowCreatesInReverseDependencyOrder(t *testing.T) {
	dep := vpcDeployment()
	st := appliedState(dep)

	// Shrink the descriptor set to v1 only; the other three become stale.
	dep.Resources = dep.Resources[:1]

	plan, err := CreatePlan(dep, st)
	require.NoError(t, err)

	assert.Equal(t, 3, plan.Summary.Delete)
	assert.Equal(t, 1, plan.Summary.NoOp)

	// Deletes come after all forward steps, dependents first.
	assert.Less(t, stepIndex(plan, "v1"), stepIndex(plan, "i1"))
	assert.Less(t, stepIndex(plan, "i1"), stepIndex(plan, "s1"))
	assert.Less(t, stepIndex(plan, "i1"), stepIndex(plan, "sg1"))

	i1 := plan.Steps[stepIndex(plan, "i1")]
	assert.Equal(t, ir.ActionDelete, i1.Action)
	require.NotNil(t, i1.Prior)
	assert.Equal(t, "mem-i1", i1.Prior.Handle)
}

func TestCreatePlan_Deterministic(t *testing.T) {
	dep := vpcDeployment()
	st := ir.NewState(dep.Name)

	first, err := CreatePlan(dep, st)
	require.NoError(t, err)
	second, err := CreatePlan(dep, st)
	require.NoError(t, err)

	require.Len(t, second.Steps, len(first.Steps))
	for i := range first.Steps {
		assert.Equal(t, first.Steps[i].ResourceID, second.Steps[i].ResourceID)
		assert.Equal(t, first.Steps[i].Action, second.Steps[i].Action)
	}
}

func TestCreatePlan_CycleFails(t *testing.T) {
	dep := &ir.Deployment{Name: "web", Resources: []*ir.Resource{
		{ID: "a", Type: ir.KindVPC, DependsOn: []string{"b"}},
		{ID: "b", Type: ir.KindSubnet, DependsOn: []string{"a"}},
	}}

	_, err := CreatePlan(dep, ir.NewState("web"))
	assert.Error(t, err)
}

func TestDestroyPlan(t *testing.T) {
	dep := vpcDeployment()
	st := appliedState(dep)

	plan, err := DestroyPlan(dep.Name, st)
	require.NoError(t, err)

	assert.Equal(t, 4, plan.Summary.Delete)
	assert.Equal(t, "i1", plan.Steps[0].ResourceID)
	assert.Equal(t, "v1", plan.Steps[3].ResourceID)
	for _, s := range plan.Steps {
		assert.Equal(t, ir.ActionDelete, s.Action)
	}
}

func TestDestroyPlan_EmptyState(t *testing.T) {
	plan, err := DestroyPlan("web", ir.NewState("web"))
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
}
