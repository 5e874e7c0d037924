package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashProperties_KeyOrderInvariant(t *testing.T) {
	a := map[string]any{"cidr_block": "10.0.0.0/16", "name": "v1", "mtu": 1500}
	b := map[string]any{"mtu": 1500, "name": "v1", "cidr_block": "10.0.0.0/16"}

	assert.Equal(t, HashProperties(a), HashProperties(b))
}

func TestHashProperties_WholeFloatsEqualInts(t *testing.T) {
	// YAML and JSON decoders disagree on number types; the hash must not.
	assert.Equal(t,
		HashProperties(map[string]any{"port": 443}),
		HashProperties(map[string]any{"port": float64(443)}))

	assert.NotEqual(t,
		HashProperties(map[string]any{"ratio": 1.5}),
		HashProperties(map[string]any{"ratio": 1}))
}

func TestHashProperties_NestedStructures(t *testing.T) {
	a := map[string]any{
		"ingress": []any{
			map[string]any{"from_port": 80, "cidr_blocks": []any{"0.0.0.0/0"}},
		},
		"tags": map[string]any{"env": "prod"},
	}
	b := map[string]any{
		"tags": map[string]any{"env": "prod"},
		"ingress": []any{
			map[string]any{"cidr_blocks": []any{"0.0.0.0/0"}, "from_port": 80},
		},
	}
	assert.Equal(t, HashProperties(a), HashProperties(b))

	b["tags"] = map[string]any{"env": "staging"}
	assert.NotEqual(t, HashProperties(a), HashProperties(b))
}

func TestHashProperties_ValueChangesHash(t *testing.T) {
	assert.NotEqual(t,
		HashProperties(map[string]any{"cidr_block": "10.0.0.0/16"}),
		HashProperties(map[string]any{"cidr_block": "10.1.0.0/16"}))
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusApplying, true},
		{StatusApplying, StatusApplied, true},
		{StatusApplying, StatusFailed, true},
		{StatusApplied, StatusRolledBack, true},
		{StatusApplied, StatusRolledBackFailed, true},
		{StatusFailed, StatusRolledBack, true},
		{StatusApplied, StatusApplying, true},          // next deployment run
		{StatusRolledBack, StatusApplying, true},       // re-apply a reverted update
		{StatusApplying, StatusRolledBackFailed, true}, // crash recovery unwind failed
		{StatusPending, StatusApplied, false},
		{StatusApplying, StatusRolledBack, false},
		{StatusRolledBackFailed, StatusApplying, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Applied")
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, s)

	_, err = ParseStatus("exploded")
	assert.Error(t, err)
}

func TestIsKnownKind(t *testing.T) {
	assert.True(t, IsKnownKind(KindVPC))
	assert.True(t, IsKnownKind(KindConfigUnit))
	assert.False(t, IsKnownKind("load_balancer"))
}

func TestNewState(t *testing.T) {
	st := NewState("web")
	assert.Equal(t, 1, st.Version)
	assert.Equal(t, "web", st.Deployment)
	assert.NotNil(t, st.Resources)
}

func TestPlanChanges_FiltersNoOps(t *testing.T) {
	plan := &Plan{Steps: []*PlanStep{
		{ResourceID: "a", Action: ActionNoOp},
		{ResourceID: "b", Action: ActionCreate},
		{ResourceID: "c", Action: ActionDelete},
	}}
	changes := plan.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, "b", changes[0].ResourceID)
	assert.Equal(t, "c", changes[1].ResourceID)
}
