package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/provider"
	"github.com/quarry-io/quarry/internal/state"
	"github.com/quarry-io/quarry/providers/memory"
)

func newRollbackHarness(t *testing.T) (*Engine, *memory.Provider, *state.Tracker) {
	t.Helper()

	prov := memory.New()
	registry := provider.NewRegistry()
	registry.Register("memory", func() (provider.Provider, error) {
		return prov, nil
	})

	eng := NewEngine(registry)
	eng.StepTimeout = 2 * time.Second
	eng.PollInterval = 5 * time.Millisecond
	eng.Retry = &RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	store := state.NewFileStore(t.TempDir(), "web")
	st, err := store.Read(context.Background())
	require.NoError(t, err)

	return eng, prov, state.NewTracker(store, st)
}

func TestRollback_UpdateRevertsToPriorSnapshot(t *testing.T) {
	eng, prov, tracker := newRollbackHarness(t)
	ctx := context.Background()

	priorProps := map[string]any{"name": "v1", "cidr_block": "10.0.0.0/16"}
	handle, _, err := prov.Create(ctx, ir.KindVPC, priorProps)
	require.NoError(t, err)

	newProps := map[string]any{"name": "v1", "cidr_block": "10.1.0.0/16"}
	_, err = prov.Update(ctx, handle, ir.KindVPC, newProps)
	require.NoError(t, err)

	require.NoError(t, tracker.Put(ctx, &ir.ResourceState{
		ID: "v1", Type: ir.KindVPC, Handle: handle,
		Properties: newProps,
		PropsHash:  ir.HashProperties(newProps),
		Status:     ir.StatusApplied,
	}))

	step := &ir.PlanStep{
		ResourceID: "v1",
		Action:     ir.ActionUpdate,
		Prior: &ir.ResourceState{
			ID: "v1", Type: ir.KindVPC, Handle: handle,
			Properties: priorProps,
			PropsHash:  ir.HashProperties(priorProps),
			Status:     ir.StatusApplied,
		},
	}

	report := eng.Rollback(ctx, "memory", []*ir.PlanStep{step}, tracker)
	require.False(t, report.Partial())
	require.Len(t, report.Compensated, 1)
	assert.Equal(t, ir.StatusRolledBack, report.Compensated[0].Status)

	rs, ok := tracker.Get("v1")
	require.True(t, ok)
	assert.Equal(t, ir.StatusRolledBack, rs.Status)
	assert.Equal(t, ir.HashProperties(priorProps), rs.PropsHash)
	assert.Equal(t, "10.0.0.0/16", rs.Properties["cidr_block"])
}

func TestRollback_UpdateWithoutPriorSnapshotFails(t *testing.T) {
	eng, prov, tracker := newRollbackHarness(t)
	ctx := context.Background()

	handle, _, err := prov.Create(ctx, ir.KindVPC, map[string]any{"name": "v1"})
	require.NoError(t, err)
	require.NoError(t, tracker.Put(ctx, &ir.ResourceState{
		ID: "v1", Type: ir.KindVPC, Handle: handle, Status: ir.StatusApplied,
	}))

	step := &ir.PlanStep{ResourceID: "v1", Action: ir.ActionUpdate}
	report := eng.Rollback(ctx, "memory", []*ir.PlanStep{step}, tracker)

	assert.True(t, report.Partial())
	assert.Equal(t, []string{"v1"}, report.Failed)
}

func TestRollback_SkipsResourcesAlreadyGone(t *testing.T) {
	eng, _, tracker := newRollbackHarness(t)

	// No state entry for the step's resource: nothing to compensate.
	step := &ir.PlanStep{ResourceID: "ghost", Action: ir.ActionCreate}
	report := eng.Rollback(context.Background(), "memory", []*ir.PlanStep{step}, tracker)

	assert.False(t, report.Partial())
	require.Len(t, report.Compensated, 1)
	assert.Equal(t, ir.StatusRolledBack, report.Compensated[0].Status)
}

func TestRollback_ContinuesPastFailedCompensation(t *testing.T) {
	eng, prov, tracker := newRollbackHarness(t)
	ctx := context.Background()

	var steps []*ir.PlanStep
	for _, tc := range []struct {
		id         string
		failDelete bool
	}{
		{"v1", true},
		{"s1", false},
		{"i1", false},
	} {
		props := map[string]any{"name": tc.id}
		if tc.failDelete {
			props["fail_delete"] = true
		}
		handle, _, err := prov.Create(ctx, ir.KindVPC, props)
		require.NoError(t, err)
		require.NoError(t, tracker.Put(ctx, &ir.ResourceState{
			ID: tc.id, Type: ir.KindVPC, Handle: handle,
			Properties: props, Status: ir.StatusApplied,
		}))
		steps = append(steps, &ir.PlanStep{ResourceID: tc.id, Action: ir.ActionCreate})
	}

	report := eng.Rollback(ctx, "memory", steps, tracker)

	// i1 and s1 unwound despite v1's compensation failing.
	assert.Equal(t, []string{"v1"}, report.Failed)
	require.Len(t, report.Compensated, 3)
	assert.Equal(t, "i1", report.Compensated[0].ResourceID)
	assert.Equal(t, "s1", report.Compensated[1].ResourceID)
	assert.Equal(t, "v1", report.Compensated[2].ResourceID)

	rs, ok := tracker.Get("v1")
	require.True(t, ok)
	assert.Equal(t, ir.StatusRolledBackFailed, rs.Status)
	_, ok = tracker.Get("s1")
	assert.False(t, ok)
}
