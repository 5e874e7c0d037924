package state

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-io/quarry/internal/ir"
)

func newTestTracker(t *testing.T) (*Tracker, *FileStore) {
	t.Helper()
	store := NewFileStore(t.TempDir(), "web")
	st, err := store.Read(context.Background())
	require.NoError(t, err)
	return NewTracker(store, st), store
}

func TestTracker_PutPersistsImmediately(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Put(ctx, &ir.ResourceState{
		ID: "v1", Type: ir.KindVPC, Handle: "vpc-1", Status: ir.StatusApplying,
	}))

	// Every Put is crash-safe: the snapshot is already on disk.
	persisted, err := store.Read(ctx)
	require.NoError(t, err)
	require.Contains(t, persisted.Resources, "v1")
	assert.Equal(t, ir.StatusApplying, persisted.Resources["v1"].Status)

	rs, ok := tracker.Get("v1")
	require.True(t, ok)
	assert.Equal(t, "vpc-1", rs.Handle)
}

func TestTracker_PutStoresSnapshot(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	rs := &ir.ResourceState{ID: "v1", Type: ir.KindVPC, Status: ir.StatusApplying}
	require.NoError(t, tracker.Put(ctx, rs))

	// The caller keeps working on its own value; the published entry must
	// not move underneath a concurrent serialization.
	rs.Status = ir.StatusApplied
	rs.Handle = "vpc-1"

	got, ok := tracker.Get("v1")
	require.True(t, ok)
	assert.Equal(t, ir.StatusApplying, got.Status)
	assert.Empty(t, got.Handle)

	require.NoError(t, tracker.Put(ctx, rs))
	got, ok = tracker.Get("v1")
	require.True(t, ok)
	assert.Equal(t, ir.StatusApplied, got.Status)
	assert.Equal(t, "vpc-1", got.Handle)
}

func TestTracker_RejectsIllegalStatusTransition(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Put(ctx, &ir.ResourceState{
		ID: "v1", Type: ir.KindVPC, Status: ir.StatusPending,
	}))

	err := tracker.Put(ctx, &ir.ResourceState{
		ID: "v1", Type: ir.KindVPC, Status: ir.StatusApplied,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal status transition")

	// Re-recording the current status is always legal.
	assert.NoError(t, tracker.Put(ctx, &ir.ResourceState{
		ID: "v1", Type: ir.KindVPC, Status: ir.StatusPending,
	}))
}

func TestTracker_RemoveDropsResource(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Put(ctx, &ir.ResourceState{ID: "v1", Type: ir.KindVPC}))
	require.NoError(t, tracker.Remove(ctx, "v1"))

	_, ok := tracker.Get("v1")
	assert.False(t, ok)

	persisted, err := store.Read(ctx)
	require.NoError(t, err)
	assert.NotContains(t, persisted.Resources, "v1")
}

func TestTracker_FinishBumpsSerial(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Finish(ctx))
	require.NoError(t, tracker.Finish(ctx))

	persisted, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, persisted.Serial)
}

func TestTracker_ConcurrentPuts(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("r%d", n)
			assert.NoError(t, tracker.Put(ctx, &ir.ResourceState{
				ID: id, Type: ir.KindSubnet, Status: ir.StatusApplied,
			}))
		}(i)
	}
	wg.Wait()

	assert.Len(t, tracker.State().Resources, 20)

	persisted, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted.Resources, 20)
}

func TestTracker_SortedIDs(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, tracker.Put(ctx, &ir.ResourceState{ID: id, Type: ir.KindVPC}))
	}
	assert.Equal(t, []string{"a", "b", "c"}, tracker.State().SortedIDs())
}
