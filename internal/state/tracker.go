package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/quarry-io/quarry/internal/ir"
)

// Tracker mediates all state writes during plan execution. Mutations are
// append-or-replace per resource identifier under a per-identifier lock, so
// concurrent independent branches of the graph never serialize on a global
// lock; only the final snapshot serialization is guarded.
type Tracker struct {
	store Store
	state *ir.State

	mapMu sync.Mutex
	locks map[string]*sync.Mutex

	snapMu sync.Mutex
}

// NewTracker wraps the given state for execution. The state object is owned
// by the tracker until execution finishes.
func NewTracker(store Store, st *ir.State) *Tracker {
	if st.Resources == nil {
		st.Resources = make(map[string]*ir.ResourceState)
	}
	return &Tracker{
		store: store,
		state: st,
		locks: make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lockFor(id string) *sync.Mutex {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	mu, ok := t.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		t.locks[id] = mu
	}
	return mu
}

// Put records the state of one resource and persists a snapshot, so state
// truth survives a crash mid-deployment. It is called for every attempted
// step, including failures.
//
// The tracker stores a copy, never the caller's struct: entries in the map
// are immutable once published, so persist can serialize them outside the
// per-resource locks while the caller keeps working on its own value. A Put
// whose status is not a legal step of the resource state machine is
// rejected.
func (t *Tracker) Put(ctx context.Context, rs *ir.ResourceState) error {
	mu := t.lockFor(rs.ID)
	mu.Lock()
	entry := *rs
	t.mapMu.Lock()
	if prev, ok := t.state.Resources[entry.ID]; ok &&
		prev.Status != entry.Status && !prev.Status.CanTransition(entry.Status) {
		t.mapMu.Unlock()
		mu.Unlock()
		return fmt.Errorf("resource %q: illegal status transition %s -> %s",
			entry.ID, prev.Status, entry.Status)
	}
	t.state.Resources[entry.ID] = &entry
	t.mapMu.Unlock()
	mu.Unlock()
	return t.persist(ctx)
}

// Remove drops a resource from state after a successful delete.
func (t *Tracker) Remove(ctx context.Context, id string) error {
	mu := t.lockFor(id)
	mu.Lock()
	t.mapMu.Lock()
	delete(t.state.Resources, id)
	t.mapMu.Unlock()
	mu.Unlock()
	return t.persist(ctx)
}

// Get returns the recorded state of a resource, if any.
func (t *Tracker) Get(id string) (*ir.ResourceState, bool) {
	mu := t.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	t.mapMu.Lock()
	rs, ok := t.state.Resources[id]
	t.mapMu.Unlock()
	return rs, ok
}

// Finish bumps the serial and writes the final snapshot.
func (t *Tracker) Finish(ctx context.Context) error {
	t.snapMu.Lock()
	t.state.Serial++
	t.snapMu.Unlock()
	return t.persist(ctx)
}

// State exposes the tracked state; callers must not mutate it while an
// apply is running.
func (t *Tracker) State() *ir.State {
	return t.state
}

// persist writes a consistent snapshot of the tracked state. The snapshot
// copy is taken under the map lock so concurrent per-resource writes never
// race with serialization; the entries themselves are safe to share because
// Put replaces them wholesale instead of mutating in place.
func (t *Tracker) persist(ctx context.Context) error {
	t.snapMu.Lock()
	defer t.snapMu.Unlock()

	t.mapMu.Lock()
	snap := &ir.State{
		Version:    t.state.Version,
		Serial:     t.state.Serial,
		Lineage:    t.state.Lineage,
		Deployment: t.state.Deployment,
		Resources:  make(map[string]*ir.ResourceState, len(t.state.Resources)),
	}
	for id, rs := range t.state.Resources {
		snap.Resources[id] = rs
	}
	t.mapMu.Unlock()

	return t.store.Write(ctx, snap)
}
