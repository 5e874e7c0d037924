// Package memory implements an in-memory cloud provisioning API. It backs
// the engine and CLI tests and doubles as a dry-run target: resources are
// plain records with simulated lifecycle phases and injectable failures.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/quarry-io/quarry/internal/errs"
	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/provider"
)

// Recognized property keys that steer simulated behavior:
//
//	fail_create        bool  – Create fails permanently
//	fail_update        bool  – Update fails permanently
//	fail_delete        bool  – Delete of this resource fails permanently
//	transient_failures int   – first N Create calls fail transiently
//	pending_polls      int   – GetStatus reports provisioning N times
//	stall              bool  – GetStatus never leaves provisioning
const (
	propFailCreate        = "fail_create"
	propFailUpdate        = "fail_update"
	propFailDelete        = "fail_delete"
	propTransientFailures = "transient_failures"
	propPendingPolls      = "pending_polls"
	propStall             = "stall"
)

type record struct {
	typ          ir.Kind
	props        map[string]any
	pendingPolls int
	deleted      bool
}

// Provider is a thread-safe in-memory implementation of provider.Provider.
type Provider struct {
	mu        sync.Mutex
	resources map[string]*record
	attempts  map[string]int
	nextID    int
	ops       []string
}

func New() *Provider {
	return &Provider{
		resources: make(map[string]*record),
		attempts:  make(map[string]int),
	}
}

// Ops returns the provider call log in invocation order, for assertions.
func (p *Provider) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

// Live returns the handles of resources that currently exist.
func (p *Provider) Live() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var handles []string
	for h, rec := range p.resources {
		if !rec.deleted {
			handles = append(handles, h)
		}
	}
	return handles
}

func (p *Provider) Create(ctx context.Context, typ ir.Kind, props map[string]any) (string, provider.RemoteStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name, _ := props["name"].(string)
	key := fmt.Sprintf("%s/%s", typ, name)

	if n := intProp(props, propTransientFailures); n > 0 && p.attempts[key] < n {
		p.attempts[key]++
		return "", "", errs.NewProviderError(name, "create", true,
			fmt.Errorf("simulated throttling (attempt %d)", p.attempts[key]))
	}

	if boolProp(props, propFailCreate) {
		return "", "", errs.NewProviderError(name, "create", false,
			fmt.Errorf("simulated create failure"))
	}

	p.nextID++
	handle := fmt.Sprintf("mem-%s-%d", typ, p.nextID)
	if name != "" {
		handle = "mem-" + name
	}

	p.resources[handle] = &record{
		typ:          typ,
		props:        props,
		pendingPolls: intProp(props, propPendingPolls),
	}
	p.ops = append(p.ops, "create "+handle)

	if p.resources[handle].pendingPolls > 0 || boolProp(props, propStall) {
		return handle, provider.StatusProvisioning, nil
	}
	return handle, provider.StatusReady, nil
}

func (p *Provider) Update(ctx context.Context, handle string, typ ir.Kind, props map[string]any) (provider.RemoteStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.resources[handle]
	if !ok || rec.deleted {
		return "", errs.NewProviderError(handle, "update", false,
			fmt.Errorf("no such resource"))
	}
	if boolProp(props, propFailUpdate) {
		return "", errs.NewProviderError(handle, "update", false,
			fmt.Errorf("simulated update failure"))
	}

	rec.props = props
	rec.pendingPolls = intProp(props, propPendingPolls)
	p.ops = append(p.ops, "update "+handle)

	if rec.pendingPolls > 0 {
		return provider.StatusProvisioning, nil
	}
	return provider.StatusReady, nil
}

func (p *Provider) Delete(ctx context.Context, handle string, typ ir.Kind) (provider.RemoteStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.resources[handle]
	if !ok || rec.deleted {
		// Deleting an already-gone resource is a no-op so retries and
		// crash-recovered rollbacks stay idempotent.
		p.ops = append(p.ops, "delete "+handle)
		return provider.StatusGone, nil
	}
	if boolProp(rec.props, propFailDelete) {
		return "", errs.NewProviderError(handle, "delete", false,
			fmt.Errorf("simulated delete failure"))
	}

	rec.deleted = true
	p.ops = append(p.ops, "delete "+handle)
	return provider.StatusGone, nil
}

func (p *Provider) GetStatus(ctx context.Context, handle string, typ ir.Kind) (provider.RemoteStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.resources[handle]
	if !ok || rec.deleted {
		return provider.StatusGone, nil
	}
	if boolProp(rec.props, propStall) {
		return provider.StatusProvisioning, nil
	}
	if rec.pendingPolls > 0 {
		rec.pendingPolls--
		return provider.StatusProvisioning, nil
	}
	return provider.StatusReady, nil
}

func boolProp(props map[string]any, key string) bool {
	v, _ := props[key].(bool)
	return v
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
