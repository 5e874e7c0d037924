package provider

import (
	"context"

	"github.com/quarry-io/quarry/internal/ir"
)

// RemoteStatus is a provider-reported resource status.
type RemoteStatus string

const (
	// StatusProvisioning means the resource exists but is not yet usable;
	// the engine keeps polling until it leaves this state.
	StatusProvisioning RemoteStatus = "provisioning"
	StatusReady        RemoteStatus = "ready"
	StatusFailed       RemoteStatus = "failed"
	StatusGone         RemoteStatus = "gone"
)

// Provider is the boundary to an external cloud provisioning API. The core
// treats implementations as opaque; transient failures are signalled through
// errs.ProviderError with Transient set.
type Provider interface {
	// Create provisions a new resource and returns its remote handle.
	Create(ctx context.Context, typ ir.Kind, props map[string]any) (handle string, status RemoteStatus, err error)

	// Update reconfigures an existing resource in place.
	Update(ctx context.Context, handle string, typ ir.Kind, props map[string]any) (RemoteStatus, error)

	// Delete removes an existing resource.
	Delete(ctx context.Context, handle string, typ ir.Kind) (RemoteStatus, error)

	// GetStatus reports the current remote status of a resource.
	GetStatus(ctx context.Context, handle string, typ ir.Kind) (RemoteStatus, error)
}
