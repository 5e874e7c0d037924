package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-io/quarry/internal/errs"
	"github.com/quarry-io/quarry/internal/ir"
	"github.com/quarry-io/quarry/internal/provider"
)

func TestProvider_Lifecycle(t *testing.T) {
	p := New()
	ctx := context.Background()

	handle, status, err := p.Create(ctx, ir.KindVPC, map[string]any{"name": "v1"})
	require.NoError(t, err)
	assert.Equal(t, "mem-v1", handle)
	assert.Equal(t, provider.StatusReady, status)

	status, err = p.GetStatus(ctx, handle, ir.KindVPC)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusReady, status)

	status, err = p.Update(ctx, handle, ir.KindVPC, map[string]any{"name": "v1", "mtu": 9001})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusReady, status)

	status, err = p.Delete(ctx, handle, ir.KindVPC)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusGone, status)

	status, err = p.GetStatus(ctx, handle, ir.KindVPC)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusGone, status)

	assert.Equal(t, []string{"create mem-v1", "update mem-v1", "delete mem-v1"}, p.Ops())
	assert.Empty(t, p.Live())
}

func TestProvider_GeneratedHandles(t *testing.T) {
	p := New()
	ctx := context.Background()

	h1, _, err := p.Create(ctx, ir.KindSubnet, nil)
	require.NoError(t, err)
	h2, _, err := p.Create(ctx, ir.KindSubnet, nil)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.Contains(t, h1, "mem-subnet-")
}

func TestProvider_PendingPolls(t *testing.T) {
	p := New()
	ctx := context.Background()

	handle, status, err := p.Create(ctx, ir.KindNATGateway,
		map[string]any{"name": "n1", "pending_polls": 2})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusProvisioning, status)

	for i := 0; i < 2; i++ {
		status, err = p.GetStatus(ctx, handle, ir.KindNATGateway)
		require.NoError(t, err)
		assert.Equal(t, provider.StatusProvisioning, status)
	}
	status, err = p.GetStatus(ctx, handle, ir.KindNATGateway)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusReady, status)
}

func TestProvider_TransientFailures(t *testing.T) {
	p := New()
	ctx := context.Background()
	props := map[string]any{"name": "v1", "transient_failures": 2}

	for i := 0; i < 2; i++ {
		_, _, err := p.Create(ctx, ir.KindVPC, props)
		require.Error(t, err)
		assert.True(t, errs.IsTransient(err))
	}

	_, status, err := p.Create(ctx, ir.KindVPC, props)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusReady, status)
}

func TestProvider_PermanentFailures(t *testing.T) {
	p := New()
	ctx := context.Background()

	_, _, err := p.Create(ctx, ir.KindVPC, map[string]any{"fail_create": true})
	require.Error(t, err)
	assert.False(t, errs.IsTransient(err))

	handle, _, err := p.Create(ctx, ir.KindVPC, map[string]any{"name": "v1"})
	require.NoError(t, err)

	_, err = p.Update(ctx, handle, ir.KindVPC, map[string]any{"fail_update": true})
	assert.Error(t, err)

	_, err = p.Update(ctx, "mem-ghost", ir.KindVPC, nil)
	assert.Error(t, err, "updating an unknown resource fails")
}

func TestProvider_DeleteIsIdempotent(t *testing.T) {
	p := New()
	ctx := context.Background()

	status, err := p.Delete(ctx, "mem-never-existed", ir.KindVPC)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusGone, status)

	handle, _, err := p.Create(ctx, ir.KindVPC, map[string]any{"name": "v1"})
	require.NoError(t, err)
	_, err = p.Delete(ctx, handle, ir.KindVPC)
	require.NoError(t, err)
	status, err = p.Delete(ctx, handle, ir.KindVPC)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusGone, status)
}

func TestProvider_Stall(t *testing.T) {
	p := New()
	ctx := context.Background()

	handle, status, err := p.Create(ctx, ir.KindInstance,
		map[string]any{"name": "i1", "stall": true})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusProvisioning, status)

	for i := 0; i < 5; i++ {
		status, err = p.GetStatus(ctx, handle, ir.KindInstance)
		require.NoError(t, err)
		assert.Equal(t, provider.StatusProvisioning, status)
	}
}
