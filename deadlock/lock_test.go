package deadlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverkit/coord/resource"
)

func TestLockAcquired(t *testing.T) {
	e := newTestEngine(t)
	reg := resource.NewRegistry(nil)
	h := registerResource(t, reg, "dma0", resource.Hardware)

	lock := NewLock(e, "gpu", h)
	assert.Equal(t, Acquired, lock.State())
	assert.True(t, lock.Held())
	assert.NoError(t, lock.Err())
	assert.True(t, lock.Handle().Equal(h))

	require.NoError(t, lock.Release())
	assert.False(t, lock.Held())

	_, held := e.OwnerOf(h.ID())
	assert.False(t, held)
}

func TestLockReleaseIdempotent(t *testing.T) {
	e := newTestEngine(t)
	reg := resource.NewRegistry(nil)
	h := registerResource(t, reg, "dma0", resource.Hardware)

	lock := NewLock(e, "gpu", h)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
}

func TestLockQueued(t *testing.T) {
	e := newTestEngine(t)
	reg := resource.NewRegistry(nil)
	h := registerResource(t, reg, "dma0", resource.Hardware)

	holder := NewLock(e, "gpu", h)
	require.Equal(t, Acquired, holder.State())

	contender := NewLock(e, "audio", h, WithTimeout(100*time.Millisecond))
	assert.Equal(t, Queued, contender.State())
	assert.False(t, contender.Held())
	assert.True(t, IsQueued(contender.Err()))

	// Releasing a queued guard is a no-op; the queue entry stays.
	require.NoError(t, contender.Release())
	assert.Len(t, e.WaitingRequests(), 1)
}

func TestLockDenied(t *testing.T) {
	e := newTestEngine(t)
	reg := resource.NewRegistry(nil)
	hw := registerResource(t, reg, "timer0", resource.Hardware)
	mem := registerResource(t, reg, "pool0", resource.Memory)

	require.Equal(t, Acquired, NewLock(e, "gpu", hw).State())

	denied := NewLock(e, "gpu", mem)
	assert.Equal(t, Denied, denied.State())
	assert.False(t, denied.Held())
	assert.True(t, IsWouldDeadlock(denied.Err()))
	require.NoError(t, denied.Release())
}

func TestLockOptions(t *testing.T) {
	req := NewRequest("gpu", resource.Handle{})
	WithPriority(resource.PriorityCritical)(&req)
	WithTimeout(time.Minute)(&req)
	WithShared()(&req)

	assert.Equal(t, resource.PriorityCritical, req.Priority)
	assert.Equal(t, time.Minute, req.Timeout)
	assert.False(t, req.Exclusive)
}

func TestLockStateString(t *testing.T) {
	assert.Equal(t, "acquired", Acquired.String())
	assert.Equal(t, "queued", Queued.String())
	assert.Equal(t, "denied", Denied.String())
	assert.Equal(t, "unknown", LockState(42).String())
}
