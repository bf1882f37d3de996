package deadlock

import (
	"time"

	"github.com/driverkit/coord/resource"
)

// LockState is the outcome of a Lock attempt. The guard never blocks:
// a queued request is not a held lock, and callers that need blocking
// semantics must poll or use the messenger's request/response path.
type LockState int

const (
	// Denied means the request was rejected as unsafe and not queued.
	Denied LockState = iota
	// Queued means the resource is owned and the request waits in the queue.
	Queued
	// Acquired means ownership transferred immediately.
	Acquired
)

// String returns the lock state name.
func (s LockState) String() string {
	switch s {
	case Acquired:
		return "acquired"
	case Queued:
		return "queued"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Lock is a scope-bound acquisition guard. It attempts acquisition on
// construction and releases on Release exactly once, only if the state is
// Acquired.
type Lock struct {
	engine      *Engine
	requesterID string
	handle      resource.Handle
	state       LockState
	released    bool
	err         error
}

// LockOption adjusts a lock request before submission.
type LockOption func(*Request)

// WithPriority sets the request priority.
func WithPriority(p resource.Priority) LockOption {
	return func(r *Request) { r.Priority = p }
}

// WithTimeout sets how long the request may wait in the queue.
func WithTimeout(d time.Duration) LockOption {
	return func(r *Request) { r.Timeout = d }
}

// WithShared marks the request as non-exclusive.
func WithShared() LockOption {
	return func(r *Request) { r.Exclusive = false }
}

// NewLock attempts to acquire h for requesterID and returns the guard.
// Inspect State to distinguish Acquired from Queued and Denied; Err holds
// the engine error for the latter two.
func NewLock(engine *Engine, requesterID string, h resource.Handle, opts ...LockOption) *Lock {
	req := NewRequest(requesterID, h)
	for _, opt := range opts {
		opt(&req)
	}

	l := &Lock{engine: engine, requesterID: requesterID, handle: h}
	l.err = engine.RequestAcquisition(req)
	switch {
	case l.err == nil:
		l.state = Acquired
	case IsQueued(l.err):
		l.state = Queued
	default:
		l.state = Denied
	}
	return l
}

// State returns the acquisition outcome.
func (l *Lock) State() LockState { return l.state }

// Held reports whether the lock currently holds the resource.
func (l *Lock) Held() bool { return l.state == Acquired && !l.released }

// Err returns the engine error from the acquisition attempt, if any.
func (l *Lock) Err() error { return l.err }

// Handle returns the resource the guard refers to.
func (l *Lock) Handle() resource.Handle { return l.handle }

// Release releases the resource if held. It is idempotent; releasing a
// queued or denied guard is a no-op.
func (l *Lock) Release() error {
	if !l.Held() {
		return nil
	}
	err := l.engine.Release(l.requesterID, l.handle)
	if err == nil {
		l.released = true
	}
	return err
}
