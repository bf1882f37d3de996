// Package concurrency provides the lock-free building blocks used by the
// coordination layer.
package concurrency

import (
	"runtime"
	"sync/atomic"
)

// Ring is a bounded multi-producer multi-consumer lock-free ring buffer
// based on Dmitry Vyukov's algorithm using per-slot sequence numbers.
// Many drivers submit messages concurrently, so both ends must be
// multi-participant safe.
type Ring[T any] struct {
	_pad0 [64]byte
	mask  uint64
	_pad1 [64]byte
	head  uint64
	_pad2 [64]byte
	tail  uint64
	_pad3 [64]byte
	slots []slot[T]
}

type slot[T any] struct {
	seq  uint64
	_pad [56]byte // cache line padding (approx)
	val  T
}

// NewRing creates a ring with the given capacity, rounded up to a power of two.
func NewRing[T any](capacity uint64) *Ring[T] {
	if capacity < 2 {
		capacity = 2
	}
	pow2 := uint64(1)
	for pow2 < capacity {
		pow2 <<= 1
	}
	r := &Ring[T]{
		mask:  pow2 - 1,
		slots: make([]slot[T], pow2),
	}
	for i := range r.slots {
		r.slots[i].seq = uint64(i)
	}
	return r
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() uint64 { return r.mask + 1 }

// TryPush attempts to enqueue v; it returns false if the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	for {
		pos := atomic.LoadUint64(&r.head)
		s := &r.slots[pos&r.mask]
		seq := atomic.LoadUint64(&s.seq)
		dif := int64(seq) - int64(pos)
		if dif == 0 {
			if atomic.CompareAndSwapUint64(&r.head, pos, pos+1) {
				s.val = v
				atomic.StoreUint64(&s.seq, pos+1)
				return true
			}
		} else if dif < 0 {
			return false // full
		} else {
			runtime.Gosched()
		}
	}
}

// TryPop attempts to dequeue into out; it returns false if the ring is empty.
func (r *Ring[T]) TryPop(out *T) bool {
	for {
		pos := atomic.LoadUint64(&r.tail)
		s := &r.slots[pos&r.mask]
		seq := atomic.LoadUint64(&s.seq)
		dif := int64(seq) - int64(pos+1)
		if dif == 0 {
			if atomic.CompareAndSwapUint64(&r.tail, pos, pos+1) {
				*out = s.val
				var zero T
				s.val = zero
				atomic.StoreUint64(&s.seq, pos+r.mask+1)
				return true
			}
		} else if dif < 0 {
			return false // empty
		} else {
			runtime.Gosched()
		}
	}
}

// Len returns the approximate number of queued items.
func (r *Ring[T]) Len() uint64 {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if head < tail {
		return 0
	}
	return head - tail
}
