// Package ringbuf implements the bounded queue sitting between the feed
// intake goroutine and the compute loop. It is a single-producer
// single-consumer ring: exactly one goroutine calls Push and exactly one
// calls Pop or Drain. Under that contract no locks are needed; each side
// advances its own index atomically and keeps a cached copy of the other
// side's index, so the hot path usually touches only its own cache line.
//
// Len, Cap and Overflow are safe from any goroutine and are read by the
// metrics reporter.
package ringbuf

import (
	"math/bits"
	"sync/atomic"

	"ti-systemv1/internal/model"
)

// cacheLine pads producer state away from consumer state (64 bytes on
// amd64 and arm64).
const cacheLine = 64

// Ring holds up to Cap() samples. The slot count is always a power of
// two so index wrapping is a single AND with mask.
type Ring struct {
	slots []model.Sample
	mask  uint64
	size  uint64

	_         [cacheLine]byte
	head      atomic.Uint64 // next slot to write, advanced by Push only
	tailCache uint64        // producer's last observed tail
	_         [cacheLine - 16]byte
	tail      atomic.Uint64 // next slot to read, advanced by Pop/Drain only
	headCache uint64        // consumer's last observed head
	_         [cacheLine - 16]byte

	dropped atomic.Uint64
}

// New returns a ring with capacity rounded up to the next power of two,
// at least 2.
func New(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	n := ceilPow2(capacity)
	return &Ring{
		slots: make([]model.Sample, n),
		mask:  uint64(n - 1),
		size:  uint64(n),
	}
}

// Push enqueues one sample without blocking. When the ring is full the
// sample is dropped and Push returns false; the drop advances the
// overflow counter. The cached tail is refreshed only when the ring looks
// full, so most pushes never load the consumer's index.
func (r *Ring) Push(s model.Sample) bool {
	head := r.head.Load()
	if head-r.tailCache >= r.size {
		r.tailCache = r.tail.Load()
		if head-r.tailCache >= r.size {
			r.dropped.Add(1)
			return false
		}
	}
	r.slots[head&r.mask] = s
	r.head.Store(head + 1)
	return true
}

// Pop dequeues the oldest sample without blocking. The second return is
// false when the ring is empty.
func (r *Ring) Pop() (model.Sample, bool) {
	tail := r.tail.Load()
	if tail >= r.headCache {
		r.headCache = r.head.Load()
		if tail >= r.headCache {
			return model.Sample{}, false
		}
	}
	s := r.slots[tail&r.mask]
	r.tail.Store(tail + 1)
	return s, true
}

// Drain appends queued samples to dst until dst is at capacity or the
// ring is empty, then publishes the new read index with a single store.
// The compute loop calls this once per wakeup instead of popping one
// sample at a time.
func (r *Ring) Drain(dst []model.Sample) []model.Sample {
	tail := r.tail.Load()
	start := tail
	for len(dst) < cap(dst) {
		if tail >= r.headCache {
			r.headCache = r.head.Load()
			if tail >= r.headCache {
				break
			}
		}
		dst = append(dst, r.slots[tail&r.mask])
		tail++
	}
	if tail != start {
		r.tail.Store(tail)
	}
	return dst
}

// Len reports how many samples are queued. The value is a snapshot and
// may be stale by the time the caller uses it.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the slot count.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Overflow returns how many samples Push has dropped since the ring was
// created.
func (r *Ring) Overflow() uint64 {
	return r.dropped.Load()
}

// ceilPow2 rounds n up to the nearest power of two.
func ceilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
