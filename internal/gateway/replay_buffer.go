package gateway

import "sync"

// replayEntry is one broadcast envelope retained for gap backfill.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer retains the most recent envelopes broadcast on one channel.
// Clients that notice a hole in channel_seq ask /api/missed for the range,
// which resolves through Range here. Safe for concurrent use.
type ReplayBuffer struct {
	mu    sync.RWMutex
	ring  []replayEntry
	head  int // index of the oldest entry
	count int
}

// NewReplayBuffer creates a buffer retaining up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{ring: make([]replayEntry, capacity)}
}

// Push retains a copy of data under seq, evicting the oldest entry once the
// ring is full. Seqs must arrive in increasing order; Range depends on it.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count < len(rb.ring) {
		rb.ring[(rb.head+rb.count)%len(rb.ring)] = replayEntry{Seq: seq, Data: cp}
		rb.count++
		return
	}
	rb.ring[rb.head] = replayEntry{Seq: seq, Data: cp}
	rb.head = (rb.head + 1) % len(rb.ring)
}

// Range returns the retained entries with seq in [from, to], oldest first.
func (rb *ReplayBuffer) Range(from, to int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	for i := 0; i < rb.count; i++ {
		e := rb.ring[(rb.head+i)%len(rb.ring)]
		if e.Seq < from {
			continue
		}
		if e.Seq > to {
			break
		}
		out = append(out, e)
	}
	return out
}

// Len reports how many entries are retained.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
