package gateway

import (
	"math"
	"sort"
	"sync"
)

// LatencyTracker keeps a sliding window of end-to-end latencies (sample
// observation to WS emit, in milliseconds) and summarizes them as
// percentiles. Safe for concurrent use.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []float64
	head int // index of the oldest value
	n    int
}

// NewLatencyTracker creates a tracker windowed to the last capacity values.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{ring: make([]float64, capacity)}
}

// Record stores one latency measurement in milliseconds.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	if lt.n < len(lt.ring) {
		lt.ring[(lt.head+lt.n)%len(lt.ring)] = ms
		lt.n++
	} else {
		lt.ring[lt.head] = ms
		lt.head = (lt.head + 1) % len(lt.ring)
	}
	lt.mu.Unlock()
}

// Count reports how many measurements the window currently holds.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.n
}

// Percentiles summarizes the window as (p50, p95, p99) in milliseconds.
// An empty window reports zeros.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	vals := make([]float64, lt.n)
	for i := range vals {
		vals[i] = lt.ring[(lt.head+i)%len(lt.ring)]
	}
	lt.mu.Unlock()

	if len(vals) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(vals)
	return quantile(vals, 0.50), quantile(vals, 0.95), quantile(vals, 0.99)
}

// quantile interpolates the q-th quantile of a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
