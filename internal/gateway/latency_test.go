package gateway

import (
	"math"
	"testing"
)

func TestLatencyTracker_Empty(t *testing.T) {
	lt := NewLatencyTracker(100)

	if n := lt.Count(); n != 0 {
		t.Fatalf("Count() = %d, want 0", n)
	}
	if p50, p95, p99 := lt.Percentiles(); p50 != 0 || p95 != 0 || p99 != 0 {
		t.Errorf("empty tracker: got (%f,%f,%f), want zeros", p50, p95, p99)
	}
}

func TestLatencyTracker_SingleSample(t *testing.T) {
	lt := NewLatencyTracker(100)
	lt.Record(3.25)

	if n := lt.Count(); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}
	p50, p95, p99 := lt.Percentiles()
	if p50 != 3.25 || p95 != 3.25 || p99 != 3.25 {
		t.Errorf("single sample: got (%f,%f,%f), want all 3.25", p50, p95, p99)
	}
}

func TestLatencyTracker_SpreadPercentiles(t *testing.T) {
	lt := NewLatencyTracker(10000)
	for i := 1; i <= 200; i++ {
		lt.Record(float64(i) * 0.5) // 0.5 .. 100.0
	}

	p50, p95, p99 := lt.Percentiles()
	for _, tc := range []struct {
		label string
		got   float64
		want  float64
	}{
		{"p50", p50, 50.0},
		{"p95", p95, 95.0},
		{"p99", p99, 99.0},
	} {
		if math.Abs(tc.got-tc.want) > 1.0 {
			t.Errorf("%s: got %f, want ~%f", tc.label, tc.got, tc.want)
		}
	}
}

// TestLatencyTracker_OrderInsensitive records the same values in two orders
// and expects identical percentiles.
func TestLatencyTracker_OrderInsensitive(t *testing.T) {
	shuffled := NewLatencyTracker(100)
	for _, v := range []float64{90, 10, 50, 30, 70, 20, 80, 60, 40, 100} {
		shuffled.Record(v)
	}

	ordered := NewLatencyTracker(100)
	for v := 10.0; v <= 100.0; v += 10.0 {
		ordered.Record(v)
	}

	s50, s95, s99 := shuffled.Percentiles()
	o50, o95, o99 := ordered.Percentiles()
	if s50 != o50 || s95 != o95 || s99 != o99 {
		t.Errorf("order changed percentiles: shuffled (%f,%f,%f) vs ordered (%f,%f,%f)",
			s50, s95, s99, o50, o95, o99)
	}
}

func TestLatencyTracker_EvictsOldest(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 20; i++ {
		lt.Record(float64(i))
	}

	if n := lt.Count(); n != 10 {
		t.Fatalf("Count() = %d, want 10", n)
	}

	// Only 11..20 remain, so the median is 15.5.
	p50, _, _ := lt.Percentiles()
	if math.Abs(p50-15.5) > 1.0 {
		t.Errorf("p50 after eviction: got %f, want ~15.5", p50)
	}
}
