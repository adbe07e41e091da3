package ti

import (
	"math"
	"sync"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Cross-surface equivalence
//
// The contract across all kernels: whole-array, buffer-fill and
// single-point produce identical float32 bit patterns for the same
// (data, param, index); the lane surface tracks them within 1e-5
// relative tolerance.
// ────────────────────────────────────────────────────────────

func kernelParam(id ID, period int) int {
	if id == LRExpDevID {
		return PackPeriods(period, 2)
	}
	return period
}

func testSeries() map[string][]float32 {
	rising := make([]float32, 48)
	falling := make([]float32, 48)
	flat := make([]float32, 48)
	square := make([]float32, 48)
	for i := range rising {
		rising[i] = float32(10 + i)
		falling[i] = float32(90 - i)
		flat[i] = 42.0
		square[i] = 99.0
		if i%2 == 1 {
			square[i] = 101.0
		}
	}
	return map[string][]float32{
		"walk":    genWalk(1, 97),
		"rising":  rising,
		"falling": falling,
		"flat":    flat,
		"square":  square,
		"short":   genWalk(2, 5),
		"empty":   {},
	}
}

func TestSurfaces_FillMatchesWholeArray(t *testing.T) {
	for _, k := range Kernels() {
		for name, data := range testSeries() {
			for _, period := range []int{2, 5, 14} {
				param := kernelParam(k.ID, period)

				whole := k.Compute(data, param)
				if len(whole) != len(data) {
					t.Fatalf("%v/%s p=%d: Compute returned %d results for %d samples",
						k.ID, name, period, len(whole), len(data))
				}

				buf := make([]float32, len(data))
				k.Fill(buf, data, param, -1)
				for i := range whole {
					if math.Float32bits(whole[i]) != math.Float32bits(buf[i]) {
						t.Fatalf("%v/%s p=%d index %d: whole=%v fill=%v",
							k.ID, name, period, i, whole[i], buf[i])
					}
				}
			}
		}
	}
}

func TestSurfaces_SinglePointMatchesWholeArray(t *testing.T) {
	for _, k := range Kernels() {
		for name, data := range testSeries() {
			for _, period := range []int{2, 5, 14} {
				param := kernelParam(k.ID, period)
				whole := k.Compute(data, param)
				for i := range data {
					got := k.At(data, param, i)
					if math.Float32bits(got) != math.Float32bits(whole[i]) {
						t.Fatalf("%v/%s p=%d index %d: At=%v whole=%v",
							k.ID, name, period, i, got, whole[i])
					}
				}
			}
		}
	}
}

func TestSurfaces_LaneWithinTolerance(t *testing.T) {
	for _, k := range Kernels() {
		for name, data := range testSeries() {
			param := kernelParam(k.ID, 5)
			whole := k.Compute(data, param)
			lanes := make([]float32, len(data))
			for i := range data {
				k.Lane(lanes, i, data, param, i)
			}
			for i := range whole {
				want := float64(whole[i])
				diff := math.Abs(float64(lanes[i]) - want)
				limit := 1e-5 * math.Max(1.0, math.Abs(want))
				if diff > limit {
					t.Fatalf("%v/%s index %d: lane=%v whole=%v (diff=%g)",
						k.ID, name, i, lanes[i], whole[i], diff)
				}
			}
		}
	}
}

// A fill bounded to n must produce the same prefix as the full run and
// leave everything past n untouched.
func TestSurfaces_PartialFillLeavesTailAlone(t *testing.T) {
	data := genWalk(3, 64)
	const n = 17
	const sentinel = float32(-12345.0)

	for _, k := range Kernels() {
		param := kernelParam(k.ID, 5)
		whole := k.Compute(data, param)

		buf := make([]float32, len(data))
		for i := range buf {
			buf[i] = sentinel
		}
		k.Fill(buf, data, param, n)

		for i := 0; i < n; i++ {
			if math.Float32bits(buf[i]) != math.Float32bits(whole[i]) {
				t.Fatalf("%v index %d: partial fill=%v, whole=%v", k.ID, i, buf[i], whole[i])
			}
		}
		for i := n; i < len(buf); i++ {
			if buf[i] != sentinel {
				t.Fatalf("%v: fill with n=%d wrote past the bound at index %d", k.ID, n, i)
			}
		}
	}
}

// The negative-length sentinel and an explicit full length must agree.
func TestSurfaces_LengthSentinel(t *testing.T) {
	data := genWalk(4, 40)
	for _, k := range Kernels() {
		param := kernelParam(k.ID, 5)
		a := make([]float32, len(data))
		b := make([]float32, len(data))
		k.Fill(a, data, param, -1)
		k.Fill(b, data, param, len(data))
		for i := range a {
			if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
				t.Fatalf("%v index %d: n=-1 gives %v, n=len gives %v", k.ID, i, a[i], b[i])
			}
		}
	}
}

// Concurrent fills over one shared input into disjoint buffers must all
// agree with a sequential run; run under -race this also proves the
// surfaces take no hidden shared state.
func TestSurfaces_ConcurrentDisjointFills(t *testing.T) {
	data := genWalk(5, 256)
	const workers = 8

	for _, k := range Kernels() {
		param := kernelParam(k.ID, 9)
		want := k.Compute(data, param)

		bufs := make([][]float32, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			bufs[w] = make([]float32, len(data))
			wg.Add(1)
			go func(dst []float32) {
				defer wg.Done()
				k.Fill(dst, data, param, -1)
			}(bufs[w])
		}
		wg.Wait()

		for w, buf := range bufs {
			for i := range want {
				if math.Float32bits(buf[i]) != math.Float32bits(want[i]) {
					t.Fatalf("%v worker %d index %d: got %v, want %v", k.ID, w, i, buf[i], want[i])
				}
			}
		}
	}
}
