package ti

import "math"

// bbScan drives the rolling sum / sum-of-squares recursion over data[:n] and
// returns the indicator value at index n-1. When dst is non-nil every index
// in [0, n) is stored as it is produced. The accumulators are
// path-dependent, so the fill and single-point surfaces share this body and
// a value at index i always comes from replaying the series from index 0.
func bbScan(dst, data []float32, period, n int) float32 {
	res := float32(0.0)
	if n <= 0 {
		return res
	}

	var accum, accumSq float32
	for i := 0; i < period && i < n; i++ {
		v := data[i]
		accum += v
		accumSq += v * v
		if dst != nil {
			dst[i] = 0.0
		}
	}

	mul := 1.0 / float32(period)
	for i := period; i < n; i++ {
		v := data[i]
		old := data[i-period]
		accum += v - old
		accumSq += v*v - old*old

		sma := accum * mul
		variance := accumSq*mul - sma*sma
		// Accumulated rounding can push the moment difference a hair
		// below zero on near-constant series; the true variance is never
		// negative.
		if variance < 0.0 {
			variance = 0.0
		}
		std := float32(math.Sqrt(float64(variance)))

		diff := v - sma
		res = 3.0
		if abs32(diff) < std*3.0 {
			res = diff / std
		} else if diff < 0.0 {
			res = -3.0
		}
		if dst != nil {
			dst[i] = res
		}
	}
	return res
}

// BB returns the Bollinger %B-style position of each sample inside its
// rolling band: (x - SMA) / stddev, saturated to [-3, 3] beyond three
// deviations. Indices before period hold 0. A zero-width band reports the
// saturation bound (+3, or -3 below the mean).
func BB(data []float32, period int) []float32 {
	out := make([]float32, len(data))
	BBInto(out, data, period, -1)
	return out
}

// BBInto fills dst[0:n] with the band-position series; n < 0 means
// len(data). dst must not alias data.
func BBInto(dst, data []float32, period, n int) {
	bbScan(dst, data, period, resolveLen(data, n))
}

// BBAt returns the band position at index i, replaying the rolling
// accumulators from the start of the series.
func BBAt(data []float32, period, i int) float32 {
	return bbScan(nil, data, period, i+1)
}

// BBLane evaluates index i and stores the result in dst[slot].
func BBLane(dst []float32, slot int, data []float32, period, i int) {
	dst[slot] = bbScan(nil, data, period, i+1)
}
