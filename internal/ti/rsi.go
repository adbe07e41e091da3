package ti

// rsiScan drives the smoothed gain/loss recursion over data[:n] and returns
// the indicator value at index n-1. When dst is non-nil every index in
// [0, n) is stored as it is produced. The recursion is path-dependent, so
// both the fill and single-point surfaces share this one body; a value at
// index i is always the result of replaying the series from index 0.
func rsiScan(dst, data []float32, period, n int) float32 {
	res := float32(50.0)
	if n <= 0 {
		return res
	}
	mul := 1.0 / float32(period)
	mul2 := 1.0 - mul

	// Seed: accumulate raw gains and losses across the first period, then
	// scale both once. Warm-up indices report the neutral value.
	var gain, loss float32
	if dst != nil {
		dst[0] = 50.0
	}
	for i := 1; i < period && i < n; i++ {
		if dst != nil {
			dst[i] = 50.0
		}
		diff := data[i] - data[i-1]
		if diff > 0.0 {
			gain += diff
		} else {
			loss -= diff
		}
	}
	gain *= mul
	loss *= mul

	// Wilder smoothing: decay both accumulators, fold in the pre-scaled
	// delta, and read the gain share of the combined range.
	for i := period; i < n; i++ {
		diff := data[i] - data[i-1]
		gain *= mul2
		loss *= mul2
		diff *= mul
		if diff > 0.0 {
			gain += diff
		} else {
			loss -= diff
		}
		res = 50.0
		if rng := gain + loss; rng > 0.0 {
			res = 100.0 * gain / rng
		}
		if dst != nil {
			dst[i] = res
		}
	}
	return res
}

// RSI returns the Relative Strength Index of data, scaled 0..100 with
// Wilder's smoothing. Indices before period hold the neutral value 50.
func RSI(data []float32, period int) []float32 {
	out := make([]float32, len(data))
	RSIInto(out, data, period, -1)
	return out
}

// RSIInto fills dst[0:n] with the RSI series; n < 0 means len(data).
func RSIInto(dst, data []float32, period, n int) {
	rsiScan(dst, data, period, resolveLen(data, n))
}

// RSIAt returns the RSI value at index i, replaying the smoothing recursion
// from the start of the series.
func RSIAt(data []float32, period, i int) float32 {
	return rsiScan(nil, data, period, i+1)
}

// RSILane evaluates index i and stores the result in dst[slot].
func RSILane(dst []float32, slot int, data []float32, period, i int) {
	dst[slot] = rsiScan(nil, data, period, i+1)
}
