package ti

// pcntChangeAt is the shared single-index body for the percent-change
// surfaces. Warm-up indices (i < period) return 0 without touching data.
func pcntChangeAt(data []float32, period, i int) float32 {
	if i < period {
		return 0.0
	}
	return data[i]/data[i-period] - 1.0
}

// PcntChange returns the fractional change of each sample against the sample
// period steps earlier: data[i]/data[i-period] - 1. The first period entries
// are 0.
func PcntChange(data []float32, period int) []float32 {
	out := make([]float32, len(data))
	PcntChangeInto(out, data, period, -1)
	return out
}

// PcntChangeInto fills dst[0:n] with the percent-change series; n < 0 means
// len(data).
func PcntChangeInto(dst, data []float32, period, n int) {
	n = resolveLen(data, n)
	for i := 0; i < n; i++ {
		dst[i] = pcntChangeAt(data, period, i)
	}
}

// PcntChangeAt returns the percent change at index i.
func PcntChangeAt(data []float32, period, i int) float32 {
	return pcntChangeAt(data, period, i)
}

// PcntChangeLane evaluates index i and stores the result in dst[slot].
func PcntChangeLane(dst []float32, slot int, data []float32, period, i int) {
	dst[slot] = pcntChangeAt(data, period, i)
}
