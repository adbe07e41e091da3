package ti

// aroonAt is the shared single-index body: rescan the window ending at i and
// report how far the low sits ahead of the high, scaled by 1/period. Strict
// comparisons keep the earliest extreme on ties.
func aroonAt(data []float32, period, i int) float32 {
	if i < period {
		return 0.0
	}
	start := i - period + 1
	hiIdx, loIdx := 0, 0
	hiVal, loVal := data[start], data[start]
	for j := 1; j < period; j++ {
		v := data[start+j]
		if v > hiVal {
			hiVal = v
			hiIdx = j
		}
		if v < loVal {
			loVal = v
			loIdx = j
		}
	}
	return (1.0 / float32(period)) * float32(loIdx-hiIdx)
}

// Aroon returns the Aroon oscillator of data normalized to [-1, 1]. The
// value is (lowOffset - highOffset) / period over the window ending at i, so
// a window whose high is more recent than its low reads negative. Indices
// before period hold 0.
func Aroon(data []float32, period int) []float32 {
	out := make([]float32, len(data))
	AroonInto(out, data, period, -1)
	return out
}

// AroonInto fills dst[0:n] with the Aroon series; n < 0 means len(data).
func AroonInto(dst, data []float32, period, n int) {
	n = resolveLen(data, n)
	for i := 0; i < n; i++ {
		dst[i] = aroonAt(data, period, i)
	}
}

// AroonAt returns the Aroon value at index i.
func AroonAt(data []float32, period, i int) float32 {
	return aroonAt(data, period, i)
}

// AroonLane evaluates index i and stores the result in dst[slot].
func AroonLane(dst []float32, slot int, data []float32, period, i int) {
	dst[slot] = aroonAt(data, period, i)
}
