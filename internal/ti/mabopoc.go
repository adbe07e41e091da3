package ti

// mabopOCAt counts the rising closes among the period moves ending at i.
// The count is integer-exact, so a fresh window count multiplied out once
// agrees bit-for-bit with the incremental tracking in MabopOCInto.
func mabopOCAt(data []float32, period, i int) float32 {
	if i < period {
		return 0.5
	}
	up := 0
	for j := i - period + 1; j <= i; j++ {
		if data[j] > data[j-1] {
			up++
		}
	}
	return (1.0 / float32(period)) * float32(up)
}

// MabopOC returns the close-only balance-of-power average: the fraction of
// the last period moves that closed higher, on a 0..1 scale. Indices before
// period hold 0.5.
func MabopOC(data []float32, period int) []float32 {
	out := make([]float32, len(data))
	MabopOCInto(out, data, period, -1)
	return out
}

// MabopOCInto fills dst[0:n] with the balance-of-power series; n < 0 means
// len(data). dst must not alias data.
func MabopOCInto(dst, data []float32, period, n int) {
	n = resolveLen(data, n)
	if n == 0 {
		return
	}

	rev := 1.0 / float32(period)
	up := 0
	dst[0] = 0.5
	for i := 1; i <= period && i < n; i++ {
		dst[i] = 0.5
		if data[i] > data[i-1] {
			up++
		}
	}
	if period >= n {
		return
	}

	// Index period is the first with a full set of moves behind it.
	dst[period] = rev * float32(up)
	for i := period + 1; i < n; i++ {
		if data[i] > data[i-1] {
			up++
		}
		if data[i-period] > data[i-period-1] {
			up--
		}
		dst[i] = rev * float32(up)
	}
}

// MabopOCAt returns the balance-of-power value at index i.
func MabopOCAt(data []float32, period, i int) float32 {
	return mabopOCAt(data, period, i)
}

// MabopOCLane evaluates index i and stores the result in dst[slot].
func MabopOCLane(dst []float32, slot int, data []float32, period, i int) {
	dst[slot] = mabopOCAt(data, period, i)
}
