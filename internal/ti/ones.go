package ti

// Ones returns a series of the same length as data with every entry 1.
// It is the identity element for weighted indicator blends and doubles as a
// liveness probe for the execution pipeline: any slot that comes back != 1
// points at a plumbing fault, not a math fault. period is accepted for
// registry uniformity and ignored.
func Ones(data []float32, period int) []float32 {
	out := make([]float32, len(data))
	OnesInto(out, data, period, -1)
	return out
}

// OnesInto fills dst[0:n] with 1; n < 0 means len(data).
func OnesInto(dst, data []float32, period, n int) {
	n = resolveLen(data, n)
	for i := 0; i < n; i++ {
		dst[i] = 1.0
	}
}

// OnesAt returns 1 for any index.
func OnesAt(data []float32, period, i int) float32 {
	return 1.0
}

// OnesLane stores 1 in dst[slot].
func OnesLane(dst []float32, slot int, data []float32, period, i int) {
	dst[slot] = 1.0
}
