package ti

// lrSlopeAt fits a least-squares line to the window ending at i and maps the
// slope through a polynomial arctangent onto [-1, 1]. x coordinates are
// 1..period, so the closed forms for sum(x) and the divisor depend on the
// period alone.
func lrSlopeAt(data []float32, period, i int) float32 {
	if i < period {
		return 0.0
	}

	fp := float32(period)
	d := fp - 1.0
	divisor := fp * fp * d * d / 12.0
	sumX := fp * (fp + 1.0) / 2.0

	var sumY, sumXY float32
	start := i - period + 1
	for j := 0; j < period; j++ {
		v := data[start+j]
		sumY += v
		sumXY += float32(j+1) * v
	}
	slope := (fp*sumXY - sumX*sumY) / divisor

	return atanNorm(slope)
}

// atanNorm maps a slope onto [-1, 1] as atan(slope)/(pi/2), using a 4-term
// Taylor series on the reciprocal-folded argument so the whole evaluation
// stays in single precision.
func atanNorm(slope float32) float32 {
	x := abs32(slope)
	if x > 1.0 {
		x = 1.0 / x
	}
	x2 := x * x
	x3 := x2 * x
	x5 := x3 * x2
	x7 := x5 * x2
	at := x - x3/3.0 + x5/5.0 - x7/7.0
	at *= 0.6366 // 1 / (pi/2)

	if abs32(slope) > 1.0 {
		at = 1.0 - at
	}
	if slope < 0.0 {
		at = -at
	}
	return at
}

// LRSlope returns the linear-regression slope of each window ending at i,
// normalized to [-1, 1] via arctangent. Indices before period hold 0.
func LRSlope(data []float32, period int) []float32 {
	out := make([]float32, len(data))
	LRSlopeInto(out, data, period, -1)
	return out
}

// LRSlopeInto fills dst[0:n] with the normalized-slope series; n < 0 means
// len(data).
func LRSlopeInto(dst, data []float32, period, n int) {
	n = resolveLen(data, n)
	for i := 0; i < n; i++ {
		dst[i] = lrSlopeAt(data, period, i)
	}
}

// LRSlopeAt returns the normalized slope at index i.
func LRSlopeAt(data []float32, period, i int) float32 {
	return lrSlopeAt(data, period, i)
}

// LRSlopeLane evaluates index i and stores the result in dst[slot].
func LRSlopeLane(dst []float32, slot int, data []float32, period, i int) {
	dst[slot] = lrSlopeAt(data, period, i)
}
