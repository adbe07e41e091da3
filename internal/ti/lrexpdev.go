package ti

// lrExpDevAt fits a least-squares line to the first period samples of the
// span ending at i and projects it expected steps past the fit. The result
// is how far the actual sample sits from the projection, clipped to [-1, 1].
func lrExpDevAt(data []float32, period, expected, i int) float32 {
	span := period + expected
	if i < span {
		return 0.0
	}

	fp := float32(period)
	d := fp - 1.0
	divisor := fp * fp * d * d / 12.0
	sumX := fp * (fp + 1.0) / 2.0

	var sumY, sumXY float32
	start := i - span + 1
	for j := 0; j < period; j++ {
		v := data[start+j]
		sumY += v
		sumXY += float32(j+1) * v
	}
	slope := (fp*sumXY - sumX*sumY) / divisor
	intercept := (sumY - slope*sumX) / fp
	projected := slope*float32(span) + intercept

	return clip1(1.0 - projected/data[i])
}

// LRExpDev returns the deviation of each sample from the price a
// linear-regression fit projects for it. The fit spans the first period
// samples of the window ending at i, extrapolated expected steps forward;
// the result is 1 - projected/actual clipped to [-1, 1]. Indices before
// period+expected hold 0.
func LRExpDev(data []float32, period, expected int) []float32 {
	out := make([]float32, len(data))
	LRExpDevInto(out, data, period, expected, -1)
	return out
}

// LRExpDevInto fills dst[0:n] with the projection-deviation series; n < 0
// means len(data).
func LRExpDevInto(dst, data []float32, period, expected, n int) {
	n = resolveLen(data, n)
	for i := 0; i < n; i++ {
		dst[i] = lrExpDevAt(data, period, expected, i)
	}
}

// LRExpDevAt returns the projection deviation at index i.
func LRExpDevAt(data []float32, period, expected, i int) float32 {
	return lrExpDevAt(data, period, expected, i)
}

// LRExpDevLane evaluates index i and stores the result in dst[slot].
func LRExpDevLane(dst []float32, slot int, data []float32, period, expected, i int) {
	dst[slot] = lrExpDevAt(data, period, expected, i)
}

// The Mini variants take the two periods packed into one parameter with
// PackPeriods, giving the kernel the same single-int arity as every other
// indicator so it can ride the registry and the batch scheduler unchanged.

// LRExpDevMini is LRExpDev with a packed period parameter.
func LRExpDevMini(data []float32, mix int) []float32 {
	period, expected := SplitPeriods(mix)
	return LRExpDev(data, period, expected)
}

// LRExpDevMiniInto is LRExpDevInto with a packed period parameter.
func LRExpDevMiniInto(dst, data []float32, mix, n int) {
	period, expected := SplitPeriods(mix)
	LRExpDevInto(dst, data, period, expected, n)
}

// LRExpDevMiniAt is LRExpDevAt with a packed period parameter.
func LRExpDevMiniAt(data []float32, mix, i int) float32 {
	period, expected := SplitPeriods(mix)
	return lrExpDevAt(data, period, expected, i)
}

// LRExpDevMiniLane evaluates index i and stores the result in dst[slot].
func LRExpDevMiniLane(dst []float32, slot int, data []float32, mix, i int) {
	period, expected := SplitPeriods(mix)
	dst[slot] = lrExpDevAt(data, period, expected, i)
}
