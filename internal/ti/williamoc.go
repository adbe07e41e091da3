package ti

// williamOCAt scans the window ending at i for its extremes. The extremes
// are exact sample values, never derived arithmetic, so a fresh scan agrees
// bit-for-bit with the incremental tracking in WilliamOCInto.
func williamOCAt(data []float32, period, i int) float32 {
	if i < period {
		return 0.5
	}
	start := i - period + 1
	v := data[start]
	ll, hh := v, v
	for j := start + 1; j <= i; j++ {
		v = data[j]
		ll = min(ll, v)
		hh = max(hh, v)
	}
	rng := hh - ll
	if rng > 0.0 {
		return (hh - v) / rng
	}
	return 0.0
}

// WilliamOC returns the close-only Williams %R of data on a 0..1 scale:
// 0 when the sample sits on the window high, 1 on the window low. A flat
// window reports 0. Indices before period hold 0.5.
func WilliamOC(data []float32, period int) []float32 {
	out := make([]float32, len(data))
	WilliamOCInto(out, data, period, -1)
	return out
}

// WilliamOCInto fills dst[0:n] with the Williams %R series; n < 0 means
// len(data). dst must not alias data.
//
// Window extremes are tracked incrementally: a new sample extends them in
// O(1), and the window is rescanned only when the departing sample held the
// current extreme.
func WilliamOCInto(dst, data []float32, period, n int) {
	n = resolveLen(data, n)
	if n == 0 {
		return
	}

	ll, hh := data[0], data[0]
	dst[0] = 0.5
	for i := 1; i < period && i < n; i++ {
		dst[i] = 0.5
		v := data[i]
		ll = min(ll, v)
		hh = max(hh, v)
	}

	for i := period; i < n; i++ {
		out := i - period
		v := data[i]
		leaving := data[out]

		ll = min(ll, v)
		if leaving == ll {
			// The departed sample may have been the only holder of the
			// low; rescan the live window.
			ll = data[out+1]
			for j := out + 2; j <= i; j++ {
				ll = min(ll, data[j])
			}
		}

		hh = max(hh, v)
		if leaving == hh {
			hh = data[out+1]
			for j := out + 2; j <= i; j++ {
				hh = max(hh, data[j])
			}
		}

		rng := hh - ll
		res := float32(0.0)
		if rng > 0.0 {
			res = (hh - v) / rng
		}
		dst[i] = res
	}
}

// WilliamOCAt returns the Williams %R value at index i.
func WilliamOCAt(data []float32, period, i int) float32 {
	return williamOCAt(data, period, i)
}

// WilliamOCLane evaluates index i and stores the result in dst[slot].
func WilliamOCLane(dst []float32, slot int, data []float32, period, i int) {
	dst[slot] = williamOCAt(data, period, i)
}
