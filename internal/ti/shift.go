package ti

// Shift returns a copy of data displaced by k positions. Positive k moves
// samples toward higher indices and zero-fills the head; negative k moves
// them toward lower indices and zero-fills the tail. |k| >= len(data) yields
// an all-zero slice.
//
//	Shift([1 2 3 4 5], 2)  -> [0 0 1 2 3]
//	Shift([1 2 3 4 5], -2) -> [3 4 5 0 0]
func Shift(data []float32, k int) []float32 {
	out := make([]float32, len(data))
	switch {
	case k == 0:
		copy(out, data)
	case k > 0:
		if k < len(data) {
			copy(out[k:], data[:len(data)-k])
		}
	default:
		if -k < len(data) {
			copy(out, data[-k:])
		}
	}
	return out
}

// PadTo zero-extends data to at least n samples. Series already n or longer
// are returned as-is without copying.
func PadTo(data []float32, n int) []float32 {
	if len(data) >= n {
		return data
	}
	out := make([]float32, n)
	copy(out, data)
	return out
}
