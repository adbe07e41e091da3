package ti

import "testing"

func TestAroon_RisingWindow(t *testing.T) {
	// Window [2,3] at index 2 (period 2): high at offset 1, low at offset
	// 0, so (0-1)/2 = -0.5.
	data := []float32{1, 2, 3, 4, 5}
	got := Aroon(data, 2)

	assertNear(t, "warm-up 0", got[0], 0, 0)
	assertNear(t, "warm-up 1", got[1], 0, 0)
	for i := 2; i < len(got); i++ {
		assertNear(t, "rising window", got[i], -0.5, 0)
	}
}

func TestAroon_FallingWindow(t *testing.T) {
	// Falling series: the low is always the freshest sample, so the
	// oscillator pins at (period-1)/period.
	data := []float32{9, 8, 7, 6, 5, 4}
	got := Aroon(data, 3)
	for i := 3; i < len(got); i++ {
		assertNear(t, "falling window", got[i], 2.0/3.0, 1e-6)
	}
}

func TestAroon_FlatWindow_IsZero(t *testing.T) {
	// Constant window: both extremes stay at offset 0.
	data := []float32{5, 5, 5, 5, 5, 5}
	for i, v := range Aroon(data, 3) {
		if v != 0 {
			t.Errorf("index %d: flat window gave %v, want 0", i, v)
		}
	}
}

func TestAroon_TieKeepsEarliestExtreme(t *testing.T) {
	// Window [1,3,1] at index 3 (period 3): the high is unique at offset
	// 1, the low value 1 appears at offsets 0 and 2 and the earliest one
	// must win: (0-1)/3.
	data := []float32{3, 1, 3, 1}
	got := AroonAt(data, 3, 3)
	assertNear(t, "tie break", got, -1.0/3.0, 1e-6)
}

func TestAroon_Bounded(t *testing.T) {
	data := genWalk(41, 400)
	for i, v := range Aroon(data, 9) {
		if v < -1.0 || v > 1.0 {
			t.Errorf("index %d: Aroon %v outside [-1,1]", i, v)
		}
	}
}
