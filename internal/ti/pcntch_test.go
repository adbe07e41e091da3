package ti

import "testing"

func TestPcntChange_DoublingSeries(t *testing.T) {
	// Each sample doubles, so against a lag of 2 every ratio is 4:
	// data[i]/data[i-2] - 1 = 4 - 1 = 3.
	data := []float32{1, 2, 4, 8, 16}
	got := PcntChange(data, 2)
	want := []float32{0, 0, 3, 3, 3}
	for i := range want {
		assertNear(t, "PcntChange(2)", got[i], want[i], 0)
	}
}

func TestPcntChange_Signs(t *testing.T) {
	// 8 -> 2 over a lag of 2 is 2/8 - 1 = -0.75; 2 -> 8 is 8/2 - 1 = 3.
	data := []float32{8, 8, 2, 2, 8}
	got := PcntChange(data, 2)
	assertNear(t, "drop at 2", got[2], -0.75, 0)
	assertNear(t, "drop at 3", got[3], -0.75, 0)
	assertNear(t, "recovery at 4", got[4], 3.0, 0)
}

func TestPcntChange_FlatIsZero(t *testing.T) {
	data := []float32{7, 7, 7, 7, 7, 7}
	for i, v := range PcntChange(data, 3) {
		if v != 0 {
			t.Errorf("index %d: flat series gave %v, want 0", i, v)
		}
	}
}

func TestPcntChange_WarmupZeros(t *testing.T) {
	data := genWalk(11, 20)
	got := PcntChange(data, 6)
	for i := 0; i < 6; i++ {
		if got[i] != 0 {
			t.Errorf("index %d: warm-up gave %v, want 0", i, got[i])
		}
	}
}
