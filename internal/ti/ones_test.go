package ti

import "testing"

func TestOnes_AllOne(t *testing.T) {
	data := genWalk(91, 50)
	for i, v := range Ones(data, 7) {
		if v != 1.0 {
			t.Errorf("index %d: got %v, want 1", i, v)
		}
	}
}

func TestOnes_NoWarmup(t *testing.T) {
	if got := OnesAt([]float32{3}, 5, 0); got != 1.0 {
		t.Errorf("OnesAt(0) = %v, want 1 even inside another kernel's warm-up span", got)
	}
}
