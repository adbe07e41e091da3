package ti

import "testing"

func TestShift_TowardHigherIndices(t *testing.T) {
	got := Shift([]float32{1, 2, 3, 4, 5}, 2)
	want := []float32{0, 0, 1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestShift_TowardLowerIndices(t *testing.T) {
	got := Shift([]float32{1, 2, 3, 4, 5}, -2)
	want := []float32{3, 4, 5, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestShift_ZeroCopies(t *testing.T) {
	src := []float32{1, 2, 3}
	got := Shift(src, 0)
	for i := range src {
		if got[i] != src[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], src[i])
		}
	}
	got[0] = 99
	if src[0] != 1 {
		t.Error("Shift(0) returned the input slice instead of a copy")
	}
}

func TestShift_BeyondLengthIsAllZero(t *testing.T) {
	for _, k := range []int{3, -3, 7, -7} {
		for i, v := range Shift([]float32{1, 2, 3}, k) {
			if v != 0 {
				t.Errorf("shift %d index %d: got %v, want 0", k, i, v)
			}
		}
	}
}

func TestShift_Empty(t *testing.T) {
	if got := Shift(nil, 4); len(got) != 0 {
		t.Errorf("shifting an empty series gave %d samples", len(got))
	}
}

func TestPadTo_Extends(t *testing.T) {
	got := PadTo([]float32{1, 2, 3}, 6)
	want := []float32{1, 2, 3, 0, 0, 0}
	if len(got) != 6 {
		t.Fatalf("got length %d, want 6", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPadTo_LongEnoughPassesThrough(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	got := PadTo(src, 3)
	if len(got) != 4 {
		t.Fatalf("got length %d, want 4", len(got))
	}
	if &got[0] != &src[0] {
		t.Error("a series already long enough should come back without copying")
	}
}
