package ti

import "testing"

func TestRSI_HandCalc_Period2(t *testing.T) {
	// Period 2 keeps every constant exact in binary: mul = 0.5, decay = 0.5.
	// Prices: 10, 11, 10, 11
	//
	// Seed (index 1): diff=+1 -> gain=1, loss=0; scale once: gain=0.5.
	// Index 2: gain=0.5*0.5=0.25, loss=0; diff=-1*0.5=-0.5 -> loss=0.5
	//          range=0.75, RSI = 100*0.25/0.75 = 33.3333
	// Index 3: gain=0.25*0.5=0.125, loss=0.5*0.5=0.25; diff=+0.5 -> gain=0.625
	//          range=0.875, RSI = 100*0.625/0.875 = 71.4286
	data := []float32{10, 11, 10, 11}
	got := RSI(data, 2)

	assertNear(t, "RSI warm-up 0", got[0], 50.0, 0)
	assertNear(t, "RSI warm-up 1", got[1], 50.0, 0)
	assertNear(t, "RSI index 2", got[2], 33.3333, 0.001)
	assertNear(t, "RSI index 3", got[3], 71.4286, 0.001)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	// Strictly rising series: the loss accumulator never leaves zero, so
	// RSI = 100*gain/gain at every post-warm-up index.
	data := make([]float32, 30)
	for i := range data {
		data[i] = float32(10 + i)
	}
	got := RSI(data, 5)
	for i := 5; i < len(got); i++ {
		assertNear(t, "RSI all up", got[i], 100.0, 0.001)
	}
}

func TestRSI_AllDown_Is0(t *testing.T) {
	// Strictly falling: gain stays zero, RSI = 100*0/range = 0.
	data := make([]float32, 30)
	for i := range data {
		data[i] = float32(90 - i)
	}
	got := RSI(data, 5)
	for i := 5; i < len(got); i++ {
		assertNear(t, "RSI all down", got[i], 0.0, 0.001)
	}
}

func TestRSI_Flat_Is50(t *testing.T) {
	// No movement: both accumulators stay zero, range is zero, the neutral
	// default stands.
	data := make([]float32, 20)
	for i := range data {
		data[i] = 64.0
	}
	got := RSI(data, 5)
	for i, v := range got {
		if v != 50.0 {
			t.Errorf("index %d: flat RSI gave %v, want 50", i, v)
		}
	}
}

func TestRSI_Bounded(t *testing.T) {
	data := genWalk(21, 500)
	for i, v := range RSI(data, 14) {
		if v < 0.0 || v > 100.0 {
			t.Errorf("index %d: RSI %v outside [0,100]", i, v)
		}
	}
}

func TestRSI_PointReplaysPrefix(t *testing.T) {
	// The smoothing state is path-dependent: the value at index i must be
	// the same whether the series was walked once or recomputed from zero.
	data := genWalk(22, 80)
	full := RSI(data, 14)
	for _, i := range []int{14, 20, 40, 79} {
		assertBits(t, "RSIAt replay", RSIAt(data, 14, i), full[i])
	}
}
