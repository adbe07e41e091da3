package ti

import "testing"

func TestLRSlope_UnitStep(t *testing.T) {
	// Unit-step line with period 5: the window sums give
	// numerator = 5*sumXY - sumX*sumY = 50, divisor = 25*16/12 = 33.3333,
	// so slope = 1.5 and the angle maps through the reciprocal branch:
	// 1 - atan4(1/1.5)*0.6366 = 0.62703.
	data := make([]float32, 24)
	for i := range data {
		data[i] = float32(10 + i)
	}
	got := LRSlope(data, 5)
	for i := 0; i < 5; i++ {
		assertNear(t, "warm-up", got[i], 0, 0)
	}
	for i := 5; i < len(got); i++ {
		assertNear(t, "unit step", got[i], 0.62703, 1e-3)
	}
}

func TestLRSlope_Flat_IsZero(t *testing.T) {
	// Constant window: numerator cancels exactly, slope 0, angle 0.
	data := []float32{7, 7, 7, 7, 7, 7, 7, 7}
	for i, v := range LRSlope(data, 5) {
		if v != 0 {
			t.Errorf("index %d: flat series gave %v, want 0", i, v)
		}
	}
}

func TestLRSlope_MirrorSymmetry(t *testing.T) {
	// Rising and falling unit-step lines produce slopes of equal magnitude
	// and opposite sign; the angle transform is odd, so the outputs mirror
	// bit-for-bit.
	rising := make([]float32, 20)
	falling := make([]float32, 20)
	for i := range rising {
		rising[i] = float32(10 + i)
		falling[i] = float32(90 - i)
	}
	up := LRSlope(rising, 5)
	down := LRSlope(falling, 5)
	for i := 5; i < len(up); i++ {
		assertBits(t, "mirror", down[i], -up[i])
	}
}

func TestLRSlope_SteepApproachesOne(t *testing.T) {
	// A step of 1000 pushes the slope far past 1; the reciprocal branch
	// must squeeze the angle toward 1 without ever crossing it.
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i) * 1000.0
	}
	got := LRSlope(data, 5)
	for i := 5; i < len(got); i++ {
		if got[i] <= 0.999 || got[i] > 1.0 {
			t.Errorf("index %d: steep slope gave %v, want (0.999, 1.0]", i, got[i])
		}
	}
}

func TestLRSlope_Bounded(t *testing.T) {
	data := genWalk(71, 400)
	for i, v := range LRSlope(data, 9) {
		if v < -1.0 || v > 1.0 {
			t.Errorf("index %d: LRSlope %v outside [-1,1]", i, v)
		}
	}
}
