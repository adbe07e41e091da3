// Package ti implements sliding-window technical-indicator kernels over
// float32 sample series.
//
// Every indicator is exposed through four execution surfaces with identical
// numerics:
//
//   - whole-array:  Aroon(data, period) allocates and returns a result slice
//   - buffer-fill:  AroonInto(dst, data, period, n) writes [0,n) into a
//     caller-owned slice, no allocation; n < 0 means len(data)
//   - single-point: AroonAt(data, period, i) recomputes index i from scratch
//   - lane:         AroonLane(dst, slot, data, period, i) is the
//     single-point body writing into a caller-provided slot, for
//     data-parallel batch evaluation (one lane per output index)
//
// For a fixed (data, period, i) the first three surfaces return the same
// float32 bit pattern; the lane surface shares the single-point body and is
// therefore identical as well. All computation stays in single precision.
//
// The package performs no I/O, spawns no goroutines and holds no global
// state: callers may invoke buffer-fill and single-point surfaces
// concurrently as long as the input series is not mutated and result
// buffers are disjoint. Fill destinations must never alias the input
// series.
//
// Indices before an indicator's warm-up threshold hold a fixed per-indicator
// default (0.0, 0.5 or 50.0); single-point surfaces return that default for
// warm-up indices rather than reading an incomplete window. Parameters are
// the caller's contract: period must be >= 2 and evaluation indices must lie
// in [0, len(data)); out-of-range indices panic rather than returning
// garbage.
package ti

// ID identifies an indicator kernel. The set is closed; values match the
// wire/storage encoding used by the engine and are stable across releases.
type ID int

const (
	None ID = iota - 1
	PcntChID
	OnesID
	RSIID
	BBID
	AroonID
	WilliamOCID
	MabopOCID
	LRSlopeID
	LRExpDevID
)

// String returns the canonical upper-case label for the ID.
func (id ID) String() string {
	switch id {
	case None:
		return "NONE"
	case PcntChID:
		return "PCNT_CH"
	case OnesID:
		return "ONES"
	case RSIID:
		return "RSI"
	case BBID:
		return "BB"
	case AroonID:
		return "AROON"
	case WilliamOCID:
		return "WILLIAM_OC"
	case MabopOCID:
		return "MABOP_OC"
	case LRSlopeID:
		return "LR_SLOPE"
	case LRExpDevID:
		return "LR_EXP_DEV"
	}
	return "UNKNOWN"
}

// ParseID maps a canonical label back to its ID. Unknown labels return
// (None, false).
func ParseID(s string) (ID, bool) {
	if s == "NONE" {
		return None, true
	}
	for id := PcntChID; id <= LRExpDevID; id++ {
		if id.String() == s {
			return id, true
		}
	}
	return None, false
}

// PackPeriods packs a regression period and a projection distance into the
// single-int parameter used by the reduced-arity LR_EXP_DEV surfaces:
// mix = expected*1000 + period. period must be < 1000.
func PackPeriods(period, expected int) int {
	return expected*1000 + period
}

// SplitPeriods decomposes a packed parameter produced by PackPeriods.
func SplitPeriods(mix int) (period, expected int) {
	return mix % 1000, mix / 1000
}

// Kernel bundles the four execution surfaces of one indicator together with
// its warm-up metadata. The param argument is the indicator's single packed
// integer parameter (plain period for all kernels except LR_EXP_DEV, which
// takes a PackPeriods mix).
type Kernel struct {
	ID ID

	// Compute walks the whole series and returns a freshly allocated result.
	Compute func(data []float32, param int) []float32

	// Fill writes results for [0,n) into dst; n < 0 means len(data).
	Fill func(dst, data []float32, param, n int)

	// At evaluates a single index from scratch.
	At func(data []float32, param, i int) float32

	// Lane is the single-point body writing dst[slot]; one lane of a
	// data-parallel batch.
	Lane func(dst []float32, slot int, data []float32, param, i int)

	// WarmupLen reports the first index at which Fill/Compute emit a real
	// value for the given param; earlier indices hold WarmupValue.
	WarmupLen func(param int) int

	// WarmupValue is the default written across the warm-up span.
	WarmupValue float32
}

// kernels is the execution-mode adapter table, indexed by ID.
var kernels = [...]Kernel{
	PcntChID: {
		ID:          PcntChID,
		Compute:     PcntChange,
		Fill:        PcntChangeInto,
		At:          PcntChangeAt,
		Lane:        PcntChangeLane,
		WarmupLen:   func(p int) int { return p },
		WarmupValue: 0.0,
	},
	OnesID: {
		ID:          OnesID,
		Compute:     Ones,
		Fill:        OnesInto,
		At:          OnesAt,
		Lane:        OnesLane,
		WarmupLen:   func(int) int { return 0 },
		WarmupValue: 1.0,
	},
	RSIID: {
		ID:          RSIID,
		Compute:     RSI,
		Fill:        RSIInto,
		At:          RSIAt,
		Lane:        RSILane,
		WarmupLen:   func(p int) int { return p },
		WarmupValue: 50.0,
	},
	BBID: {
		ID:          BBID,
		Compute:     BB,
		Fill:        BBInto,
		At:          BBAt,
		Lane:        BBLane,
		WarmupLen:   func(p int) int { return p },
		WarmupValue: 0.0,
	},
	AroonID: {
		ID:          AroonID,
		Compute:     Aroon,
		Fill:        AroonInto,
		At:          AroonAt,
		Lane:        AroonLane,
		WarmupLen:   func(p int) int { return p },
		WarmupValue: 0.0,
	},
	WilliamOCID: {
		ID:          WilliamOCID,
		Compute:     WilliamOC,
		Fill:        WilliamOCInto,
		At:          WilliamOCAt,
		Lane:        WilliamOCLane,
		WarmupLen:   func(p int) int { return p },
		WarmupValue: 0.5,
	},
	MabopOCID: {
		ID:          MabopOCID,
		Compute:     MabopOC,
		Fill:        MabopOCInto,
		At:          MabopOCAt,
		Lane:        MabopOCLane,
		WarmupLen:   func(p int) int { return p },
		WarmupValue: 0.5,
	},
	LRSlopeID: {
		ID:          LRSlopeID,
		Compute:     LRSlope,
		Fill:        LRSlopeInto,
		At:          LRSlopeAt,
		Lane:        LRSlopeLane,
		WarmupLen:   func(p int) int { return p },
		WarmupValue: 0.0,
	},
	LRExpDevID: {
		ID:          LRExpDevID,
		Compute:     LRExpDevMini,
		Fill:        LRExpDevMiniInto,
		At:          LRExpDevMiniAt,
		Lane:        LRExpDevMiniLane,
		WarmupLen: func(mix int) int {
			period, expected := SplitPeriods(mix)
			return period + expected
		},
		WarmupValue: 0.0,
	},
}

// Lookup returns the Kernel for id. The second return is false for None or
// an out-of-range ID.
func Lookup(id ID) (Kernel, bool) {
	if id < PcntChID || id > LRExpDevID {
		return Kernel{}, false
	}
	return kernels[id], true
}

// Kernels returns the full registry in ID order.
func Kernels() []Kernel {
	out := make([]Kernel, len(kernels))
	copy(out, kernels)
	return out
}

// resolveLen maps the buffer-fill length convention onto the series:
// negative means "the whole input".
func resolveLen(data []float32, n int) int {
	if n < 0 {
		return len(data)
	}
	return n
}

// abs32 is |x| without leaving single precision.
func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

// clip1 saturates x into [-1, 1]. NaN passes through unchanged.
func clip1(x float32) float32 {
	if x > 1.0 {
		return 1.0
	}
	if x < -1.0 {
		return -1.0
	}
	return x
}
