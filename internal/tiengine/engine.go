package tiengine

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"ti-systemv1/internal/model"
	"ti-systemv1/internal/ti"
)

// ErrStaleSeq is returned for a sample whose sequence is not past the head
// of its series.
var ErrStaleSeq = errors.New("sample seq is not past the series head")

// seriesState is the in-memory history of one symbol. data[i] holds the
// sample value at sequence firstSeq+i; the mapping stays contiguous, holes
// are forward-filled on append.
type seriesState struct {
	data     []float32
	firstSeq int64
	lastTS   time.Time
}

func (st *seriesState) lastSeq() int64 {
	return st.firstSeq + int64(len(st.data)) - 1
}

// trim drops the oldest samples when the series exceeds max, advancing
// firstSeq by the number dropped.
func (st *seriesState) trim(max int) {
	if len(st.data) <= max {
		return
	}
	drop := len(st.data) - max
	copy(st.data, st.data[drop:])
	st.data = st.data[:max]
	st.firstSeq += int64(drop)
}

// Engine holds per-symbol sample history and evaluates every configured
// indicator kernel as samples arrive. All methods are safe for concurrent
// use.
type Engine struct {
	mu         sync.RWMutex
	specs      []Spec
	series     map[string]*seriesState
	maxHistory int
}

// NewEngine creates an engine with the given indicator set. maxHistory caps
// each symbol's in-memory window; it must comfortably exceed the largest
// configured warm-up span.
func NewEngine(specs []Spec, maxHistory int) *Engine {
	if maxHistory <= 0 {
		maxHistory = 16384
	}
	return &Engine{
		specs:      specs,
		series:     make(map[string]*seriesState),
		maxHistory: maxHistory,
	}
}

// ProcessSample appends one sample to its series and returns one result per
// configured indicator, evaluated at the new head. A sample at or behind the
// current head returns ErrStaleSeq. A forward gap is forward-filled with the
// previous value so positions stay aligned with sequences; a gap wider than
// the history window resets the series instead.
func (e *Engine) ProcessSample(s model.Sample) ([]model.IndicatorResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.series[s.Symbol]
	if st == nil {
		st = &seriesState{firstSeq: s.Seq}
		e.series[s.Symbol] = st
	} else if len(st.data) > 0 {
		last := st.lastSeq()
		if s.Seq <= last {
			return nil, ErrStaleSeq
		}
		if gap := s.Seq - last - 1; gap > 0 {
			if gap >= int64(e.maxHistory) {
				log.Printf("[tiengine] seq gap on %s exceeds history window (head=%d incoming=%d), resetting series",
					s.Symbol, last, s.Seq)
				st.data = st.data[:0]
				st.firstSeq = s.Seq
			} else {
				log.Printf("[tiengine] seq gap on %s: head=%d incoming=%d, filling %d positions forward",
					s.Symbol, last, s.Seq, gap)
				fill := st.data[len(st.data)-1]
				for ; gap > 0; gap-- {
					st.data = append(st.data, fill)
				}
			}
		}
	} else {
		st.firstSeq = s.Seq
	}

	st.data = append(st.data, s.Value)
	st.lastTS = s.TS
	st.trim(e.maxHistory)

	i := len(st.data) - 1
	results := make([]model.IndicatorResult, 0, len(e.specs))
	for _, spec := range e.specs {
		k, ok := ti.Lookup(spec.ID)
		if !ok {
			continue
		}
		results = append(results, model.IndicatorResult{
			Indicator: spec.ID.String(),
			Param:     spec.Param,
			Symbol:    s.Symbol,
			Seq:       s.Seq,
			Value:     k.At(st.data, spec.Param, i),
			Warm:      i >= k.WarmupLen(spec.Param),
			TS:        s.TS,
		})
	}
	return results, nil
}

// Backfill loads a batch of historical samples for one symbol, one fill pass
// per indicator instead of one evaluation per sample. Samples at or behind
// the current head are dropped; results are returned for the appended span
// only, in seq order per indicator.
func (e *Engine) Backfill(symbol string, samples []model.Sample) []model.IndicatorResult {
	if len(samples) == 0 {
		return nil
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Seq < samples[j].Seq })

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.series[symbol]
	if st == nil {
		st = &seriesState{firstSeq: samples[0].Seq}
		e.series[symbol] = st
	}

	prevLast := int64(0)
	hadData := len(st.data) > 0
	if hadData {
		prevLast = st.lastSeq()
	}

	appended := 0
	for _, s := range samples {
		if len(st.data) > 0 {
			last := st.lastSeq()
			if s.Seq <= last {
				continue
			}
			for gap := s.Seq - last - 1; gap > 0; gap-- {
				st.data = append(st.data, st.data[len(st.data)-1])
			}
		} else {
			st.firstSeq = s.Seq
		}
		st.data = append(st.data, s.Value)
		st.lastTS = s.TS
		appended++
	}
	if appended == 0 {
		return nil
	}
	st.trim(e.maxHistory)

	// One fill pass per indicator over the whole window, then emit the
	// positions the new samples landed on. Forward-filled holes and samples
	// trimmed back out of the window produce no results.
	n := len(st.data)
	dst := make([]float32, n)
	var out []model.IndicatorResult
	for _, spec := range e.specs {
		k, ok := ti.Lookup(spec.ID)
		if !ok {
			continue
		}
		k.Fill(dst, st.data, spec.Param, -1)
		warmLen := int64(k.WarmupLen(spec.Param))
		emitted := int64(-1)
		for _, s := range samples {
			if hadData && s.Seq <= prevLast {
				continue
			}
			if s.Seq == emitted {
				continue
			}
			idx := s.Seq - st.firstSeq
			if idx < 0 || idx >= int64(n) {
				continue
			}
			emitted = s.Seq
			out = append(out, model.IndicatorResult{
				Indicator: spec.ID.String(),
				Param:     spec.Param,
				Symbol:    symbol,
				Seq:       s.Seq,
				Value:     dst[idx],
				Warm:      idx >= warmLen,
				TS:        s.TS,
			})
		}
	}
	return out
}

// PreviewSample evaluates every indicator as if the sample were appended,
// without mutating series state. Returns nil for unknown symbols and for
// sequences at or behind the head.
func (e *Engine) PreviewSample(s model.Sample) []model.IndicatorResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := e.series[s.Symbol]
	if st == nil || len(st.data) == 0 {
		return nil
	}
	if s.Seq <= st.lastSeq() {
		return nil
	}

	// Full slice expression so append cannot write into the shared backing
	// array.
	data := append(st.data[:len(st.data):len(st.data)], s.Value)
	i := len(data) - 1
	results := make([]model.IndicatorResult, 0, len(e.specs))
	for _, spec := range e.specs {
		k, ok := ti.Lookup(spec.ID)
		if !ok {
			continue
		}
		results = append(results, model.IndicatorResult{
			Indicator: spec.ID.String(),
			Param:     spec.Param,
			Symbol:    s.Symbol,
			Seq:       s.Seq,
			Value:     k.At(data, spec.Param, i),
			Warm:      i >= k.WarmupLen(spec.Param),
			TS:        s.TS,
		})
	}
	return results
}

// ComputeSpecs evaluates the given specs over one symbol's full in-memory
// window, one fill pass per spec. Result timestamps carry the series' last
// sample time; per-position times are not retained.
func (e *Engine) ComputeSpecs(symbol string, specs []Spec) []model.IndicatorResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := e.series[symbol]
	if st == nil || len(st.data) == 0 {
		return nil
	}
	n := len(st.data)
	dst := make([]float32, n)
	var out []model.IndicatorResult
	for _, spec := range specs {
		k, ok := ti.Lookup(spec.ID)
		if !ok {
			continue
		}
		k.Fill(dst, st.data, spec.Param, -1)
		warmLen := k.WarmupLen(spec.Param)
		for i := 0; i < n; i++ {
			out = append(out, model.IndicatorResult{
				Indicator: spec.ID.String(),
				Param:     spec.Param,
				Symbol:    symbol,
				Seq:       st.firstSeq + int64(i),
				Value:     dst[i],
				Warm:      i >= warmLen,
				TS:        st.lastTS,
			})
		}
	}
	return out
}

// ReloadConfigs swaps the configured indicator set. Specs already present
// keep computing uninterrupted. Returns the number carried over and the
// number newly added.
func (e *Engine) ReloadConfigs(newSpecs []Spec) (preserved, created int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := make(map[string]bool, len(e.specs))
	for _, sp := range e.specs {
		old[sp.Name()] = true
	}
	specs := make([]Spec, 0, len(newSpecs))
	seen := make(map[string]bool, len(newSpecs))
	for _, sp := range newSpecs {
		if seen[sp.Name()] {
			continue
		}
		seen[sp.Name()] = true
		specs = append(specs, sp)
		if old[sp.Name()] {
			preserved++
		} else {
			created++
		}
	}
	e.specs = specs
	return preserved, created
}

// Specs returns a copy of the active indicator set.
func (e *Engine) Specs() []Spec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Spec, len(e.specs))
	copy(out, e.specs)
	return out
}

// SpecNames returns the active indicator names, e.g. ["RSI_14", "BB_20"].
func (e *Engine) SpecNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.specs))
	for i, sp := range e.specs {
		names[i] = sp.Name()
	}
	return names
}

// Symbols returns the tracked symbols in sorted order.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.series))
	for sym := range e.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// HasSeries reports whether the engine tracks the symbol.
func (e *Engine) HasSeries(symbol string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.series[symbol] != nil
}

// SeriesCount returns the number of tracked symbols.
func (e *Engine) SeriesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.series)
}

// LastSeq returns the head sequence of a symbol's series. The second return
// is false when the symbol is unknown or empty.
func (e *Engine) LastSeq(symbol string) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.series[symbol]
	if st == nil || len(st.data) == 0 {
		return 0, false
	}
	return st.lastSeq(), true
}

// SeriesData returns a copy of a symbol's window and the sequence of its
// first position.
func (e *Engine) SeriesData(symbol string) ([]float32, int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.series[symbol]
	if st == nil {
		return nil, 0, false
	}
	data := make([]float32, len(st.data))
	copy(data, st.data)
	return data, st.firstSeq, true
}

// SeriesStatus describes one tracked series for the status endpoint.
type SeriesStatus struct {
	Symbol   string    `json:"symbol"`
	Len      int       `json:"len"`
	FirstSeq int64     `json:"first_seq"`
	LastSeq  int64     `json:"last_seq"`
	LastTS   time.Time `json:"last_ts"`
}

// Status returns per-series state in symbol order.
func (e *Engine) Status() []SeriesStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SeriesStatus, 0, len(e.series))
	for sym, st := range e.series {
		out = append(out, SeriesStatus{
			Symbol:   sym,
			Len:      len(st.data),
			FirstSeq: st.firstSeq,
			LastSeq:  st.lastSeq(),
			LastTS:   st.lastTS,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
