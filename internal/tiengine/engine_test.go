package tiengine

import (
	"testing"
	"time"

	"ti-systemv1/internal/model"
	"ti-systemv1/internal/ti"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var testBase = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func mkSamples(symbol string, startSeq int64, vals ...float32) []model.Sample {
	out := make([]model.Sample, len(vals))
	for i, v := range vals {
		out[i] = model.Sample{
			Symbol: symbol,
			Seq:    startSeq + int64(i),
			Value:  v,
			TS:     testBase.Add(time.Duration(startSeq+int64(i)) * time.Second),
		}
	}
	return out
}

func testSpecs(t *testing.T, configs ...string) []Spec {
	t.Helper()
	specs := make([]Spec, 0, len(configs))
	for _, c := range configs {
		sp, err := ParseSpec(c)
		if err != nil {
			t.Fatalf("ParseSpec(%q): %v", c, err)
		}
		specs = append(specs, sp)
	}
	return specs
}

// resultsBySpec indexes one sample's result batch by indicator name.
func resultsBySpec(results []model.IndicatorResult) map[string]model.IndicatorResult {
	out := make(map[string]model.IndicatorResult, len(results))
	for _, r := range results {
		out[r.Name()] = r
	}
	return out
}

// ────────────────────────────────────────────────────────────
// ProcessSample
// ────────────────────────────────────────────────────────────

func TestProcessSample_MatchesWholeArraySurface(t *testing.T) {
	specs := testSpecs(t, "PCNT_CH:2", "RSI:3", "BB:3", "LR_EXP_DEV:2003")
	eng := NewEngine(specs, 0)

	vals := []float32{10, 11, 12, 11.5, 13, 12.8, 14, 13.2, 15, 14.1}
	perSpec := make(map[string][]float32)
	for _, s := range mkSamples("WAVE_A", 0, vals...) {
		results, err := eng.ProcessSample(s)
		if err != nil {
			t.Fatalf("ProcessSample(seq=%d): %v", s.Seq, err)
		}
		if len(results) != len(specs) {
			t.Fatalf("seq=%d: got %d results, want %d", s.Seq, len(results), len(specs))
		}
		for _, r := range results {
			perSpec[r.Name()] = append(perSpec[r.Name()], r.Value)
		}
	}

	for _, sp := range specs {
		k, _ := ti.Lookup(sp.ID)
		want := k.Compute(vals, sp.Param)
		got := perSpec[sp.Name()]
		if len(got) != len(want) {
			t.Fatalf("%s: got %d values, want %d", sp.Name(), len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s[%d]: got %v, want %v", sp.Name(), i, got[i], want[i])
			}
		}
	}
}

func TestProcessSample_WarmupFlags(t *testing.T) {
	specs := testSpecs(t, "RSI:3")
	eng := NewEngine(specs, 0)
	k, _ := ti.Lookup(ti.RSIID)

	for _, s := range mkSamples("WAVE_A", 0, 10, 11, 12, 13, 14) {
		results, err := eng.ProcessSample(s)
		if err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
		r := results[0]
		wantWarm := s.Seq >= 3
		if r.Warm != wantWarm {
			t.Errorf("seq=%d: warm=%v, want %v", s.Seq, r.Warm, wantWarm)
		}
		if !wantWarm && r.Value != k.WarmupValue {
			t.Errorf("seq=%d: warm-up value %v, want %v", s.Seq, r.Value, k.WarmupValue)
		}
	}
}

func TestProcessSample_RejectsStaleSeq(t *testing.T) {
	eng := NewEngine(testSpecs(t, "ONES:2"), 0)

	for _, s := range mkSamples("WAVE_A", 0, 1, 2, 3) {
		if _, err := eng.ProcessSample(s); err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
	}

	stale := model.Sample{Symbol: "WAVE_A", Seq: 1, Value: 99, TS: testBase}
	if _, err := eng.ProcessSample(stale); err != ErrStaleSeq {
		t.Fatalf("stale seq: got err=%v, want ErrStaleSeq", err)
	}

	if last, _ := eng.LastSeq("WAVE_A"); last != 2 {
		t.Errorf("head after stale sample: got %d, want 2", last)
	}
	data, _, _ := eng.SeriesData("WAVE_A")
	if len(data) != 3 || data[1] != 2 {
		t.Errorf("series mutated by stale sample: %v", data)
	}
}

func TestProcessSample_ForwardFillsGap(t *testing.T) {
	eng := NewEngine(testSpecs(t, "ONES:2"), 0)

	for _, s := range mkSamples("WAVE_A", 0, 5, 6) {
		if _, err := eng.ProcessSample(s); err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
	}

	// Head is seq 1; jump to seq 4.
	jump := model.Sample{Symbol: "WAVE_A", Seq: 4, Value: 9, TS: testBase.Add(4 * time.Second)}
	if _, err := eng.ProcessSample(jump); err != nil {
		t.Fatalf("ProcessSample(gap): %v", err)
	}

	data, firstSeq, _ := eng.SeriesData("WAVE_A")
	want := []float32{5, 6, 6, 6, 9}
	if firstSeq != 0 || len(data) != len(want) {
		t.Fatalf("window: firstSeq=%d len=%d, want 0 and %d", firstSeq, len(data), len(want))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("data[%d]: got %v, want %v", i, data[i], want[i])
		}
	}
	if last, _ := eng.LastSeq("WAVE_A"); last != 4 {
		t.Errorf("head: got %d, want 4", last)
	}
}

func TestProcessSample_HugeGapResetsSeries(t *testing.T) {
	eng := NewEngine(testSpecs(t, "ONES:2"), 8)

	for _, s := range mkSamples("WAVE_A", 0, 1, 2, 3) {
		if _, err := eng.ProcessSample(s); err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
	}

	jump := model.Sample{Symbol: "WAVE_A", Seq: 100, Value: 7, TS: testBase}
	if _, err := eng.ProcessSample(jump); err != nil {
		t.Fatalf("ProcessSample(huge gap): %v", err)
	}

	data, firstSeq, _ := eng.SeriesData("WAVE_A")
	if firstSeq != 100 || len(data) != 1 || data[0] != 7 {
		t.Errorf("series not reset: firstSeq=%d data=%v", firstSeq, data)
	}
}

func TestProcessSample_TrimBoundsHistory(t *testing.T) {
	eng := NewEngine(testSpecs(t, "ONES:2"), 8)

	vals := make([]float32, 20)
	for i := range vals {
		vals[i] = float32(i)
	}
	for _, s := range mkSamples("WAVE_A", 0, vals...) {
		if _, err := eng.ProcessSample(s); err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
	}

	data, firstSeq, _ := eng.SeriesData("WAVE_A")
	if len(data) != 8 {
		t.Fatalf("window len: got %d, want 8", len(data))
	}
	if firstSeq != 12 {
		t.Errorf("firstSeq after trim: got %d, want 12", firstSeq)
	}
	if data[0] != 12 || data[7] != 19 {
		t.Errorf("window contents: %v", data)
	}
	if last, _ := eng.LastSeq("WAVE_A"); last != 19 {
		t.Errorf("head: got %d, want 19", last)
	}
}

// ────────────────────────────────────────────────────────────
// Backfill
// ────────────────────────────────────────────────────────────

func TestBackfill_MatchesIncremental(t *testing.T) {
	specs := testSpecs(t, "PCNT_CH:2", "RSI:3", "AROON:3", "WILLIAM_OC:3", "MABOP_OC:3", "LR_SLOPE:3")
	vals := []float32{10, 12, 11, 13, 12.5, 14, 13.1, 15, 14.6, 16, 15.2, 17}
	samples := mkSamples("WAVE_A", 0, vals...)

	bulk := NewEngine(specs, 0)
	bulkResults := bulk.Backfill("WAVE_A", append([]model.Sample(nil), samples...))

	incr := NewEngine(specs, 0)
	var incrResults []model.IndicatorResult
	for _, s := range samples {
		results, err := incr.ProcessSample(s)
		if err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
		incrResults = append(incrResults, results...)
	}

	if len(bulkResults) != len(incrResults) {
		t.Fatalf("result count: bulk=%d incremental=%d", len(bulkResults), len(incrResults))
	}

	type key struct {
		name string
		seq  int64
	}
	incrByKey := make(map[key]model.IndicatorResult, len(incrResults))
	for _, r := range incrResults {
		incrByKey[key{r.Name(), r.Seq}] = r
	}
	for _, r := range bulkResults {
		want, ok := incrByKey[key{r.Name(), r.Seq}]
		if !ok {
			t.Fatalf("bulk result %s seq=%d missing from incremental run", r.Name(), r.Seq)
		}
		if r.Value != want.Value {
			t.Errorf("%s seq=%d: bulk=%v incremental=%v", r.Name(), r.Seq, r.Value, want.Value)
		}
		if r.Warm != want.Warm {
			t.Errorf("%s seq=%d: warm bulk=%v incremental=%v", r.Name(), r.Seq, r.Warm, want.Warm)
		}
	}
}

func TestBackfill_SkipsOverlap(t *testing.T) {
	eng := NewEngine(testSpecs(t, "ONES:2"), 0)
	samples := mkSamples("WAVE_A", 0, 1, 2, 3, 4, 5, 6)

	first := eng.Backfill("WAVE_A", append([]model.Sample(nil), samples[:4]...))
	if len(first) != 4 {
		t.Fatalf("first backfill: got %d results, want 4", len(first))
	}

	// Overlapping batch: seqs 2..5, only 4 and 5 are new.
	second := eng.Backfill("WAVE_A", append([]model.Sample(nil), samples[2:]...))
	if len(second) != 2 {
		t.Fatalf("overlapping backfill: got %d results, want 2", len(second))
	}
	for i, r := range second {
		wantSeq := int64(4 + i)
		if r.Seq != wantSeq {
			t.Errorf("result %d: seq=%d, want %d", i, r.Seq, wantSeq)
		}
	}

	if eng.Backfill("WAVE_A", append([]model.Sample(nil), samples...)) != nil {
		t.Error("fully stale backfill emitted results")
	}
}

func TestBackfill_UnsortedInput(t *testing.T) {
	eng := NewEngine(testSpecs(t, "ONES:2"), 0)
	samples := mkSamples("WAVE_A", 0, 1, 2, 3, 4)
	shuffled := []model.Sample{samples[2], samples[0], samples[3], samples[1]}

	results := eng.Backfill("WAVE_A", shuffled)
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	data, _, _ := eng.SeriesData("WAVE_A")
	for i, want := range []float32{1, 2, 3, 4} {
		if data[i] != want {
			t.Errorf("data[%d]: got %v, want %v", i, data[i], want)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Preview
// ────────────────────────────────────────────────────────────

func TestPreviewSample_DoesNotMutate(t *testing.T) {
	specs := testSpecs(t, "RSI:3")
	eng := NewEngine(specs, 0)
	samples := mkSamples("WAVE_A", 0, 10, 11, 12, 13, 14)
	for _, s := range samples[:4] {
		if _, err := eng.ProcessSample(s); err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
	}

	next := samples[4]
	preview := eng.PreviewSample(next)
	if len(preview) != 1 {
		t.Fatalf("preview results: got %d, want 1", len(preview))
	}

	if last, _ := eng.LastSeq("WAVE_A"); last != 3 {
		t.Fatalf("preview advanced the head to %d", last)
	}
	if data, _, _ := eng.SeriesData("WAVE_A"); len(data) != 4 {
		t.Fatalf("preview grew the series to %d", len(data))
	}

	// The authoritative result for the same sample must match the preview.
	final, err := eng.ProcessSample(next)
	if err != nil {
		t.Fatalf("ProcessSample: %v", err)
	}
	if preview[0].Value != final[0].Value || preview[0].Warm != final[0].Warm {
		t.Errorf("preview %+v differs from final %+v", preview[0], final[0])
	}
}

func TestPreviewSample_UnknownSymbolOrStale(t *testing.T) {
	eng := NewEngine(testSpecs(t, "ONES:2"), 0)
	if got := eng.PreviewSample(model.Sample{Symbol: "GHOST", Seq: 0, Value: 1}); got != nil {
		t.Errorf("unknown symbol: got %d results, want none", len(got))
	}

	for _, s := range mkSamples("WAVE_A", 0, 1, 2) {
		eng.ProcessSample(s)
	}
	if got := eng.PreviewSample(model.Sample{Symbol: "WAVE_A", Seq: 1, Value: 9}); got != nil {
		t.Errorf("stale preview: got %d results, want none", len(got))
	}
}

// ────────────────────────────────────────────────────────────
// Reload / ComputeSpecs
// ────────────────────────────────────────────────────────────

func TestReloadConfigs_Counts(t *testing.T) {
	eng := NewEngine(testSpecs(t, "RSI:14", "BB:20"), 0)

	preserved, created := eng.ReloadConfigs(testSpecs(t, "RSI:14", "AROON:25", "AROON:25"))
	if preserved != 1 || created != 1 {
		t.Errorf("got preserved=%d created=%d, want 1 and 1", preserved, created)
	}

	names := eng.SpecNames()
	if len(names) != 2 || names[0] != "RSI_14" || names[1] != "AROON_25" {
		t.Errorf("specs after reload: %v", names)
	}
}

func TestComputeSpecs_FullWindow(t *testing.T) {
	eng := NewEngine(testSpecs(t, "ONES:2"), 0)
	vals := []float32{10, 11, 12, 13, 14}
	for _, s := range mkSamples("WAVE_A", 5, vals...) {
		if _, err := eng.ProcessSample(s); err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
	}

	spec := testSpecs(t, "BB:3")[0]
	results := eng.ComputeSpecs("WAVE_A", []Spec{spec})
	if len(results) != len(vals) {
		t.Fatalf("got %d results, want %d", len(results), len(vals))
	}

	k, _ := ti.Lookup(ti.BBID)
	want := k.Compute(vals, 3)
	for i, r := range results {
		if r.Seq != int64(5+i) {
			t.Errorf("result %d: seq=%d, want %d", i, r.Seq, 5+i)
		}
		if r.Value != want[i] {
			t.Errorf("result %d: value=%v, want %v", i, r.Value, want[i])
		}
		if r.Warm != (i >= 3) {
			t.Errorf("result %d: warm=%v, want %v", i, r.Warm, i >= 3)
		}
	}

	if eng.ComputeSpecs("GHOST", []Spec{spec}) != nil {
		t.Error("unknown symbol produced results")
	}
}

// ────────────────────────────────────────────────────────────
// Snapshot
// ────────────────────────────────────────────────────────────

func TestSnapshotRoundtrip(t *testing.T) {
	specs := testSpecs(t, "RSI:3", "BB:3")
	eng := NewEngine(specs, 0)
	samples := mkSamples("WAVE_A", 0, 10, 11, 12, 13)
	for _, s := range samples {
		if _, err := eng.ProcessSample(s); err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
	}
	for _, s := range mkSamples("WAVE_B", 7, 5, 6) {
		if _, err := eng.ProcessSample(s); err != nil {
			t.Fatalf("ProcessSample: %v", err)
		}
	}

	blob, err := eng.MarshalSnapshot("1234-0")
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	restored, cursor, err := RestoreEngine(blob, specs, 0)
	if err != nil {
		t.Fatalf("RestoreEngine: %v", err)
	}
	if cursor != "1234-0" {
		t.Errorf("cursor: got %q, want 1234-0", cursor)
	}
	if restored.SeriesCount() != 2 {
		t.Fatalf("series count: got %d, want 2", restored.SeriesCount())
	}

	origData, origFirst, _ := eng.SeriesData("WAVE_A")
	gotData, gotFirst, _ := restored.SeriesData("WAVE_A")
	if gotFirst != origFirst || len(gotData) != len(origData) {
		t.Fatalf("WAVE_A window: firstSeq=%d len=%d, want %d and %d", gotFirst, len(gotData), origFirst, len(origData))
	}
	for i := range origData {
		if gotData[i] != origData[i] {
			t.Errorf("WAVE_A data[%d]: got %v, want %v", i, gotData[i], origData[i])
		}
	}
	if last, ok := restored.LastSeq("WAVE_B"); !ok || last != 8 {
		t.Errorf("WAVE_B head: got %d (ok=%v), want 8", last, ok)
	}

	// The restored engine must continue the series bit-identically.
	next := model.Sample{Symbol: "WAVE_A", Seq: 4, Value: 14, TS: testBase.Add(4 * time.Second)}
	wantResults, err := eng.ProcessSample(next)
	if err != nil {
		t.Fatalf("ProcessSample(original): %v", err)
	}
	gotResults, err := restored.ProcessSample(next)
	if err != nil {
		t.Fatalf("ProcessSample(restored): %v", err)
	}
	got := resultsBySpec(gotResults)
	for name, want := range resultsBySpec(wantResults) {
		if got[name].Value != want.Value {
			t.Errorf("%s after restore: got %v, want %v", name, got[name].Value, want.Value)
		}
	}
}

func TestRestoreEngine_MergesSnapshotConfigs(t *testing.T) {
	eng := NewEngine(testSpecs(t, "RSI:14", "LR_EXP_DEV:4010"), 0)
	blob, err := eng.MarshalSnapshot("")
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	restored, _, err := RestoreEngine(blob, testSpecs(t, "RSI:14", "BB:20"), 0)
	if err != nil {
		t.Fatalf("RestoreEngine: %v", err)
	}

	names := restored.SpecNames()
	want := map[string]bool{"RSI_14": true, "BB_20": true, "LR_EXP_DEV_4010": true}
	if len(names) != len(want) {
		t.Fatalf("specs: got %v, want %v", names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected spec %q", n)
		}
	}
}

func TestRestoreEngine_NilAndGarbage(t *testing.T) {
	eng, cursor, err := RestoreEngine(nil, testSpecs(t, "RSI:14"), 0)
	if err != nil || cursor != "" || eng == nil {
		t.Fatalf("nil blob: eng=%v cursor=%q err=%v", eng, cursor, err)
	}
	if eng.SeriesCount() != 0 {
		t.Errorf("fresh engine tracks %d series", eng.SeriesCount())
	}

	if _, _, err := RestoreEngine([]byte("{not json"), nil, 0); err == nil {
		t.Error("garbage blob: expected error")
	}
}
