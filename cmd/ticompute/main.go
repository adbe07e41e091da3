// cmd/ticompute runs the indicator kernels over sqlite-stored sample series
// offline, for validating indicator output and backfilling result tables
// without a live feed. Stored rows are treated as consecutive window
// positions.
//
// Usage:
//
//	go run ./cmd/ticompute --db=data/ti.db --indicators=RSI:14,BB:20 --mode=lanes
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"ti-systemv1/internal/lanes"
	"ti-systemv1/internal/model"
	sqlitestore "ti-systemv1/internal/store/sqlite"
	"ti-systemv1/internal/ti"
	"ti-systemv1/internal/tiengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	dbPath := flag.String("db", "data/ti.db", "Path to SQLite database")
	symbolsStr := flag.String("symbols", "", "Comma-separated symbols (default: all stored)")
	indicatorCfg := flag.String("indicators", "", "Indicator specs: TYPE:PARAM,... (default: engine defaults)")
	mode := flag.String("mode", "fill", "Compute mode: fill (whole-array) or lanes (per-index lane surface)")
	workers := flag.Int("workers", 0, "Worker count (0=GOMAXPROCS)")
	afterSeq := flag.Int64("after", -1, "Only samples with seq greater than this")
	save := flag.Bool("save", false, "Write computed results back into the database")
	flag.Parse()

	if *mode != "fill" && *mode != "lanes" {
		log.Fatalf("[ticompute] unknown mode %q, want fill or lanes", *mode)
	}
	specs := tiengine.ParseIndicatorSpecs(*indicatorCfg)

	store, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[ticompute] sqlite open failed: %v", err)
	}
	defer store.Close()

	var sink model.ResultWriter
	if *save {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[ticompute] sqlite writer failed: %v", err)
		}
		defer w.Close()
		sink = w
	}

	symbols := parseSymbols(*symbolsStr)
	if len(symbols) == 0 {
		symbols, err = store.Symbols()
		if err != nil {
			log.Fatalf("[ticompute] symbol listing failed: %v", err)
		}
	}
	if len(symbols) == 0 {
		log.Fatal("[ticompute] no stored series found")
	}

	pool := lanes.NewPool(*workers)
	ctx := context.Background()
	start := time.Now()

	totalSamples, totalResults := runBatch(ctx, pool, *mode, store, sink, symbols, specs, *afterSeq)

	elapsed := time.Since(start)
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        COMPUTE COMPLETE              ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Mode:              %-16s ║\n", *mode)
	fmt.Printf("║  Symbols:           %-16d ║\n", len(symbols))
	fmt.Printf("║  Samples read:      %-16d ║\n", totalSamples)
	fmt.Printf("║  Results computed:  %-16d ║\n", totalResults)
	fmt.Printf("║  Elapsed:           %-16s ║\n", elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
}

// runBatch computes every spec over every symbol's stored series, printing
// a per-series summary and persisting results when sink is non-nil.
func runBatch(ctx context.Context, pool *lanes.Pool, mode string, store model.SampleReader, sink model.ResultWriter, symbols []string, specs []tiengine.Spec, afterSeq int64) (totalSamples, totalResults int) {
	for _, symbol := range symbols {
		samples, err := store.ReadSamples(symbol, afterSeq)
		if err != nil {
			log.Printf("[ticompute] %s: read failed: %v", symbol, err)
			continue
		}
		if len(samples) == 0 {
			continue
		}
		totalSamples += len(samples)

		data := make([]float32, len(samples))
		for i, s := range samples {
			data[i] = s.Value
		}

		outputs, err := computeAll(ctx, pool, mode, data, specs)
		if err != nil {
			log.Fatalf("[ticompute] %s: compute failed: %v", symbol, err)
		}

		for j, sp := range specs {
			vals := outputs[j]
			totalResults += len(vals)
			k, _ := ti.Lookup(sp.ID)
			warmLen := k.WarmupLen(sp.Param)
			warm := len(vals) - warmLen
			if warm < 0 {
				warm = 0
			}
			fmt.Printf("  %s %s: n=%d warm=%d last=%.4f\n",
				symbol, sp.Name(), len(vals), warm, vals[len(vals)-1])

			if sink != nil {
				sink.WriteResultBatch(ctx, toResults(sp, symbol, samples, vals, warmLen))
			}
		}
	}
	return totalSamples, totalResults
}

// computeAll evaluates every spec over one series, in spec order.
func computeAll(ctx context.Context, pool *lanes.Pool, mode string, data []float32, specs []tiengine.Spec) ([][]float32, error) {
	if mode == "lanes" {
		out := make([][]float32, len(specs))
		for i, sp := range specs {
			k, _ := ti.Lookup(sp.ID)
			vals, err := pool.Run(ctx, k, data, sp.Param)
			if err != nil {
				return nil, err
			}
			out[i] = vals
		}
		return out, nil
	}

	jobs := make([]lanes.Job, len(specs))
	for i, sp := range specs {
		k, _ := ti.Lookup(sp.ID)
		jobs[i] = lanes.Job{Kernel: k, Param: sp.Param}
	}
	return pool.RunBatch(ctx, data, jobs)
}

// toResults maps one spec's output array onto the stored sample rows.
func toResults(sp tiengine.Spec, symbol string, samples []model.Sample, vals []float32, warmLen int) []model.IndicatorResult {
	results := make([]model.IndicatorResult, len(vals))
	for i := range vals {
		results[i] = model.IndicatorResult{
			Indicator: sp.ID.String(),
			Param:     sp.Param,
			Symbol:    symbol,
			Seq:       samples[i].Seq,
			Value:     vals[i],
			Warm:      i >= warmLen,
			TS:        samples[i].TS,
		}
	}
	return results
}

func parseSymbols(s string) []string {
	if s == "" {
		return nil
	}
	var symbols []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbols = append(symbols, part)
	}
	return symbols
}
