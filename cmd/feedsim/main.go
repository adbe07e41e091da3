// cmd/feedsim — Synthetic sample feed.
// Publishes random-walk samples into Redis streams for running the engine
// without a real data source.
//
// Sample JSON shape is identical to model.Sample:
//
//	{"symbol":"WAVE_A","seq":1041,"value":101.37,"ts":"..."}
//
// On restart the walk resumes from the last published sample, so sequence
// numbers stay contiguous across runs.
//
// Config (env vars):
//
//	REDIS_ADDR       — Redis address                  (default: "localhost:6379")
//	FEED_ADDR        — health listen address          (default: ":9001")
//	FEED_SERIES      — SYMBOL[:BASE[:STEP]] pairs     (default: "WAVE_A:100,WAVE_B:2500,WAVE_C:40")
//	FEED_INTERVAL_MS — publish interval milliseconds  (default: "250")
//	FEED_SEED        — RNG seed, 0 = time-seeded      (default: "0")
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ti-systemv1/config"
	"ti-systemv1/internal/model"
	"ti-systemv1/internal/store/redis"
)

// walker holds per-symbol simulation state.
type walker struct {
	info  model.SeriesInfo
	value float32
	seq   int64
}

// ─── Walk generator ──────────────────────────────────────────────────────────

// step applies one bounded random move, floored just above zero so ratio
// indicators never divide by zero.
func (w *walker) step(rng *rand.Rand) model.Sample {
	delta := (rng.Float32()*2 - 1) * w.info.StepLimit
	w.value += delta
	if w.value < 0.01 {
		w.value = 0.01
	}
	w.seq++
	return model.Sample{
		Symbol: w.info.Symbol,
		Seq:    w.seq,
		Value:  w.value,
		TS:     time.Now().UTC(),
	}
}

func runGenerator(ctx context.Context, walkers []*walker, intervalMs int, seed int64, out chan<- model.Sample) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range walkers {
				select {
				case out <- w.step(rng):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// ─── Resume state ────────────────────────────────────────────────────────────

// resumeWalker continues a series from its last published sample when one
// exists, otherwise starts fresh at the configured base value.
func resumeWalker(ctx context.Context, writer *redis.Writer, info model.SeriesInfo) *walker {
	w := &walker{info: info, value: info.BaseValue, seq: -1}

	raw, err := writer.Client().Get(ctx, "sample:latest:"+info.Symbol).Result()
	if err != nil {
		return w
	}
	var last model.Sample
	if json.Unmarshal([]byte(raw), &last) != nil {
		return w
	}
	w.value = last.Value
	w.seq = last.Seq
	log.Printf("[feedsim] %s: resuming at seq=%d value=%.4f", info.Symbol, last.Seq, last.Value)
	return w
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting synthetic sample feed...")

	cfg := config.Load()
	series := cfg.ParseSeries()
	if len(series) == 0 {
		log.Fatalf("[feedsim] no series configured via FEED_SERIES")
	}
	log.Printf("[feedsim] publish interval: %dms, %d series", cfg.IntervalMs, len(series))

	writer, err := redis.New(redis.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[feedsim] redis init failed: %v", err)
	}
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	walkers := make([]*walker, 0, len(series))
	for _, info := range series {
		if err := writer.RegisterSeries(ctx, info); err != nil {
			log.Fatalf("[feedsim] register %s: %v", info.Symbol, err)
		}
		log.Printf("[feedsim] registered series %s (base=%.2f step=%.3f)",
			info.Symbol, info.BaseValue, info.StepLimit)
		walkers = append(walkers, resumeWalker(ctx, writer, info))
	}

	sampleCh := make(chan model.Sample, 1024)
	go writer.Run(ctx, sampleCh)
	go runGenerator(ctx, walkers, cfg.IntervalMs, cfg.Seed, sampleCh)

	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})
	go func() {
		log.Printf("[feedsim] ✅ publishing to redis at %s  (health: http://localhost%s/health)",
			cfg.RedisAddr, cfg.FeedAddr)
		if err := http.ListenAndServe(cfg.FeedAddr, nil); err != nil {
			log.Fatalf("[feedsim] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[feedsim] shutting down...")
	cancel()
}
