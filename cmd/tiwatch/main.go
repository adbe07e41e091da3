// Command tiwatch tails the gateway stream from a terminal. It subscribes
// to one or more symbols with an indicator profile, prints the snapshot
// the gateway answers with, then streams live samples and indicator values
// as they arrive. Dropped connections reconnect and resubscribe
// automatically; detected channel_seq gaps are backfilled through the
// gateway's replay endpoint.
//
// Usage:
//
//	tiwatch --url=ws://localhost:9090/ws --symbols=WAVE_A,WAVE_B \
//	        --indicators=RSI:14,BB:20,LR_EXP_DEV:4010 --history=50
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ti-systemv1/internal/ti"
	"ti-systemv1/pkg/ticlient"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		url         = flag.String("url", envOr("GATEWAY_WS_URL", "ws://localhost:9090/ws"), "gateway websocket URL")
		symbolsArg  = flag.String("symbols", "WAVE_A", "comma-separated symbols to watch")
		indicators  = flag.String("indicators", "RSI:14,BB:20", "comma-separated indicator configs (TYPE:PARAM)")
		history     = flag.Int("history", 50, "snapshot history length in samples")
		showMetrics = flag.Bool("show-metrics", false, "print gateway system metrics frames")
		fetchMissed = flag.Bool("fetch-missed", true, "backfill channel_seq gaps via the replay endpoint")
	)
	flag.Parse()

	symbols := parseSymbols(*symbolsArg)
	if len(symbols) == 0 {
		log.Fatal("[tiwatch] no symbols given")
	}
	specs := parseSpecs(*indicators)
	if len(specs) == 0 {
		log.Fatal("[tiwatch] no valid indicator configs given")
	}

	c, err := ticlient.New(ticlient.Config{
		URL:           *url,
		RetryStrategy: ticlient.RetryExponential,
	})
	if err != nil {
		log.Fatalf("[tiwatch] %v", err)
	}

	c.OnOpen = func() {
		log.Printf("[tiwatch] ✅ connected to %s", *url)
	}
	c.OnClose = func() {
		log.Println("[tiwatch] connection closed")
	}
	c.OnError = func(code, msg string) {
		log.Printf("[tiwatch] ERROR %s: %s", code, msg)
	}
	c.OnSnapshot = func(snap *ticlient.Snapshot) {
		last := "n/a"
		if n := len(snap.Samples); n > 0 {
			s := snap.Samples[n-1]
			last = fmt.Sprintf("seq=%d value=%.4f", s.Seq, s.Value)
		}
		log.Printf("[tiwatch] snapshot %s: %d samples, %d indicator series, last %s (reqId %s)",
			snap.Symbol, len(snap.Samples), len(snap.Indicators), last, snap.ReqID)
	}
	c.OnSample = func(_ ticlient.Envelope, s ticlient.Sample) {
		fmt.Printf("%s  %-10s  %-16s  seq=%-8d value=%.4f\n",
			s.TS.Format("15:04:05.000"), s.Symbol, "sample", s.Seq, s.Value)
	}
	c.OnResult = func(_ ticlient.Envelope, r ticlient.IndicatorResult) {
		fmt.Printf("%s  %-10s  %-16s  seq=%-8d value=%.4f warm=%v\n",
			r.TS.Format("15:04:05.000"), r.Symbol, r.Name(), r.Seq, r.Value, r.Warm)
	}
	c.OnGap = func(channel string, from, to int64) {
		log.Printf("[tiwatch] gap on %s: missed %d..%d", channel, from, to)
		if !*fetchMissed {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mr, err := c.FetchMissed(ctx, channel, from, to)
			if err != nil {
				log.Printf("[tiwatch] replay fetch failed: %v", err)
				return
			}
			log.Printf("[tiwatch] replayed %d envelopes on %s", len(mr.Envelopes), channel)
		}()
	}
	if *showMetrics {
		c.OnMetrics = func(raw json.RawMessage) {
			var m struct {
				ComputeMs  float64 `json:"compute_ms"`
				LatencyP95 float64 `json:"latency_p95_ms"`
				Goroutines int     `json:"goroutines"`
				MemUsedMB  float64 `json:"mem_used_mb"`
			}
			if err := json.Unmarshal(raw, &m); err != nil {
				return
			}
			log.Printf("[tiwatch] gateway: compute=%.2fms p95=%.2fms goroutines=%d mem=%.0fMB rtt=%v",
				m.ComputeMs, m.LatencyP95, m.Goroutines, m.MemUsedMB, c.RTT().Round(time.Millisecond))
		}
	}

	if err := c.Connect(); err != nil {
		log.Fatalf("[tiwatch] connect: %v", err)
	}
	for _, sym := range symbols {
		reqID, err := c.Subscribe(sym, specs, *history)
		if err != nil {
			log.Fatalf("[tiwatch] subscribe %s: %v", sym, err)
		}
		log.Printf("[tiwatch] subscribed %s (%d indicators, reqId %s)", sym, len(specs), reqID)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[tiwatch] shutting down")
	c.Close()
}

// ─── Argument Parsing ───────────────────────────────────────────────────────

// parseSpecs converts "RSI:14,BB:20,LR_EXP_DEV:4010" into subscription
// specs. LR_EXP_DEV parameters are packed, so they are split back into
// period and projection distance for the wire format.
func parseSpecs(s string) []ticlient.IndicatorSpec {
	var specs []ticlient.IndicatorSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			log.Printf("[tiwatch] skipping invalid indicator %q", part)
			continue
		}
		label := strings.ToUpper(strings.TrimSpace(fields[0]))
		id, ok := ti.ParseID(label)
		if !ok || id == ti.None {
			log.Printf("[tiwatch] skipping unknown indicator %q", part)
			continue
		}
		param, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || param <= 0 {
			log.Printf("[tiwatch] skipping invalid indicator %q", part)
			continue
		}
		wireID := strings.ToLower(label)
		if id == ti.LRExpDevID {
			period, expected := ti.SplitPeriods(param)
			specs = append(specs, ticlient.SpecProjected(wireID, period, expected))
		} else {
			specs = append(specs, ticlient.Spec(wireID, param))
		}
	}
	return specs
}

func parseSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
