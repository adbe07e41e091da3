// cmd/tiengine — the sliding-window indicator compute service.
//
// Consumes sample streams from Redis through a consumer group, maintains
// per-symbol series with incremental indicator state, and publishes
// computed results back to Redis (streams, latest keys, PubSub) and
// SQLite.
//
// Config (env vars, see internal/tiengine/config.go for the full list):
//
//	REDIS_ADDR         — Redis address            (default "localhost:6379")
//	INDICATOR_CONFIGS  — "TYPE:PARAM,..." specs   (default: the full kernel set)
//	SYMBOLS            — series to compute        (default: discover from registry)
//	SQLITE_PATH        — series database path     (default "data/ti.db")
//	TIENGINE_HTTP_ADDR — control API address      (default ":9095")
//	METRICS_ADDR       — Prometheus/health addr   (default ":9105")
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ti-systemv1/internal/logger"
	"ti-systemv1/internal/tiengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := tiengine.LoadConfig()
	logger.Init("tiengine", cfg.LogLevel)
	log.Printf("[tiengine] v%s, indicators: %v, snapshot interval: %ds",
		tiengine.Version, specNames(cfg.Specs), cfg.SnapshotIntervalS)

	svc, err := tiengine.New(cfg)
	if err != nil {
		log.Fatalf("[tiengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[tiengine] received %s, shutting down", sig)
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[tiengine] fatal: %v", err)
	}
	log.Println("[tiengine] shutdown complete")
}

func specNames(specs []tiengine.Spec) []string {
	names := make([]string, len(specs))
	for i, sp := range specs {
		names[i] = sp.Name()
	}
	return names
}
