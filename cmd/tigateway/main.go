// cmd/tigateway — WebSocket/REST fan-out for computed series.
//
// Bridges Redis PubSub to browser clients: every sample and indicator
// result the engine publishes is wrapped in a sequenced envelope and
// broadcast to subscribed WebSocket connections, with replay and
// snapshot endpoints for catch-up after a disconnect.
//
// Config (env vars):
//
//	GATEWAY_ADDR          — WS/REST listen address     (default ":9090")
//	GATEWAY_METRICS_ADDR  — Prometheus/health address  (default ":9106")
//	REDIS_ADDR            — Redis address              (default "localhost:6379")
//	SYMBOLS               — series to serve            (default: series registry)
//	INDICATOR_CONFIGS     — "TYPE:PARAM,..." specs     (default: the full kernel set)
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ti-systemv1/internal/gateway"
	"ti-systemv1/internal/metrics"
	redisstore "ti-systemv1/internal/store/redis"
	"ti-systemv1/internal/ti"

	goredis "github.com/go-redis/redis/v8"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tigateway] starting...")

	listenAddr := getEnv("GATEWAY_ADDR", ":9090")
	metricsAddr := getEnv("GATEWAY_METRICS_ADDR", ":9106")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[tigateway] redis connection failed: %v", err)
	}
	log.Printf("[tigateway] redis connected at %s", rdb.Options().Addr)

	symbols := resolveSymbols(ctx, rdb, getEnv("SYMBOLS", ""))
	indicators := resolveIndicators(getEnv("INDICATOR_CONFIGS", ""))

	hub := gateway.NewHub(rdb, symbols, indicators)
	go hub.Run(ctx)
	go hub.StartMetricsBroadcast(ctx, processStart)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(ctx, mux, hub, rdb, symbols, indicators, processStart)
	srv := &http.Server{Addr: listenAddr, Handler: mux}

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetEngineOK(true)
	health.StartLivenessChecker(ctx, rdb, nil, 10*time.Second)
	metricsSrv := metrics.NewServer(metricsAddr, health)
	metricsSrv.Start()
	go trackClients(ctx, hub, prom)

	go func() {
		log.Printf("[tigateway] ✅ serving at http://localhost%s", listenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[tigateway] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[tigateway] received %s, shutting down", sig)

	cancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	srv.Shutdown(shutCtx)
	metricsSrv.Stop(shutCtx)
	log.Println("[tigateway] shutdown complete")
}

// trackClients mirrors the hub's connection count into the WS client gauge.
func trackClients(ctx context.Context, hub *gateway.Hub, prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prom.WSClients.Set(float64(hub.ClientCount()))
		}
	}
}

// resolveSymbols prefers the SYMBOLS env list and falls back to the
// series registry the feed maintains.
func resolveSymbols(ctx context.Context, rdb *goredis.Client, env string) []string {
	var symbols []string
	for _, part := range strings.Split(env, ",") {
		if part = strings.TrimSpace(part); part != "" {
			symbols = append(symbols, part)
		}
	}
	if len(symbols) > 0 {
		return symbols
	}
	members, err := rdb.SMembers(ctx, redisstore.SeriesRegistryKey).Result()
	if err != nil {
		log.Printf("[tigateway] WARNING: series registry read failed: %v", err)
		return nil
	}
	log.Printf("[tigateway] discovered %d symbols from series registry", len(members))
	return members
}

// resolveIndicators turns "TYPE:PARAM,..." into resolved names like
// RSI_14, dropping entries whose type the kernel does not know.
func resolveIndicators(env string) []string {
	var names []string
	for _, part := range strings.Split(env, ",") {
		tokens := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(tokens) != 2 {
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
		param := strings.TrimSpace(tokens[1])
		if id, ok := ti.ParseID(typ); !ok || id == ti.None || param == "" {
			continue
		}
		names = append(names, typ+"_"+param)
	}
	if len(names) == 0 {
		return defaultIndicatorNames()
	}
	log.Printf("[tigateway] loaded %d indicators from INDICATOR_CONFIGS", len(names))
	return names
}

func defaultIndicatorNames() []string {
	return []string{
		"PCNT_CH_10", "RSI_14", "BB_20", "AROON_25",
		"WILLIAM_OC_14", "MABOP_OC_20", "LR_SLOPE_14", "LR_EXP_DEV_4010",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
