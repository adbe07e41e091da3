package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"ti-systemv1/internal/ti"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// writeJSON answers a REST request with v encoded as JSON.
func writeJSON(w http.ResponseWriter, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// parseBefore converts an RFC3339 "before" query param into a Redis stream
// upper bound. Stream entry IDs are millisecond timestamps, so the bound is
// "<ms-1>-0".
func parseBefore(beforeStr string) string {
	if beforeStr == "" {
		return "+"
	}
	if t, err := time.Parse(time.RFC3339Nano, beforeStr); err == nil {
		return fmt.Sprintf("%d-0", t.UnixMilli()-1)
	}
	if t, err := time.Parse(time.RFC3339, beforeStr); err == nil {
		return fmt.Sprintf("%d-0", t.UnixMilli()-1)
	}
	return "+"
}

// parseLimit reads a "limit" query param with a default of 500, capped at
// 5000.
func parseLimit(r *http.Request) int {
	limit := 500
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 5000 {
			limit = l
		}
	}
	return limit
}

// RegisterRoutes registers the WS endpoint and every REST route on mux.
func RegisterRoutes(ctx context.Context, mux *http.ServeMux, hub *Hub, rdb *goredis.Client, symbols, indicators []string, processStart time.Time) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})

	mux.HandleFunc("/api/results/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, hub.GetLatestAll())
	})

	mux.HandleFunc("/api/indicators", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, kernelCatalog())
	})

	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"symbols":    symbols,
			"indicators": indicators,
		})
	})

	mux.HandleFunc("/api/indicators/active", handleActiveConfig(hub, rdb, ctx))

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		m := CollectMetrics(processStart)
		if v, ok := ReadComputeLatency(r.Context(), rdb); ok {
			m.ComputeMs = v
		}
		m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
		writeJSON(w, m)
	})

	mux.HandleFunc("/api/samples", handleSampleHistory(rdb, ctx, symbols))
	mux.HandleFunc("/api/results/history", handleResultHistory(rdb, ctx, symbols))
	mux.HandleFunc("/api/missed", handleMissed(hub))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":     "ok",
			"redis":      rdb.Ping(r.Context()).Err() == nil,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// kernelCatalog lists every implemented indicator type for the UI picker.
func kernelCatalog() interface{} {
	type indInfo struct {
		ID          int     `json:"id"`
		Label       string  `json:"label"`
		WarmupValue float32 `json:"warmup_value"`
	}
	ks := ti.Kernels()
	out := make([]indInfo, len(ks))
	for i, k := range ks {
		out[i] = indInfo{
			ID:          int(k.ID),
			Label:       k.ID.String(),
			WarmupValue: k.WarmupValue,
		}
	}
	return out
}

// handleActiveConfig serves GET/POST of the dashboard panel config. A POST
// also republishes the merged indicator set so the engine picks up panels
// it is not yet computing.
func handleActiveConfig(hub *Hub, rdb *goredis.Client, ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		switch r.Method {
		case "OPTIONS":
			w.WriteHeader(http.StatusOK)

		case "POST":
			var req ActiveConfig
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
				return
			}
			hub.SetActiveConfig(req)
			log.Printf("[gateway] active config updated: %d entries", len(req.Entries))

			seen := make(map[string]bool)
			var specs []string
			for _, entry := range req.Entries {
				if spec, ok := nameToConfig(entry.Name); ok && !seen[spec] {
					seen[spec] = true
					specs = append(specs, spec)
				}
			}
			if len(specs) > 0 {
				payload := strings.Join(specs, ",")
				if err := rdb.Publish(ctx, "config:indicators", payload).Err(); err != nil {
					log.Printf("[gateway] WARNING: failed to publish config:indicators: %v", err)
				} else {
					log.Printf("[gateway] published indicator config to engine: %s", payload)
				}
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

		default:
			json.NewEncoder(w).Encode(hub.GetActiveConfig())
		}
	}
}

// handleSampleHistory serves /api/samples from the per-symbol sample stream.
func handleSampleHistory(rdb *goredis.Client, ctx context.Context, symbols []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" && len(symbols) > 0 {
			symbol = symbols[0]
		}

		upper := parseBefore(r.URL.Query().Get("before"))
		payloads, err := readStreamChrono(ctx, rdb, "sample:"+symbol, upper, int64(parseLimit(r)))
		if err != nil {
			writeJSON(w, []interface{}{})
			return
		}

		samples := make([]SampleOut, 0, len(payloads))
		for _, raw := range payloads {
			var s SampleOut
			if json.Unmarshal(raw, &s) == nil && s.TS != "" {
				samples = append(samples, s)
			}
		}
		writeJSON(w, samples)
	}
}

// handleResultHistory serves /api/results/history from one indicator stream.
func handleResultHistory(rdb *goredis.Client, ctx context.Context, symbols []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			writeJSON(w, []interface{}{})
			return
		}
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" && len(symbols) > 0 {
			symbol = symbols[0]
		}

		upper := parseBefore(r.URL.Query().Get("before"))
		payloads, err := readStreamChrono(ctx, rdb, "ti:"+name+":"+symbol, upper, int64(parseLimit(r)))
		if err != nil {
			writeJSON(w, []interface{}{})
			return
		}

		points := make([]ResultPoint, 0, len(payloads))
		for _, raw := range payloads {
			var p ResultPoint
			if json.Unmarshal(raw, &p) == nil && p.Warm && p.TS != "" {
				points = append(points, p)
			}
		}
		writeJSON(w, points)
	}
}

// handleMissed serves the replay ring for client-side gap backfill. Clients
// detect a hole via channel_seq and fetch the missed range here.
func handleMissed(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		channel := r.URL.Query().Get("channel")
		if channel == "" {
			http.Error(w, `{"error":"channel is required"}`, http.StatusBadRequest)
			return
		}

		from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if to <= 0 {
			to = hub.GetChannelSeq(channel)
		}

		frames := hub.GetReplayRange(channel, from, to)
		envelopes := make([]json.RawMessage, len(frames))
		for i, f := range frames {
			envelopes[i] = f
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"channel":     channel,
			"from":        from,
			"to":          to,
			"current_seq": hub.GetChannelSeq(channel),
			"envelopes":   envelopes,
		})
	}
}
