package tiengine

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"ti-systemv1/internal/logger"
	"ti-systemv1/internal/ti"
)

// startHTTP launches the control API.
func (svc *Service) startHTTP(ctx context.Context) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/reload", svc.handleReload)
		mux.HandleFunc("/compute", svc.handleCompute)
		mux.HandleFunc("/results", svc.handleResults)
		mux.HandleFunc("/status", svc.handleStatus)
		mux.HandleFunc("/healthz", svc.health.ServeHTTP)
		log.Printf("[tiengine] HTTP server on %s (/reload, /compute, /results, /status, /healthz)", svc.cfg.HTTPAddr)
		if err := http.ListenAndServe(svc.cfg.HTTPAddr, mux); err != nil {
			log.Printf("[tiengine] HTTP server error: %v", err)
		}
	}()
}

// handleReload handles POST /reload for live config updates. The body is a
// JSON array of spec strings, e.g. ["RSI:14","BB:20"]. When a reload TOTP
// secret is configured the caller must present a valid X-Auth-Code header.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if secret := svc.cfg.ReloadTOTPSecret; secret != "" {
		if !totp.Validate(r.Header.Get("X-Auth-Code"), secret) {
			http.Error(w, "invalid auth code", http.StatusUnauthorized)
			return
		}
	}

	var configs []string
	if err := json.NewDecoder(r.Body).Decode(&configs); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	specs := make([]Spec, 0, len(configs))
	for _, c := range configs {
		sp, err := ParseSpec(c)
		if err != nil {
			http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
			return
		}
		specs = append(specs, sp)
	}
	if len(specs) == 0 {
		http.Error(w, "validation: empty config", http.StatusBadRequest)
		return
	}

	rctx := logger.WithTraceID(r.Context(), logger.NewTraceID("reload", time.Now()))
	preserved, created := svc.applySpecs(rctx, specs)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// applySpecs reloads the engine's indicator set and, when new indicators
// appear, backfills their result streams from the in-memory series. Reload
// events go through slog with the flow's trace ID so the HTTP and PubSub
// triggered paths can be told apart in the logs.
func (svc *Service) applySpecs(ctx context.Context, specs []Spec) (preserved, created int) {
	oldNames := make(map[string]bool)
	for _, sp := range svc.engine.Specs() {
		oldNames[sp.Name()] = true
	}

	preserved, created = svc.engine.ReloadConfigs(specs)
	slog.Info("indicator configs reloaded", append(logger.TraceAttrs(ctx),
		slog.Int("preserved", preserved), slog.Int("created", created))...)
	svc.health.SetIndicators(svc.engine.SpecNames())

	if created > 0 {
		var fresh []Spec
		for _, sp := range svc.engine.Specs() {
			if !oldNames[sp.Name()] {
				fresh = append(fresh, sp)
			}
		}
		count := svc.backfillSpecs(ctx, fresh)
		slog.Info("reload backfill complete", append(logger.TraceAttrs(ctx),
			slog.Int("results", count), slog.Int("new_indicators", len(fresh)))...)
	}
	return preserved, created
}

// backfillSpecs computes the given specs over every tracked series and writes
// the results.
func (svc *Service) backfillSpecs(ctx context.Context, specs []Spec) int {
	total := 0
	for _, sym := range svc.engine.Symbols() {
		results := svc.engine.ComputeSpecs(sym, specs)
		svc.writeResults(ctx, results)
		total += len(results)
	}
	return total
}

// computeRequest is the ad-hoc evaluation request for POST /compute. Either
// Data or Symbol must be set; Symbol evaluates over that series' in-memory
// window. Param takes precedence over Period/Expected. Lanes runs the batch
// on the worker pool.
type computeRequest struct {
	Indicator string    `json:"indicator"`
	Param     int       `json:"param"`
	Period    int       `json:"period"`
	Expected  int       `json:"expected"`
	Data      []float32 `json:"data"`
	Symbol    string    `json:"symbol"`
	Lanes     bool      `json:"lanes"`
}

func (svc *Service) handleCompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req computeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	id, ok := ti.ParseID(strings.ToUpper(strings.TrimSpace(req.Indicator)))
	if !ok || id == ti.None {
		http.Error(w, "unknown indicator: "+req.Indicator, http.StatusBadRequest)
		return
	}
	k, _ := ti.Lookup(id)

	param := req.Param
	if param <= 0 && req.Period > 0 {
		if id == ti.LRExpDevID {
			expected := req.Expected
			if expected <= 0 {
				expected = 1
			}
			param = ti.PackPeriods(req.Period, expected)
		} else {
			param = req.Period
		}
	}
	if param <= 0 {
		http.Error(w, "param or period required", http.StatusBadRequest)
		return
	}

	data := req.Data
	var firstSeq int64
	if len(data) == 0 && req.Symbol != "" {
		var found bool
		data, firstSeq, found = svc.engine.SeriesData(req.Symbol)
		if !found {
			http.Error(w, "unknown symbol: "+req.Symbol, http.StatusNotFound)
			return
		}
	}
	if len(data) == 0 {
		http.Error(w, "no data", http.StatusBadRequest)
		return
	}

	var values []float32
	start := time.Now()
	if req.Lanes {
		svc.prom.LaneJobsTotal.Inc()
		var err error
		values, err = svc.pool.Run(r.Context(), k, data, param)
		svc.prom.LaneRunDur.Observe(time.Since(start).Seconds())
		if err != nil {
			http.Error(w, "lane run: "+err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		values = k.Compute(data, param)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"indicator": id.String(),
		"param":     param,
		"first_seq": firstSeq,
		"n":         len(values),
		"warmup":    k.WarmupLen(param),
		"values":    values,
	})
}

// handleResults serves stored results from SQLite:
// GET /results?name=RSI_14&symbol=WAVE_A&after_seq=100
func (svc *Service) handleResults(w http.ResponseWriter, r *http.Request) {
	if svc.sqlReader == nil {
		http.Error(w, "sqlite unavailable", http.StatusServiceUnavailable)
		return
	}
	name := r.URL.Query().Get("name")
	symbol := r.URL.Query().Get("symbol")
	if name == "" || symbol == "" {
		http.Error(w, "name and symbol required", http.StatusBadRequest)
		return
	}

	// Split on the LAST underscore: labels like LR_EXP_DEV contain their own.
	cut := strings.LastIndex(name, "_")
	if cut <= 0 || cut == len(name)-1 {
		http.Error(w, "bad indicator name: "+name, http.StatusBadRequest)
		return
	}
	param, err := strconv.Atoi(name[cut+1:])
	if err != nil || param <= 0 {
		http.Error(w, "bad indicator name: "+name, http.StatusBadRequest)
		return
	}

	afterSeq := int64(-1)
	if v := r.URL.Query().Get("after_seq"); v != "" {
		afterSeq, _ = strconv.ParseInt(v, 10, 64)
	}

	results, err := svc.sqlReader.ReadResults(name[:cut], param, symbol, afterSeq)
	if err != nil {
		http.Error(w, "query: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// handleStatus reports engine state: configured indicators, tracked series,
// pipeline depths.
func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		Version    string         `json:"version"`
		UptimeS    int64          `json:"uptime_s"`
		Indicators []string       `json:"indicators"`
		Series     []SeriesStatus `json:"series"`
		RingLen    int            `json:"ring_len"`
		RingCap    int            `json:"ring_cap"`
		RingDrops  uint64         `json:"ring_drops"`
		Pending    int            `json:"pending_writes"`
		Workers    int            `json:"workers"`
	}
	resp := statusResponse{
		Version:    Version,
		UptimeS:    int64(time.Since(svc.start).Seconds()),
		Indicators: svc.engine.SpecNames(),
		Series:     svc.engine.Status(),
		RingLen:    svc.ring.Len(),
		RingCap:    svc.ring.Cap(),
		RingDrops:  svc.ring.Overflow(),
		Workers:    svc.pool.Workers(),
	}
	if svc.buffered != nil {
		resp.Pending = svc.buffered.PendingCount()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// startConfigSubscriber listens on Redis PubSub for dynamic indicator config
// updates published by the gateway.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, "config:indicators")
		if pubsub == nil {
			log.Println("[tiengine] WARNING: could not subscribe to config:indicators")
			return
		}
		defer pubsub.Close()
		log.Println("[tiengine] subscribed to config:indicators for dynamic reload")

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				rctx := logger.WithTraceID(ctx, logger.NewTraceID("reload", time.Now()))
				slog.Info("config update received", append(logger.TraceAttrs(rctx),
					slog.String("source", "pubsub"), slog.String("payload", msg.Payload))...)
				svc.applySpecs(rctx, ParseIndicatorSpecs(msg.Payload))
			}
		}
	}()
}
