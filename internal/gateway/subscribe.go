package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"ti-systemv1/internal/ti"
)

// ─── WS Protocol Message Types ───

// SubscribeMsg is the client → server SUBSCRIBE request.
type SubscribeMsg struct {
	Type       string          `json:"type"`       // "SUBSCRIBE"
	ReqID      string          `json:"reqId"`      // client-generated request ID
	Symbol     string          `json:"symbol"`     // e.g. "WAVE_A"
	History    HistoryRequest  `json:"history"`    // how much history to snapshot
	Indicators []IndicatorSpec `json:"indicators"` // indicator profile
}

// HistoryRequest specifies how many historical samples to fetch.
type HistoryRequest struct {
	Samples int `json:"samples"`
}

// IndicatorSpec describes a single indicator in the client's profile.
// Params carries "period" (default 14) and, for LR_EXP_DEV only, the
// projection distance "expected" (default 1).
type IndicatorSpec struct {
	ID     string         `json:"id"` // e.g. "rsi", "bb", "lr_exp_dev"
	Params map[string]int `json:"params"`
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type   string `json:"type"` // "UNSUBSCRIBE"
	ReqID  string `json:"reqId"`
	Symbol string `json:"symbol"`
}

// SnapshotResponse is the server → client SNAPSHOT with historical data.
// Indicator series are keyed by resolved name, e.g. "RSI_14".
type SnapshotResponse struct {
	Type       string                   `json:"type"` // "SNAPSHOT"
	ReqID      string                   `json:"reqId"`
	Symbol     string                   `json:"symbol"`
	Samples    []SampleOut              `json:"samples"`
	Indicators map[string][]ResultPoint `json:"indicators"`
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// ClientSubscription holds per-symbol state for a client.
type ClientSubscription struct {
	Symbol     string
	Indicators []IndicatorSpec
	IndNames   []string // resolved names, e.g. "RSI_14", "LR_EXP_DEV_4010"
}

// ─── Spec Resolution ───

// resolveSpec normalizes one spec to its uppercase type label and packed
// integer parameter. LR_EXP_DEV folds period and projection distance into a
// single int because the kernel surfaces take one parameter.
func resolveSpec(spec IndicatorSpec) (label string, param int, ok bool) {
	label = strings.ToUpper(spec.ID)
	id, ok := ti.ParseID(label)
	if !ok || id == ti.None {
		return "", 0, false
	}

	period, has := spec.Params["period"]
	if !has {
		period = 14
	}
	if id != ti.LRExpDevID {
		return label, period, true
	}

	expected, has := spec.Params["expected"]
	if !has {
		expected = 1
	}
	return label, ti.PackPeriods(period, expected), true
}

// IndicatorSpecToName converts a spec like {id:"rsi", params:{period:21}}
// to "RSI_21". Returns false for IDs the engine does not implement.
func IndicatorSpecToName(spec IndicatorSpec) (string, bool) {
	label, param, ok := resolveSpec(spec)
	if !ok {
		return "", false
	}
	return label + "_" + strconv.Itoa(param), true
}

// IndicatorSpecToConfig converts to the engine spec format "TYPE:PARAM".
func IndicatorSpecToConfig(spec IndicatorSpec) (string, bool) {
	label, param, ok := resolveSpec(spec)
	if !ok {
		return "", false
	}
	return label + ":" + strconv.Itoa(param), true
}

// nameToConfig converts a resolved name back to the engine spec format:
// "RSI_14" → "RSI:14". The parameter is everything after the LAST
// underscore because type labels themselves contain underscores
// ("LR_EXP_DEV_4010" → "LR_EXP_DEV:4010").
func nameToConfig(name string) (string, bool) {
	i := strings.LastIndex(name, "_")
	if i <= 0 || i == len(name)-1 {
		return "", false
	}
	return name[:i] + ":" + name[i+1:], true
}

// ResolveIndicatorNames converts all specs to their resolved names.
// Returns the first unresolvable spec ID as bad, or "" if all resolved.
func ResolveIndicatorNames(specs []IndicatorSpec) (names []string, bad string) {
	names = make([]string, 0, len(specs))
	for _, spec := range specs {
		name, ok := IndicatorSpecToName(spec)
		if !ok {
			return nil, spec.ID
		}
		names = append(names, name)
	}
	return names, ""
}

// ─── Redis History Fetching ───

// readStreamChrono returns the newest limit "data" payloads of a stream in
// chronological order. upper bounds the scan; pass "+" for no bound.
func readStreamChrono(ctx context.Context, rdb *goredis.Client, key, upper string, limit int64) ([][]byte, error) {
	msgs, err := rdb.XRevRangeN(ctx, key, upper, "-", limit).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if raw, ok := msgs[i].Values["data"].(string); ok {
			out = append(out, []byte(raw))
		}
	}
	return out, nil
}

// BuildSnapshotFromRedis reads historical samples and indicator series from
// the Redis streams into one SNAPSHOT response.
func BuildSnapshotFromRedis(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, sampleLimit int) (*SnapshotResponse, error) {
	if sampleLimit <= 0 {
		sampleLimit = 500
	}
	if sampleLimit > 5000 {
		sampleLimit = 5000
	}

	snap := &SnapshotResponse{
		Type:       "SNAPSHOT",
		Symbol:     sub.Symbol,
		Samples:    snapshotSamples(ctx, rdb, sub.Symbol, sampleLimit),
		Indicators: make(map[string][]ResultPoint, len(sub.IndNames)),
	}

	// Results computed for positions outside the visible sample window would
	// render as a dangling series head, so clamp to the snapshot's seq range.
	var seqMin, seqMax int64
	haveRange := len(snap.Samples) > 0
	if haveRange {
		seqMin = snap.Samples[0].Seq
		seqMax = snap.Samples[len(snap.Samples)-1].Seq
	}

	for _, name := range sub.IndNames {
		snap.Indicators[name] = snapshotResults(ctx, rdb, name, sub.Symbol, sampleLimit, seqMin, seqMax, haveRange)
	}
	return snap, nil
}

// snapshotSamples loads the newest samples of one symbol, oldest first.
func snapshotSamples(ctx context.Context, rdb *goredis.Client, symbol string, limit int) []SampleOut {
	payloads, err := readStreamChrono(ctx, rdb, "sample:"+symbol, "+", int64(limit))
	if err != nil {
		log.Printf("[subscribe] sample stream read error for %s: %v", symbol, err)
		return []SampleOut{}
	}

	samples := make([]SampleOut, 0, len(payloads))
	for _, raw := range payloads {
		var s SampleOut
		if json.Unmarshal(raw, &s) == nil && s.TS != "" {
			samples = append(samples, s)
		}
	}
	return samples
}

// snapshotResults loads one indicator series clamped to the sample window,
// deduplicated by position and ordered by seq.
func snapshotResults(ctx context.Context, rdb *goredis.Client, name, symbol string, limit int, seqMin, seqMax int64, clamp bool) []ResultPoint {
	payloads, err := readStreamChrono(ctx, rdb, "ti:"+name+":"+symbol, "+", int64(limit))
	if err != nil {
		log.Printf("[subscribe] result stream read error for %s:%s: %v", name, symbol, err)
		return []ResultPoint{}
	}

	// Backfill recomputation may append a second entry for a position the
	// stream already carries; iteration order makes the newest value win.
	last := make(map[int64]ResultPoint, len(payloads))
	for _, raw := range payloads {
		var p ResultPoint
		if json.Unmarshal(raw, &p) != nil {
			continue
		}
		if !p.Warm {
			continue
		}
		if clamp && (p.Seq < seqMin || p.Seq > seqMax) {
			continue
		}
		last[p.Seq] = p
	}

	points := make([]ResultPoint, 0, len(last))
	for _, p := range last {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Seq < points[j].Seq })
	return points
}

// ─── Client Send Helpers ───

// SendJSON marshals v onto the client's send queue, dropping on backpressure.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[subscribe] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[subscribe] client send buffer full, dropping message")
	}
}

// SendError sends an ERROR response to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{
		Type:  "ERROR",
		ReqID: reqID,
		Error: errMsg,
	})
}

// ─── Dynamic Engine Config ───

// publishNewIndicators compares the requested specs against the hub's known
// set and, when new ones appear, publishes the merged config for the engine
// to hot-reload. Returns true if anything new was published.
func publishNewIndicators(ctx context.Context, rdb *goredis.Client, hub *Hub, specs []IndicatorSpec) bool {
	known := make(map[string]bool)
	var all []string

	hub.mu.RLock()
	names := make([]string, len(hub.Indicators))
	copy(names, hub.Indicators)
	hub.mu.RUnlock()

	// Hub.Indicators stores resolved names like "RSI_14".
	for _, name := range names {
		if cfg, ok := nameToConfig(name); ok {
			known[cfg] = true
			all = append(all, cfg)
		}
	}

	hasNew := false
	for _, spec := range specs {
		cfg, ok := IndicatorSpecToConfig(spec)
		if !ok || known[cfg] {
			continue
		}
		known[cfg] = true
		all = append(all, cfg)
		hasNew = true

		name, _ := IndicatorSpecToName(spec)
		hub.mu.Lock()
		hub.Indicators = append(hub.Indicators, name)
		hub.mu.Unlock()
	}

	if !hasNew {
		return false
	}

	payload := strings.Join(all, ",")
	log.Printf("[subscribe] publishing new indicator config to engine: %s", payload)

	tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Publish(tctx, "config:indicators", payload).Err(); err != nil {
		log.Printf("[subscribe] WARNING: failed to publish config:indicators: %v", err)
	}
	return true
}

// waitForResults polls until every subscribed result stream has at least one
// entry, or the timeout expires. Gives the engine room to backfill after a
// dynamic config reload.
func waitForResults(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			log.Printf("[subscribe] timed out waiting for result streams to appear")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready := true
			for _, name := range sub.IndNames {
				n, err := rdb.XLen(ctx, "ti:"+name+":"+sub.Symbol).Result()
				if err != nil || n == 0 {
					ready = false
					break
				}
			}
			if ready {
				log.Printf("[subscribe] all %d result streams ready", len(sub.IndNames))
				return
			}
		}
	}
}
