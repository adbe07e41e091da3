package ticlient

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ── Wire Types ──

// Envelope is the frame the gateway broadcasts on every channel:
// {"channel":"...","data":...,"ts":"...","seq":N,"channel_seq":M}.
// Initial is set on the warm-start state replayed right after connect;
// those frames carry no channel_seq.
type Envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         time.Time       `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
	Initial    bool            `json:"initial"`
}

// Sample is the payload carried on pub:sample:<symbol> channels.
type Sample struct {
	Symbol string    `json:"symbol"`
	Seq    int64     `json:"seq"`
	Value  float32   `json:"value"`
	TS     time.Time `json:"ts"`
}

// IndicatorResult is the payload carried on pub:ti:<name>:<symbol>
// channels. Warm is false while the indicator window is still filling.
type IndicatorResult struct {
	Indicator string    `json:"indicator"`
	Param     int       `json:"param"`
	Symbol    string    `json:"symbol"`
	Seq       int64     `json:"seq"`
	Value     float32   `json:"value"`
	Warm      bool      `json:"warm"`
	TS        time.Time `json:"ts"`
}

// Name returns the resolved indicator name, e.g. "RSI_14".
func (r IndicatorResult) Name() string {
	return r.Indicator + "_" + strconv.Itoa(r.Param)
}

// ResultPoint is one element of a snapshot indicator series.
type ResultPoint struct {
	Seq   int64     `json:"seq"`
	Value float32   `json:"value"`
	Warm  bool      `json:"warm"`
	TS    time.Time `json:"ts"`
}

// Snapshot is the server's reply to a SUBSCRIBE request: the recent
// sample history plus one series per requested indicator, keyed by
// resolved name ("RSI_14", "LR_EXP_DEV_4010", ...).
type Snapshot struct {
	Type       string                   `json:"type"`
	ReqID      string                   `json:"reqId"`
	Symbol     string                   `json:"symbol"`
	Samples    []Sample                 `json:"samples"`
	Indicators map[string][]ResultPoint `json:"indicators"`
}

// IndicatorSpec names one indicator in a subscription profile. Params
// carries "period" and, for lr_exp_dev only, the projection distance
// "expected".
type IndicatorSpec struct {
	ID     string         `json:"id"`
	Params map[string]int `json:"params,omitempty"`
}

// Spec builds an indicator spec with a period parameter: Spec("rsi", 14).
func Spec(id string, period int) IndicatorSpec {
	return IndicatorSpec{ID: id, Params: map[string]int{"period": period}}
}

// SpecProjected builds a spec that also carries a projection distance,
// used by lr_exp_dev.
func SpecProjected(id string, period, expected int) IndicatorSpec {
	return IndicatorSpec{ID: id, Params: map[string]int{"period": period, "expected": expected}}
}

// MissedRange is the replay endpoint's response: the buffered envelopes
// for a channel_seq gap, plus the channel's current head.
type MissedRange struct {
	Channel    string            `json:"channel"`
	From       int64             `json:"from"`
	To         int64             `json:"to"`
	CurrentSeq int64             `json:"current_seq"`
	Envelopes  []json.RawMessage `json:"envelopes"`
}

// ── Request / Control Frames ──

type subscribeMsg struct {
	Type       string          `json:"type"`
	ReqID      string          `json:"reqId"`
	Symbol     string          `json:"symbol"`
	History    historyRequest  `json:"history"`
	Indicators []IndicatorSpec `json:"indicators"`
}

type historyRequest struct {
	Samples int `json:"samples"`
}

type unsubscribeMsg struct {
	Type   string `json:"type"`
	ReqID  string `json:"reqId"`
	Symbol string `json:"symbol"`
}

type pingMsg struct {
	Ping int64 `json:"ping"`
}

type pongFrame struct {
	Type     string `json:"type"`
	Ping     int64  `json:"ping"`
	ServerTS int64  `json:"server_ts"`
}

type errorFrame struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId"`
	Error string `json:"error"`
}

type metricsFrame struct {
	Type    string          `json:"type"`
	Metrics json.RawMessage `json:"metrics"`
}

// ── Helpers ──

// ParseChannel splits a broadcast channel into its parts. Kind is
// "sample" or "result"; name is the resolved indicator name, empty for
// sample channels. Symbols may themselves contain colons, so the
// trailing parts are rejoined.
func ParseChannel(channel string) (kind, name, symbol string) {
	parts := strings.Split(channel, ":")
	switch {
	case len(parts) >= 3 && parts[0] == "pub" && parts[1] == "sample":
		return "sample", "", strings.Join(parts[2:], ":")
	case len(parts) >= 4 && parts[0] == "pub" && parts[1] == "ti":
		return "result", parts[2], strings.Join(parts[3:], ":")
	}
	return "", "", ""
}

// splitFrames splits a coalesced WebSocket message into individual JSON
// frames. The gateway batches queued envelopes into a single frame with
// newline separators.
func splitFrames(message []byte) [][]byte {
	if !bytes.ContainsRune(message, '\n') {
		return [][]byte{message}
	}
	var out [][]byte
	for _, f := range bytes.Split(message, []byte{'\n'}) {
		if len(bytes.TrimSpace(f)) == 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}
