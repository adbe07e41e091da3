package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// IndicatorResult holds one computed indicator value for a symbol's series.
// Indicator is the canonical kernel label ("RSI", "BB", ...); Param is the
// kernel's packed integer parameter (a plain period for most kernels, a
// thousands-packed period pair for the regression-projection kernel).
type IndicatorResult struct {
	Indicator string    `json:"indicator"`
	Param     int       `json:"param"`
	Symbol    string    `json:"symbol"`
	Seq       int64     `json:"seq"` // series position the value belongs to
	Value     float32   `json:"value"`
	Warm      bool      `json:"warm"` // false while the window is still filling
	TS        time.Time `json:"ts"`   // timestamp of the source sample
}

// Name returns the label+param form used in keys and spec strings,
// e.g. "RSI_14".
func (r *IndicatorResult) Name() string {
	return r.Indicator + "_" + strconv.Itoa(r.Param)
}

// StreamKey returns the Redis stream key: "ti:{name}:{symbol}".
func (r *IndicatorResult) StreamKey() string {
	return "ti:" + r.Name() + ":" + r.Symbol
}

// LatestKey returns the Redis key holding the most recent value:
// "ti:{name}:latest:{symbol}".
func (r *IndicatorResult) LatestKey() string {
	return "ti:" + r.Name() + ":latest:" + r.Symbol
}

// PubSubChannel returns the Redis PubSub channel for live subscribers:
// "pub:ti:{name}:{symbol}".
func (r *IndicatorResult) PubSubChannel() string {
	return "pub:ti:" + r.Name() + ":" + r.Symbol
}

// JSON returns the JSON-encoded indicator result.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
