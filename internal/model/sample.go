package model

import (
	"encoding/json"
	"time"
)

// Sample is one observation appended to a symbol's series. Seq is the
// zero-based position of the sample in that series; the indicator kernels
// address windows by these positions. Values stay float32 end to end, the
// precision the kernels compute in.
type Sample struct {
	Symbol string    `json:"symbol"`
	Seq    int64     `json:"seq"`
	Value  float32   `json:"value"`
	TS     time.Time `json:"ts"` // observation time (UTC)
}

// StreamKey returns the Redis stream key: "sample:{symbol}".
func (s *Sample) StreamKey() string {
	return "sample:" + s.Symbol
}

// PubSubChannel returns the Redis PubSub channel for live subscribers:
// "pub:sample:{symbol}".
func (s *Sample) PubSubChannel() string {
	return "pub:sample:" + s.Symbol
}

// JSON returns the JSON-encoded sample (ignoring errors for hot-path usage).
func (s *Sample) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
