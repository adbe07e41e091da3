package model

import "encoding/json"

// SeriesInfo describes one tracked sample series.
type SeriesInfo struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
	Source      string  `json:"source"`     // feed identifier the samples come from
	BaseValue   float32 `json:"base_value"` // starting level for simulated feeds
	StepLimit   float32 `json:"step_limit"` // max absolute move between samples
}

// Key returns a unique key for this series: "source:symbol".
func (s *SeriesInfo) Key() string {
	return s.Source + ":" + s.Symbol
}

// JSON returns the JSON-encoded series descriptor.
func (s *SeriesInfo) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
