package gateway

// SampleOut is the wire shape of one observed sample, shared by the
// /api/samples response and the SNAPSHOT history block.
type SampleOut struct {
	Symbol string  `json:"symbol"`
	Seq    int64   `json:"seq"`
	Value  float64 `json:"value"`
	TS     string  `json:"ts"`
}

// ResultPoint is the wire shape of one indicator value, shared by the
// /api/results/history response and the SNAPSHOT indicator series.
type ResultPoint struct {
	Seq   int64   `json:"seq"`
	Value float64 `json:"value"`
	Warm  bool    `json:"warm"`
	TS    string  `json:"ts"`
}
