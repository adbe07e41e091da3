package model

import "context"

// Storage seams for the batch compute tools. Both the sqlite and redis
// stores satisfy ResultWriter; SampleReader is backed by sqlite.

// SampleReader loads stored sample series.
type SampleReader interface {
	// ReadSamples returns a symbol's samples with Seq > afterSeq, in
	// series order.
	ReadSamples(symbol string, afterSeq int64) ([]Sample, error)

	// Symbols lists every symbol with stored samples.
	Symbols() ([]string, error)

	Close() error
}

// ResultWriter persists computed indicator values.
type ResultWriter interface {
	WriteResultBatch(ctx context.Context, results []IndicatorResult)
	Close() error
}
