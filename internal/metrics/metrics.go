package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the engine exports.
type Metrics struct {
	// Intake and compute
	SamplesTotal  prometheus.Counter
	ResultsTotal  *prometheus.CounterVec // label: indicator
	WarmupResults prometheus.Counter
	ComputeDur    prometheus.Histogram
	ResultLag     prometheus.Gauge

	// Persistence
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram

	// Lane pool
	LaneJobsTotal prometheus.Counter
	LaneRunDur    prometheus.Histogram

	// Backpressure
	RingBufOverflow      prometheus.Counter
	FanoutDropsTotal     *prometheus.CounterVec // label: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // label: channel_name

	// Stream consumption
	OutOfOrderSamples    prometheus.Counter
	PELMessagesReclaimed prometheus.Counter

	// Redis write guard
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisFlushedBatches      prometheus.Counter

	// End to end
	E2ELatency prometheus.Histogram

	// Snapshot persistence
	SnapshotsTotal  prometheus.Counter
	SnapshotSaveDur prometheus.Histogram

	// Gateway
	WSClients prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

func gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
}

func histogram(name, help string, buckets []float64) prometheus.Histogram {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	return prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
}

// NewMetrics builds and registers every collector on the default registry.
func NewMetrics() *Metrics {
	// Compute runs in single-digit microseconds, well under DefBuckets.
	computeBuckets := []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001}
	e2eBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

	m := &Metrics{
		SamplesTotal:  counter("tiengine_samples_total", "Total samples consumed from the input streams"),
		ResultsTotal:  counterVec("tiengine_results_total", "Total indicator values computed (by indicator)", "indicator"),
		WarmupResults: counter("tiengine_warmup_results_total", "Indicator values emitted at the warm-up default"),
		ComputeDur:    histogram("tiengine_compute_duration_seconds", "Indicator compute latency per ingested sample", computeBuckets),
		ResultLag:     gauge("tiengine_result_lag_seconds", "Lag between sample timestamp and result emission time"),

		RedisWriteDur:   histogram("tiengine_redis_write_duration_seconds", "Redis write latency", nil),
		SQLiteCommitDur: histogram("tiengine_sqlite_commit_duration_seconds", "SQLite batch commit latency", nil),

		LaneJobsTotal: counter("tiengine_lane_jobs_total", "Total batch jobs dispatched to the lane pool"),
		LaneRunDur:    histogram("tiengine_lane_run_duration_seconds", "Lane pool run latency per batch", nil),

		RingBufOverflow:      counter("tiengine_ringbuf_overflow_total", "Ring buffer push overflows (dropped samples)"),
		FanoutDropsTotal:     counterVec("tiengine_fanout_drops_total", "Samples dropped by FanOut bus per subscriber", "subscriber"),
		ChannelSaturationPct: gaugeVec("tiengine_channel_saturation_pct", "Channel fill percentage (len/cap * 100)", "channel_name"),

		OutOfOrderSamples:    counter("tiengine_out_of_order_samples_total", "Samples dropped because their sequence was not past the series head"),
		PELMessagesReclaimed: counter("tiengine_pel_messages_reclaimed_total", "Messages reclaimed from dead consumers via XCLAIM"),

		RedisCircuitBreakerState: gauge("tiengine_redis_circuit_breaker_state", "Redis circuit breaker state (0=closed, 1=open, 2=half-open)"),
		RedisCircuitBreakerTrips: counter("tiengine_redis_circuit_breaker_trips_total", "Times the Redis circuit breaker tripped open"),
		RedisBufferedWrites:      counter("tiengine_redis_buffered_writes_total", "Result batches parked locally while the breaker was open"),
		RedisFlushedBatches:      counter("tiengine_redis_flushed_batches_total", "Parked result batches replayed after the breaker closed"),

		E2ELatency: histogram("tiengine_e2e_latency_seconds", "End-to-end latency from sample ingest to WS emit", e2eBuckets),

		SnapshotsTotal:  counter("tiengine_snapshots_total", "Engine state snapshots persisted"),
		SnapshotSaveDur: histogram("tiengine_snapshot_save_duration_seconds", "Snapshot serialization and persist latency", nil),

		WSClients: gauge("tigateway_ws_clients", "Currently connected WebSocket clients"),
	}

	prometheus.MustRegister(
		m.SamplesTotal, m.ResultsTotal, m.WarmupResults, m.ComputeDur, m.ResultLag,
		m.RedisWriteDur, m.SQLiteCommitDur,
		m.LaneJobsTotal, m.LaneRunDur,
		m.RingBufOverflow, m.FanoutDropsTotal, m.ChannelSaturationPct,
		m.OutOfOrderSamples, m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState, m.RedisCircuitBreakerTrips, m.RedisBufferedWrites, m.RedisFlushedBatches,
		m.E2ELatency,
		m.SnapshotsTotal, m.SnapshotSaveDur,
		m.WSClients,
	)

	return m
}
