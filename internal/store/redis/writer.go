package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"ti-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// SeriesRegistryKey is the set of symbols with live series. The feed
// registers symbols here; engine and gateway discover them at startup.
const SeriesRegistryKey = "series:enabled"

const (
	// streamMaxLen bounds sample and result streams: enough replay depth
	// to rebuild any indicator window many times over.
	streamMaxLen = 120000
	latestTTL    = 30 * time.Minute
	connectWait  = 5 * time.Second
)

// bstr views b as a string without copying. Callers must not mutate b
// afterwards.
func bstr(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer persists samples and indicator results to Redis: streams for
// replay, latest keys for snapshots, PubSub for live subscribers.
type Writer struct {
	client *goredis.Client
}

// New connects and verifies the server responds before returning.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectWait)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Run writes samples from sampleCh until ctx is cancelled or the channel
// closes.
func (w *Writer) Run(ctx context.Context, sampleCh <-chan model.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sampleCh:
			if !ok {
				return
			}
			w.writeSample(ctx, s)
		}
	}
}

// writeSample updates the latest key, appends to the symbol stream and
// notifies live subscribers in one pipelined roundtrip.
func (w *Writer) writeSample(ctx context.Context, s model.Sample) {
	data := bstr(s.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, "sample:latest:"+s.Symbol, data, latestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.StreamKey(),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, s.PubSubChannel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] pipeline error for %s seq=%d: %v", s.Symbol, s.Seq, err)
	}
}

// WriteResultBatch writes a batch of results in one pipelined roundtrip.
// Warmed values get XADD + SET + PUBLISH; warm-up defaults are published
// only, so subscribers see the series is live without polluting streams.
func (w *Writer) WriteResultBatch(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}

	pipe := w.client.Pipeline()
	for i := range results {
		queueResult(ctx, pipe, &results[i])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] result batch pipeline error (%d results): %v", len(results), err)
	}
}

// queueResult stages one result's commands on pipe.
func queueResult(ctx context.Context, pipe goredis.Pipeliner, res *model.IndicatorResult) {
	data := bstr(res.JSON())
	channel := res.PubSubChannel()

	if !res.Warm {
		pipe.Publish(ctx, channel, data)
		return
	}

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: res.StreamKey(),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, res.LatestKey(), data, latestTTL)
	pipe.Publish(ctx, channel, data)
}

// PublishResultBatch publishes results over PubSub only, skipping streams
// and latest keys. Used for provisional live previews ahead of stream
// consumption; the consumer-group path writes the authoritative copy.
func (w *Writer) PublishResultBatch(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}

	pipe := w.client.Pipeline()
	for i := range results {
		pipe.Publish(ctx, results[i].PubSubChannel(), bstr(results[i].JSON()))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] preview publish error (%d results): %v", len(results), err)
	}
}

// RegisterSeries adds a symbol to the registry set and stores its
// metadata. Consumers discover active series via LoadSeriesRegistry.
func (w *Writer) RegisterSeries(ctx context.Context, info model.SeriesInfo) error {
	pipe := w.client.Pipeline()
	pipe.SAdd(ctx, SeriesRegistryKey, info.Symbol)
	pipe.Set(ctx, "series:info:"+info.Symbol, string(info.JSON()), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis register series %s: %w", info.Symbol, err)
	}
	return nil
}

// LoadSeriesRegistry reads the registry set. Returns nil when the key
// does not exist.
func (w *Writer) LoadSeriesRegistry(ctx context.Context) ([]string, error) {
	members, err := w.client.SMembers(ctx, SeriesRegistryKey).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis SMEMBERS %s: %w", SeriesRegistryKey, err)
	}
	return members, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
