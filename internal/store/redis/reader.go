package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"ti-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Stream consumption tuning. The block timeout bounds how long XREADGROUP
// parks when no samples arrive so ctx cancellation is noticed promptly.
const (
	readBatch   = 100
	readBlock   = 2 * time.Second
	claimPage   = 100
	reclaimPage = 50
	replayPage  = 1000
	snapshotTTL = 24 * time.Hour
)

const busyGroupErr = "BUSYGROUP Consumer Group name already exists"

// ReaderConfig configures the consuming side of the store.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // e.g. "tiengine"
	ConsumerName  string // unique per process, e.g. hostname
}

// Reader consumes sample streams through a Redis consumer group and serves
// the engine's snapshot blobs and pub/sub subscriptions.
type Reader struct {
	rdb   *goredis.Client
	group string
	name  string
}

// NewReader connects and pings, returning a Reader bound to its consumer
// group identity.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := &Reader{rdb: rdb, group: cfg.ConsumerGroup, name: cfg.ConsumerName}
	if r.group == "" {
		r.group = "tiengine"
	}
	if r.name == "" {
		r.name = "worker-1"
	}

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, r.group, r.name)
	return r, nil
}

// Client exposes the underlying connection for liveness probes.
func (r *Reader) Client() *goredis.Client { return r.rdb }

// Close releases the connection.
func (r *Reader) Close() error { return r.rdb.Close() }

// decodeSample pulls the JSON payload out of a stream entry. Entries without
// a decodable "data" field are poison and report false.
func decodeSample(values map[string]interface{}) (model.Sample, bool) {
	raw, ok := values["data"].(string)
	if !ok {
		return model.Sample{}, false
	}
	var s model.Sample
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.Sample{}, false
	}
	return s, true
}

func (r *Reader) ack(ctx context.Context, stream, id string) {
	r.rdb.XAck(ctx, stream, r.group, id)
}

// deliver decodes claimed or read entries into out, ACKing each one. Poison
// entries are ACKed without delivery so they cannot wedge the PEL. Returns
// how many samples were handed off.
func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.Sample) (int, error) {
	n := 0
	for _, msg := range msgs {
		s, ok := decodeSample(msg.Values)
		if !ok {
			r.ack(ctx, stream, msg.ID)
			continue
		}
		select {
		case out <- s:
		case <-ctx.Done():
			return n, ctx.Err()
		}
		r.ack(ctx, stream, msg.ID)
		n++
	}
	return n, nil
}

// EnsureConsumerGroup creates the group on each stream at "$" so a fresh
// group sees only new samples. Existing groups are left untouched.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.rdb.XGroupCreateMkStream(ctx, stream, r.group, "$").Err()
		if err != nil && err.Error() != busyGroupErr {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// EnsureConsumerGroupFrom pins the group's delivery cursor to startID,
// creating the group when missing. The restore path uses this to hand off
// from an XRANGE replay to group delivery without dropping entries that
// land in between.
func (r *Reader) EnsureConsumerGroupFrom(ctx context.Context, stream, startID string) error {
	err := r.rdb.XGroupCreateMkStream(ctx, stream, r.group, startID).Err()
	if err == nil {
		return nil
	}
	if err.Error() == busyGroupErr {
		return r.rdb.XGroupSetID(ctx, stream, r.group, startID).Err()
	}
	return fmt.Errorf("xgroup create %s at %s: %w", stream, startID, err)
}

// ConsumeSamples blocks on XREADGROUP across all streams and feeds decoded
// samples to out until ctx ends. Delivery is at-least-once: entries are
// ACKed only after the hand-off to out succeeds.
func (r *Reader) ConsumeSamples(ctx context.Context, streams []string, out chan<- model.Sample) error {
	ids := make([]string, 0, len(streams)*2)
	ids = append(ids, streams...)
	for range streams {
		ids = append(ids, ">")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := r.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.name,
			Streams:  ids,
			Count:    readBatch,
			Block:    readBlock,
		}).Result()
		if err == goredis.Nil || (err != nil && ctx.Err() != nil) {
			continue
		}
		if err != nil {
			log.Printf("[redis-reader] xreadgroup: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			if _, err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// RecoverPending drains this consumer's own PEL left over from a crash,
// re-delivering every entry before live consumption starts.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Sample) error {
	for _, stream := range streams {
		for {
			page, err := r.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.group,
				Start:  "-",
				End:    "+",
				Count:  claimPage,
			}).Result()
			if err != nil || len(page) == 0 {
				break
			}

			ids := make([]string, 0, len(page))
			for _, p := range page {
				ids = append(ids, p.ID)
			}
			claimed, err := r.rdb.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.group,
				Consumer: r.name,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim %s: %v", stream, err)
				break
			}

			if _, err := r.deliver(ctx, stream, claimed, out); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// reclaimStale claims entries in stream's PEL that have sat idle past
// minIdleMs under some other consumer of the group.
func (r *Reader) reclaimStale(ctx context.Context, stream string, minIdleMs int64) ([]goredis.XMessage, error) {
	idle := time.Duration(minIdleMs) * time.Millisecond
	pending, err := r.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.group,
		Start:  "-",
		End:    "+",
		Count:  reclaimPage,
		Idle:   idle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	stale := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.Consumer != r.name {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	claimed, err := r.rdb.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.group,
		Consumer: r.name,
		MinIdle:  idle,
		Messages: stale,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	if len(claimed) > 0 {
		log.Printf("[redis-reader] reclaimed %d stale entries from %s", len(claimed), stream)
	}
	return claimed, nil
}

// StartPELReclaimer periodically steals entries other consumers have left
// idle past minIdleMs and re-delivers them through out. onReclaim, when set,
// receives each sweep's total. Runs until ctx ends.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration, minIdleMs int64, out chan<- model.Sample, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		total := 0
		for _, stream := range streams {
			claimed, err := r.reclaimStale(ctx, stream, minIdleMs)
			if err != nil {
				log.Printf("[redis-reader] reclaim %s: %v", stream, err)
				continue
			}
			n, err := r.deliver(ctx, stream, claimed, out)
			if err != nil {
				return
			}
			total += n
		}
		if total > 0 && onReclaim != nil {
			onReclaim(total)
		}
	}
}

// ReplayFromID streams every entry after startID into out in ID order,
// paging through XRANGE. Returns the last entry ID seen so the caller can
// pin the consumer group there.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.Sample) (string, error) {
	last := startID
	for {
		batch, err := r.rdb.XRangeN(ctx, stream, "("+last, "+", replayPage).Result()
		if err != nil {
			return last, fmt.Errorf("xrange %s after %s: %w", stream, last, err)
		}
		if len(batch) == 0 {
			return last, nil
		}

		for _, msg := range batch {
			last = msg.ID
			s, ok := decodeSample(msg.Values)
			if !ok {
				continue
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return last, ctx.Err()
			}
		}

		if len(batch) < replayPage {
			return last, nil
		}
	}
}

// ReadSnapshot fetches the engine snapshot blob. Returns (nil, nil) when no
// snapshot is stored.
func (r *Reader) ReadSnapshot(ctx context.Context, key string) ([]byte, error) {
	blob, err := r.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return blob, nil
}

// WriteSnapshot stores the snapshot blob with a TTL. SQLite keeps the
// durable copies; the Redis copy only serves fast restarts.
func (r *Reader) WriteSnapshot(ctx context.Context, key string, blob []byte) error {
	return r.rdb.Set(ctx, key, blob, snapshotTTL).Err()
}

// DiscoverSampleStreams scans the keyspace for sample:* stream keys,
// skipping the sample:latest:* value keys. Used when neither the configured
// symbol list nor the series registry names any series.
func (r *Reader) DiscoverSampleStreams(ctx context.Context) []string {
	var streams []string
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, "sample:*", 100).Result()
		if err != nil {
			log.Printf("[redis-reader] scan sample:*: %v", err)
			return streams
		}
		for _, k := range keys {
			if strings.HasPrefix(k, "sample:latest:") {
				continue
			}
			streams = append(streams, k)
		}
		if next == 0 {
			return streams
		}
		cursor = next
	}
}

// SubscribeLiveSamples feeds samples published on pub:sample:* into out.
// These arrive ahead of the stream consumer and carry no delivery guarantee;
// the engine uses them only for live single-point previews. Blocks until ctx
// ends.
func (r *Reader) SubscribeLiveSamples(ctx context.Context, out chan<- model.Sample) error {
	pubsub := r.rdb.PSubscribe(ctx, "pub:sample:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var s model.Sample
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				continue
			}
			select {
			case out <- s:
			default:
			}
		}
	}
}

// SubscribeChannel subscribes to a pub/sub channel and confirms the
// subscription before returning the handle. Returns nil on failure.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe %s: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish sends a message on a pub/sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.rdb.Publish(ctx, channel, message).Err()
}
