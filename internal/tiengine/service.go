package tiengine

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	"ti-systemv1/internal/alert"
	"ti-systemv1/internal/bus"
	"ti-systemv1/internal/lanes"
	"ti-systemv1/internal/metrics"
	"ti-systemv1/internal/model"
	"ti-systemv1/internal/ringbuf"
	redisstore "ti-systemv1/internal/store/redis"
	sqlitestore "ti-systemv1/internal/store/sqlite"
)

// Service is the top-level orchestrator for the indicator engine. It wires
// the stores to the compute loop and owns every goroutine's lifecycle.
type Service struct {
	cfg Config

	engine      *Engine
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	breaker     *redisstore.CircuitBreaker
	buffered    *redisstore.BufferedWriter
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	prom        *metrics.Metrics
	health      *metrics.HealthStatus
	alerts      *alert.Evaluator
	pool        *lanes.Pool

	streams      []string
	replayCursor string
	groupStart   map[string]string // per-stream ID where the startup replay ended

	sampleCh chan model.Sample // consumer-group deliveries
	ring     *ringbuf.Ring     // burst absorber between intake and compute
	kick     chan struct{}     // wakes the process loop after a ring push
	fan      *bus.FanOut       // raw-sample fan-out to persistence and health
	fanIn    chan model.Sample
	resultCh chan model.IndicatorResult // SQLite result persistence

	start time.Time
}

// New creates a new Service from the given Config.
// It connects to Redis and SQLite; engine state is restored in Run.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		prom:     metrics.NewMetrics(),
		health:   metrics.NewHealthStatus(),
		pool:     lanes.NewPool(cfg.Workers),
		sampleCh: make(chan model.Sample, 5000),
		ring:     ringbuf.New(8192),
		kick:     make(chan struct{}, 1),
		fan:      bus.New(4096),
		fanIn:    make(chan model.Sample, 4096),
		resultCh: make(chan model.IndicatorResult, 10000),
		start:    time.Now(),

		groupStart: make(map[string]string),
	}

	// ---- Connect to Redis ----
	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}

	svc.breaker = redisstore.NewCircuitBreaker(5, 10*time.Second)
	svc.breaker.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[tiengine] redis circuit breaker: %s → %s", from, to)
	}

	// ---- Open SQLite ----
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[tiengine] WARNING: sqlite reader init failed: %v (continuing without SQLite backfill)", err)
	}

	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[tiengine] WARNING: sqlite writer init failed: %v", err)
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.OnCommit = func(table string, rows int, took time.Duration) {
			svc.prom.SQLiteCommitDur.Observe(took.Seconds())
		}
	}

	svc.alerts = buildEvaluator(cfg)

	return svc, nil
}

// buildEvaluator assembles the alert evaluator from env config. Returns nil
// when no rules are configured.
func buildEvaluator(cfg Config) *alert.Evaluator {
	if cfg.AlertRules == "" {
		return nil
	}
	rules, err := alert.ParseRules(cfg.AlertRules)
	if err != nil {
		log.Printf("[tiengine] WARNING: alert rules ignored: %v", err)
		return nil
	}
	notifiers := []alert.Notifier{alert.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, alert.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	ev := alert.NewEvaluator(rules, notifiers, time.Duration(cfg.AlertCooldownS)*time.Second)
	log.Printf("[tiengine] alert evaluator active: %d rules, %d notifiers", ev.RuleCount(), len(notifiers))
	return ev
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[tiengine] starting indicator engine service...")

	// ---- Restore engine from snapshot ----
	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[tiengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	// ---- Start persistence sinks before any results flow ----
	svc.buffered = redisstore.NewBufferedWriter(ctx, svc.redisWriter, svc.breaker, 10000)
	svc.buffered.OnBuffer = func() { svc.prom.RedisBufferedWrites.Inc() }
	svc.buffered.OnFlush = func(n int) { svc.prom.RedisFlushedBatches.Add(float64(n)) }
	svc.startPersistence(ctx)

	// ---- Prime series: full backfill on cold start, delta replay after restore ----
	if svc.replayCursor == "" {
		svc.backfillFromRedis(ctx)
	} else {
		svc.replayDelta(ctx)
	}

	// ---- Ensure consumer groups, pinned where the startup replay ended ----
	for _, stream := range svc.streams {
		var err error
		if start, ok := svc.groupStart[stream]; ok && start != "" {
			err = svc.redisReader.EnsureConsumerGroupFrom(ctx, stream, start)
		} else {
			err = svc.redisReader.EnsureConsumerGroup(ctx, []string{stream})
		}
		if err != nil {
			log.Printf("[tiengine] WARNING: consumer group setup on %s: %v", stream, err)
		}
	}

	// ---- Recover pending messages ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.sampleCh); err != nil {
			log.Printf("[tiengine] pending recovery error: %v", err)
		}
	}

	// ---- Start subsystems ----
	svc.startPELReclaimer(ctx)
	go svc.intakeLoop(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	go svc.previewLoop(ctx)
	go svc.snapshotLoop(ctx)
	svc.startHTTP(ctx)
	svc.startConfigSubscriber(ctx)
	svc.startMetricsServer(ctx)

	svc.health.SetEngineOK(true)
	svc.health.SetIndicators(svc.engine.SpecNames())

	// ---- Startup banner ----
	log.Println("[tiengine] ╔════════════════════════════════════════════════════════╗")
	log.Printf("[tiengine] ║  Indicator Engine v%s Active                        ║", Version)
	log.Println("[tiengine] ║                                                        ║")
	log.Println("[tiengine] ║  [Redis Streams] → [Kernels] → [Redis Publish]         ║")
	log.Printf("[tiengine] ║  Snapshot checkpoint every %ds                        ║", cfg.SnapshotIntervalS)
	log.Printf("[tiengine] ║  Indicators: %v              ║", svc.engine.SpecNames())
	log.Println("[tiengine] ╚════════════════════════════════════════════════════════╝")
	log.Println("[tiengine] ✅ all systems running. Press Ctrl+C to stop.")

	// Block until context cancelled
	<-ctx.Done()

	// ---- Graceful shutdown ----
	svc.shutdown()
	return nil
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[tiengine] shutdown signal received, saving final snapshot...")

	blob, err := svc.engine.MarshalSnapshot(streamIDNow())
	if err == nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()

		svc.redisReader.WriteSnapshot(shutCtx, svc.cfg.SnapshotKey, blob)
		if svc.sqlWriter != nil {
			svc.sqlWriter.SaveSnapshotJSON(blob)
		}
		log.Println("[tiengine] final snapshot saved")
	}

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[tiengine] shutdown complete.")
}

// restoreEngine restores engine state from the Redis snapshot, falling back
// to SQLite, then warms cold series from SQLite sample history.
func (svc *Service) restoreEngine(ctx context.Context) error {
	blob, err := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[tiengine] redis snapshot read error: %v", err)
	}

	if blob == nil && svc.sqlReader != nil {
		blob, err = svc.sqlReader.ReadLatestSnapshotJSON()
		if err != nil {
			log.Printf("[tiengine] sqlite snapshot read error: %v", err)
		}
	}

	eng, cursor, err := RestoreEngine(blob, svc.cfg.Specs, svc.cfg.MaxHistory)
	if err != nil {
		return err
	}
	svc.engine = eng
	svc.replayCursor = cursor

	if svc.sqlReader != nil {
		svc.backfillFromSQLite(ctx)
	}
	return nil
}

// backfillFromSQLite replays stored samples for symbols whose in-memory
// series lag the database, writing the computed results back to Redis.
func (svc *Service) backfillFromSQLite(ctx context.Context) {
	symbols, err := svc.sqlReader.Symbols()
	if err != nil || len(symbols) == 0 {
		return
	}
	total := 0
	for _, sym := range symbols {
		if len(svc.cfg.Symbols) > 0 && !containsStr(svc.cfg.Symbols, sym) {
			continue
		}
		after := int64(-1)
		if last, ok := svc.engine.LastSeq(sym); ok {
			after = last
		}
		samples, err := svc.sqlReader.ReadSamples(sym, after)
		if err != nil || len(samples) == 0 {
			continue
		}
		svc.writeResults(ctx, svc.engine.Backfill(sym, samples))
		total += len(samples)
	}
	if total > 0 {
		log.Printf("[tiengine] warmed series with %d historical samples from SQLite (results written to Redis)", total)
	}
}

// buildStreams resolves the sample stream keys to consume: the configured
// symbol list first, then the series registry, then a keyspace scan.
func (svc *Service) buildStreams(ctx context.Context) []string {
	syms := svc.cfg.Symbols
	if len(syms) == 0 {
		if reg, err := svc.redisWriter.LoadSeriesRegistry(ctx); err == nil {
			syms = reg
		}
	}
	if len(syms) == 0 {
		return svc.redisReader.DiscoverSampleStreams(ctx)
	}
	streams := make([]string, 0, len(syms))
	for _, sym := range syms {
		streams = append(streams, "sample:"+sym)
	}
	return streams
}

// primeFromStreams replays every stream through the engine starting at from,
// writing the computed results, and records where each replay ended so the
// consumer groups can be pinned there. Returns the sample count.
func (svc *Service) primeFromStreams(ctx context.Context, from string) int {
	primeCh := make(chan model.Sample, 5000)
	go func() {
		for _, stream := range svc.streams {
			last, err := svc.redisReader.ReplayFromID(ctx, stream, from, primeCh)
			if err != nil {
				log.Printf("[tiengine] replay error on %s: %v", stream, err)
			}
			svc.groupStart[stream] = last
		}
		close(primeCh)
	}()

	bySymbol := make(map[string][]model.Sample)
	count := 0
	for s := range primeCh {
		bySymbol[s.Symbol] = append(bySymbol[s.Symbol], s)
		count++
	}
	for sym, samples := range bySymbol {
		svc.writeResults(ctx, svc.engine.Backfill(sym, samples))
	}
	return count
}

// backfillFromRedis replays each stream end to end through the engine so
// in-memory series and published results cover the full stored history.
func (svc *Service) backfillFromRedis(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	if n := svc.primeFromStreams(ctx, "0"); n > 0 {
		log.Printf("[tiengine] ✅ backfilled %d samples from Redis streams (indicator results written)", n)
	} else {
		log.Println("[tiengine] no samples in Redis streams to backfill from")
	}
}

// replayDelta replays stream entries newer than the snapshot cursor to catch
// up on samples that arrived while the service was down.
func (svc *Service) replayDelta(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	log.Printf("[tiengine] replaying delta from stream ID: %s", svc.replayCursor)
	n := svc.primeFromStreams(ctx, svc.replayCursor)
	log.Printf("[tiengine] ✅ replayed %d delta samples (results written to Redis)", n)
}

// writeResults persists a result batch to Redis and SQLite. Used by the
// startup and reload paths that bypass the buffered live writer.
func (svc *Service) writeResults(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}
	svc.redisWriter.WriteResultBatch(ctx, results)
	if svc.sqlWriter == nil {
		return
	}
	for _, r := range results {
		select {
		case svc.resultCh <- r:
		case <-ctx.Done():
			return
		}
	}
}

// startPersistence wires the raw-sample fan-out (SQLite persistence plus the
// health tracker) and the SQLite result sink.
func (svc *Service) startPersistence(ctx context.Context) {
	if svc.sqlWriter != nil {
		go svc.sqlWriter.Run(ctx, svc.fan.Subscribe("sqlite"))
	}
	healthCh := svc.fan.Subscribe("health")

	svc.fan.OnDrop = func(name string) {
		svc.prom.FanoutDropsTotal.WithLabelValues(name).Inc()
	}

	go svc.fan.Run(ctx, svc.fanIn)
	go svc.healthTrackerLoop(ctx, healthCh)

	if svc.sqlWriter != nil {
		go svc.sqlWriter.RunResults(ctx, svc.resultCh)
	}
}

// intakeLoop moves consumer deliveries into the compute ring and the
// raw-sample fan-out. The ring decouples Redis read cadence from compute.
func (svc *Service) intakeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-svc.sampleCh:
			if !ok {
				return
			}
			svc.prom.SamplesTotal.Inc()
			if !svc.ring.Push(s) {
				svc.prom.RingBufOverflow.Inc()
			}
			select {
			case svc.kick <- struct{}{}:
			default:
			}
			select {
			case svc.fanIn <- s:
			default:
				// persistence lags; drop the copy rather than stall intake
			}
		}
	}
}

// healthTrackerLoop tracks sample freshness and reports channel saturation
// gauges.
func (svc *Service) healthTrackerLoop(ctx context.Context, samples <-chan model.Sample) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			svc.health.SetLastSampleTime(s.TS)
		case <-ticker.C:
			svc.prom.ChannelSaturationPct.WithLabelValues("sample_ch").
				Set(float64(len(svc.sampleCh)) / float64(cap(svc.sampleCh)) * 100)
			svc.prom.ChannelSaturationPct.WithLabelValues("ring").
				Set(float64(svc.ring.Len()) / float64(svc.ring.Cap()) * 100)
			svc.prom.ChannelSaturationPct.WithLabelValues("result_ch").
				Set(float64(len(svc.resultCh)) / float64(cap(svc.resultCh)) * 100)
			for _, cs := range svc.fan.ChannelStats() {
				if cs.Cap == 0 {
					continue
				}
				svc.prom.ChannelSaturationPct.WithLabelValues("fan_"+cs.Name).
					Set(float64(cs.Len) / float64(cs.Cap) * 100)
			}
		}
	}
}

// startMetricsServer serves Prometheus metrics and liveness on MetricsAddr.
func (svc *Service) startMetricsServer(ctx context.Context) {
	if svc.cfg.MetricsAddr == "" {
		return
	}
	var db *sql.DB
	if svc.sqlWriter != nil {
		db = svc.sqlWriter.DB()
	}
	svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), db, 10*time.Second)
	metrics.NewServer(svc.cfg.MetricsAddr, svc.health).Start()
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
