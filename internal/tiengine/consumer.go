package tiengine

import (
	"context"
	"fmt"
	"log"
	"time"

	"ti-systemv1/internal/model"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	svc.health.SetStreamConnected(true)
	go func() {
		if err := svc.redisReader.ConsumeSamples(ctx, svc.streams, svc.sampleCh); err != nil {
			log.Printf("[tiengine] consumer error: %v", err)
			svc.health.SetStreamConnected(false)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.sampleCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[tiengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[tiengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

// processLoop drains the ring and runs every configured kernel over each
// sample. Results fan to the buffered Redis writer, the SQLite sink, and the
// alert evaluator.
func (svc *Service) processLoop(ctx context.Context) {
	const (
		computeLatencyKey        = "metrics:tiengine:compute_ms"
		computeLatencyTTL        = 30 * time.Second
		computeLatencyPublishMin = 2 * time.Second
		computeLatencyAlpha      = 0.2
	)
	var (
		latencyEwmaMs      float64
		lastLatencyPublish time.Time
	)

	batch := make([]model.Sample, 0, 256)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-svc.kick:
		case <-ticker.C:
		}

		for {
			batch = svc.ring.Drain(batch[:0])
			if len(batch) == 0 {
				break
			}
			for _, s := range batch {
				start := time.Now()
				results, err := svc.engine.ProcessSample(s)
				elapsed := time.Since(start)

				if err == ErrStaleSeq {
					svc.prom.OutOfOrderSamples.Inc()
					continue
				}
				svc.prom.ComputeDur.Observe(elapsed.Seconds())
				if len(results) == 0 {
					continue
				}
				svc.prom.ResultLag.Set(time.Since(s.TS).Seconds())
				svc.prom.E2ELatency.Observe(time.Since(s.TS).Seconds())

				// Track EWMA latency and publish periodically
				latencyMs := float64(elapsed.Microseconds()) / 1000.0
				if latencyEwmaMs == 0 {
					latencyEwmaMs = latencyMs
				} else {
					latencyEwmaMs = latencyEwmaMs*(1.0-computeLatencyAlpha) + latencyMs*computeLatencyAlpha
				}
				if time.Since(lastLatencyPublish) >= computeLatencyPublishMin {
					cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
					if cctx.Err() == nil {
						_ = svc.redisWriter.Client().Set(
							cctx,
							computeLatencyKey,
							fmt.Sprintf("%.3f", latencyEwmaMs),
							computeLatencyTTL,
						).Err()
					}
					cancel()
					lastLatencyPublish = time.Now()
				}

				svc.dispatchResults(ctx, results)
			}
		}
	}
}

// dispatchResults routes one sample's live results to Redis, SQLite, and
// alerting.
func (svc *Service) dispatchResults(ctx context.Context, results []model.IndicatorResult) {
	for _, r := range results {
		svc.prom.ResultsTotal.WithLabelValues(r.Indicator).Inc()
		if !r.Warm {
			svc.prom.WarmupResults.Inc()
		}
	}

	start := time.Now()
	if err := svc.buffered.WriteResultBatch(results); err != nil {
		log.Printf("[tiengine] result write error: %v", err)
	}
	svc.prom.RedisWriteDur.Observe(time.Since(start).Seconds())

	if svc.sqlWriter != nil {
		for _, r := range results {
			select {
			case svc.resultCh <- r:
			case <-ctx.Done():
				return
			}
		}
	}

	if svc.alerts != nil {
		for _, r := range results {
			svc.alerts.Evaluate(r)
		}
	}
}
