package tiengine

import (
	"context"
	"log"

	"ti-systemv1/internal/model"
)

// previewLoop subscribes to live sample PubSub and publishes provisional
// indicator values ahead of stream consumption. Previews go out over PubSub
// only; the consumer-group path writes the authoritative result.
func (svc *Service) previewLoop(ctx context.Context) {
	liveCh := make(chan model.Sample, 1000)
	go func() {
		if err := svc.redisReader.SubscribeLiveSamples(ctx, liveCh); err != nil {
			log.Printf("[tiengine] live sample subscription error: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-liveCh:
			if !ok {
				return
			}
			if !svc.engine.HasSeries(s.Symbol) {
				continue
			}
			if results := svc.engine.PreviewSample(s); len(results) > 0 {
				svc.redisWriter.PublishResultBatch(ctx, results)
			}
		}
	}
}
