package redis

import (
	"context"
	"log"
	"sync"

	"ti-systemv1/internal/model"
)

// BufferedWriter routes result writes through the circuit breaker and parks
// them in memory while Redis is unreachable. Parked batches replay in
// arrival order when the breaker closes; past maxBuf the oldest batch is
// dropped.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	queue  [][]model.IndicatorResult
	maxBuf int

	OnBuffer func()          // a batch was parked
	OnFlush  func(count int) // parked batches replayed
}

// NewBufferedWriter wraps w behind cb. The breaker's state hook is chained,
// not replaced, so existing metrics wiring keeps firing.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		maxBuf: maxBufferSize,
	}

	chained := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if chained != nil {
			chained(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// WriteResultBatch writes a result batch, parking it locally when the
// breaker is open. A parked batch is not an error.
func (bw *BufferedWriter) WriteResultBatch(results []model.IndicatorResult) error {
	err := bw.cb.Execute(func() error {
		bw.writer.WriteResultBatch(bw.ctx, results)
		return nil // the writer logs per-command errors itself
	})
	if err == ErrCircuitOpen {
		bw.park(results)
		return nil
	}
	return err
}

func (bw *BufferedWriter) park(results []model.IndicatorResult) {
	bw.mu.Lock()
	if len(bw.queue) >= bw.maxBuf {
		bw.queue = bw.queue[1:]
	}
	bw.queue = append(bw.queue, results)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays every parked batch in arrival order.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	queue := bw.queue
	bw.queue = nil
	bw.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	for _, results := range queue {
		bw.writer.WriteResultBatch(bw.ctx, results)
	}

	log.Printf("[buffered-writer] flushed %d buffered batches", len(queue))
	if bw.OnFlush != nil {
		bw.OnFlush(len(queue))
	}
}

// PendingCount returns how many batches are parked.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.queue)
}
