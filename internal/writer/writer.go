// Package writer implements the batch writer: the single long-lived
// consumer of probe outcomes, coalescing them into transactional,
// port-grouped flushes on a size/time policy.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/storage"
)

// FlushMetrics tracks batch-writer throughput; the scan-status API reports
// RowsUpserted as FlushedRows, which the TUI displays.
type FlushMetrics struct {
	mu               sync.Mutex
	BatchesFlushed   int64
	RowsUpserted     int64
	LastFlushDur     time.Duration
}

func (m *FlushMetrics) record(rows int, dur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BatchesFlushed++
	m.RowsUpserted += int64(rows)
	m.LastFlushDur = dur
}

// Snapshot is a point-in-time copy safe to read without the writer's lock.
type Snapshot struct {
	BatchesFlushed int64
	RowsUpserted   int64
	LastFlushDur   time.Duration
}

func (m *FlushMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{BatchesFlushed: m.BatchesFlushed, RowsUpserted: m.RowsUpserted, LastFlushDur: m.LastFlushDur}
}

// Writer drains an outcome channel into Store, flushing on size or time.
type Writer struct {
	Store         *storage.Store
	BatchSize     int
	FlushInterval time.Duration
	Logger        logger.Logger
	Metrics       *FlushMetrics
}

// New returns a Writer with its metrics initialized.
func New(store *storage.Store, batchSize int, flushInterval time.Duration, log logger.Logger) *Writer {
	return &Writer{
		Store:         store,
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
		Logger:        log,
		Metrics:       &FlushMetrics{},
	}
}

// Run drains in until it is closed: receive with a 100ms timeout, append
// to buffer, flush when buffer reaches BatchSize or FlushInterval has
// elapsed since the last flush with a non-empty buffer; flush the
// remainder and return when in closes.
func (w *Writer) Run(ctx context.Context, in <-chan storage.Outcome, scanRound func() int64) {
	buf := make([]storage.Outcome, 0, w.BatchSize)
	lastFlush := time.Now()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case o, ok := <-in:
			if !ok {
				w.flush(ctx, buf, scanRound())
				return
			}

			buf = append(buf, o)

			if len(buf) >= w.BatchSize {
				w.flush(ctx, buf, scanRound())
				buf = buf[:0]
				lastFlush = time.Now()
			}

		case <-ticker.C:
			if len(buf) > 0 && time.Since(lastFlush) >= w.FlushInterval {
				w.flush(ctx, buf, scanRound())
				buf = buf[:0]
				lastFlush = time.Now()
			}

		case <-ctx.Done():
			w.flush(context.Background(), buf, scanRound())
			return
		}
	}
}

// flush commits one transaction and drops the batch on error: at-most-once
// delivery is acceptable since the bitmap is idempotent under
// re-observation and scans repeat.
func (w *Writer) flush(ctx context.Context, batch []storage.Outcome, round int64) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()

	err := w.Store.BulkUpdatePortStatus(ctx, batch, round)

	dur := time.Since(start)
	if err != nil {
		if w.Logger != nil {
			w.Logger.Error().Err(err).Int("batch_size", len(batch)).Msg("batch flush failed; dropping batch")
		}

		return
	}

	w.Metrics.record(len(batch), dur)
}
