// Package report delivers decision records from the edge to the cloud.
// Records enter a capped in-memory FIFO so decisions survive cloud outages up
// to the cap; the queue flushes after every enqueue and on a periodic timer,
// and drops the oldest records once full.
package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/edgesync"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/observability/metrics"
)

// Fallbacks for unset report settings, matching the shipped defaults.
const (
	defaultQueueSize     = 1000
	defaultFlushInterval = 5 * time.Minute
	shutdownFlushTimeout = 10 * time.Second
)

// Sender posts decision record batches to the cloud. Implemented by the
// edgesync cloud client.
type Sender interface {
	ReportEvents(ctx context.Context, records []decision.Record) (edgesync.ReportResponse, error)
}

// Queue is the offline-tolerant decision report queue. Enqueue never blocks
// the decision path; delivery happens on the flush goroutine.
type Queue struct {
	sender   Sender
	capacity int
	interval time.Duration

	mu      sync.Mutex
	pending []decision.Record

	flushMu sync.Mutex
	kick    chan struct{}
	wg      sync.WaitGroup

	metrics *metrics.ReportMetrics
	logger  *slog.Logger
}

// New creates a report queue from the edge settings.
func New(sender Sender, settings *conf.Settings) *Queue {
	rc := &settings.Edge.Report

	capacity := rc.QueueSize
	if capacity <= 0 {
		capacity = defaultQueueSize
	}
	interval := time.Duration(rc.FlushIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	return &Queue{
		sender:   sender,
		capacity: capacity,
		interval: interval,
		kick:     make(chan struct{}, 1),
		logger:   logging.ForService("report"),
	}
}

// SetMetrics attaches report metrics. Must be called before Start.
func (q *Queue) SetMetrics(m *metrics.ReportMetrics) {
	q.metrics = m
}

// Enqueue adds one record to the queue, dropping the oldest record when the
// queue is full, and nudges the flush goroutine.
func (q *Queue) Enqueue(rec decision.Record) {
	q.mu.Lock()
	if len(q.pending) >= q.capacity {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		if q.metrics != nil {
			q.metrics.IncrementDropped()
		}
		q.logger.Warn("report queue full, dropping oldest record",
			"delivery_id", dropped.DeliveryID,
			"capacity", q.capacity)
	}
	q.pending = append(q.pending, rec)
	depth := len(q.pending)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SetQueueDepth(depth)
	}

	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Depth returns the number of records waiting for delivery.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the flush goroutine. It exits after a final delivery attempt
// when ctx is cancelled; Wait blocks until then.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
	q.logger.Info("report queue started",
		"capacity", q.capacity,
		"flush_interval", q.interval)
}

// Wait blocks until the flush goroutine has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// One last attempt so a clean shutdown loses nothing that the
			// cloud is willing to take.
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
			if err := q.Flush(flushCtx); err != nil {
				q.logger.Warn("final report flush failed", "queued", q.Depth(), "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := q.Flush(ctx); err != nil {
				q.logger.Warn("scheduled report flush failed", "queued", q.Depth(), "error", err)
			}
		case <-q.kick:
			if err := q.Flush(ctx); err != nil {
				q.logger.Debug("report flush failed, records stay queued",
					"queued", q.Depth(), "error", err)
			}
		}
	}
}

// Flush posts every queued record, oldest first, looping until the queue is
// empty. On a transport failure the unsent records return to the front of the
// queue and the error is reported to the caller.
func (q *Queue) Flush(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		resp, err := q.sender.ReportEvents(ctx, batch)
		if err != nil {
			q.requeue(batch)
			if q.metrics != nil {
				q.metrics.IncrementFlushFailures()
			}
			return err
		}

		if q.metrics != nil {
			q.metrics.AddFlushed(len(batch))
			q.metrics.SetQueueDepth(q.Depth())
		}
		q.logger.Debug("reported decision events",
			"sent", len(batch),
			"accepted", resp.Accepted,
			"duplicates", resp.Duplicates)
	}
}

// requeue puts an unsent batch back in front of anything enqueued meanwhile,
// re-applying the capacity cap from the oldest end.
func (q *Queue) requeue(batch []decision.Record) {
	q.mu.Lock()
	q.pending = append(batch, q.pending...)
	excess := len(q.pending) - q.capacity
	if excess > 0 {
		q.pending = q.pending[excess:]
		if q.metrics != nil {
			for i := 0; i < excess; i++ {
				q.metrics.IncrementDropped()
			}
		}
		q.logger.Warn("report queue overflow after failed flush, dropping oldest records",
			"dropped", excess,
			"capacity", q.capacity)
	}
	depth := len(q.pending)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SetQueueDepth(depth)
	}
}
