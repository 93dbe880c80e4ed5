// Package worker drains the ingestion queue: each event is persisted
// and the affected user's momentum is re-evaluated.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/beewell/momentum/internal/adapters/mq/queue"
	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/pkg/logger"
	"github.com/beewell/momentum/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	workerShutdownTimeout   = 5 * time.Second
)

// Event is what workers read off the queue.
type Event = model.Event

// EventWriter persists incoming engagement events.
type EventWriter interface {
	AppendEvent(ctx context.Context, e model.Event) error
}

// Evaluator recomputes a user's momentum as of an instant.
type Evaluator interface {
	EvaluateUser(ctx context.Context, userID string, asOf time.Time) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events using the provided interfaces.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker, processing any event
	// already in flight.
	Shutdown(ctx context.Context) error
}

// IngestWorker implements Worker for processing engagement events.
type IngestWorker struct {
	queue     Queue
	writer    EventWriter
	evaluator Evaluator
	name      string
	clock     func() time.Time

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewIngestWorker creates a new worker with configuration options.
func NewIngestWorker(q Queue, writer EventWriter, evaluator Evaluator, opts ...Option) *IngestWorker {
	w := &IngestWorker{
		queue:     q,
		writer:    writer,
		evaluator: evaluator,
		name:      "worker",
		clock:     time.Now,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *IngestWorker) Run(ctx context.Context) {
	defer close(w.done)

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Error(ctx, "error processing event", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *IngestWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent persists a single event and re-evaluates the user.
func (w *IngestWorker) processEvent(ctx context.Context, event queue.Event) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.writer.AppendEvent(ctx, event); err != nil {
		metrics.RecordWorkerError()
		w.logger.Error(ctx, "event persistence failed",
			logger.String("eventID", event.EventID),
			logger.String("userID", event.UserID),
			logger.Error(err),
		)
		return fmt.Errorf("append event %s: %w", event.EventID, err)
	}

	if err := w.evaluator.EvaluateUser(ctx, event.UserID, w.clock()); err != nil {
		metrics.RecordWorkerError()
		w.logger.Error(ctx, "momentum evaluation failed",
			logger.String("eventID", event.EventID),
			logger.String("userID", event.UserID),
			logger.Error(err),
		)
		return fmt.Errorf("evaluate user %s: %w", event.UserID, err)
	}

	metrics.RecordEventIngested()
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers   []*IngestWorker
	queue     Queue
	writer    EventWriter
	evaluator Evaluator

	// Shutdown control
	shutdown chan struct{}

	// Logging
	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, writer EventWriter, evaluator Evaluator) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:   make([]*IngestWorker, workerCount),
		queue:     q,
		writer:    writer,
		evaluator: evaluator,
		shutdown:  make(chan struct{}),
		logger:    logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewIngestWorker(
			q,
			writer,
			evaluator,
			WithName("worker-"+strconv.Itoa(i)),
		)
	}

	metrics.UpdateWorkerActiveCount(workerCount)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	close(p.shutdown)

	for _, w := range p.workers {
		close(w.shutdown)
	}
	for _, w := range p.workers {
		select {
		case <-w.done:
			// worker finished
		case <-time.After(workerShutdownTimeout):
			p.logger.Warn(context.Background(), "worker stop timed out",
				logger.String("worker", w.name))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
}

// Shutdown closes the queue and waits for all workers to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			return fmt.Errorf("worker %s: %w", w.name, err)
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
