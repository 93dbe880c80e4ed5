// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/beewell/momentum/internal/adapters/mq/queue"
	workerpool "github.com/beewell/momentum/internal/adapters/mq/worker"
	repository "github.com/beewell/momentum/internal/adapters/repository"
	"github.com/beewell/momentum/internal/domain/classify"
	"github.com/beewell/momentum/internal/domain/dedupe"
	"github.com/beewell/momentum/internal/domain/intervene"
	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/internal/domain/scoring"
	"github.com/beewell/momentum/internal/domain/smoothing"
	"github.com/beewell/momentum/internal/domain/trend"
	"github.com/beewell/momentum/pkg/logger"
	"github.com/beewell/momentum/pkg/metrics"
)

// algorithmVersion is stamped on every snapshot so historic rows can be
// reinterpreted after a scoring change.
const algorithmVersion = "v1.0"

// Service wires the store, queue, workers and the scoring pipeline, and
// implements the API dependencies for the momentum engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	deduper    dedupe.Deduper
	eventQueue eventqueue.Queue
	workerPool *workerpool.Pool

	// Scoring pipeline
	calculator *scoring.Calculator
	normalizer *scoring.Normalizer
	smoother   *smoothing.Smoother
	analyzer   *trend.Analyzer
	classifier *classify.Classifier
	engine     *intervene.Engine

	// Configuration
	workerCount   int
	queueSize     int
	dedupeSize    int
	evalTimeout   time.Duration
	sweepTimeout  time.Duration
	sweepWorkers  int
	trendWindow   int
	historyDays   int
	halfLifeDays  float64
	lookbackDays  int
	eventWeights  map[string]float64
	defaultWeight float64
	midpoint      float64
	steepness     float64
	rising        float64
	needsCare     float64
	buffer        float64
	slopeCutoff   float64
	strongSlope   float64
	margin        float64
	twoTap        [2]float64
	threeTap      [3]float64
	ruleParams    intervene.RuleParams

	clock func() time.Time

	// State
	started bool
	stopCh  chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects a pre-built store (e.g. SQLite). When unset, Start
// creates an in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithWorkerCount sets the number of ingestion worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDecay sets the event half-life and lookback window, in days.
func WithDecay(halfLifeDays float64, lookbackDays int) Option {
	return func(s *Service) {
		if halfLifeDays > 0 {
			s.halfLifeDays = halfLifeDays
		}
		if lookbackDays > 0 {
			s.lookbackDays = lookbackDays
		}
	}
}

// WithEventWeights sets the per-type event weights and the fallback
// weight for unknown types.
func WithEventWeights(weights map[string]float64, defaultWeight float64) Option {
	return func(s *Service) {
		s.eventWeights = weights
		s.defaultWeight = defaultWeight
	}
}

// WithSigmoid sets the normalization curve parameters.
func WithSigmoid(midpoint, steepness float64) Option {
	return func(s *Service) {
		if steepness > 0 {
			s.midpoint = midpoint
			s.steepness = steepness
		}
	}
}

// WithThresholds sets the Rising and NeedsCare score thresholds.
func WithThresholds(rising, needsCare float64) Option {
	return func(s *Service) {
		if needsCare < rising {
			s.rising = rising
			s.needsCare = needsCare
		}
	}
}

// WithHysteresisBuffer sets the state exit buffer.
func WithHysteresisBuffer(buffer float64) Option {
	return func(s *Service) {
		if buffer >= 0 {
			s.buffer = buffer
		}
	}
}

// WithTrendTuning sets the stable/strong slope cutoffs and the override
// margin around thresholds.
func WithTrendTuning(slopeCutoff, strongSlope, margin float64) Option {
	return func(s *Service) {
		if slopeCutoff > 0 {
			s.slopeCutoff = slopeCutoff
		}
		if strongSlope > 0 {
			s.strongSlope = strongSlope
		}
		if margin >= 0 {
			s.margin = margin
		}
	}
}

// WithWindows sets how many daily snapshots feed the trend fit and the
// rule engine respectively.
func WithWindows(trendWindowDays, historyDays int) Option {
	return func(s *Service) {
		if trendWindowDays > 0 {
			s.trendWindow = trendWindowDays
		}
		if historyDays > 0 {
			s.historyDays = historyDays
		}
	}
}

// WithRuleParams sets the intervention rule tuning.
func WithRuleParams(p intervene.RuleParams) Option {
	return func(s *Service) {
		s.ruleParams = p
	}
}

// WithEvalTimeout bounds a single user evaluation.
func WithEvalTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.evalTimeout = d
		}
	}
}

// WithSweepTimeout bounds a full batch sweep in wall-clock time.
func WithSweepTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepTimeout = d
		}
	}
}

// WithSmoothingTaps sets the FIR blends applied with one prior day and
// with two or more prior days. Slices of the wrong length are ignored.
func WithSmoothingTaps(twoTap, threeTap []float64) Option {
	return func(s *Service) {
		if len(twoTap) == 2 {
			s.twoTap = [2]float64{twoTap[0], twoTap[1]}
		}
		if len(threeTap) == 3 {
			s.threeTap = [3]float64{threeTap[0], threeTap[1], threeTap[2]}
		}
	}
}

// WithSweepWorkers bounds sweep parallelism.
func WithSweepWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepWorkers = n
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  runtime.NumCPU() * 2,
		queueSize:    100_000,
		dedupeSize:   500_000,
		evalTimeout:  300 * time.Millisecond,
		sweepTimeout: 10 * time.Minute,
		sweepWorkers: 16,
		trendWindow:  7,
		historyDays:  7,
		halfLifeDays: 10,
		lookbackDays: 30,
		eventWeights: map[string]float64{
			"app_open":        1.0,
			"lesson_complete": 3.0,
			"journal_entry":   2.0,
		},
		defaultWeight: 1.0,
		midpoint:      15.0,
		steepness:     0.3,
		rising:        70.0,
		needsCare:     45.0,
		buffer:        2.0,
		slopeCutoff:   2.0,
		strongSlope:   3.0,
		margin:        5.0,
		twoTap:        [2]float64{0.7, 0.3},
		threeTap:      [3]float64{0.5, 0.3, 0.2},
		ruleParams:    intervene.DefaultRuleParams(),
		clock:         time.Now,
		stopCh:        make(chan struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting momentum service...")

	// Initialize components
	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using in-memory store")
	}
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
	)

	s.calculator = scoring.NewCalculator(
		scoring.WithHalfLife(s.halfLifeDays),
		scoring.WithLookback(s.lookbackDays),
		scoring.WithWeights(s.eventWeights, s.defaultWeight),
	)
	s.normalizer = scoring.NewNormalizer(
		scoring.WithMidpoint(s.midpoint),
		scoring.WithSteepness(s.steepness),
	)
	s.smoother = smoothing.NewSmoother(
		smoothing.WithTwoTap(s.twoTap[0], s.twoTap[1]),
		smoothing.WithThreeTap(s.threeTap[0], s.threeTap[1], s.threeTap[2]),
	)
	s.analyzer = trend.NewAnalyzer(
		trend.WithSlopeCutoff(s.slopeCutoff),
		trend.WithThresholds(s.rising, s.needsCare),
	)
	s.classifier = classify.NewClassifier(
		classify.WithThresholds(s.rising, s.needsCare),
		classify.WithHysteresisBuffer(s.buffer),
		classify.WithTrendOverride(s.strongSlope, s.margin),
	)
	// The store is the rate limiter: a trigger is a conditional write.
	s.engine = intervene.NewEngine(s.store,
		intervene.WithRules(intervene.DefaultRules(s.ruleParams)),
		intervene.WithLogger(s.logger),
	)

	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.store, s)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "momentum service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping momentum service...")

	// Stop worker pool
	if s.workerPool != nil {
		s.workerPool.Stop()
	}

	// Close queue
	if s.eventQueue != nil {
		_ = s.eventQueue.Close()
	}

	// Close store
	if s.store != nil {
		_ = s.store.Close()
	}

	// Signal cleanup loop to stop
	select {
	case <-s.stopCh:
		// Channel already closed
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(context.Background(), "momentum service stopped")
}

// SeenAndRecord atomically checks if an event id was seen and records it if not.
// Returns true if the event was already seen, false if it was newly recorded.
// This is the ONLY method for deduplication - thread-safe and atomic.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordEventDuplicate()
	}
	return seen
}

// Unrecord removes an event ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Enqueue submits an event for asynchronous processing. Returns false
// when the event is malformed or the queue rejected it.
func (s *Service) Enqueue(ctx context.Context, e model.Event) bool {
	if e.EventID == "" || e.UserID == "" || e.Type == "" || e.TS.IsZero() {
		metrics.RecordEventMalformed()
		s.logger.Warn(ctx, "rejecting malformed event",
			logger.String("eventID", e.EventID),
			logger.String("userID", e.UserID),
		)
		return false
	}

	ok := s.eventQueue.Enqueue(ctx, e)
	if ok {
		metrics.UpdateQueueSize(s.eventQueue.Len(ctx))
	}
	return ok
}

// EvaluateUser recomputes a user's momentum as of the given instant.
// It adapts the full evaluation to the worker pool's contract.
func (s *Service) EvaluateUser(ctx context.Context, userID string, asOf time.Time) error {
	_, _, err := s.Evaluate(ctx, userID, asOf)
	return err
}

// Momentum returns the user's latest snapshot.
func (s *Service) Momentum(ctx context.Context, userID string) (model.ScoreSnapshot, error) {
	return s.store.LatestSnapshot(ctx, userID)
}

// History returns up to days of the user's most recent snapshots,
// newest first, one per calendar date.
func (s *Service) History(ctx context.Context, userID string, days int) ([]model.ScoreSnapshot, error) {
	if days < 1 {
		days = s.historyDays
	}
	return s.store.RecentSnapshots(ctx, userID, days)
}

// Interventions returns the user's most recent intervention records,
// newest first.
func (s *Service) Interventions(ctx context.Context, userID string, n int) ([]model.InterventionRecord, error) {
	if n < 1 {
		n = 20
	}
	return s.store.RecentInterventions(ctx, userID, n)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		metrics.UpdateQueueSize(queueLen)

		if users, err := s.store.Users(ctx); err == nil {
			stats["totalUsers"] = len(users)
		}
	}

	return stats
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}
