package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/beewell/momentum/internal/adapters/http/api"
	"github.com/beewell/momentum/internal/adapters/repository"
	app "github.com/beewell/momentum/internal/app"
	"github.com/beewell/momentum/internal/config"
	"github.com/beewell/momentum/internal/domain/intervene"
	"github.com/beewell/momentum/pkg/logger"
	"github.com/beewell/momentum/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	opts := []app.Option{
		app.WithLogger(loggerInstance),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithDecay(cfg.HalfLifeDays, cfg.LookbackDays),
		app.WithEventWeights(cfg.EventWeights, cfg.DefaultEventWeight),
		app.WithSigmoid(cfg.SigmoidMidpoint, cfg.SigmoidSteepness),
		app.WithThresholds(cfg.RisingThreshold, cfg.NeedsCareThreshold),
		app.WithHysteresisBuffer(cfg.HysteresisBuffer),
		app.WithTrendTuning(cfg.TrendSlopeCutoff, cfg.StrongSlopeCutoff, cfg.OverrideMargin),
		app.WithWindows(cfg.TrendWindowDays, cfg.HistoryDays),
		app.WithRuleParams(ruleParams(cfg.Rules)),
		app.WithEvalTimeout(time.Duration(cfg.EvalTimeoutMS) * time.Millisecond),
		app.WithSweepWorkers(cfg.SweepWorkers),
		app.WithSweepTimeout(time.Duration(cfg.SweepTimeoutSec) * time.Second),
		app.WithSmoothingTaps(cfg.SmoothingTwoTap, cfg.SmoothingThreeTap),
	}

	if cfg.StoreBackend == "sqlite" {
		store, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			os.Stderr.WriteString("failed to open sqlite store: " + err.Error() + "\n")
			return
		}
		loggerInstance.Info(ctx, "using sqlite store", logger.String("path", cfg.SQLitePath))
		opts = append(opts, app.WithStore(store))
	}

	// Create and start the service with configuration options
	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// Start service metrics updater
	go startServiceMetricsUpdater(ctx, svc)

	// Optional periodic sweep
	if cfg.SweepIntervalMin > 0 {
		go startSweepScheduler(ctx, svc, time.Duration(cfg.SweepIntervalMin)*time.Minute, loggerInstance)
	}

	// HTTP mux and routes.
	mux := http.NewServeMux()

	// Register business API routes with the service dependency.
	apiServer := api.NewServer(svc, svc)
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
}

// ruleParams maps the config rule block onto the engine's tuning.
func ruleParams(r config.Rules) intervene.RuleParams {
	return intervene.RuleParams{
		NeedsCareDays:        r.ConsecutiveNeedsCareDays,
		ScoreDropPoints:      r.ScoreDropPoints,
		ScoreDropDays:        r.ScoreDropDays,
		RisingRequired:       r.SustainedRisingRequired,
		RisingWindow:         r.SustainedRisingWindow,
		IrregularTransitions: r.IrregularTransitions,
		IrregularWindow:      r.IrregularWindow,
		CoachLimit:           ruleLimit(r.ConsecutiveNeedsCare),
		SupportiveLimit:      ruleLimit(r.ScoreDrop),
		CelebrationLimit:     ruleLimit(r.SustainedRising),
		ConsistencyLimit:     ruleLimit(r.IrregularPattern),
	}
}

func ruleLimit(l config.RuleLimit) intervene.RateLimit {
	return intervene.RateLimit{
		MaxPerDay:  l.MaxPerDay,
		MinBetween: time.Duration(l.MinHoursBetween * float64(time.Hour)),
	}
}

// startSweepScheduler runs full sweeps on a fixed interval.
func startSweepScheduler(ctx context.Context, svc *app.Service, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Sweep(ctx, time.Now().UTC()); err != nil {
				log.Error(ctx, "scheduled sweep failed", logger.Error(err))
			}
		}
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	// GetStats already publishes queue gauges as a side effect.
	stats := svc.GetStats()

	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerActiveCount(workerCount)
	}
}
