package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/pkg/logger"
	"github.com/beewell/momentum/pkg/metrics"
)

// SweepSummary reports the outcome of a batch evaluation pass.
type SweepSummary struct {
	Users         int           `json:"users"`
	Processed     int           `json:"processed"`
	Failed        int           `json:"failed"`
	Interventions int           `json:"interventions"`
	Duration      time.Duration `json:"duration_ns"`
}

// Sweep evaluates every known user as of the given instant. Users are
// processed concurrently under a bounded worker count; one user's
// failure never aborts the pass, but cancelling ctx stops scheduling
// further users. The whole pass runs under the configured wall-clock
// timeout.
func (s *Service) Sweep(ctx context.Context, asOf time.Time) (SweepSummary, error) {
	if !s.isStarted() {
		return SweepSummary{}, ErrNotStarted
	}

	if s.sweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sweepTimeout)
		defer cancel()
	}

	start := s.clock()
	users, err := s.store.Users(ctx)
	if err != nil {
		return SweepSummary{}, err
	}

	var (
		wg            sync.WaitGroup
		processed     atomic.Int64
		failed        atomic.Int64
		interventions atomic.Int64
	)
	sem := make(chan struct{}, s.sweepWorkers)

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			_, recs, err := s.Evaluate(ctx, userID, asOf)
			if err != nil {
				failed.Add(1)
				metrics.RecordSweepFailure()
				s.logger.Warn(ctx, "sweep: user evaluation failed",
					logger.String("userID", userID),
					logger.Error(err),
				)
				return
			}
			processed.Add(1)
			interventions.Add(int64(len(recs)))
		}(userID)
	}
	wg.Wait()

	summary := SweepSummary{
		Users:         len(users),
		Processed:     int(processed.Load()),
		Failed:        int(failed.Load()),
		Interventions: int(interventions.Load()),
		Duration:      s.clock().Sub(start),
	}

	metrics.RecordSweep()
	metrics.RecordSweepDuration(float64(summary.Duration.Milliseconds()))
	metrics.UpdateSweepUsers(summary.Users)

	s.logger.Info(ctx, "sweep finished",
		logger.Int("users", summary.Users),
		logger.Int("processed", summary.Processed),
		logger.Int("failed", summary.Failed),
		logger.Int("interventions", summary.Interventions),
		logger.Duration("duration", summary.Duration),
	)
	return summary, ctx.Err()
}

// BackfillSummary reports the outcome of a history backfill.
type BackfillSummary struct {
	Users   int  `json:"users"`
	Created int  `json:"created"`
	Skipped int  `json:"skipped"`
	DryRun  bool `json:"dry_run"`
}

// Backfill fills missing daily snapshots for every known user over the
// trailing days before asOf. Missing dates get a quiet-day row: zero
// raw score pushed through the same normalization and classification
// as live evaluation, with a neutral trend. Dates that already have a
// snapshot are left alone. With dryRun set, nothing is written.
func (s *Service) Backfill(ctx context.Context, asOf time.Time, days int, dryRun bool) (BackfillSummary, error) {
	if !s.isStarted() {
		return BackfillSummary{}, ErrNotStarted
	}
	if days < 1 {
		days = s.historyDays
	}

	users, err := s.store.Users(ctx)
	if err != nil {
		return BackfillSummary{}, err
	}

	summary := BackfillSummary{Users: len(users), DryRun: dryRun}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		created, skipped, err := s.backfillUser(ctx, userID, asOf, days, dryRun)
		if err != nil {
			return summary, err
		}
		summary.Created += created
		summary.Skipped += skipped
	}

	s.logger.Info(ctx, "backfill finished",
		logger.Int("users", summary.Users),
		logger.Int("created", summary.Created),
		logger.Int("skipped", summary.Skipped),
		logger.Any("dryRun", dryRun),
	)
	return summary, nil
}

func (s *Service) backfillUser(ctx context.Context, userID string, asOf time.Time, days int, dryRun bool) (created, skipped int, err error) {
	for d := days; d >= 1; d-- {
		day := asOf.AddDate(0, 0, -d)
		date := model.DateOf(day)

		ok, err := s.store.HasSnapshot(ctx, userID, date)
		if err != nil {
			return created, skipped, err
		}
		if ok {
			skipped++
			continue
		}
		if dryRun {
			created++
			continue
		}

		normalized := s.normalizer.Normalize(0)
		tr := model.NeutralTrend()
		snap := model.ScoreSnapshot{
			UserID:           userID,
			Date:             date,
			RawScore:         0,
			NormalizedScore:  normalized,
			FinalScore:       normalized,
			State:            s.classifier.Classify(normalized, nil, tr),
			Trend:            tr,
			EventsCount:      0,
			AlgorithmVersion: algorithmVersion,
			CreatedAt:        s.clock(),
		}
		if err := s.store.AppendSnapshot(ctx, snap); err != nil {
			return created, skipped, err
		}
		metrics.RecordSnapshotWritten()
		created++
	}
	return created, skipped, nil
}
