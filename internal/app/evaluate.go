package service

import (
	"context"
	"time"

	"github.com/beewell/momentum/internal/domain/intervene"
	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/pkg/logger"
	"github.com/beewell/momentum/pkg/metrics"
)

// smoothingTaps is how many prior daily scores the FIR smoother blends.
const smoothingTaps = 2

// Evaluate runs the full scoring pipeline for one user as of the given
// instant: raw weighted decay over the lookback window, sigmoid
// normalization, FIR smoothing against prior days, trend fit, state
// classification with hysteresis, and finally the intervention rules.
//
// The resulting snapshot is appended to the store; recomputing the same
// date appends a fresh row and readers see the latest. Evaluations
// older than the user's newest snapshot are rejected with
// ErrStaleEvaluation so history never moves backwards.
func (s *Service) Evaluate(ctx context.Context, userID string, asOf time.Time) (model.ScoreSnapshot, []model.InterventionRecord, error) {
	if !s.isStarted() {
		return model.ScoreSnapshot{}, nil, ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, s.evalTimeout)
	defer cancel()

	start := s.clock()
	snap, recs, err := s.evaluate(ctx, userID, asOf)
	if err != nil {
		metrics.RecordEvaluationError()
		return model.ScoreSnapshot{}, nil, err
	}

	metrics.RecordEvaluation()
	metrics.RecordEvaluationLatency(float64(s.clock().Sub(start).Milliseconds()))
	return snap, recs, nil
}

func (s *Service) evaluate(ctx context.Context, userID string, asOf time.Time) (model.ScoreSnapshot, []model.InterventionRecord, error) {
	date := model.DateOf(asOf)

	// Reject backdated work. Same-date recomputation is fine.
	if latest, err := s.store.LatestSnapshot(ctx, userID); err == nil && latest.Date > date {
		return model.ScoreSnapshot{}, nil, ErrStaleEvaluation
	}

	events, err := s.store.EventsSince(ctx, userID, asOf.Add(-s.calculator.Lookback()))
	if err != nil {
		return model.ScoreSnapshot{}, nil, err
	}

	raw := s.calculator.RawScore(asOf, events)
	normalized := s.normalizer.Normalize(raw)

	// Prior finals come from strictly earlier dates so recomputing a
	// day never blends a score with its own earlier draft.
	priors, err := s.priorSnapshots(ctx, userID, date)
	if err != nil {
		return model.ScoreSnapshot{}, nil, err
	}
	final := s.smoother.Smooth(normalized, priorFinals(priors, smoothingTaps))

	trendScores := append([]float64{final}, priorFinals(priors, s.trendWindow-1)...)
	tr := s.analyzer.Analyze(trendScores)

	var prev *model.MomentumState
	if len(priors) > 0 {
		prev = &priors[0].State
	}
	state := s.classifier.Classify(final, prev, tr)

	snap := model.ScoreSnapshot{
		UserID:           userID,
		Date:             date,
		RawScore:         raw,
		NormalizedScore:  normalized,
		FinalScore:       final,
		State:            state,
		Trend:            tr,
		EventsCount:      contributing(events, asOf),
		AlgorithmVersion: algorithmVersion,
		CreatedAt:        s.clock(),
	}
	if err := s.store.AppendSnapshot(ctx, snap); err != nil {
		return model.ScoreSnapshot{}, nil, err
	}
	metrics.RecordSnapshotWritten()

	history := append(intervene.History{snap}, priors...)
	if len(history) > s.historyDays {
		history = history[:s.historyDays]
	}

	recs := s.engine.Evaluate(ctx, userID, history, s.clock())
	for _, rec := range recs {
		if err := s.store.AppendIntervention(ctx, rec); err != nil {
			// Give back the rate-limit slot: the limit must never count
			// a firing that left no record, and a retry of this cycle
			// has to be able to emit it. The release survives this
			// evaluation's deadline.
			if rerr := s.store.Release(context.WithoutCancel(ctx), rec.UserID, rec.Type); rerr != nil {
				s.logger.Error(ctx, "failed to release rate-limit slot",
					logger.String("userID", userID),
					logger.String("type", string(rec.Type)),
					logger.Error(rerr),
				)
			}
			s.logger.Error(ctx, "failed to persist intervention",
				logger.String("userID", userID),
				logger.String("type", string(rec.Type)),
				logger.Error(err),
			)
			return snap, recs, err
		}
	}

	s.logger.Debug(ctx, "evaluated user",
		logger.String("userID", userID),
		logger.String("date", date),
		logger.Float64("finalScore", final),
		logger.String("state", string(state)),
		logger.Int("interventions", len(recs)),
	)
	return snap, recs, nil
}

// priorSnapshots returns the newest-first snapshots strictly before date.
func (s *Service) priorSnapshots(ctx context.Context, userID, date string) ([]model.ScoreSnapshot, error) {
	// Fetch one extra in case today already has a snapshot.
	all, err := s.store.RecentSnapshots(ctx, userID, s.historyDays+1)
	if err != nil {
		return nil, err
	}
	priors := all[:0:0]
	for _, snap := range all {
		if snap.Date < date {
			priors = append(priors, snap)
		}
	}
	if len(priors) > s.historyDays {
		priors = priors[:s.historyDays]
	}
	return priors, nil
}

func priorFinals(priors []model.ScoreSnapshot, n int) []float64 {
	if n > len(priors) {
		n = len(priors)
	}
	if n <= 0 {
		return nil
	}
	finals := make([]float64, n)
	for i := 0; i < n; i++ {
		finals[i] = priors[i].FinalScore
	}
	return finals
}

// contributing counts events that fall inside the scoring window, i.e.
// not in the future relative to asOf. EventsSince already bounds the
// past side.
func contributing(events []model.Event, asOf time.Time) int {
	n := 0
	for _, e := range events {
		if !e.TS.After(asOf) {
			n++
		}
	}
	return n
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
