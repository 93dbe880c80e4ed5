package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beewell/momentum/internal/adapters/repository"
	service "github.com/beewell/momentum/internal/app"
	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/internal/domain/scoring"
	"github.com/beewell/momentum/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(8),
			service.WithQueueSize(50_000),
			service.WithDedupeSize(25_000),
			service.WithDecay(14, 60),
			service.WithSigmoid(20, 0.25),
			service.WithThresholds(75, 40),
		)

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New()
		defer svc.Stop()

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
			})

			Convey("And it should be marked as started", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
			})

			Convey("And starting again should be a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})

		Convey("When stopping the service", func() {
			ctx := context.Background()
			So(svc.Start(ctx), ShouldBeNil)
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_SeenAndRecord(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithWorkerCount(1))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When checking a new event ID", func() {
			seen := svc.SeenAndRecord(ctx, "event-123")

			Convey("Then it should not have been seen before", func() {
				So(seen, ShouldBeFalse)
			})
		})

		Convey("When checking the same event ID again", func() {
			svc.SeenAndRecord(ctx, "event-456")
			seen := svc.SeenAndRecord(ctx, "event-456")

			Convey("Then it should have been seen before", func() {
				So(seen, ShouldBeTrue)
			})
		})

		Convey("When unrecording an event ID", func() {
			So(svc.SeenAndRecord(ctx, "event-789"), ShouldBeFalse)
			svc.Unrecord(ctx, "event-789")

			Convey("Then it can be recorded again", func() {
				So(svc.SeenAndRecord(ctx, "event-789"), ShouldBeFalse)
			})
		})
	})
}

func TestService_Enqueue(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithWorkerCount(1))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When enqueueing a valid event", func() {
			ok := svc.Enqueue(ctx, model.Event{
				EventID: "evt-1",
				UserID:  "user-1",
				Type:    "app_open",
				TS:      time.Now().UTC(),
			})

			Convey("Then it should be accepted", func() {
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When enqueueing a malformed event", func() {
			ok := svc.Enqueue(ctx, model.Event{UserID: "user-1"})

			Convey("Then it should be rejected", func() {
				So(ok, ShouldBeFalse)
			})
		})
	})
}

// fixedClock returns a clock pinned to t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestService_Evaluate(t *testing.T) {
	Convey("Given a started service with a seeded store", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithStore(store),
			service.WithClock(fixedClock(now)),
			service.WithWorkerCount(1),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When evaluating a heavily engaged user", func() {
			// A full week of lessons, journals and app opens.
			for d := 0; d < 7; d++ {
				day := now.Add(-time.Duration(d) * 24 * time.Hour)
				for i, eventType := range []string{"lesson_complete", "journal_entry", "app_open"} {
					So(store.AppendEvent(ctx, model.Event{
						EventID: model.DateOf(day) + "-" + eventType,
						UserID:  "active-user",
						Type:    eventType,
						TS:      day.Add(-time.Duration(i) * time.Minute),
					}), ShouldBeNil)
				}
			}

			snap, recs, err := svc.Evaluate(ctx, "active-user", now)

			Convey("Then the user should score high and be Rising", func() {
				So(err, ShouldBeNil)
				So(snap.UserID, ShouldEqual, "active-user")
				So(snap.Date, ShouldEqual, "2026-08-20")
				So(snap.RawScore, ShouldBeGreaterThan, 30)
				So(snap.FinalScore, ShouldBeGreaterThan, 95)
				So(snap.State, ShouldEqual, model.StateRising)
				So(snap.EventsCount, ShouldEqual, 21)
				So(snap.AlgorithmVersion, ShouldNotBeEmpty)
			})

			Convey("And no interventions should fire on a single snapshot", func() {
				So(err, ShouldBeNil)
				So(recs, ShouldBeEmpty)
			})
		})

		Convey("When evaluating a user with no recent events", func() {
			So(store.AppendEvent(ctx, model.Event{
				EventID: "old-evt",
				UserID:  "quiet-user",
				Type:    "app_open",
				TS:      now.Add(-40 * 24 * time.Hour), // outside the lookback
			}), ShouldBeNil)

			snap, _, err := svc.Evaluate(ctx, "quiet-user", now)

			Convey("Then the user should score near zero and need care", func() {
				So(err, ShouldBeNil)
				So(snap.RawScore, ShouldEqual, 0)
				So(snap.FinalScore, ShouldBeLessThan, 5)
				So(snap.State, ShouldEqual, model.StateNeedsCare)
				So(snap.EventsCount, ShouldEqual, 0)
			})

			Convey("And the trend should be neutral with sparse history", func() {
				So(err, ShouldBeNil)
				So(snap.Trend.Direction, ShouldEqual, model.TrendStable)
				So(snap.Trend.Confidence, ShouldEqual, 0.5)
			})
		})

		Convey("When events sit in the future", func() {
			So(store.AppendEvent(ctx, model.Event{
				EventID: "future-evt",
				UserID:  "future-user",
				Type:    "lesson_complete",
				TS:      now.Add(24 * time.Hour),
			}), ShouldBeNil)

			snap, _, err := svc.Evaluate(ctx, "future-user", now)

			Convey("Then they should not contribute to the score", func() {
				So(err, ShouldBeNil)
				So(snap.RawScore, ShouldEqual, 0)
				So(snap.EventsCount, ShouldEqual, 0)
			})
		})

		Convey("When evaluating twice for the same date", func() {
			_, _, err := svc.Evaluate(ctx, "repeat-user", now)
			So(err, ShouldBeNil)
			snap, _, err := svc.Evaluate(ctx, "repeat-user", now)

			Convey("Then the recompute should succeed", func() {
				So(err, ShouldBeNil)
				So(snap.Date, ShouldEqual, "2026-08-20")
			})

			Convey("And the history should still hold one row for the date", func() {
				So(err, ShouldBeNil)
				snaps, err := svc.History(ctx, "repeat-user", 7)
				So(err, ShouldBeNil)
				So(len(snaps), ShouldEqual, 1)
			})
		})

		Convey("When evaluating for a date before the latest snapshot", func() {
			_, _, err := svc.Evaluate(ctx, "ordered-user", now)
			So(err, ShouldBeNil)

			_, _, err = svc.Evaluate(ctx, "ordered-user", now.Add(-48*time.Hour))

			Convey("Then the stale evaluation should be rejected", func() {
				So(err, ShouldEqual, service.ErrStaleEvaluation)
			})
		})
	})
}

func TestService_Interventions(t *testing.T) {
	Convey("Given a user sliding into consecutive NeedsCare days", t, func() {
		ctx := context.Background()
		day1 := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
		day2 := day1.Add(24 * time.Hour)
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithStore(store),
			service.WithClock(fixedClock(day2)),
			service.WithWorkerCount(1),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When two quiet days are evaluated in order", func() {
			_, recs1, err := svc.Evaluate(ctx, "slipping-user", day1)
			So(err, ShouldBeNil)
			So(recs1, ShouldBeEmpty)

			_, recs2, err := svc.Evaluate(ctx, "slipping-user", day2)
			So(err, ShouldBeNil)

			Convey("Then coach outreach should fire on the second day", func() {
				So(len(recs2), ShouldEqual, 1)
				So(recs2[0].Type, ShouldEqual, model.InterventionCoach)
				So(recs2[0].Priority, ShouldEqual, model.PriorityHigh)
				So(recs2[0].UserID, ShouldEqual, "slipping-user")
				So(recs2[0].Title, ShouldNotBeEmpty)
				So(recs2[0].Message, ShouldNotBeEmpty)
			})

			Convey("And the record should be readable back", func() {
				So(len(recs2), ShouldEqual, 1)
				got, err := svc.Interventions(ctx, "slipping-user", 10)
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 1)
				So(got[0].ID, ShouldEqual, recs2[0].ID)
			})

			Convey("And re-evaluating the same day should be rate limited", func() {
				_, recs3, err := svc.Evaluate(ctx, "slipping-user", day2)
				So(err, ShouldBeNil)
				So(recs3, ShouldBeEmpty)
			})
		})
	})
}

// flakyStore fails AppendIntervention a set number of times before
// delegating to the wrapped store.
type flakyStore struct {
	repository.Store
	failures int
}

func (s *flakyStore) AppendIntervention(ctx context.Context, rec model.InterventionRecord) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("write failed")
	}
	return s.Store.AppendIntervention(ctx, rec)
}

func TestService_InterventionPersistRetry(t *testing.T) {
	Convey("Given a store whose next intervention write fails", t, func() {
		ctx := context.Background()
		day1 := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
		day2 := day1.Add(24 * time.Hour)
		store := &flakyStore{Store: repository.NewMemoryStore(), failures: 1}
		svc := service.New(
			service.WithStore(store),
			service.WithClock(fixedClock(day2)),
			service.WithWorkerCount(1),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, recs1, err := svc.Evaluate(ctx, "slipping-user", day1)
		So(err, ShouldBeNil)
		So(recs1, ShouldBeEmpty)

		Convey("When the second NeedsCare day triggers coach outreach", func() {
			_, _, err := svc.Evaluate(ctx, "slipping-user", day2)

			Convey("Then the evaluation should surface the write failure", func() {
				So(err, ShouldNotBeNil)
			})

			Convey("Then a retry should fire and persist the record", func() {
				So(err, ShouldNotBeNil)
				_, recs, err := svc.Evaluate(ctx, "slipping-user", day2)
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 1)
				So(recs[0].Type, ShouldEqual, model.InterventionCoach)

				got, err := svc.Interventions(ctx, "slipping-user", 10)
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 1)
				So(got[0].ID, ShouldEqual, recs[0].ID)
			})
		})
	})
}

func TestService_Sweep(t *testing.T) {
	Convey("Given a started service with two known users", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithStore(store),
			service.WithClock(fixedClock(now)),
			service.WithWorkerCount(1),
			service.WithSweepWorkers(2),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		So(store.AppendEvent(ctx, model.Event{EventID: "e1", UserID: "u1", Type: "app_open", TS: now.Add(-time.Hour)}), ShouldBeNil)
		So(store.AppendEvent(ctx, model.Event{EventID: "e2", UserID: "u2", Type: "lesson_complete", TS: now.Add(-time.Hour)}), ShouldBeNil)

		Convey("When sweeping", func() {
			summary, err := svc.Sweep(ctx, now)

			Convey("Then every user should be processed", func() {
				So(err, ShouldBeNil)
				So(summary.Users, ShouldEqual, 2)
				So(summary.Processed, ShouldEqual, 2)
				So(summary.Failed, ShouldEqual, 0)
			})

			Convey("And each user should have a snapshot", func() {
				So(err, ShouldBeNil)
				for _, userID := range []string{"u1", "u2"} {
					snap, err := svc.Momentum(ctx, userID)
					So(err, ShouldBeNil)
					So(snap.Date, ShouldEqual, "2026-08-20")
				}
			})
		})
	})
}

// slowStore adds a fixed delay to EventsSince so sweeps take real time.
type slowStore struct {
	repository.Store
	delay time.Duration
}

func (s *slowStore) EventsSince(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	time.Sleep(s.delay)
	return s.Store.EventsSince(ctx, userID, since)
}

func TestService_SweepTimeout(t *testing.T) {
	Convey("Given a sweep budget shorter than one user's evaluation", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
		mem := repository.NewMemoryStore()
		store := &slowStore{Store: mem, delay: 25 * time.Millisecond}
		svc := service.New(
			service.WithStore(store),
			service.WithClock(fixedClock(now)),
			service.WithWorkerCount(1),
			service.WithSweepWorkers(1),
			service.WithSweepTimeout(time.Millisecond),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		So(mem.AppendEvent(ctx, model.Event{EventID: "e1", UserID: "u1", Type: "app_open", TS: now.Add(-time.Hour)}), ShouldBeNil)
		So(mem.AppendEvent(ctx, model.Event{EventID: "e2", UserID: "u2", Type: "app_open", TS: now.Add(-time.Hour)}), ShouldBeNil)

		Convey("When sweeping", func() {
			_, err := svc.Sweep(ctx, now)

			Convey("Then the pass should stop on the deadline", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})
}

func TestService_SmoothingTaps(t *testing.T) {
	Convey("Given yesterday's snapshot and custom smoothing weights", t, func() {
		ctx := context.Background()
		day2 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithStore(store),
			service.WithClock(fixedClock(day2)),
			service.WithWorkerCount(1),
			service.WithSmoothingTaps([]float64{0.5, 0.5}, []float64{0.5, 0.25, 0.25}),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		So(store.AppendSnapshot(ctx, model.ScoreSnapshot{
			UserID:           "tuned-user",
			Date:             "2026-08-19",
			FinalScore:       60,
			State:            model.StateSteady,
			Trend:            model.NeutralTrend(),
			AlgorithmVersion: "v1.0",
			CreatedAt:        day2.Add(-24 * time.Hour),
		}), ShouldBeNil)

		Convey("When evaluating a quiet day", func() {
			snap, _, err := svc.Evaluate(ctx, "tuned-user", day2)

			Convey("Then the blend should use the configured weights", func() {
				So(err, ShouldBeNil)
				normalized := scoring.NewNormalizer().Normalize(0)
				So(snap.FinalScore, ShouldAlmostEqual, 0.5*normalized+0.5*60, 1e-9)
			})
		})
	})
}

func TestService_Backfill(t *testing.T) {
	Convey("Given a user with only today's snapshot", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithStore(store),
			service.WithClock(fixedClock(now)),
			service.WithWorkerCount(1),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		_, _, err := svc.Evaluate(ctx, "gappy-user", now)
		So(err, ShouldBeNil)

		Convey("When backfilling three days as a dry run", func() {
			summary, err := svc.Backfill(ctx, now, 3, true)

			Convey("Then it should count rows without writing them", func() {
				So(err, ShouldBeNil)
				So(summary.Created, ShouldEqual, 3)
				So(summary.Skipped, ShouldEqual, 0)
				So(summary.DryRun, ShouldBeTrue)

				snaps, err := svc.History(ctx, "gappy-user", 10)
				So(err, ShouldBeNil)
				So(len(snaps), ShouldEqual, 1)
			})
		})

		Convey("When backfilling three days for real", func() {
			summary, err := svc.Backfill(ctx, now, 3, false)

			Convey("Then the missing dates should be filled with quiet rows", func() {
				So(err, ShouldBeNil)
				So(summary.Created, ShouldEqual, 3)

				snaps, err := svc.History(ctx, "gappy-user", 10)
				So(err, ShouldBeNil)
				So(len(snaps), ShouldEqual, 4)
				So(snaps[len(snaps)-1].Date, ShouldEqual, "2026-08-17")
				So(snaps[len(snaps)-1].EventsCount, ShouldEqual, 0)
				So(snaps[len(snaps)-1].State, ShouldEqual, model.StateNeedsCare)
			})

			Convey("And a second backfill should skip everything", func() {
				So(err, ShouldBeNil)
				again, err := svc.Backfill(ctx, now, 3, false)
				So(err, ShouldBeNil)
				So(again.Created, ShouldEqual, 0)
				So(again.Skipped, ShouldEqual, 3)
			})
		})
	})
}

func TestService_GetStats(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New()

		Convey("When getting stats before starting", func() {
			stats := svc.GetStats()

			Convey("Then it should return basic stats", func() {
				So(stats, ShouldNotBeNil)
				So(stats["started"], ShouldEqual, false)
			})
		})
	})
}
