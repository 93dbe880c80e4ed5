package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/beewell/momentum/internal/adapters/repository"
	"github.com/beewell/momentum/internal/domain/intervene"
	"github.com/beewell/momentum/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// storeBackends enumerates every Store implementation. Both must satisfy
// the same contract, so every scenario runs against each. Factories keep
// state per scenario: goconvey re-executes the setup for each leaf.
var storeBackends = map[string]func() (repository.Store, error){
	"memory": func() (repository.Store, error) { return repository.NewMemoryStore(), nil },
	"sqlite": func() (repository.Store, error) { return repository.OpenSQLiteMemory() },
}

func TestStore_Events(t *testing.T) {
	for name, factory := range storeBackends {
		factory := factory
		Convey(fmt.Sprintf("Given a %s store", name), t, func() {
			store, err := factory()
			So(err, ShouldBeNil)
			Reset(func() { _ = store.Close() })

			ctx := context.Background()
			base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

			Convey("When appending and querying events", func() {
				events := []model.Event{
					{EventID: "e1", UserID: "u1", Type: "app_open", TS: base.Add(-48 * time.Hour)},
					{EventID: "e2", UserID: "u1", Type: "lesson_complete", TS: base.Add(-24 * time.Hour)},
					{EventID: "e3", UserID: "u1", Type: "journal_entry", TS: base},
					{EventID: "e4", UserID: "u2", Type: "app_open", TS: base},
				}
				for _, e := range events {
					So(store.AppendEvent(ctx, e), ShouldBeNil)
				}

				Convey("Then EventsSince should filter by user and cutoff, chronological", func() {
					got, err := store.EventsSince(ctx, "u1", base.Add(-36*time.Hour))
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 2)
					So(got[0].EventID, ShouldEqual, "e2")
					So(got[1].EventID, ShouldEqual, "e3")
				})

				Convey("Then an unknown user should yield no events", func() {
					got, err := store.EventsSince(ctx, "ghost", base.AddDate(0, 0, -30))
					So(err, ShouldBeNil)
					So(got, ShouldBeEmpty)
				})
			})

			Convey("When appending an event without identifiers", func() {
				So(store.AppendEvent(ctx, model.Event{UserID: "u1"}), ShouldEqual, repository.ErrInvalidInput)
				So(store.AppendEvent(ctx, model.Event{EventID: "e9"}), ShouldEqual, repository.ErrInvalidInput)
			})
		})
	}
}

func TestStore_Snapshots(t *testing.T) {
	for name, factory := range storeBackends {
		factory := factory
		Convey(fmt.Sprintf("Given a %s store", name), t, func() {
			store, err := factory()
			So(err, ShouldBeNil)
			Reset(func() { _ = store.Close() })

			ctx := context.Background()
			created := time.Date(2026, 8, 20, 23, 30, 0, 0, time.UTC)

			write := func(date string, final float64) {
				So(store.AppendSnapshot(ctx, model.ScoreSnapshot{
					UserID:           "u1",
					Date:             date,
					RawScore:         final / 4,
					NormalizedScore:  final,
					FinalScore:       final,
					State:            model.StateSteady,
					Trend:            model.NeutralTrend(),
					EventsCount:      3,
					AlgorithmVersion: "v1.0",
					CreatedAt:        created,
				}), ShouldBeNil)
			}

			Convey("When snapshots span several dates", func() {
				write("2026-08-18", 50)
				write("2026-08-19", 55)
				write("2026-08-20", 60)

				Convey("Then RecentSnapshots should return newest date first", func() {
					got, err := store.RecentSnapshots(ctx, "u1", 10)
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 3)
					So(got[0].Date, ShouldEqual, "2026-08-20")
					So(got[2].Date, ShouldEqual, "2026-08-18")
				})

				Convey("Then the n limit should truncate oldest dates", func() {
					got, err := store.RecentSnapshots(ctx, "u1", 2)
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 2)
					So(got[1].Date, ShouldEqual, "2026-08-19")
				})

				Convey("Then LatestSnapshot should return the newest date", func() {
					got, err := store.LatestSnapshot(ctx, "u1")
					So(err, ShouldBeNil)
					So(got.Date, ShouldEqual, "2026-08-20")
					So(got.FinalScore, ShouldEqual, 60.0)
				})

				Convey("Then HasSnapshot should see existing dates only", func() {
					ok, err := store.HasSnapshot(ctx, "u1", "2026-08-19")
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)

					ok, err = store.HasSnapshot(ctx, "u1", "2026-08-01")
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
				})
			})

			Convey("When a date is recomputed", func() {
				write("2026-08-20", 60)
				write("2026-08-20", 65)

				Convey("Then reads should surface only the latest row for that date", func() {
					got, err := store.RecentSnapshots(ctx, "u1", 10)
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 1)
					So(got[0].FinalScore, ShouldEqual, 65.0)
				})
			})

			Convey("When a past date is backfilled after a newer one exists", func() {
				write("2026-08-20", 60)
				write("2026-08-17", 40)

				Convey("Then date ordering should hold regardless of insertion order", func() {
					got, err := store.RecentSnapshots(ctx, "u1", 10)
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 2)
					So(got[0].Date, ShouldEqual, "2026-08-20")
					So(got[1].Date, ShouldEqual, "2026-08-17")

					latest, err := store.LatestSnapshot(ctx, "u1")
					So(err, ShouldBeNil)
					So(latest.Date, ShouldEqual, "2026-08-20")
				})
			})

			Convey("When a user has no snapshots", func() {
				Convey("Then LatestSnapshot should report not found", func() {
					_, err := store.LatestSnapshot(ctx, "ghost")
					So(err, ShouldEqual, repository.ErrNotFound)
				})
			})

			Convey("When a snapshot lacks identifiers", func() {
				So(store.AppendSnapshot(ctx, model.ScoreSnapshot{UserID: "u1"}), ShouldEqual, repository.ErrInvalidInput)
				So(store.AppendSnapshot(ctx, model.ScoreSnapshot{Date: "2026-08-20"}), ShouldEqual, repository.ErrInvalidInput)
			})
		})
	}
}

func TestStore_Interventions(t *testing.T) {
	for name, factory := range storeBackends {
		factory := factory
		Convey(fmt.Sprintf("Given a %s store", name), t, func() {
			store, err := factory()
			So(err, ShouldBeNil)
			Reset(func() { _ = store.Close() })

			ctx := context.Background()
			base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

			Convey("When interventions accumulate", func() {
				for i := 0; i < 3; i++ {
					So(store.AppendIntervention(ctx, model.InterventionRecord{
						ID:        fmt.Sprintf("int-%d", i),
						UserID:    "u1",
						Type:      model.InterventionSupportive,
						Priority:  model.PriorityMedium,
						Reason:    "score_drop",
						Title:     "t",
						Message:   "m",
						CreatedAt: base.Add(time.Duration(i) * time.Hour),
					}), ShouldBeNil)
				}

				Convey("Then RecentInterventions should return newest first, capped at n", func() {
					got, err := store.RecentInterventions(ctx, "u1", 2)
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 2)
					So(got[0].ID, ShouldEqual, "int-2")
					So(got[1].ID, ShouldEqual, "int-1")
				})

				Convey("Then an unknown user should yield none", func() {
					got, err := store.RecentInterventions(ctx, "ghost", 10)
					So(err, ShouldBeNil)
					So(got, ShouldBeEmpty)
				})
			})

			Convey("When a record lacks identifiers", func() {
				So(store.AppendIntervention(ctx, model.InterventionRecord{UserID: "u1"}), ShouldEqual, repository.ErrInvalidInput)
			})
		})
	}
}

func TestStore_RateLimits(t *testing.T) {
	for name, factory := range storeBackends {
		factory := factory
		Convey(fmt.Sprintf("Given a %s store", name), t, func() {
			store, err := factory()
			So(err, ShouldBeNil)
			Reset(func() { _ = store.Close() })

			ctx := context.Background()
			now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
			limit := intervene.RateLimit{MaxPerDay: 1, MinBetween: 24 * time.Hour}

			Convey("When acquiring within the daily cap", func() {
				ok, err := store.TryAcquire(ctx, "u1", model.InterventionCoach, now, limit)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)

				Convey("Then a second acquire the same day is denied", func() {
					ok, err := store.TryAcquire(ctx, "u1", model.InterventionCoach, now.Add(time.Hour), limit)
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
				})

				Convey("Then the next day it clears again", func() {
					ok, err := store.TryAcquire(ctx, "u1", model.InterventionCoach, now.Add(25*time.Hour), limit)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
				})

				Convey("Then other users and types are unaffected", func() {
					ok, err := store.TryAcquire(ctx, "u2", model.InterventionCoach, now, limit)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)

					ok, err = store.TryAcquire(ctx, "u1", model.InterventionCelebration, now, limit)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
				})

				Convey("Then the state is inspectable", func() {
					st, err := store.RateLimit(ctx, "u1", model.InterventionCoach)
					So(err, ShouldBeNil)
					So(st.CountToday, ShouldEqual, 1)
					So(st.Day, ShouldEqual, "2026-08-20")
					So(st.LastTriggeredAt.Equal(now), ShouldBeTrue)
				})
			})

			Convey("When minimum spacing gates a generous daily cap", func() {
				spacious := intervene.RateLimit{MaxPerDay: 5, MinBetween: time.Hour}

				ok, err := store.TryAcquire(ctx, "u1", model.InterventionSupportive, now, spacious)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)

				Convey("Then an acquire inside the spacing window is denied", func() {
					ok, err := store.TryAcquire(ctx, "u1", model.InterventionSupportive, now.Add(30*time.Minute), spacious)
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
				})

				Convey("Then an acquire after the spacing window passes", func() {
					ok, err := store.TryAcquire(ctx, "u1", model.InterventionSupportive, now.Add(2*time.Hour), spacious)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
				})
			})

			Convey("When the daily cap allows two firings", func() {
				twoADay := intervene.RateLimit{MaxPerDay: 2, MinBetween: time.Hour}

				first, err := store.TryAcquire(ctx, "u1", model.InterventionSupportive, now, twoADay)
				So(err, ShouldBeNil)
				second, err := store.TryAcquire(ctx, "u1", model.InterventionSupportive, now.Add(2*time.Hour), twoADay)
				So(err, ShouldBeNil)
				third, err := store.TryAcquire(ctx, "u1", model.InterventionSupportive, now.Add(4*time.Hour), twoADay)
				So(err, ShouldBeNil)

				Convey("Then exactly two of three spaced acquires succeed", func() {
					So(first, ShouldBeTrue)
					So(second, ShouldBeTrue)
					So(third, ShouldBeFalse)
				})
			})

			Convey("When a slot is released after an acquire", func() {
				ok, err := store.TryAcquire(ctx, "u1", model.InterventionCoach, now, limit)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(store.Release(ctx, "u1", model.InterventionCoach), ShouldBeNil)

				Convey("Then the same slot can be taken again immediately", func() {
					ok, err := store.TryAcquire(ctx, "u1", model.InterventionCoach, now.Add(time.Minute), limit)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
				})

				Convey("Then releasing a first-ever acquire leaves no state behind", func() {
					_, err := store.RateLimit(ctx, "u1", model.InterventionCoach)
					So(err, ShouldEqual, repository.ErrNotFound)
				})
			})

			Convey("When a release follows acquires on consecutive days", func() {
				yesterday := now.Add(-24 * time.Hour)
				ok, err := store.TryAcquire(ctx, "u1", model.InterventionCoach, yesterday, limit)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				ok, err = store.TryAcquire(ctx, "u1", model.InterventionCoach, now, limit)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(store.Release(ctx, "u1", model.InterventionCoach), ShouldBeNil)

				Convey("Then the state reverts to the prior day's firing", func() {
					st, err := store.RateLimit(ctx, "u1", model.InterventionCoach)
					So(err, ShouldBeNil)
					So(st.Day, ShouldEqual, "2026-08-19")
					So(st.CountToday, ShouldEqual, 1)
					So(st.LastTriggeredAt.Equal(yesterday), ShouldBeTrue)
				})
			})

			Convey("When releasing a pair that never acquired", func() {
				So(store.Release(ctx, "u1", model.InterventionConsistency), ShouldBeNil)
			})

			Convey("When no rule of a type ever fired", func() {
				_, err := store.RateLimit(ctx, "u1", model.InterventionConsistency)
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})
	}
}

func TestStore_SubSecondOrdering(t *testing.T) {
	for name, factory := range storeBackends {
		factory := factory
		Convey(fmt.Sprintf("Given a %s store with sub-second timestamps", name), t, func() {
			store, err := factory()
			So(err, ShouldBeNil)
			Reset(func() { _ = store.Close() })

			ctx := context.Background()
			whole := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

			Convey("When events land on and between whole seconds", func() {
				So(store.AppendEvent(ctx, model.Event{EventID: "e-whole", UserID: "u1", Type: "app_open", TS: whole}), ShouldBeNil)
				So(store.AppendEvent(ctx, model.Event{EventID: "e-half", UserID: "u1", Type: "app_open", TS: whole.Add(500 * time.Millisecond)}), ShouldBeNil)

				Convey("Then a fractional cutoff excludes the earlier whole-second event", func() {
					got, err := store.EventsSince(ctx, "u1", whole.Add(250*time.Millisecond))
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 1)
					So(got[0].EventID, ShouldEqual, "e-half")
				})

				Convey("Then a whole-second cutoff keeps both, oldest first", func() {
					got, err := store.EventsSince(ctx, "u1", whole)
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 2)
					So(got[0].EventID, ShouldEqual, "e-whole")
					So(got[1].EventID, ShouldEqual, "e-half")
				})
			})

			Convey("When interventions are half a second apart", func() {
				So(store.AppendIntervention(ctx, model.InterventionRecord{
					ID: "int-whole", UserID: "u1", Type: model.InterventionCoach,
					Priority: model.PriorityHigh, Reason: "needs_care", Title: "t", Message: "m",
					CreatedAt: whole,
				}), ShouldBeNil)
				So(store.AppendIntervention(ctx, model.InterventionRecord{
					ID: "int-half", UserID: "u1", Type: model.InterventionCoach,
					Priority: model.PriorityHigh, Reason: "needs_care", Title: "t", Message: "m",
					CreatedAt: whole.Add(500 * time.Millisecond),
				}), ShouldBeNil)

				Convey("Then recent reads order the later one first", func() {
					got, err := store.RecentInterventions(ctx, "u1", 10)
					So(err, ShouldBeNil)
					So(len(got), ShouldEqual, 2)
					So(got[0].ID, ShouldEqual, "int-half")
					So(got[1].ID, ShouldEqual, "int-whole")
				})
			})
		})
	}
}

func TestStore_Users(t *testing.T) {
	for name, factory := range storeBackends {
		factory := factory
		Convey(fmt.Sprintf("Given a %s store", name), t, func() {
			store, err := factory()
			So(err, ShouldBeNil)
			Reset(func() { _ = store.Close() })

			ctx := context.Background()
			now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

			Convey("When users exist via events or snapshots", func() {
				So(store.AppendEvent(ctx, model.Event{EventID: "e1", UserID: "events-only", Type: "app_open", TS: now}), ShouldBeNil)
				So(store.AppendSnapshot(ctx, model.ScoreSnapshot{UserID: "snapshots-only", Date: "2026-08-20", CreatedAt: now}), ShouldBeNil)
				So(store.AppendEvent(ctx, model.Event{EventID: "e2", UserID: "both", Type: "app_open", TS: now}), ShouldBeNil)
				So(store.AppendSnapshot(ctx, model.ScoreSnapshot{UserID: "both", Date: "2026-08-20", CreatedAt: now}), ShouldBeNil)

				Convey("Then Users should list each distinct id once, sorted", func() {
					users, err := store.Users(ctx)
					So(err, ShouldBeNil)
					So(users, ShouldResemble, []string{"both", "events-only", "snapshots-only"})
				})
			})
		})
	}
}

func TestMemoryStore_Concurrency(t *testing.T) {
	Convey("Given a memory store under concurrent writes", t, func() {
		store := repository.NewMemoryStore()
		ctx := context.Background()
		now := time.Now().UTC()

		const writers = 8
		const perWriter = 50
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					_ = store.AppendEvent(ctx, model.Event{
						EventID: fmt.Sprintf("e-%d-%d", id, j),
						UserID:  fmt.Sprintf("u-%d", id),
						Type:    "app_open",
						TS:      now.Add(time.Duration(j) * time.Minute),
					})
				}
			}(i)
		}
		wg.Wait()

		Convey("Then every event should be readable per user", func() {
			for i := 0; i < writers; i++ {
				events, err := store.EventsSince(ctx, fmt.Sprintf("u-%d", i), now.Add(-time.Hour))
				So(err, ShouldBeNil)
				So(len(events), ShouldEqual, perWriter)
			}
		})
	})
}

func TestMemoryStore_Close(t *testing.T) {
	Convey("Given a closed memory store", t, func() {
		store := repository.NewMemoryStore()
		So(store.Close(), ShouldBeNil)
		ctx := context.Background()

		Convey("Then operations should fail with ErrClosed", func() {
			So(store.AppendEvent(ctx, model.Event{EventID: "e", UserID: "u"}), ShouldEqual, repository.ErrClosed)
			_, err := store.EventsSince(ctx, "u", time.Now())
			So(err, ShouldEqual, repository.ErrClosed)
			_, err = store.LatestSnapshot(ctx, "u")
			So(err, ShouldEqual, repository.ErrClosed)
			So(store.Release(ctx, "u", model.InterventionCoach), ShouldEqual, repository.ErrClosed)
		})
	})
}

func TestMemoryStore_TryAcquireAtomicity(t *testing.T) {
	Convey("Given concurrent acquires against one rule", t, func() {
		store := repository.NewMemoryStore()
		ctx := context.Background()
		now := time.Now().UTC()
		limit := intervene.RateLimit{MaxPerDay: 1, MinBetween: 24 * time.Hour}

		const attempts = 16
		results := make(chan bool, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.TryAcquire(ctx, "u1", model.InterventionCoach, now, limit)
				if err == nil {
					results <- ok
				}
			}()
		}
		wg.Wait()
		close(results)

		Convey("Then exactly one attempt should win", func() {
			wins := 0
			for ok := range results {
				if ok {
					wins++
				}
			}
			So(wins, ShouldEqual, 1)
		})
	})
}
