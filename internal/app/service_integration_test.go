package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/beewell/momentum/internal/adapters/repository"
	service "github.com/beewell/momentum/internal/app"
	"github.com/beewell/momentum/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// waitForSnapshot polls until the user has a snapshot or the deadline
// passes. Ingestion is asynchronous; evaluation follows the queue.
func waitForSnapshot(ctx context.Context, svc *service.Service, userID string, deadline time.Duration) (model.ScoreSnapshot, bool) {
	timeout := time.After(deadline)
	for {
		select {
		case <-timeout:
			return model.ScoreSnapshot{}, false
		case <-time.After(20 * time.Millisecond):
			if snap, err := svc.Momentum(ctx, userID); err == nil {
				return snap, true
			}
		}
	}
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a running service with a shared store", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithStore(store),
			service.WithWorkerCount(2),
			service.WithQueueSize(1000),
			service.WithDedupeSize(500),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When events flow through the queue to evaluation", func() {
			now := time.Now().UTC()
			for i := 0; i < 5; i++ {
				ok := svc.Enqueue(ctx, model.Event{
					EventID: fmt.Sprintf("flow-evt-%d", i),
					UserID:  "flow-user",
					Type:    "lesson_complete",
					TS:      now.Add(-time.Duration(i) * time.Hour),
				})
				So(ok, ShouldBeTrue)
			}

			Convey("Then a snapshot should appear without a manual evaluate", func() {
				snap, ok := waitForSnapshot(ctx, svc, "flow-user", 5*time.Second)
				So(ok, ShouldBeTrue)
				So(snap.UserID, ShouldEqual, "flow-user")
				So(snap.RawScore, ShouldBeGreaterThan, 0)
				So(snap.State.Valid(), ShouldBeTrue)
			})
		})

		Convey("When the same event id arrives through dedupe and queue", func() {
			now := time.Now().UTC()
			e := model.Event{EventID: "dup-evt", UserID: "dup-user", Type: "app_open", TS: now}

			So(svc.SeenAndRecord(ctx, e.EventID), ShouldBeFalse)
			So(svc.Enqueue(ctx, e), ShouldBeTrue)
			So(svc.SeenAndRecord(ctx, e.EventID), ShouldBeTrue)

			Convey("Then the user still ends up with one contributing event", func() {
				snap, ok := waitForSnapshot(ctx, svc, "dup-user", 5*time.Second)
				So(ok, ShouldBeTrue)
				So(snap.EventsCount, ShouldEqual, 1)
			})
		})

		Convey("When reading history after several evaluations", func() {
			now := time.Now().UTC()
			So(store.AppendEvent(ctx, model.Event{EventID: "h-evt", UserID: "hist-user", Type: "journal_entry", TS: now.Add(-time.Hour)}), ShouldBeNil)

			_, _, err := svc.Evaluate(ctx, "hist-user", now)
			So(err, ShouldBeNil)

			snaps, err := svc.History(ctx, "hist-user", 7)

			Convey("Then the history should hold the evaluated date", func() {
				So(err, ShouldBeNil)
				So(len(snaps), ShouldEqual, 1)
				So(snaps[0].Date, ShouldEqual, model.DateOf(now))
			})
		})
	})
}

func TestServiceIntegration_SQLiteBackend(t *testing.T) {
	Convey("Given a service backed by an in-memory SQLite store", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := repository.OpenSQLiteMemory()
		So(err, ShouldBeNil)

		now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
		svc := service.New(
			service.WithStore(store),
			service.WithClock(func() time.Time { return now }),
			service.WithWorkerCount(1),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When evaluating a seeded user", func() {
			So(store.AppendEvent(ctx, model.Event{
				EventID: "sq-evt",
				UserID:  "sqlite-user",
				Type:    "lesson_complete",
				TS:      now.Add(-2 * time.Hour),
			}), ShouldBeNil)

			snap, _, err := svc.Evaluate(ctx, "sqlite-user", now)

			Convey("Then the snapshot should persist and read back", func() {
				So(err, ShouldBeNil)
				So(snap.RawScore, ShouldBeGreaterThan, 0)

				got, err := svc.Momentum(ctx, "sqlite-user")
				So(err, ShouldBeNil)
				So(got.Date, ShouldEqual, "2026-08-20")
				So(got.State, ShouldEqual, snap.State)
			})
		})
	})
}
