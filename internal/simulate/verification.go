package simulate

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// verifyStates fetches every user's snapshot and checks the state
// against the persona's plausible outcomes. Mismatches are reported but
// do not fail the run; scoring thresholds are tunable and a persona
// near a boundary can legitimately land either side.
func verifyStates(ctx context.Context, config *Config, client *HTTPClient, users []user, stats *Stats) error {
	log.Printf("verifying states for %d users with %d workers...", len(users), config.Workers)

	var (
		retrieved  int64
		matched    int64
		mismatched int64
	)

	userChan := make(chan user, config.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for u := range userChan {
				select {
				case <-ctx.Done():
					return
				default:
					snap, err := fetchSnapshot(ctx, client, config.BaseURL, u.ID)
					if err != nil {
						if config.Verbose {
							log.Printf("failed to fetch momentum for %s (%s): %v", u.ID, u.Persona, err)
						}
						continue
					}
					atomic.AddInt64(&retrieved, 1)

					if stateMatches(snap.State, u.Persona.ExpectedStates()) {
						atomic.AddInt64(&matched, 1)
					} else {
						atomic.AddInt64(&mismatched, 1)
						log.Printf("persona %s landed in %s (score %.1f, trend %s)",
							u.Persona, snap.State, snap.FinalScore, snap.Trend.Direction)
					}
				}
			}
		}()
	}

	go func() {
		defer close(userChan)
		for _, u := range users {
			select {
			case <-ctx.Done():
				return
			case userChan <- u:
			}
		}
	}()

	wg.Wait()

	stats.SnapshotsRetrieved = int(atomic.LoadInt64(&retrieved))
	stats.StatesMatched = int(atomic.LoadInt64(&matched))
	stats.StatesMismatched = int(atomic.LoadInt64(&mismatched))

	log.Printf("state verification completed: matched=%d mismatched=%d", stats.StatesMatched, stats.StatesMismatched)
	return nil
}

func stateMatches(state string, expected []string) bool {
	for _, s := range expected {
		if state == s {
			return true
		}
	}
	return false
}
