package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/beewell/momentum/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	outputPermission    = 0600
)

// processingGrace is how long the runner waits for queued events to
// drain before sweeping.
const processingGrace = 5 * time.Second

// Run executes the complete momentum simulation: generate persona
// histories, submit them, sweep, then check each persona landed in a
// plausible state.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}
	now := time.Now().UTC()

	logger.Get().Info(ctx, "starting momentum simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("usersPerMode", config.UsersPerMode),
		logger.Int("historyDays", config.HistoryDays),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
	)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate users and their event histories
	users := generateUsers(config)
	events := generateEvents(ctx, config, users, now, stats)

	// Step 3: Submit events concurrently
	if err := submitEvents(ctx, config, events, stats); err != nil {
		return fmt.Errorf("event submission failed: %w", err)
	}

	// Step 4: Wait for ingestion, then sweep
	logger.Get().Info(ctx, "waiting for events to be processed")
	time.Sleep(processingGrace)

	client := newHTTPClient(config.Timeout)
	summary, err := triggerSweep(ctx, client, config.BaseURL, now)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	log.Printf("sweep completed: users=%d processed=%d failed=%d interventions=%d",
		summary.Users, summary.Processed, summary.Failed, summary.Interventions)

	// Step 5: Verify each persona's resulting state
	if err := verifyStates(ctx, config, client, users, stats); err != nil {
		return fmt.Errorf("state verification failed: %w", err)
	}

	// Step 6: Save events to file
	if err := saveEventsToFile(ctx, config, events); err != nil {
		logger.Get().Warn(ctx, "failed to save events to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	logger.Get().Info(ctx, "simulation completed")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/healthz"

	resp, err := client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Any 200 counts as healthy; the endpoint serves Prometheus metrics.
	if resp.StatusCode != 200 {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// saveEventsToFile saves the generated events to a JSON file.
func saveEventsToFile(ctx context.Context, config *Config, events []Event) error {
	if len(events) == 0 {
		return fmt.Errorf("no events to save")
	}

	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "simulated_events_" + timestamp + ".json"
	}

	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	if err := os.WriteFile(filename, data, outputPermission); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}

	logger.Get().Info(ctx, "saved events", logger.String("file", filename), logger.Int("count", len(events)))
	return nil
}

// displayFinalStats prints the simulation summary.
func displayFinalStats(stats *Stats) {
	log.Printf(`simulation summary:
   users:             %d
   events generated:  %d
   events submitted:  %d (success: %d, duplicate: %d, failed: %d)
   snapshots fetched: %d
   states matched:    %d
   states mismatched: %d
   duration:          %s
`, stats.UsersSimulated, stats.EventsGenerated, stats.EventsSubmitted,
		stats.EventsSuccessful, stats.EventsDuplicate, stats.EventsFailed,
		stats.SnapshotsRetrieved, stats.StatesMatched, stats.StatesMismatched,
		stats.Duration.Round(time.Millisecond))
}
