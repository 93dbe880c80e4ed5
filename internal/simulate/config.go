package simulate

import "time"

// Config holds configuration for the momentum simulation.
type Config struct {
	BaseURL      string        // Base URL of the service
	UsersPerMode int           // Number of simulated users per persona
	HistoryDays  int           // How many days of events to fabricate
	Workers      int           // Number of concurrent workers
	Timeout      time.Duration // HTTP request timeout
	OutputFile   string        // Output file for events
	LogFile      string        // Log file for simulation output
	Verbose      bool          // Enable verbose logging
}

// Event represents an event to be submitted.
type Event struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	TS      string `json:"ts"`
}

// Snapshot mirrors the momentum read shape returned by the service.
type Snapshot struct {
	UserID     string  `json:"user_id"`
	Date       string  `json:"date"`
	FinalScore float64 `json:"final_score"`
	State      string  `json:"state"`
	Trend      struct {
		Direction  string  `json:"direction"`
		Slope      float64 `json:"slope"`
		Confidence float64 `json:"confidence"`
	} `json:"trend"`
}

// AckResponse represents the response from event submission.
type AckResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// SweepSummary mirrors the response from POST /sweep.
type SweepSummary struct {
	Users         int `json:"users"`
	Processed     int `json:"processed"`
	Failed        int `json:"failed"`
	Interventions int `json:"interventions"`
}

// Stats holds simulation statistics.
type Stats struct {
	UsersSimulated     int
	EventsGenerated    int
	EventsSubmitted    int
	EventsSuccessful   int
	EventsDuplicate    int
	EventsFailed       int
	SnapshotsRetrieved int
	StatesMatched      int
	StatesMismatched   int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
