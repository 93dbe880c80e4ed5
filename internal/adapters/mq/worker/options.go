package worker

import (
	"time"

	"github.com/beewell/momentum/pkg/logger"
)

// Option applies a configuration option to the IngestWorker.
type Option func(*IngestWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *IngestWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *IngestWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock sets the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(w *IngestWorker) {
		if clock != nil {
			w.clock = clock
		}
	}
}
