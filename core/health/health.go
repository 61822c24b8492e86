package health

import (
	"time"

	"github.com/pipeforge/conduit/api"
)

// Tracker records per-pipe invocation failures over a sliding window. A
// pipe that accumulates the configured number of failures inside one
// window is reported as degraded. The tracker only observes; it never
// blocks or reroutes invocations.
type Tracker struct {
	failures    *api.TimeWindowTracker[api.FailureKind]
	maxFailures int
	logger      api.Logger
}

// NewTracker creates a failure tracker. A pipe counts as degraded after
// maxFailures failures within window.
func NewTracker(window time.Duration, maxFailures int, logger api.Logger) *Tracker {
	t := &Tracker{
		maxFailures: maxFailures,
		logger:      logger,
	}
	t.failures = api.NewTimeWindowTracker[api.FailureKind](
		api.TimeWindowConfig{
			TimeWindow: window,
			MaxHits:    maxFailures,
		},
		func(key string, entry *api.TimeWindowEntry[api.FailureKind]) {
			logger.Warn("Pipe is failing repeatedly",
				"pipe", key,
				"failures", entry.HitCount,
				"last_kind", entry.Data)
		},
		logger,
	)
	return t
}

// Start starts the tracker's background cleanup
func (t *Tracker) Start() {
	t.failures.Start()
}

// Stop stops the tracker
func (t *Tracker) Stop() {
	t.failures.Stop()
}

// RecordFailure records one failed invocation for a pipe
func (t *Tracker) RecordFailure(pipeID string, kind api.FailureKind) {
	t.failures.Track(pipeID, kind)
}

// Failures returns the pipe's failure count within the current window
func (t *Tracker) Failures(pipeID string) int {
	return t.failures.Count(pipeID)
}

// Healthy reports whether the pipe is below the failure threshold
func (t *Tracker) Healthy(pipeID string) bool {
	return t.failures.Count(pipeID) < t.maxFailures
}
