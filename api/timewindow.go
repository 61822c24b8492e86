package api

import (
	"sync"
	"time"
)

// TimeWindowTracker counts keyed hits over a sliding window with
// automatic cleanup. The host uses it to track per-pipe failures.
type TimeWindowTracker[T any] struct {
	entries       map[string]*TimeWindowEntry[T]
	mutex         sync.RWMutex
	timeWindow    time.Duration
	maxHits       int
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	onThreshold   func(key string, entry *TimeWindowEntry[T])
	logger        Logger
}

// TimeWindowEntry is the tracked state for one key
type TimeWindowEntry[T any] struct {
	Key         string
	Data        T
	HitCount    int
	WindowStart time.Time
	LastSeen    time.Time
}

// TimeWindowConfig configures the time window tracker
type TimeWindowConfig struct {
	TimeWindow time.Duration
	MaxHits    int
}

// NewTimeWindowTracker creates a new time window tracker. onThreshold,
// if set, runs on its own goroutine when a key reaches MaxHits inside
// one window.
func NewTimeWindowTracker[T any](
	config TimeWindowConfig,
	onThreshold func(key string, entry *TimeWindowEntry[T]),
	logger Logger,
) *TimeWindowTracker[T] {
	return &TimeWindowTracker[T]{
		entries:     make(map[string]*TimeWindowEntry[T]),
		timeWindow:  config.TimeWindow,
		maxHits:     config.MaxHits,
		stopChan:    make(chan struct{}),
		onThreshold: onThreshold,
		logger:      logger,
	}
}

// Start starts the background cleanup
func (twt *TimeWindowTracker[T]) Start() {
	cleanupInterval := twt.timeWindow / 2
	if cleanupInterval < time.Second {
		cleanupInterval = time.Second
	}

	twt.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-twt.cleanupTicker.C:
				twt.cleanup()
			case <-twt.stopChan:
				return
			}
		}
	}()

	twt.logger.Debug("TimeWindowTracker started",
		"time_window", twt.timeWindow,
		"max_hits", twt.maxHits,
		"cleanup_interval", cleanupInterval)
}

// Stop stops the background cleanup
func (twt *TimeWindowTracker[T]) Stop() {
	close(twt.stopChan)
	if twt.cleanupTicker != nil {
		twt.cleanupTicker.Stop()
	}
	twt.logger.Debug("TimeWindowTracker stopped")
}

// Track records a hit for the key and reports whether the key has
// reached the threshold within the current window. A key whose window
// has elapsed starts a fresh one.
func (twt *TimeWindowTracker[T]) Track(key string, data T) bool {
	twt.mutex.Lock()
	defer twt.mutex.Unlock()

	now := time.Now()

	entry, exists := twt.entries[key]
	if !exists {
		entry = &TimeWindowEntry[T]{
			Key:         key,
			WindowStart: now,
		}
		twt.entries[key] = entry
	}

	// Start a new window once the old one has fully elapsed
	if now.Sub(entry.WindowStart) > twt.timeWindow {
		entry.WindowStart = now
		entry.HitCount = 0
	}

	entry.Data = data
	entry.LastSeen = now
	entry.HitCount++

	if entry.HitCount == twt.maxHits {
		twt.logger.Debug("Threshold reached",
			"key", key,
			"hits", entry.HitCount,
			"max_hits", twt.maxHits)

		if twt.onThreshold != nil {
			snapshot := *entry
			go twt.onThreshold(key, &snapshot)
		}
	}

	return entry.HitCount >= twt.maxHits
}

// Count returns the key's hit count within the current window
func (twt *TimeWindowTracker[T]) Count(key string) int {
	twt.mutex.RLock()
	defer twt.mutex.RUnlock()

	entry, exists := twt.entries[key]
	if !exists {
		return 0
	}
	if time.Since(entry.WindowStart) > twt.timeWindow {
		return 0
	}
	return entry.HitCount
}

// Get retrieves the entry for a key if it is still inside the window
func (twt *TimeWindowTracker[T]) Get(key string) (*TimeWindowEntry[T], bool) {
	twt.mutex.RLock()
	defer twt.mutex.RUnlock()

	entry, exists := twt.entries[key]
	if !exists {
		return nil, false
	}
	if time.Since(entry.LastSeen) > twt.timeWindow {
		return nil, false
	}
	return entry, true
}

// GetAll returns all entries still inside the window
func (twt *TimeWindowTracker[T]) GetAll() map[string]*TimeWindowEntry[T] {
	twt.mutex.RLock()
	defer twt.mutex.RUnlock()

	result := make(map[string]*TimeWindowEntry[T])
	now := time.Now()

	for key, entry := range twt.entries {
		if now.Sub(entry.LastSeen) <= twt.timeWindow {
			result[key] = entry
		}
	}

	return result
}

// Remove removes an entry
func (twt *TimeWindowTracker[T]) Remove(key string) {
	twt.mutex.Lock()
	defer twt.mutex.Unlock()

	delete(twt.entries, key)
}

// cleanup removes entries whose last hit fell out of the window
func (twt *TimeWindowTracker[T]) cleanup() {
	twt.mutex.Lock()
	defer twt.mutex.Unlock()

	cutoff := time.Now().Add(-twt.timeWindow)
	removedCount := 0

	for key, entry := range twt.entries {
		if entry.LastSeen.Before(cutoff) {
			delete(twt.entries, key)
			removedCount++
		}
	}

	if removedCount > 0 {
		twt.logger.Debug("Cleaned up expired entries",
			"removed", removedCount,
			"remaining", len(twt.entries))
	}
}
