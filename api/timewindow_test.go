package api

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(window time.Duration, maxHits int, onThreshold func(string, *TimeWindowEntry[string])) *TimeWindowTracker[string] {
	return NewTimeWindowTracker[string](
		TimeWindowConfig{TimeWindow: window, MaxHits: maxHits},
		onThreshold,
		NopLogger(),
	)
}

func TestTimeWindowTracker_TrackReportsThreshold(t *testing.T) {
	tracker := newTestTracker(time.Minute, 3, nil)

	assert.False(t, tracker.Track("key", "a"))
	assert.False(t, tracker.Track("key", "b"))
	assert.True(t, tracker.Track("key", "c"))
	assert.True(t, tracker.Track("key", "d"), "staying above the threshold keeps reporting true")
	assert.Equal(t, 4, tracker.Count("key"))
}

func TestTimeWindowTracker_ThresholdCallbackFiresOnce(t *testing.T) {
	fired := make(chan *TimeWindowEntry[string], 4)
	tracker := newTestTracker(time.Minute, 2, func(key string, entry *TimeWindowEntry[string]) {
		fired <- entry
	})

	tracker.Track("key", "first")
	tracker.Track("key", "second")
	tracker.Track("key", "third")

	select {
	case entry := <-fired:
		assert.Equal(t, "key", entry.Key)
		assert.Equal(t, 2, entry.HitCount)
		assert.Equal(t, "second", entry.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("threshold callback never fired")
	}

	select {
	case <-fired:
		t.Fatal("threshold callback fired more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTimeWindowTracker_Get(t *testing.T) {
	tracker := newTestTracker(time.Minute, 5, nil)

	_, exists := tracker.Get("missing")
	assert.False(t, exists)

	tracker.Track("key", "data")
	entry, exists := tracker.Get("key")
	require.True(t, exists)
	assert.Equal(t, "data", entry.Data)
	assert.Equal(t, 1, entry.HitCount)
}

func TestTimeWindowTracker_GetAllSkipsExpired(t *testing.T) {
	tracker := newTestTracker(50*time.Millisecond, 5, nil)

	tracker.Track("old", "x")
	time.Sleep(120 * time.Millisecond)
	tracker.Track("fresh", "y")

	all := tracker.GetAll()
	assert.Contains(t, all, "fresh")
	assert.NotContains(t, all, "old")
}

func TestTimeWindowTracker_Remove(t *testing.T) {
	tracker := newTestTracker(time.Minute, 5, nil)

	tracker.Track("key", "data")
	tracker.Remove("key")

	assert.Equal(t, 0, tracker.Count("key"))
	_, exists := tracker.Get("key")
	assert.False(t, exists)
}

func TestTimeWindowTracker_ConcurrentTracking(t *testing.T) {
	tracker := newTestTracker(time.Minute, 1000, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tracker.Track(fmt.Sprintf("key-%d", n%2), "data")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, tracker.Count("key-0"))
	assert.Equal(t, 200, tracker.Count("key-1"))
}
