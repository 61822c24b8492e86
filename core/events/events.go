package events

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/pipeforge/conduit/api"
)

// Event types emitted by the host
const (
	TypePipeRegistered = "pipe.registered"
	TypePipeBound      = "pipe.bound"
	TypeInvokeStart    = "invoke.start"
	TypeInvokeFinish   = "invoke.finish"
	TypeInvokeFailure  = "invoke.failure"
	TypeListingError   = "listing.error"
	TypeSettingsReload = "settings.reloaded"
)

// Bus distributes host events to in-process subscribers. Handlers run
// on their own goroutines; a slow handler never blocks the emitter.
type Bus struct {
	subscribers []subscription
	mutex       sync.RWMutex
	logger      api.Logger
	wg          sync.WaitGroup
	closed      bool
}

type subscription struct {
	filter  api.EventFilter
	handler api.EventHandler
}

// NewBus creates a new event bus
func NewBus(logger api.Logger) *Bus {
	return &Bus{
		subscribers: make([]subscription, 0),
		logger:      logger,
	}
}

// Emit distributes an event to all matching subscribers. Missing id and
// timestamp fields are filled in.
func (b *Bus) Emit(event api.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if !b.matchesFilter(event, sub.filter) {
			continue
		}
		b.wg.Add(1)
		go func(handler api.EventHandler) {
			defer b.wg.Done()
			if err := handler(event); err != nil {
				b.logger.Error("Event handler failed", "error", err, "event_id", event.ID)
			}
		}(sub.handler)
	}
}

// Subscribe registers a handler for events matching the given filter
func (b *Bus) Subscribe(filter api.EventFilter, handler api.EventHandler) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.subscribers = append(b.subscribers, subscription{
		filter:  filter,
		handler: handler,
	})

	b.logger.Debug("New event subscription added", "filter", filter)
}

// Close stops accepting events and waits for running handlers
func (b *Bus) Close() {
	b.mutex.Lock()
	b.closed = true
	b.mutex.Unlock()

	b.wg.Wait()
	b.logger.Debug("Event bus closed")
}

// matchesFilter checks if an event matches the given filter
func (b *Bus) matchesFilter(event api.Event, filter api.EventFilter) bool {
	// Check sources filter
	if len(filter.Sources) > 0 {
		found := false
		for _, source := range filter.Sources {
			if event.Source == source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// Check types filter
	if len(filter.Types) > 0 {
		found := false
		for _, eventType := range filter.Types {
			if event.Type == eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// Check regex filters
	for field, pattern := range filter.Regex {
		var fieldValue string

		switch field {
		case "source":
			fieldValue = event.Source
		case "type":
			fieldValue = event.Type
		default:
			// Check in payload
			if val, exists := event.Payload[field]; exists {
				fieldValue = fmt.Sprintf("%v", val)
			}
		}

		matched, err := regexp.MatchString(pattern, fieldValue)
		if err != nil {
			b.logger.Error("Invalid regex pattern", "pattern", pattern, "error", err)
			return false
		}

		if !matched {
			return false
		}
	}

	return true
}
