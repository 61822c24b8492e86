package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/pipeforge/conduit/api"
	"github.com/pipeforge/conduit/core/events"
	"github.com/pipeforge/conduit/core/metrics"
	"github.com/pipeforge/conduit/core/registry"
)

// DefaultListingTimeout bounds a single pipe's Models call
const DefaultListingTimeout = 10 * time.Second

// Catalog enumerates the models offered by registered pipes. A pipe
// without the listing capability contributes exactly one entry named
// after itself; a manifold contributes every model its Models call
// returns, namespaced "<pipe>.<model>". The catalog does not cache:
// every call re-enumerates.
type Catalog struct {
	registry *registry.Registry
	timeout  time.Duration
	logger   api.Logger
	metrics  *metrics.Metrics
	bus      *events.Bus
}

// New creates a catalog over the given registry. metrics and bus may be
// nil. A zero timeout falls back to DefaultListingTimeout.
func New(reg *registry.Registry, timeout time.Duration, logger api.Logger, m *metrics.Metrics, bus *events.Bus) *Catalog {
	if timeout <= 0 {
		timeout = DefaultListingTimeout
	}
	return &Catalog{
		registry: reg,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
		bus:      bus,
	}
}

// Models enumerates every registered pipe, in pipe id order. A failing
// manifold degrades to its single sentinel entry; it never fails the
// enumeration as a whole.
func (c *Catalog) Models(ctx context.Context) []api.ModelInfo {
	result := []api.ModelInfo{}
	for _, entry := range c.registry.List() {
		result = append(result, c.entryModels(ctx, entry)...)
	}
	return result
}

// ModelsFor returns the single pipe's contribution to the catalog
func (c *Catalog) ModelsFor(ctx context.Context, pipeID string) ([]api.ModelInfo, error) {
	entry, exists := c.registry.Get(pipeID)
	if !exists {
		return nil, fmt.Errorf("pipe %s is not registered", pipeID)
	}
	return c.entryModels(ctx, entry), nil
}

// entryModels lists one pipe's models
func (c *Catalog) entryModels(ctx context.Context, entry *registry.Entry) []api.ModelInfo {
	meta := entry.Meta()

	lister, isManifold := entry.Lister()
	if !isManifold {
		return []api.ModelInfo{{ID: meta.ID, Name: meta.Name}}
	}

	// Listing counts as an invocation so a rebind drains it before
	// swapping valves. An unbound manifold degrades to its sentinel.
	release, err := entry.Acquire()
	if err != nil {
		return []api.ModelInfo{c.sentinel(meta.ID, "pipe is not configured")}
	}
	defer release()

	start := time.Now()
	listed, err := c.callLister(ctx, meta.ID, lister)
	if c.metrics != nil {
		c.metrics.ObserveListing(meta.ID, time.Since(start))
	}
	if err != nil {
		return []api.ModelInfo{c.sentinel(meta.ID, err.Error())}
	}

	// Prefix may be derived from valves, so it is read off the live
	// pipe rather than the registration snapshot. The id never changes.
	prefix := entry.Pipe().Meta().Prefix
	if prefix == "" {
		prefix = meta.Name + ": "
	}

	result := make([]api.ModelInfo, 0, len(listed))
	seen := make(map[string]bool, len(listed))
	for _, m := range listed {
		if m.ID == api.ErrorModelID {
			// A sentinel collapses the whole listing to one entry
			return []api.ModelInfo{c.sentinel(meta.ID, m.Name)}
		}
		if seen[m.ID] {
			c.logger.Warn("Dropping duplicate model id from listing", "pipe", meta.ID, "model", m.ID)
			continue
		}
		seen[m.ID] = true

		result = append(result, api.ModelInfo{
			ID:   meta.ID + "." + m.ID,
			Name: prefix + m.Name,
		})
	}
	return result
}

// callLister invokes Models under the listing timeout, converting a
// panic or a blown deadline into an error.
func (c *Catalog) callLister(ctx context.Context, pipeID string, lister api.Lister) ([]api.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resultChan := make(chan []api.ModelInfo, 1)
	panicChan := make(chan interface{}, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicChan <- r
			}
		}()
		resultChan <- lister.Models(ctx)
	}()

	select {
	case listed := <-resultChan:
		return listed, nil
	case r := <-panicChan:
		c.logger.Error("Model listing panicked", "pipe", pipeID, "panic", r)
		return nil, fmt.Errorf("model listing panicked: %v", r)
	case <-ctx.Done():
		c.logger.Warn("Model listing timed out", "pipe", pipeID, "timeout", c.timeout)
		return nil, fmt.Errorf("model listing timed out after %s", c.timeout)
	}
}

// sentinel builds the namespaced sentinel entry for a failed listing
// and reports it.
func (c *Catalog) sentinel(pipeID, cause string) api.ModelInfo {
	c.logger.Warn("Model listing degraded to sentinel", "pipe", pipeID, "cause", cause)
	if c.bus != nil {
		c.bus.Emit(api.Event{
			Source: "catalog",
			Type:   events.TypeListingError,
			Payload: map[string]interface{}{
				"pipe":  pipeID,
				"cause": cause,
			},
		})
	}
	return api.ModelInfo{
		ID:   pipeID + "." + api.ErrorModelID,
		Name: cause,
	}
}
