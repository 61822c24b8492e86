package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pipeforge/conduit/api"
)

// Entry is one registered pipe together with its recorded capabilities
// and, once bound, its resolved valves.
type Entry struct {
	pipe   api.Pipe
	meta   api.Meta
	lister api.Lister // non-nil when the pipe can list models

	mutex    sync.RWMutex
	valves   api.Valves
	bound    bool
	inflight sync.WaitGroup
}

// Meta returns the pipe's metadata as recorded at registration
func (e *Entry) Meta() api.Meta {
	return e.meta
}

// Pipe returns the underlying pipe
func (e *Entry) Pipe() api.Pipe {
	return e.pipe
}

// Lister returns the pipe's listing capability if it was recorded at
// registration.
func (e *Entry) Lister() (api.Lister, bool) {
	return e.lister, e.lister != nil
}

// IsManifold reports whether the pipe lists multiple models
func (e *Entry) IsManifold() bool {
	return e.lister != nil
}

// Bound reports whether the pipe has been bound with resolved valves
func (e *Entry) Bound() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.bound
}

// Valves returns the current resolved valve snapshot
func (e *Entry) Valves() api.Valves {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.valves
}

// Acquire marks an invocation in flight against the current binding and
// returns its release function. It fails when the pipe is not bound.
// The release function is idempotent.
func (e *Entry) Acquire() (func(), error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if !e.bound {
		return nil, fmt.Errorf("pipe %s is not bound", e.meta.ID)
	}

	e.inflight.Add(1)
	var once sync.Once
	return func() { once.Do(e.inflight.Done) }, nil
}

// Registry manages pipe registration, capability recording and the bind
// lifecycle.
type Registry struct {
	entries map[string]*Entry
	mutex   sync.RWMutex
	logger  api.Logger
}

// New creates a new pipe registry
func New(logger api.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Register records a pipe and its capabilities. The pipe's id must be
// non-empty, must not contain a dot (the namespace separator) and must
// not collide with an already registered pipe. Whether the pipe is a
// manifold is decided here, once, by type assertion.
func (r *Registry) Register(p api.Pipe) error {
	meta := p.Meta()

	if meta.ID == "" {
		return fmt.Errorf("pipe id must not be empty")
	}
	if strings.Contains(meta.ID, ".") {
		return fmt.Errorf("pipe id %s must not contain '.'", meta.ID)
	}
	if err := p.Valves().Validate(); err != nil {
		return fmt.Errorf("pipe %s has an invalid valve schema: %w", meta.ID, err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[meta.ID]; exists {
		return fmt.Errorf("pipe %s already registered", meta.ID)
	}

	entry := &Entry{
		pipe: p,
		meta: meta,
	}
	if lister, ok := p.(api.Lister); ok {
		entry.lister = lister
	}

	r.entries[meta.ID] = entry
	r.logger.Debug("Registered pipe", "id", meta.ID, "manifold", entry.IsManifold())
	return nil
}

// Get returns the entry for a pipe id
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, exists := r.entries[id]
	return entry, exists
}

// List returns all entries sorted by pipe id
func (r *Registry) List() []*Entry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].meta.ID < result[j].meta.ID
	})
	return result
}

// Listers returns all entries whose pipes can list models
func (r *Registry) Listers() []*Entry {
	all := r.List()
	result := make([]*Entry, 0, len(all))
	for _, entry := range all {
		if entry.IsManifold() {
			result = append(result, entry)
		}
	}
	return result
}

// Bind resolves the pipe's valves from the given layers and initializes
// it. Binding fails, and the pipe stays unbound, when resolution or
// Init fails.
func (r *Registry) Bind(id string, host api.HostAPI, layers ...map[string]interface{}) error {
	entry, exists := r.Get(id)
	if !exists {
		return fmt.Errorf("pipe %s is not registered", id)
	}

	valves, err := api.ResolveValves(entry.pipe.Valves(), layers...)
	if err != nil {
		return fmt.Errorf("failed to resolve valves for %s: %w", id, err)
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	if entry.bound {
		return fmt.Errorf("pipe %s is already bound", id)
	}
	if err := entry.pipe.Init(host, valves); err != nil {
		return fmt.Errorf("failed to initialize pipe %s: %w", id, err)
	}

	entry.valves = valves
	entry.bound = true
	r.logger.Debug("Bound pipe", "id", id, "valves", valves.Len())
	return nil
}

// Rebind swaps a bound pipe's valves for a newly resolved snapshot.
// Resolution happens first so a bad update leaves the old binding
// intact. New invocations are held off and in-flight ones are drained
// before the pipe is re-initialized; drained invocations complete
// against the snapshot they started with.
func (r *Registry) Rebind(id string, host api.HostAPI, layers ...map[string]interface{}) error {
	entry, exists := r.Get(id)
	if !exists {
		return fmt.Errorf("pipe %s is not registered", id)
	}

	valves, err := api.ResolveValves(entry.pipe.Valves(), layers...)
	if err != nil {
		return fmt.Errorf("failed to resolve valves for %s: %w", id, err)
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	if !entry.bound {
		return fmt.Errorf("pipe %s is not bound", id)
	}

	entry.inflight.Wait()

	if err := entry.pipe.Init(host, valves); err != nil {
		entry.bound = false
		return fmt.Errorf("failed to re-initialize pipe %s: %w", id, err)
	}

	entry.valves = valves
	r.logger.Info("Rebound pipe", "id", id, "valves", valves.Len())
	return nil
}

// Close shuts down every bound pipe, returning the first error
func (r *Registry) Close() error {
	var firstError error
	for _, entry := range r.List() {
		entry.mutex.Lock()
		if !entry.bound {
			entry.mutex.Unlock()
			continue
		}
		entry.inflight.Wait()
		entry.bound = false
		entry.mutex.Unlock()

		if err := entry.pipe.Close(); err != nil {
			r.logger.Error("Failed to close pipe", "id", entry.meta.ID, "error", err)
			if firstError == nil {
				firstError = err
			}
		} else {
			r.logger.Debug("Closed pipe", "id", entry.meta.ID)
		}
	}
	return firstError
}
