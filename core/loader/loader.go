// Package loader brings externally built pipes into the host. A pipe
// artifact is described by a pipe.yaml manifest naming its format; each
// format registers a factory from init() and the loader dispatches on
// the manifest's format field.
package loader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pipeforge/conduit/api"
)

// Factory builds a pipe from a validated manifest
type Factory func(m Manifest, logger api.Logger) (api.Pipe, error)

var (
	formatRegistry = make(map[string]Factory)
	formatMutex    sync.RWMutex
)

// RegisterFormat registers a factory for a format identifier ("so",
// "wasm"). Called from init() in format implementations.
func RegisterFormat(format string, factory Factory) {
	formatMutex.Lock()
	defer formatMutex.Unlock()
	formatRegistry[format] = factory
}

// Formats returns the registered format identifiers, sorted
func Formats() []string {
	formatMutex.RLock()
	defer formatMutex.RUnlock()

	formats := make([]string, 0, len(formatRegistry))
	for format := range formatRegistry {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}

// Load builds a pipe from its manifest using the format's factory
func Load(m Manifest, logger api.Logger) (api.Pipe, error) {
	if errs := m.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid manifest for %s: %s", m.ID, errs[0].Error())
	}

	formatMutex.RLock()
	factory, exists := formatRegistry[m.Format]
	formatMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no loader registered for format %s", m.Format)
	}

	pipe, err := factory(m, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s pipe %s: %w", m.Format, m.ID, err)
	}
	return pipe, nil
}
