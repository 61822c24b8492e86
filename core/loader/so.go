package loader

import (
	"fmt"
	"plugin"

	"github.com/pipeforge/conduit/api"
)

func init() {
	RegisterFormat("so", loadShared)
}

// loadShared loads a Go shared object pipe. The artifact must export
//
//	func NewPipe() api.Pipe
//
// built against the same api package version as the host.
func loadShared(m Manifest, logger api.Logger) (api.Pipe, error) {
	p, err := plugin.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared object: %w", err)
	}

	sym, err := p.Lookup("NewPipe")
	if err != nil {
		return nil, fmt.Errorf("shared object does not export NewPipe: %w", err)
	}

	newPipe, ok := sym.(func() api.Pipe)
	if !ok {
		return nil, fmt.Errorf("NewPipe has wrong type %T, want func() api.Pipe", sym)
	}

	pipe := newPipe()
	if pipe == nil {
		return nil, fmt.Errorf("NewPipe returned nil")
	}

	logger.Debug("Loaded shared object pipe", "id", pipe.Meta().ID, "path", m.Path)
	return pipe, nil
}
