package api

import "context"

// Pipe is the main interface that all pipes must implement. A pipe is a
// unit of injected logic the host exposes as one or more selectable
// models.
type Pipe interface {
	// Meta returns pipe metadata
	Meta() Meta

	// Valves returns the pipe's configuration schema
	Valves() ValveSchema

	// Init is called once the host has resolved the pipe's valves. The
	// valves snapshot is immutable; a configuration change causes the
	// host to call Init again with a new snapshot after draining
	// in-flight requests.
	Init(host HostAPI, valves Valves) error

	// Process handles a single request. Failures the end user should
	// see are returned in-band as a Result whose text begins with
	// "Error:"; a non-nil error marks the whole invocation as failed.
	Process(ctx context.Context, req Request) (Result, error)

	// Close is called when the pipe is unloaded
	Close() error
}

// Lister is the optional listing capability. A pipe that implements it
// is a manifold: the host multiplexes every listed model under the
// pipe's id. Models never reports an error; on internal failure it
// returns exactly one sentinel entry (see ErrorModel) so discovery
// degrades to a single unusable menu entry instead of failing.
//
// Whether a pipe supports listing is recorded by the host once at
// registration time, not probed per call.
type Lister interface {
	Models(ctx context.Context) []ModelInfo
}

// HostAPI is the surface the host exposes to pipes
type HostAPI interface {
	// Logger returns a logger scoped to the given pipe
	Logger(pipe string) Logger

	// Emit publishes an event on the host's bus
	Emit(event Event)

	// Version returns the host version
	Version() string
}

// Meta contains metadata about a pipe
type Meta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`

	// Prefix is prepended to multiplexed model names. Empty means the
	// host derives one from Name.
	Prefix string `json:"prefix,omitempty"`
}
