// Package echopipe is a self-contained pipe that echoes the last user
// message back. It has no network dependencies, so it exercises the
// whole invocation path (binding, valves, terminal and streamed
// results) on its own.
package echopipe

import (
	"context"
	"strings"
	"time"

	"github.com/pipeforge/conduit/api"
)

// Pipe echoes conversation input
type Pipe struct {
	logger api.Logger
	prefix string
	delay  time.Duration
}

// New creates an unbound echo pipe
func New() *Pipe {
	return &Pipe{logger: api.NopLogger()}
}

// Meta returns pipe metadata
func (p *Pipe) Meta() api.Meta {
	return api.Meta{
		ID:          "echo",
		Name:        "Echo",
		Version:     "1.0.0",
		Description: "Echoes the last user message back, optionally word by word",
	}
}

// Valves returns the pipe's configuration schema
func (p *Pipe) Valves() api.ValveSchema {
	return api.ValveSchema{
		{
			Name:        "prefix",
			Type:        api.ValveString,
			Default:     "echo: ",
			Description: "Text prepended to every reply",
		},
		{
			Name:        "delay",
			Type:        api.ValveDuration,
			Default:     "0s",
			Description: "Pause before the reply, and between streamed words",
		},
	}
}

// Init binds the pipe to its resolved valves
func (p *Pipe) Init(host api.HostAPI, valves api.Valves) error {
	p.logger = host.Logger("echo")
	p.prefix = valves.StringOr("prefix", "echo: ")
	p.delay = valves.Duration("delay")
	p.logger.Debug("Echo pipe bound", "prefix", p.prefix, "delay", p.delay)
	return nil
}

// Process echoes the last user message. With Stream set the reply is
// re-emitted word by word, pausing delay between words.
func (p *Pipe) Process(ctx context.Context, req api.Request) (api.Result, error) {
	text := req.LastUserMessage()
	prefix := p.prefix
	delay := p.delay

	if !req.Stream {
		if err := pause(ctx, delay); err != nil {
			return api.Result{}, err
		}
		return api.TextResult(prefix + text), nil
	}

	words := strings.Fields(text)
	return api.StreamResult(api.Produce(len(words)+1, func(w *api.StreamWriter) error {
		if err := w.SendText(prefix); err != nil {
			return nil
		}
		for i, word := range words {
			if err := pause(ctx, delay); err != nil {
				return err
			}
			if i > 0 {
				word = " " + word
			}
			if err := w.SendText(word); err != nil {
				return nil
			}
		}
		return nil
	})), nil
}

// Close is called when the pipe is unloaded
func (p *Pipe) Close() error {
	return nil
}

// pause waits for the given delay unless the context ends first
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
