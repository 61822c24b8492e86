package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	extism "github.com/extism/go-sdk"

	"github.com/pipeforge/conduit/api"
)

func init() {
	RegisterFormat("wasm", loadWasm)
}

// loadWasm loads a WASM pipe through the Extism SDK. The module must
// export process; models and valves are optional exports. A module
// exporting models is surfaced to the host as a manifold so the
// capability is visible to the registry's type assertion.
func loadWasm(m Manifest, logger api.Logger) (api.Pipe, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wasm artifact: %w", err)
	}

	pipe := &wasmPipe{
		meta: api.Meta{
			ID:          m.ID,
			Name:        m.Name,
			Version:     m.Version,
			Description: m.Description,
		},
		data:   data,
		logger: logger,
	}

	// Probe the exports once with an unconfigured instance; Init
	// rebuilds it with the resolved valves.
	probe, err := pipe.instantiate(nil)
	if err != nil {
		return nil, err
	}
	if !probe.FunctionExists("process") {
		probe.CloseWithContext(context.Background())
		return nil, fmt.Errorf("wasm module %s does not export process", m.ID)
	}
	hasModels := probe.FunctionExists("models")
	if probe.FunctionExists("valves") {
		pipe.schema, err = wasmValveSchema(probe)
		if err != nil {
			logger.Warn("Ignoring invalid valve schema from wasm module", "pipe", m.ID, "error", err)
		}
	}
	pipe.plugin = probe

	if hasModels {
		return &wasmManifold{pipe}, nil
	}
	return pipe, nil
}

// wasmPipe adapts one Extism plugin instance to the pipe contract.
// Extism instances are not safe for concurrent calls, so every export
// call is serialized behind mu. Streaming is left to the host: process
// returns terminal text and the invoker wraps it when the caller asked
// for a stream.
type wasmPipe struct {
	meta   api.Meta
	data   []byte
	schema api.ValveSchema
	logger api.Logger

	mu     sync.Mutex
	plugin *extism.Plugin
}

func (p *wasmPipe) Meta() api.Meta {
	return p.meta
}

func (p *wasmPipe) Valves() api.ValveSchema {
	return p.schema
}

// Init rebuilds the instance with the resolved valves passed through
// the Extism config map. Values are stringified; the module parses what
// it needs.
func (p *wasmPipe) Init(host api.HostAPI, valves api.Valves) error {
	config := make(map[string]string, valves.Len())
	for k, v := range valves.Map() {
		config[k] = fmt.Sprintf("%v", v)
	}

	instance, err := p.instantiate(config)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.plugin != nil {
		p.plugin.CloseWithContext(context.Background())
	}
	p.plugin = instance
	p.logger.Debug("Initialized wasm pipe", "id", p.meta.ID, "valves", len(config))
	return nil
}

// Process calls the process export with the request as JSON. Export
// failures are reported in-band as "Error:" text, never as a fault
// that aborts the host.
func (p *wasmPipe) Process(ctx context.Context, req api.Request) (api.Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return api.Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.plugin == nil {
		return api.Result{}, fmt.Errorf("wasm pipe %s is closed", p.meta.ID)
	}

	exit, output, err := p.plugin.CallWithContext(ctx, "process", payload)
	if err != nil {
		return api.ErrorText(err), nil
	}
	if exit != 0 {
		return api.ErrorTextf("wasm process exited with code %d", exit), nil
	}

	// Output is either {"text": "..."} or raw reply text
	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(output, &decoded); err == nil && decoded.Text != "" {
		return api.TextResult(decoded.Text), nil
	}
	return api.TextResult(string(output)), nil
}

func (p *wasmPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.plugin == nil {
		return nil
	}
	err := p.plugin.CloseWithContext(context.Background())
	p.plugin = nil
	return err
}

// instantiate builds a fresh Extism instance over the cached artifact
func (p *wasmPipe) instantiate(config map[string]string) (*extism.Plugin, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: p.data},
		},
		Config:       config,
		AllowedHosts: []string{"*"},
	}

	instance, err := extism.NewPlugin(context.Background(), manifest, extism.PluginConfig{
		EnableWasi: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate wasm module %s: %w", p.meta.ID, err)
	}
	return instance, nil
}

// wasmManifold adds the listing capability for modules exporting models
type wasmManifold struct {
	*wasmPipe
}

func (p *wasmManifold) Models(ctx context.Context) []api.ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.plugin == nil {
		return []api.ModelInfo{api.ErrorModel("wasm pipe is closed")}
	}

	exit, output, err := p.plugin.CallWithContext(ctx, "models", nil)
	if err != nil {
		return []api.ModelInfo{api.ErrorModel(fmt.Sprintf("models export failed: %v", err))}
	}
	if exit != 0 {
		return []api.ModelInfo{api.ErrorModel(fmt.Sprintf("models export exited with code %d", exit))}
	}

	var models []api.ModelInfo
	if err := json.Unmarshal(output, &models); err != nil {
		return []api.ModelInfo{api.ErrorModel(fmt.Sprintf("invalid models payload: %v", err))}
	}
	return models
}

// wasmValveSchema reads the optional valves export: a JSON array of
// valve specs.
func wasmValveSchema(instance *extism.Plugin) (api.ValveSchema, error) {
	exit, output, err := instance.Call("valves", nil)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, fmt.Errorf("valves export exited with code %d", exit)
	}

	var schema api.ValveSchema
	if err := json.Unmarshal(output, &schema); err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}
