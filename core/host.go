package core

import (
	"context"
	"fmt"

	"github.com/pipeforge/conduit/api"
	"github.com/pipeforge/conduit/core/catalog"
	"github.com/pipeforge/conduit/core/config"
	"github.com/pipeforge/conduit/core/events"
	"github.com/pipeforge/conduit/core/health"
	"github.com/pipeforge/conduit/core/invoke"
	"github.com/pipeforge/conduit/core/loader"
	"github.com/pipeforge/conduit/core/logging"
	"github.com/pipeforge/conduit/core/metrics"
	"github.com/pipeforge/conduit/core/registry"
	"github.com/pipeforge/conduit/core/settings"
)

// Version is the host version reported to pipes and the CLI
const Version = "0.1.0"

// Host wires the kernel together: registry, catalog, invoker, settings,
// events, health and metrics. It is the api.HostAPI implementation
// handed to pipes at bind time.
type Host struct {
	config   *config.Config
	logger   api.Logger
	bus      *events.Bus
	settings *settings.Store
	watcher  *settings.Watcher
	registry *registry.Registry
	catalog  *catalog.Catalog
	invoker  *invoke.Invoker
	health   *health.Tracker
	metrics  *metrics.Metrics
}

// New builds a host from the given configuration
func New(cfg *config.Config) (*Host, error) {
	logger := logging.New(cfg.Host.LogLevel)

	store := settings.NewStore(cfg.Host.SettingsFile, logging.Named(logger, "settings"))
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	bus := events.NewBus(logging.Named(logger, "events"))
	reg := registry.New(logging.Named(logger, "registry"))
	m := metrics.New(nil)
	tracker := health.NewTracker(cfg.Host.HealthWindow.Duration, cfg.Host.HealthFailures, logging.Named(logger, "health"))

	return &Host{
		config:   cfg,
		logger:   logger,
		bus:      bus,
		settings: store,
		registry: reg,
		catalog:  catalog.New(reg, cfg.Host.ListingTimeout.Duration, logging.Named(logger, "catalog"), m, bus),
		invoker:  invoke.New(reg, logging.Named(logger, "invoker"), m, bus, tracker),
		health:   tracker,
		metrics:  m,
	}, nil
}

// Start starts the host's background work: health tracking and, when
// configured, the settings watcher that rebinds pipes on file changes.
func (h *Host) Start() error {
	h.health.Start()

	if h.config.Host.WatchSettings && h.settings.Path() != "" {
		watcher, err := settings.NewWatcher(h.settings, h.onSettingsChanged, logging.Named(h.logger, "settings"))
		if err != nil {
			return fmt.Errorf("failed to create settings watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start settings watcher: %w", err)
		}
		h.watcher = watcher
	}

	h.logger.Info("Host started", "version", Version)
	return nil
}

// RegisterPipe records a built-in or loaded pipe
func (h *Host) RegisterPipe(p api.Pipe) error {
	if err := h.registry.Register(p); err != nil {
		return err
	}

	meta := p.Meta()
	entry, _ := h.registry.Get(meta.ID)
	h.bus.Emit(api.Event{
		Source: "host",
		Type:   events.TypePipeRegistered,
		Payload: map[string]interface{}{
			"pipe":     meta.ID,
			"version":  meta.Version,
			"manifold": entry.IsManifold(),
		},
	})
	return nil
}

// LoadExternal discovers pipe.yaml manifests under the configured pipe
// directory, merges in artifacts declared directly in [pipes.*], and
// registers every pipe that loads. A bad artifact is logged and
// skipped; it never aborts the others.
func (h *Host) LoadExternal() error {
	manifests, errs := loader.Discover(h.config.Host.PipeDir)
	for _, err := range errs {
		h.logger.Error("Skipping unreadable pipe manifest", "error", err)
	}

	for id, pc := range h.config.ExternalPipes() {
		manifests = append(manifests, loader.Manifest{
			ID:      id,
			Name:    id,
			Version: "0.0.0",
			Format:  pc.Format,
			Path:    pc.Path,
		})
	}

	loaded := 0
	for _, m := range manifests {
		if !h.config.IsPipeEnabled(m.ID) {
			h.logger.Debug("Pipe disabled, skipping", "pipe", m.ID)
			continue
		}

		pipe, err := loader.Load(m, logging.Named(h.logger, "loader"))
		if err != nil {
			h.logger.Error("Failed to load external pipe", "pipe", m.ID, "format", m.Format, "error", err)
			continue
		}
		if err := h.RegisterPipe(pipe); err != nil {
			h.logger.Error("Failed to register external pipe", "pipe", m.ID, "error", err)
			continue
		}
		loaded++
	}

	if loaded > 0 {
		h.logger.Info("Loaded external pipes", "count", loaded)
	}
	return nil
}

// BindAll resolves valves for every registered, enabled pipe and binds
// it. Resolution layers, later winning: schema defaults, host config
// [valves.<id>], persisted settings. A pipe that fails to bind is
// logged and left unbound; invoking it yields an in-band rejection.
func (h *Host) BindAll() error {
	bound := 0
	for _, entry := range h.registry.List() {
		id := entry.Meta().ID
		if !h.config.IsPipeEnabled(id) {
			h.logger.Debug("Pipe disabled, not binding", "pipe", id)
			continue
		}
		if err := h.registry.Bind(id, h, h.valveLayers(id)...); err != nil {
			h.logger.Error("Failed to bind pipe", "pipe", id, "error", err)
			continue
		}
		bound++
		h.bus.Emit(api.Event{
			Source:  "host",
			Type:    events.TypePipeBound,
			Payload: map[string]interface{}{"pipe": id},
		})
	}

	h.metrics.SetPipesBound(bound)
	h.logger.Info("Bound pipes", "count", bound)
	return nil
}

// Models enumerates the full model catalog
func (h *Host) Models(ctx context.Context) []api.ModelInfo {
	return h.catalog.Models(ctx)
}

// ModelsFor returns one pipe's contribution to the catalog
func (h *Host) ModelsFor(ctx context.Context, pipeID string) ([]api.ModelInfo, error) {
	return h.catalog.ModelsFor(ctx, pipeID)
}

// Invoke runs one request against the pipe the model id names
func (h *Host) Invoke(ctx context.Context, model string, req api.Request) api.Outcome {
	return h.invoker.Invoke(ctx, model, req)
}

// UpdateValve persists a valve override and rebinds the pipe so the
// change takes effect. In-flight invocations finish on the old
// snapshot.
func (h *Host) UpdateValve(pipeID, key string, value interface{}) error {
	if _, exists := h.registry.Get(pipeID); !exists {
		return fmt.Errorf("pipe %s is not registered", pipeID)
	}
	if err := h.settings.Set(pipeID, key, value); err != nil {
		return err
	}
	return h.rebind(pipeID)
}

// Registry exposes the pipe registry for inspection
func (h *Host) Registry() *registry.Registry {
	return h.registry
}

// Health exposes the failure tracker for inspection
func (h *Host) Health() *health.Tracker {
	return h.health
}

// Metrics exposes the host metrics
func (h *Host) Metrics() *metrics.Metrics {
	return h.metrics
}

// Subscribe registers a handler on the host event bus
func (h *Host) Subscribe(filter api.EventFilter, handler api.EventHandler) {
	h.bus.Subscribe(filter, handler)
}

// Shutdown drains and closes every bound pipe, then stops the
// background work. The context bounds how long the drain may take.
func (h *Host) Shutdown(ctx context.Context) error {
	if h.watcher != nil {
		h.watcher.Stop()
	}

	done := make(chan error, 1)
	go func() {
		done <- h.registry.Close()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}

	h.bus.Close()
	h.health.Stop()
	h.logger.Info("Host stopped")
	return err
}

// onSettingsChanged rebinds the pipes whose persisted valves changed on
// disk.
func (h *Host) onSettingsChanged(changed []string) {
	for _, pipeID := range changed {
		entry, exists := h.registry.Get(pipeID)
		if !exists || !entry.Bound() {
			continue
		}
		if err := h.rebind(pipeID); err != nil {
			h.logger.Error("Failed to rebind pipe after settings change", "pipe", pipeID, "error", err)
		}
	}
	h.bus.Emit(api.Event{
		Source:  "host",
		Type:    events.TypeSettingsReload,
		Payload: map[string]interface{}{"pipes": changed},
	})
}

// rebind re-resolves a pipe's valves and swaps them in
func (h *Host) rebind(pipeID string) error {
	entry, exists := h.registry.Get(pipeID)
	if !exists {
		return fmt.Errorf("pipe %s is not registered", pipeID)
	}
	if !entry.Bound() {
		return h.registry.Bind(pipeID, h, h.valveLayers(pipeID)...)
	}
	return h.registry.Rebind(pipeID, h, h.valveLayers(pipeID)...)
}

// valveLayers builds a pipe's resolution layers in precedence order
func (h *Host) valveLayers(pipeID string) []map[string]interface{} {
	return []map[string]interface{}{
		h.config.ValveLayer(pipeID),
		h.settings.Get(pipeID),
	}
}

// api.HostAPI implementation, the narrow surface pipes see.

// Logger returns a logger scoped to the given pipe
func (h *Host) Logger(pipe string) api.Logger {
	return h.logger.With("pipe", pipe)
}

// Emit publishes an event on the host bus
func (h *Host) Emit(event api.Event) {
	h.bus.Emit(event)
}

// Version returns the host version
func (h *Host) Version() string {
	return Version
}
