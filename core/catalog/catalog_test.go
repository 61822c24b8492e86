package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pipeforge/conduit/api"
	"github.com/pipeforge/conduit/core/events"
	"github.com/pipeforge/conduit/core/registry"
)

// plainPipe has no listing capability
type plainPipe struct {
	meta api.Meta
}

func (p *plainPipe) Meta() api.Meta                        { return p.meta }
func (p *plainPipe) Valves() api.ValveSchema               { return nil }
func (p *plainPipe) Init(api.HostAPI, api.Valves) error    { return nil }
func (p *plainPipe) Close() error                          { return nil }
func (p *plainPipe) Process(ctx context.Context, req api.Request) (api.Result, error) {
	return api.TextResult("ok"), nil
}

// listPipe is a manifold whose listing and prefix are settable per test
type listPipe struct {
	plainPipe
	mu     sync.Mutex
	prefix string
	list   func(ctx context.Context) []api.ModelInfo
}

func newListPipe(id, name string, models ...api.ModelInfo) *listPipe {
	return &listPipe{
		plainPipe: plainPipe{meta: api.Meta{ID: id, Name: name, Version: "1.0.0"}},
		list: func(ctx context.Context) []api.ModelInfo {
			return models
		},
	}
}

func (p *listPipe) Meta() api.Meta {
	p.mu.Lock()
	defer p.mu.Unlock()
	meta := p.plainPipe.meta
	meta.Prefix = p.prefix
	return meta
}

func (p *listPipe) SetPrefix(prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefix = prefix
}

func (p *listPipe) Models(ctx context.Context) []api.ModelInfo {
	return p.list(ctx)
}

type testHost struct{}

func (testHost) Logger(pipe string) api.Logger { return api.NopLogger() }
func (testHost) Emit(event api.Event)          {}
func (testHost) Version() string               { return "test" }

// newTestCatalog registers and binds the given pipes behind a fresh catalog
func newTestCatalog(t *testing.T, timeout time.Duration, pipes ...api.Pipe) *Catalog {
	t.Helper()
	reg := registry.New(api.NopLogger())
	for _, p := range pipes {
		require.NoError(t, reg.Register(p))
		require.NoError(t, reg.Bind(p.Meta().ID, testHost{}))
	}
	return New(reg, timeout, api.NopLogger(), nil, nil)
}

func TestCatalog_PlainPipeContributesItself(t *testing.T) {
	cat := newTestCatalog(t, 0, &plainPipe{meta: api.Meta{ID: "echo", Name: "Echo"}})

	models := cat.Models(context.Background())

	require.Len(t, models, 1)
	assert.Equal(t, "echo", models[0].ID)
	assert.Equal(t, "Echo", models[0].Name)
}

func TestCatalog_ManifoldNamespacesModels(t *testing.T) {
	pipe := newListPipe("multi", "Multi",
		api.ModelInfo{ID: "small", Name: "Small Model"},
		api.ModelInfo{ID: "large", Name: "Large Model"},
	)
	cat := newTestCatalog(t, 0, pipe)

	models := cat.Models(context.Background())

	require.Len(t, models, 2)
	assert.Equal(t, "multi.small", models[0].ID)
	assert.Equal(t, "Multi: Small Model", models[0].Name, "without a prefix the pipe name is used")
	assert.Equal(t, "multi.large", models[1].ID)
	assert.Equal(t, "Multi: Large Model", models[1].Name)
}

func TestCatalog_PrefixReadFromLivePipe(t *testing.T) {
	pipe := newListPipe("multi", "Multi", api.ModelInfo{ID: "m", Name: "M"})
	pipe.SetPrefix("wow> ")
	cat := newTestCatalog(t, 0, pipe)

	models := cat.Models(context.Background())
	require.Len(t, models, 1)
	assert.Equal(t, "multi.m", models[0].ID)
	assert.Equal(t, "wow> M", models[0].Name)

	// A prefix change shows up on the next enumeration without a
	// re-registration. The id stays stable.
	pipe.SetPrefix("now> ")
	models = cat.Models(context.Background())
	require.Len(t, models, 1)
	assert.Equal(t, "multi.m", models[0].ID)
	assert.Equal(t, "now> M", models[0].Name)
}

func TestCatalog_SentinelCollapsesListing(t *testing.T) {
	pipe := newListPipe("multi", "Multi",
		api.ModelInfo{ID: "good", Name: "Good"},
		api.ErrorModel("api key missing"),
		api.ModelInfo{ID: "other", Name: "Other"},
	)
	cat := newTestCatalog(t, 0, pipe)

	models := cat.Models(context.Background())

	require.Len(t, models, 1, "a sentinel replaces the whole listing")
	assert.Equal(t, "multi.error", models[0].ID)
	assert.Equal(t, "api key missing", models[0].Name)
}

func TestCatalog_PanicDegradesToSentinel(t *testing.T) {
	pipe := newListPipe("multi", "Multi")
	pipe.list = func(ctx context.Context) []api.ModelInfo {
		panic("listing exploded")
	}
	cat := newTestCatalog(t, 0, pipe)

	models := cat.Models(context.Background())

	require.Len(t, models, 1)
	assert.Equal(t, "multi.error", models[0].ID)
	assert.Contains(t, models[0].Name, "panicked")
	assert.Contains(t, models[0].Name, "listing exploded")
}

func TestCatalog_TimeoutDegradesToSentinel(t *testing.T) {
	pipe := newListPipe("multi", "Multi")
	pipe.list = func(ctx context.Context) []api.ModelInfo {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return []api.ModelInfo{{ID: "late", Name: "Late"}}
	}
	cat := newTestCatalog(t, 30*time.Millisecond, pipe)

	models := cat.Models(context.Background())

	require.Len(t, models, 1)
	assert.Equal(t, "multi.error", models[0].ID)
	assert.Contains(t, models[0].Name, "timed out")
}

func TestCatalog_UnboundManifold(t *testing.T) {
	reg := registry.New(api.NopLogger())
	require.NoError(t, reg.Register(newListPipe("multi", "Multi", api.ModelInfo{ID: "m", Name: "M"})))
	cat := New(reg, 0, api.NopLogger(), nil, nil)

	models := cat.Models(context.Background())

	require.Len(t, models, 1)
	assert.Equal(t, "multi.error", models[0].ID)
	assert.Equal(t, "pipe is not configured", models[0].Name)
}

func TestCatalog_DuplicateModelIDsDropped(t *testing.T) {
	pipe := newListPipe("multi", "Multi",
		api.ModelInfo{ID: "m", Name: "First"},
		api.ModelInfo{ID: "m", Name: "Second"},
		api.ModelInfo{ID: "n", Name: "Other"},
	)
	cat := newTestCatalog(t, 0, pipe)

	models := cat.Models(context.Background())

	require.Len(t, models, 2)
	assert.Equal(t, "multi.m", models[0].ID)
	assert.Equal(t, "Multi: First", models[0].Name, "the first occurrence wins")
	assert.Equal(t, "multi.n", models[1].ID)
}

func TestCatalog_EnumeratesInPipeOrder(t *testing.T) {
	cat := newTestCatalog(t, 0,
		&plainPipe{meta: api.Meta{ID: "zeta", Name: "Zeta"}},
		newListPipe("alpha", "Alpha",
			api.ModelInfo{ID: "one", Name: "One"},
			api.ModelInfo{ID: "two", Name: "Two"},
		),
	)

	models := cat.Models(context.Background())

	var ids []string
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"alpha.one", "alpha.two", "zeta"}, ids)
}

func TestCatalog_ModelsFor(t *testing.T) {
	cat := newTestCatalog(t, 0, newListPipe("multi", "Multi", api.ModelInfo{ID: "m", Name: "M"}))

	models, err := cat.ModelsFor(context.Background(), "multi")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "multi.m", models[0].ID)

	_, err = cat.ModelsFor(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestCatalog_SentinelEmitsEvent(t *testing.T) {
	reg := registry.New(api.NopLogger())
	require.NoError(t, reg.Register(newListPipe("multi", "Multi")))

	bus := events.NewBus(api.NopLogger())
	defer bus.Close()

	received := make(chan api.Event, 4)
	bus.Subscribe(api.EventFilter{Types: []string{events.TypeListingError}}, func(e api.Event) error {
		received <- e
		return nil
	})

	cat := New(reg, 0, api.NopLogger(), nil, bus)
	cat.Models(context.Background())

	select {
	case e := <-received:
		assert.Equal(t, "catalog", e.Source)
		assert.Equal(t, "multi", e.Payload["pipe"])
		assert.Equal(t, "pipe is not configured", e.Payload["cause"])
	case <-time.After(2 * time.Second):
		t.Fatal("no listing.error event received")
	}
}

func TestCatalog_NamespacedIDs_PropertyBased(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfN(rapid.StringMatching(`[a-z][a-z0-9-]{0,8}`), 0, 12).Draw(t, "ids")

		models := make([]api.ModelInfo, 0, len(ids))
		hasSentinel := false
		distinct := make(map[string]bool, len(ids))
		for _, id := range ids {
			models = append(models, api.ModelInfo{ID: id, Name: id})
			if id == api.ErrorModelID {
				hasSentinel = true
			} else if !hasSentinel {
				distinct[id] = true
			}
		}

		reg := registry.New(api.NopLogger())
		pipe := newListPipe("m", "M", models...)
		require.NoError(t, reg.Register(pipe))
		require.NoError(t, reg.Bind("m", testHost{}))
		cat := New(reg, 0, api.NopLogger(), nil, nil)

		listed := cat.Models(context.Background())

		if hasSentinel {
			require.Len(t, listed, 1)
			assert.Equal(t, "m.error", listed[0].ID)
			return
		}

		assert.Len(t, listed, len(distinct))
		seen := make(map[string]bool, len(listed))
		for _, m := range listed {
			assert.False(t, seen[m.ID], "catalog ids must be unique: %s", m.ID)
			seen[m.ID] = true
			assert.True(t, distinct[m.ID[len("m."):]], "unexpected id %s", m.ID)
		}
	})
}
