package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeforge/conduit/api"
)

func validManifest() Manifest {
	return Manifest{
		ID:      "translator",
		Name:    "Translator",
		Version: "1.0.0",
		Format:  "wasm",
		Path:    "/opt/pipes/translator.wasm",
	}
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Manifest)
		wantFields []string
	}{
		{
			name:   "valid manifest",
			mutate: func(m *Manifest) {},
		},
		{
			name:       "empty manifest",
			mutate:     func(m *Manifest) { *m = Manifest{} },
			wantFields: []string{"id", "name", "version", "format", "path"},
		},
		{
			name:       "dotted id",
			mutate:     func(m *Manifest) { m.ID = "trans.lator" },
			wantFields: []string{"id"},
		},
		{
			name:       "not a version",
			mutate:     func(m *Manifest) { m.Version = "latest" },
			wantFields: []string{"version"},
		},
		{
			name:       "incomplete version",
			mutate:     func(m *Manifest) { m.Version = "1.0" },
			wantFields: []string{"version"},
		},
		{
			name:   "v-prefixed version",
			mutate: func(m *Manifest) { m.Version = "v2.3.4" },
		},
		{
			name:   "prerelease and build metadata",
			mutate: func(m *Manifest) { m.Version = "1.0.0-rc.1+build.5" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(&m)

			errs := m.Validate()

			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			if len(tt.wantFields) == 0 {
				assert.Empty(t, errs)
			} else {
				assert.ElementsMatch(t, tt.wantFields, fields)
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: translator
name: Translator
version: 1.0.0
format: wasm
path: translator.wasm
description: Translates things
`), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "translator", m.ID)
	assert.Equal(t, "Translator", m.Name)
	assert.Equal(t, "wasm", m.Format)
	assert.Equal(t, filepath.Join(dir, "translator.wasm"), m.Path,
		"relative artifact paths resolve against the manifest's directory")
}

func TestLoadManifest_AbsolutePathUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: translator
name: Translator
version: 1.0.0
format: so
path: /opt/pipes/translator.so
`), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/pipes/translator.so", m.Path)
}

func TestLoadManifest_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadManifest(filepath.Join(t.TempDir(), "pipe.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read manifest")
	})

	t.Run("broken yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pipe.yaml")
		require.NoError(t, os.WriteFile(path, []byte("id: [unclosed"), 0644))

		_, err := LoadManifest(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse manifest")
	})
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()

	writeManifest := func(sub, id string) {
		pipeDir := filepath.Join(dir, sub)
		require.NoError(t, os.MkdirAll(pipeDir, 0755))
		content := fmt.Sprintf("id: %s\nname: %s\nversion: 1.0.0\nformat: wasm\npath: %s.wasm\n", id, id, id)
		require.NoError(t, os.WriteFile(filepath.Join(pipeDir, ManifestFileName), []byte(content), 0644))
	}
	writeManifest("translator", "translator")
	writeManifest("nested/deeper/summarizer", "summarizer")

	// Files not named pipe.yaml are not manifests
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# pipes"), 0644))

	manifests, errs := Discover(dir)
	assert.Empty(t, errs)

	var ids []string
	for _, m := range manifests {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"translator", "summarizer"}, ids)
}

func TestDiscover_MissingDirectory(t *testing.T) {
	manifests, errs := Discover(filepath.Join(t.TempDir(), "nonexistent"))

	assert.Nil(t, manifests)
	assert.Nil(t, errs)
}

func TestDiscover_KeepsGoodManifestsOnErrors(t *testing.T) {
	dir := t.TempDir()

	goodDir := filepath.Join(dir, "good")
	require.NoError(t, os.MkdirAll(goodDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(goodDir, ManifestFileName),
		[]byte("id: good\nname: Good\nversion: 1.0.0\nformat: wasm\npath: good.wasm\n"), 0644))

	badDir := filepath.Join(dir, "bad")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, ManifestFileName),
		[]byte("id: [unclosed"), 0644))

	manifests, errs := Discover(dir)

	require.Len(t, manifests, 1)
	assert.Equal(t, "good", manifests[0].ID)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "failed to parse manifest")
}

func TestFormats_BuiltinsRegistered(t *testing.T) {
	formats := Formats()

	assert.Contains(t, formats, "so")
	assert.Contains(t, formats, "wasm")
	assert.IsIncreasing(t, formats)
}

// loadedPipe stands in for a pipe a factory would build
type loadedPipe struct {
	meta api.Meta
}

func (p *loadedPipe) Meta() api.Meta                     { return p.meta }
func (p *loadedPipe) Valves() api.ValveSchema            { return nil }
func (p *loadedPipe) Init(api.HostAPI, api.Valves) error { return nil }
func (p *loadedPipe) Close() error                       { return nil }
func (p *loadedPipe) Process(ctx context.Context, req api.Request) (api.Result, error) {
	return api.TextResult("loaded"), nil
}

func TestLoad(t *testing.T) {
	RegisterFormat("stub", func(m Manifest, logger api.Logger) (api.Pipe, error) {
		return &loadedPipe{meta: api.Meta{ID: m.ID, Name: m.Name, Version: m.Version}}, nil
	})
	RegisterFormat("stub-broken", func(m Manifest, logger api.Logger) (api.Pipe, error) {
		return nil, fmt.Errorf("artifact corrupt")
	})

	t.Run("dispatches on format", func(t *testing.T) {
		m := validManifest()
		m.Format = "stub"

		pipe, err := Load(m, api.NopLogger())
		require.NoError(t, err)
		assert.Equal(t, "translator", pipe.Meta().ID)
	})

	t.Run("invalid manifest", func(t *testing.T) {
		m := validManifest()
		m.Version = "latest"

		_, err := Load(m, api.NopLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid manifest")
	})

	t.Run("unknown format", func(t *testing.T) {
		m := validManifest()
		m.Format = "zip"

		_, err := Load(m, api.NopLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no loader registered for format zip")
	})

	t.Run("factory failure", func(t *testing.T) {
		m := validManifest()
		m.Format = "stub-broken"

		_, err := Load(m, api.NopLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "artifact corrupt")
	})
}
