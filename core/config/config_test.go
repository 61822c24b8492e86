package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Host.LogLevel)
	assert.Equal(t, "pipes", cfg.Host.PipeDir)
	assert.Equal(t, "settings.toml", cfg.Host.SettingsFile)
	assert.False(t, cfg.Host.WatchSettings)
	assert.Equal(t, 10*time.Second, cfg.Host.ListingTimeout.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Host.HealthWindow.Duration)
	assert.Equal(t, 5, cfg.Host.HealthFailures)
	assert.Empty(t, cfg.Pipes)
	assert.Empty(t, cfg.Valves)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file does not exist")
}

func TestLoadConfig_Basic(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.toml", `
[host]
log_level = "debug"
pipe_dir = "/opt/pipes"
watch_settings = true
listing_timeout = "3s"

[pipes.openai]
enabled = true

[pipes.slow]
enabled = false

[valves.openai]
api_key = "sk-test"
timeout = "45s"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Host.LogLevel)
	assert.Equal(t, "/opt/pipes", cfg.Host.PipeDir)
	assert.True(t, cfg.Host.WatchSettings)
	assert.Equal(t, 3*time.Second, cfg.Host.ListingTimeout.Duration)
	assert.Equal(t, "settings.toml", cfg.Host.SettingsFile, "unset keys keep their defaults")

	assert.Equal(t, "sk-test", cfg.ValveLayer("openai")["api_key"])
	assert.Equal(t, "45s", cfg.ValveLayer("openai")["timeout"])
	assert.Nil(t, cfg.ValveLayer("ghost"))
}

func TestLoadConfig_BadDuration(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.toml", `
[host]
listing_timeout = "soon"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_Includes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "10-openai.toml", `
[valves.openai]
api_key = "sk-included"
base_url = "https://proxy.example.com/v1"
`)
	writeConfig(t, dir, "20-echo.toml", `
[valves.echo]
prefix = "inc: "
`)
	path := writeConfig(t, dir, "config.toml", `
[host]
log_level = "warn"

[valves.openai]
api_key = "sk-main"
timeout = "5s"

[[include]]
files = ["*-*.toml"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Included files merge valve tables key-wise: the included api_key
	// overrides, the main file's timeout survives.
	openai := cfg.ValveLayer("openai")
	assert.Equal(t, "sk-included", openai["api_key"])
	assert.Equal(t, "https://proxy.example.com/v1", openai["base_url"])
	assert.Equal(t, "5s", openai["timeout"])

	assert.Equal(t, "inc: ", cfg.ValveLayer("echo")["prefix"])
	assert.Equal(t, "warn", cfg.Host.LogLevel)
}

func TestLoadConfig_IncludeSkipsMainFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.toml", `
[valves.echo]
prefix = "once: "

[[include]]
files = ["*.toml"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "once: ", cfg.ValveLayer("echo")["prefix"])
}

func TestLoadConfig_RawKeepsUnknownSections(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.toml", `
[host]
log_level = "info"

[custom_section]
key = "value"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Contains(t, cfg.Raw, "custom_section")
	assert.NotContains(t, cfg.Raw, "host", "reserved sections stay out of Raw")
	assert.NotContains(t, cfg.Raw, "valves")
}

func TestConfig_IsPipeEnabled(t *testing.T) {
	enabled := true
	disabled := false
	cfg := DefaultConfig()
	cfg.Pipes["on"] = PipeConfig{Enabled: &enabled}
	cfg.Pipes["off"] = PipeConfig{Enabled: &disabled}
	cfg.Pipes["unset"] = PipeConfig{}

	assert.True(t, cfg.IsPipeEnabled("on"))
	assert.False(t, cfg.IsPipeEnabled("off"))
	assert.True(t, cfg.IsPipeEnabled("unset"), "no explicit setting means enabled")
	assert.True(t, cfg.IsPipeEnabled("unknown"))
}

func TestConfig_ExternalPipes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipes["builtin"] = PipeConfig{}
	cfg.Pipes["translator"] = PipeConfig{Format: "wasm", Path: "/opt/pipes/translator.wasm"}
	cfg.Pipes["legacy"] = PipeConfig{Format: "so", Path: "/opt/pipes/legacy.so"}

	external := cfg.ExternalPipes()

	assert.Len(t, external, 2)
	assert.Equal(t, "wasm", external["translator"].Format)
	assert.Equal(t, "so", external["legacy"].Format)
	assert.NotContains(t, external, "builtin", "pipes without a path are built in")
}
