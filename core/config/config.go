package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main host configuration
type Config struct {
	Host    HostConfig                        `toml:"host"`
	Pipes   map[string]PipeConfig             `toml:"pipes"`
	Valves  map[string]map[string]interface{} `toml:"valves"`
	Include []IncludeConfig                   `toml:"include"`
	Raw     map[string]interface{}            `toml:",omitempty"`
}

// HostConfig contains host-level settings
type HostConfig struct {
	LogLevel       string   `toml:"log_level"`
	PipeDir        string   `toml:"pipe_dir"`
	SettingsFile   string   `toml:"settings_file"`
	WatchSettings  bool     `toml:"watch_settings"`
	ListingTimeout Duration `toml:"listing_timeout"`
	HealthWindow   Duration `toml:"health_window"`
	HealthFailures int      `toml:"health_failures"`
}

// PipeConfig contains pipe-specific configuration. Format and Path
// describe an externally loaded artifact; built-in pipes leave them
// empty.
type PipeConfig struct {
	Enabled *bool  `toml:"enabled"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IncludeConfig specifies additional configuration files to include
type IncludeConfig struct {
	Files []string `toml:"files"`
}

// Duration wraps time.Duration for TOML decoding ("10s", "2m")
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			LogLevel:       "info",
			PipeDir:        "pipes",
			SettingsFile:   "settings.toml",
			WatchSettings:  false,
			ListingTimeout: Duration{10 * time.Second},
			HealthWindow:   Duration{5 * time.Minute},
			HealthFailures: 5,
		},
		Pipes:   make(map[string]PipeConfig),
		Valves:  make(map[string]map[string]interface{}),
		Include: []IncludeConfig{},
		Raw:     make(map[string]interface{}),
	}
}

// LoadConfig loads configuration from the specified file
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Load main config file
	if err := loadConfigFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	// Load included files
	baseDir := filepath.Dir(configPath)
	for _, include := range config.Include {
		for _, pattern := range include.Files {
			fullPattern := filepath.Join(baseDir, pattern)
			matches, err := filepath.Glob(fullPattern)
			if err != nil {
				return nil, fmt.Errorf("failed to glob pattern %s: %w", fullPattern, err)
			}

			for _, match := range matches {
				if match == configPath {
					continue // Skip the main config file
				}

				if err := loadConfigFile(match, config); err != nil {
					return nil, fmt.Errorf("failed to load included config %s: %w", match, err)
				}
			}
		}
	}

	return config, nil
}

// loadConfigFile loads a single configuration file and merges it into the existing config
func loadConfigFile(path string, config *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	var tempConfig Config
	if _, err := toml.DecodeFile(path, &tempConfig); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	// Merge configurations
	mergeConfigs(config, &tempConfig)

	// Also decode into raw map for unknown sections
	var rawConfig map[string]interface{}
	if _, err := toml.DecodeFile(path, &rawConfig); err != nil {
		return fmt.Errorf("failed to decode raw config: %w", err)
	}

	for key, value := range rawConfig {
		if !isReservedConfigKey(key) {
			config.Raw[key] = value
		}
	}

	return nil
}

// mergeConfigs merges tempConfig into config
func mergeConfigs(config, tempConfig *Config) {
	// Merge host config (tempConfig takes precedence for non-zero values)
	if tempConfig.Host.LogLevel != "" {
		config.Host.LogLevel = tempConfig.Host.LogLevel
	}
	if tempConfig.Host.PipeDir != "" {
		config.Host.PipeDir = tempConfig.Host.PipeDir
	}
	if tempConfig.Host.SettingsFile != "" {
		config.Host.SettingsFile = tempConfig.Host.SettingsFile
	}
	if tempConfig.Host.WatchSettings {
		config.Host.WatchSettings = true
	}
	if tempConfig.Host.ListingTimeout.Duration != 0 {
		config.Host.ListingTimeout = tempConfig.Host.ListingTimeout
	}
	if tempConfig.Host.HealthWindow.Duration != 0 {
		config.Host.HealthWindow = tempConfig.Host.HealthWindow
	}
	if tempConfig.Host.HealthFailures != 0 {
		config.Host.HealthFailures = tempConfig.Host.HealthFailures
	}

	// Merge pipes
	for k, v := range tempConfig.Pipes {
		config.Pipes[k] = v
	}

	// Merge valve tables key-wise so included files can override single
	// valves
	for pipeID, valves := range tempConfig.Valves {
		existing, ok := config.Valves[pipeID]
		if !ok {
			existing = make(map[string]interface{})
			config.Valves[pipeID] = existing
		}
		for k, v := range valves {
			existing[k] = v
		}
	}

	// Append includes
	config.Include = append(config.Include, tempConfig.Include...)
}

// isReservedConfigKey checks if a config key is reserved for host use
func isReservedConfigKey(key string) bool {
	reserved := []string{"host", "pipes", "valves", "include"}
	key = strings.ToLower(key)
	for _, r := range reserved {
		if key == r {
			return true
		}
	}
	return false
}

// ValveLayer returns the configured valve table for a pipe, or nil
func (c *Config) ValveLayer(pipeID string) map[string]interface{} {
	return c.Valves[pipeID]
}

// IsPipeEnabled checks if a pipe is enabled. Pipes without an explicit
// setting default to enabled.
func (c *Config) IsPipeEnabled(pipeID string) bool {
	pipeConfig, exists := c.Pipes[pipeID]
	if !exists || pipeConfig.Enabled == nil {
		return true
	}
	return *pipeConfig.Enabled
}

// ExternalPipes returns the configured external pipe artifacts keyed by
// pipe id
func (c *Config) ExternalPipes() map[string]PipeConfig {
	result := make(map[string]PipeConfig)
	for id, pc := range c.Pipes {
		if pc.Path != "" {
			result[id] = pc
		}
	}
	return result
}
