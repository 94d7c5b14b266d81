// Package config loads and validates YAML application configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/match"
)

//go:embed config.yaml
var embeddedConfig []byte

// Backend names the storage implementations the binary can run against.
type Backend string

const (
	BackendMemory    Backend = "memory"
	BackendSQLite    Backend = "sqlite"
	BackendFirestore Backend = "firestore"
)

var validBackends = map[Backend]struct{}{
	BackendMemory: {}, BackendSQLite: {}, BackendFirestore: {},
}

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Match   MatchConfig   `yaml:"match"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	AuthEnabled bool   `yaml:"auth_enabled"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	Backend          Backend `yaml:"backend"`
	SQLitePath       string  `yaml:"sqlite_path"`
	FirestoreProject string  `yaml:"firestore_project"`
}

// MatchConfig carries the two candidate-search window presets.
type MatchConfig struct {
	DefaultWindow WindowConfig `yaml:"default_window"`
	StrictWindow  WindowConfig `yaml:"strict_window"`
}

// WindowConfig is one window preset as configured.
type WindowConfig struct {
	AmountTolerance float64 `yaml:"amount_tolerance"`
	Days            int     `yaml:"days"`
}

// Window converts the configured preset to a match window.
func (w WindowConfig) Window() match.Window {
	return match.Window{AmountTolerance: w.AmountTolerance, Days: w.Days}
}

// LoadEmbedded returns the compiled-in default configuration.
func LoadEmbedded() (*Config, error) {
	return parse(embeddedConfig)
}

// LoadFromFile reads configuration from path. Only the embedded defaults for
// fields absent from the file survive, because the file is unmarshaled over
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := parse(embeddedConfig)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if _, ok := validBackends[c.Storage.Backend]; !ok {
		return fmt.Errorf("invalid storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path required for the sqlite backend")
	}
	if c.Storage.Backend == BackendFirestore && c.Storage.FirestoreProject == "" {
		return fmt.Errorf("storage.firestore_project required for the firestore backend")
	}

	for name, w := range map[string]WindowConfig{
		"match.default_window": c.Match.DefaultWindow,
		"match.strict_window":  c.Match.StrictWindow,
	} {
		if w.AmountTolerance < 0 {
			return fmt.Errorf("%s.amount_tolerance cannot be negative, got %g", name, w.AmountTolerance)
		}
		if w.Days <= 0 {
			return fmt.Errorf("%s.days must be positive, got %d", name, w.Days)
		}
	}
	return nil
}
