package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/CTAG07/talklike/pkg/persist"
	"github.com/CTAG07/talklike/pkg/talklike"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the HTTP API.
type ServerConfig struct {
	ApiAddr         string         `json:"api_addr" yaml:"api_addr"`
	LogLevel        string         `json:"log_level" yaml:"log_level"`
	ShutdownTimeout int            `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	ReadTimeout     int            `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeout    int            `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	ApiKeys         []APIKeyConfig `json:"api_keys" yaml:"api_keys"`
}

// ChainConfig holds the chain order and the service limits.
type ChainConfig struct {
	Order      int             `json:"order" yaml:"order"`
	Generation talklike.Config `json:"generation" yaml:"generation"`
}

// PersistConfig selects where chains are stored and how often.
type PersistConfig struct {
	// Backend is one of "json", "dir" or "sqlite".
	Backend       string `json:"backend" yaml:"backend"`
	Path          string `json:"path" yaml:"path"`
	FlushSchedule string `json:"flush_schedule" yaml:"flush_schedule"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server  *ServerConfig  `json:"server_config" yaml:"server_config"`
	Chain   *ChainConfig   `json:"chain_config" yaml:"chain_config"`
	Persist *PersistConfig `json:"persist_config" yaml:"persist_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:         ":7280",
		LogLevel:        "info",
		ShutdownTimeout: 10,
		ReadTimeout:     60,
		WriteTimeout:    60,
		ApiKeys:         []APIKeyConfig{},
	}
}

// DefaultChainConfig creates a chain configuration with default values.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		Order:      2,
		Generation: talklike.DefaultConfig(),
	}
}

// DefaultPersistConfig creates a persistence configuration with default values.
func DefaultPersistConfig() *PersistConfig {
	return &PersistConfig{
		Backend:       "dir",
		Path:          "./data/markov",
		FlushSchedule: persist.DefaultFlushSchedule,
	}
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:  DefaultServerConfig(),
		Chain:   DefaultChainConfig(),
		Persist: DefaultPersistConfig(),
	}
}

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig reads the configuration from the file at the given path. Files
// ending in .yaml or .yml are parsed as YAML after environment expansion;
// anything else is JSON. If the file doesn't exist, it creates one with
// default values.
func LoadConfig(path string) (*Config, error) {
	// Initialize with default configurations
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		// For other errors (e.g., permission denied), return the error.
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		expanded, err := expandEnv(file)
		if err != nil {
			return nil, fmt.Errorf("failed to expand variables in config file: %w", err)
		}
		if err = yaml.Unmarshal(expanded, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err = config.fill(); err != nil {
		return nil, err
	}
	return config, nil
}

// fill restores sections that a config file set to null and validates the rest.
func (c *Config) fill() error {
	if c.Server == nil {
		c.Server = DefaultServerConfig()
	}
	if c.Chain == nil {
		c.Chain = DefaultChainConfig()
	}
	if c.Persist == nil {
		c.Persist = DefaultPersistConfig()
	}
	if c.Chain.Order < 1 {
		return fmt.Errorf("chain_config.order must be at least 1, got %d", c.Chain.Order)
	}
	switch c.Persist.Backend {
	case "json", "dir", "sqlite":
	default:
		return fmt.Errorf("persist_config.backend must be json, dir or sqlite, got %q", c.Persist.Backend)
	}
	if c.Persist.Path == "" {
		return errors.New("persist_config.path must be set")
	}
	return nil
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if subs[2] != nil {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
