// Package config loads the recbind YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recbind/internal/binder"
)

// Defaults applied after decode.
const (
	DefaultDatabase = "./recbind.db"
	DefaultLogLevel = "info"
)

// Config is the top-level configuration file.
type Config struct {
	// Database is the SQLite file path. Defaults to ./recbind.db.
	Database string `yaml:"database"`

	// SaveDelay is the debounce window for SafeSave, as a Go duration string
	// ("700ms"). Defaults to binder.DefaultSaveDelay.
	SaveDelay Duration `yaml:"save_delay"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Collections are the collections a binder is created for.
	Collections []Collection `yaml:"collections"`
}

// Collection configures one binder.
type Collection struct {
	Name        string `yaml:"name"`
	IDAttribute string `yaml:"id_attribute,omitempty"`

	// Schema is optional CUE source each record must satisfy.
	Schema string `yaml:"schema,omitempty"`
}

// Duration decodes a YAML string such as "700ms" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a config file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes config YAML, applies defaults and validates the result.
// An empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Collection returns the named collection entry.
func (c *Config) Collection(name string) (Collection, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return Collection{}, false
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func applyDefaults(cfg *Config) {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.SaveDelay == 0 {
		cfg.SaveDelay = Duration(binder.DefaultSaveDelay)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}

func validate(cfg *Config) error {
	if cfg.SaveDelay < 0 {
		return fmt.Errorf("save_delay must not be negative")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Collections))
	for i, col := range cfg.Collections {
		if col.Name == "" {
			return fmt.Errorf("collections[%d]: name is required", i)
		}
		if seen[col.Name] {
			return fmt.Errorf("collections[%d]: duplicate collection %q", i, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level %q: must be debug, info, warn or error", s)
	}
}
