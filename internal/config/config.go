// Package config loads tickx host settings from defaults, an optional YAML
// file and TICKX_* environment variables, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/realtime"
)

// Snapshot formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config holds every host setting.
type Config struct {
	TickRate         time.Duration `yaml:"tickRate" env:"TICKX_TICK_RATE"`
	RenderRate       time.Duration `yaml:"renderRate" env:"TICKX_RENDER_RATE"`
	MaxEventsPerTick int           `yaml:"maxEventsPerTick" env:"TICKX_MAX_EVENTS_PER_TICK"`

	// MaxListenerFailures evicts a listener after this many consecutive
	// failures. Zero never evicts.
	MaxListenerFailures int `yaml:"maxListenerFailures" env:"TICKX_MAX_LISTENER_FAILURES"`
	// StarvationThreshold flags a requester losing this many resolutions in
	// a row. Zero disables the signal.
	StarvationThreshold int `yaml:"starvationThreshold" env:"TICKX_STARVATION_THRESHOLD"`

	LogLevel string `yaml:"logLevel" env:"TICKX_LOG_LEVEL"`

	SnapshotDir    string `yaml:"snapshotDir" env:"TICKX_SNAPSHOT_DIR"`
	SnapshotFormat string `yaml:"snapshotFormat" env:"TICKX_SNAPSHOT_FORMAT"`
}

// Default returns the built-in settings.
func Default() Config {
	policy := tickx.DefaultFailurePolicy()
	return Config{
		TickRate:            realtime.DefaultTickRate,
		RenderRate:          realtime.DefaultRenderRate,
		MaxEventsPerTick:    realtime.DefaultMaxEventsPerTick,
		MaxListenerFailures: policy.MaxConsecutive,
		StarvationThreshold: 40,
		LogLevel:            "info",
		SnapshotFormat:      FormatJSON,
	}
}

// Load builds the configuration. path may be empty to skip the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg. Unknown fields are rejected.
func loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tickRate must be positive, got %s", c.TickRate))
	}
	if c.RenderRate == 0 {
		errs = append(errs, fmt.Errorf("renderRate must be non-zero (negative disables rendering)"))
	}
	if c.MaxEventsPerTick <= 0 {
		errs = append(errs, fmt.Errorf("maxEventsPerTick must be positive, got %d", c.MaxEventsPerTick))
	}
	if c.MaxListenerFailures < 0 {
		errs = append(errs, fmt.Errorf("maxListenerFailures must not be negative, got %d", c.MaxListenerFailures))
	}
	if c.StarvationThreshold < 0 {
		errs = append(errs, fmt.Errorf("starvationThreshold must not be negative, got %d", c.StarvationThreshold))
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, fmt.Errorf("logLevel %q is not a known level", c.LogLevel))
	}
	switch c.SnapshotFormat {
	case FormatJSON, FormatYAML:
	default:
		errs = append(errs, fmt.Errorf("snapshotFormat must be %q or %q, got %q", FormatJSON, FormatYAML, c.SnapshotFormat))
	}
	return errors.Join(errs...)
}

// FailurePolicy returns the listener failure policy for the engine.
func (c Config) FailurePolicy() tickx.FailurePolicy {
	p := tickx.DefaultFailurePolicy()
	p.MaxConsecutive = c.MaxListenerFailures
	return p
}

// EngineOptions returns the engine options derived from c.
func (c Config) EngineOptions() []tickx.Option {
	return []tickx.Option{tickx.WithFailurePolicy(c.FailurePolicy())}
}

// Runtime returns the realtime host settings.
func (c Config) Runtime() realtime.Config {
	return realtime.Config{
		TickRate:         c.TickRate,
		RenderRate:       c.RenderRate,
		MaxEventsPerTick: c.MaxEventsPerTick,
	}
}
