// Package config loads codetape settings from a YAML file.
//
// A missing file means defaults. Keys present in the file override the
// defaults; absent keys keep them. Unknown keys are an error so that typos
// do not pass silently.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/codetape/internal/engine"
	"github.com/roach88/codetape/internal/ir"
	"github.com/roach88/codetape/internal/mirror"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "codetape.yaml"

// Config holds every setting.
type Config struct {
	Player    PlayerConfig    `yaml:"player"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Library   LibraryConfig   `yaml:"library"`
	Recorder  RecorderConfig  `yaml:"recorder"`
}

// PlayerConfig tunes seeking and playback.
type PlayerConfig struct {
	// StepThreshold is the step count above which seeks apply wholesale.
	StepThreshold int `yaml:"step_threshold"`
	// StepOnly forces step-wise seeks.
	StepOnly bool `yaml:"step_only"`
	// TickInterval is how often the controller advances the clock.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// WorkspaceConfig holds defaults for new sessions.
type WorkspaceConfig struct {
	DefaultEOL string `yaml:"default_eol"`
}

// LibraryConfig locates the SQLite session library.
type LibraryConfig struct {
	Path string `yaml:"path"`
}

// RecorderConfig tunes the directory recorder.
type RecorderConfig struct {
	// Ignore lists glob patterns of paths that are never recorded.
	Ignore []string `yaml:"ignore"`
	// Debounce coalesces bursts of writes to one file.
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Player: PlayerConfig{
			StepThreshold: engine.DefaultStepThreshold,
			StepOnly:      false,
			TickInterval:  50 * time.Millisecond,
		},
		Workspace: WorkspaceConfig{
			DefaultEOL: "lf",
		},
		Library: LibraryConfig{
			Path: "codetape.db",
		},
		Recorder: RecorderConfig{
			Ignore:   append([]string(nil), mirror.DefaultIgnore...),
			Debounce: 100 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "path", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	slog.Debug("config loaded", "path", path)
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Player.StepThreshold < 0 {
		return fmt.Errorf("player.step_threshold must not be negative, got %d", c.Player.StepThreshold)
	}
	if c.Player.TickInterval <= 0 {
		return fmt.Errorf("player.tick_interval must be positive, got %s", c.Player.TickInterval)
	}
	if _, err := ir.ParseEndOfLine(c.Workspace.DefaultEOL); err != nil {
		return fmt.Errorf("workspace.default_eol: %w", err)
	}
	if c.Library.Path == "" {
		return errors.New("library.path must not be empty")
	}
	if c.Recorder.Debounce < 0 {
		return fmt.Errorf("recorder.debounce must not be negative, got %s", c.Recorder.Debounce)
	}
	return nil
}

// EOL returns the parsed default end of line.
func (c *Config) EOL() ir.EndOfLine {
	eol, err := ir.ParseEndOfLine(c.Workspace.DefaultEOL)
	if err != nil {
		return ir.LF
	}
	return eol
}

// PlayerOptions returns the player options the settings describe.
func (c *Config) PlayerOptions() []engine.PlayerOption {
	return []engine.PlayerOption{
		engine.WithStepThreshold(c.Player.StepThreshold),
		engine.WithStepOnly(c.Player.StepOnly),
	}
}

// Encode renders the settings as YAML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
