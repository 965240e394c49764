// Package config loads the vision client configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"visionlink/endpoint"
	"visionlink/link"
	"visionlink/protocol"
	"visionlink/recording"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Sink kinds.
const (
	SinkFFmpeg = "ffmpeg"
	SinkDir    = "dir"
)

// DefaultRecordDir matches where earlier clients left their recordings.
const DefaultRecordDir = "vc2017-recorded"

type Config struct {
	// Endpoint overrides the address file when set.
	Endpoint    string `yaml:"endpoint"`
	AddressFile string `yaml:"address_file"`
	Source      string `yaml:"source"`

	ReconnectCooldown time.Duration `yaml:"reconnect_cooldown"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	MaxFrameSize      int           `yaml:"max_frame_size"`

	Recording Recording `yaml:"recording"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

type Recording struct {
	Dir       string `yaml:"dir"`
	Sink      string `yaml:"sink"`
	FFmpeg    string `yaml:"ffmpeg"`
	FrameRate int    `yaml:"frame_rate"`
	Quality   int    `yaml:"quality"`
}

// DefaultPath returns ~/.visionlink.yaml, or a relative path if there is no home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".visionlink.yaml"
	}
	return filepath.Join(home, ".visionlink.yaml")
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.AddressFile == "" {
		c.AddressFile = endpoint.DefaultPath()
	}
	if c.Source == "" {
		c.Source = protocol.SourcePlain.String()
	}
	if c.ReconnectCooldown <= 0 {
		c.ReconnectCooldown = link.DefaultReconnectCooldown
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = link.DefaultIdleTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = link.DefaultTickInterval
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if c.Recording.Dir == "" {
		c.Recording.Dir = DefaultRecordDir
	}
	if c.Recording.Sink == "" {
		c.Recording.Sink = SinkFFmpeg
	}
	if c.Recording.FFmpeg == "" {
		c.Recording.FFmpeg = "ffmpeg"
	}
	if c.Recording.FrameRate <= 0 {
		c.Recording.FrameRate = recording.DefaultFrameRate
	}
	if c.Recording.Quality <= 0 {
		c.Recording.Quality = recording.DefaultJPEGQuality
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Endpoint != "" {
		if _, err := endpoint.Parse(c.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := protocol.ParseSource(c.Source); err != nil {
		errs = append(errs, err)
	}
	switch c.Recording.Sink {
	case SinkFFmpeg, SinkDir:
	default:
		errs = append(errs, fmt.Errorf("unknown recording sink %q", c.Recording.Sink))
	}
	if c.Recording.Quality > 100 {
		errs = append(errs, fmt.Errorf("recording quality %d above 100", c.Recording.Quality))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// InitialSource returns the configured feed. Call after Validate.
func (c *Config) InitialSource() protocol.Source {
	s, _ := protocol.ParseSource(c.Source)
	return s
}

// LinkOptions maps the file settings onto the connection manager.
func (c *Config) LinkOptions(ep endpoint.Endpoint) link.Options {
	return link.Options{
		Endpoint:          ep,
		ReconnectCooldown: c.ReconnectCooldown,
		IdleTimeout:       c.IdleTimeout,
		TickInterval:      c.TickInterval,
		DialTimeout:       c.DialTimeout,
		WriteTimeout:      c.WriteTimeout,
		MaxFrameSize:      c.MaxFrameSize,
	}
}
