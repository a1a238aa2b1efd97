// Package config defines the demo9p configuration file and its loader.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown or empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config is the top-level configuration.
type Config struct {
	// ListenAddr is the TCP address the 9P server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// BackingDir is mirrored for every path that is not a capture.
	BackingDir string `yaml:"backing_dir"`

	// OutputDir receives converted frames and audio.
	OutputDir string `yaml:"output_dir"`

	// HideFiles empties every directory listing.
	HideFiles bool `yaml:"hide_files"`

	// Debug traces every 9P message.
	Debug bool `yaml:"debug"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Audio   AudioConfig   `yaml:"audio"`

	// FlushInterval, when positive, flushes every capture's audio buffer on
	// a timer.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

type MetricsConfig struct {
	// ListenAddr serves /metrics. Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

type AudioConfig struct {
	// BufferSamples is how many samples a capture buffers before writing
	// them out.
	BufferSamples int `yaml:"buffer_samples"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr: ":5640",
		BackingDir: "./backing",
		OutputDir:  "./out",
		Log:        LogConfig{Level: LogInfo, Format: FormatText},
		Metrics:    MetricsConfig{ListenAddr: ":9464"},
		Audio:      AudioConfig{BufferSamples: 441000},
	}
}
