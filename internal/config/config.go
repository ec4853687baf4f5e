// Package config holds run settings: defaults, an optional YAML file and
// validation. Command-line flags are applied on top by the cli package.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gwen-lg/puffin-test-app/pkg/behavior"
	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
	"github.com/gwen-lg/puffin-test-app/pkg/server"
	"github.com/gwen-lg/puffin-test-app/pkg/workload"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultLogLevel = "info"
	DefaultNbLoop   = -1
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses values such as "5s" or "250ms".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LoadingConfig sets the loading simulation durations.
type LoadingConfig struct {
	SyncDuration     Duration `yaml:"sync_duration"`
	ThreadedDuration Duration `yaml:"threaded_duration"`
}

// SamplerConfig sets the per-iteration sleep range in milliseconds.
type SamplerConfig struct {
	MinMs uint64 `yaml:"min_ms"`
	MaxMs uint64 `yaml:"max_ms"`
}

// ServerConfig configures the capture server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ProfilerConfig configures the frame recorder.
type ProfilerConfig struct {
	MaxFrames int `yaml:"max_frames"`
}

// OutputConfig selects the after-run artifacts.
type OutputConfig struct {
	Report     string `yaml:"report"`
	ReportFile string `yaml:"report_file"`
	Flamegraph string `yaml:"flamegraph"`
	MemReport  bool   `yaml:"mem_report"`
	MemDir     string `yaml:"mem_dir"`
}

// Config is the full run configuration.
type Config struct {
	LogLevel   string                   `yaml:"log_level"`
	NbLoop     int32                    `yaml:"nb_loop"`
	Loading    behavior.LoadingBehavior `yaml:"loading"`
	LoadingCfg LoadingConfig            `yaml:"loading_durations"`
	Sampler    SamplerConfig            `yaml:"sampler"`
	Server     ServerConfig             `yaml:"server"`
	Profiler   ProfilerConfig           `yaml:"profiler"`
	Output     OutputConfig             `yaml:"output"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		NbLoop:   DefaultNbLoop,
		Loading:  behavior.LoadingNone,
		LoadingCfg: LoadingConfig{
			SyncDuration:     Duration(workload.DefaultLoadingDuration),
			ThreadedDuration: Duration(workload.DefaultThreadedLoadingDuration),
		},
		Sampler: SamplerConfig{
			MinMs: workload.MinDuration,
			MaxMs: workload.MaxDuration,
		},
		Server: ServerConfig{
			Addr: server.DefaultAddr(),
		},
		Profiler: ProfilerConfig{
			MaxFrames: profiler.DefaultMaxFrames,
		},
		Output: OutputConfig{
			Report: "none",
			MemDir: ".",
		},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return ValidationError{Field: "log_level", Message: err.Error()}
	}
	if c.Sampler.MaxMs <= c.Sampler.MinMs {
		return ValidationError{Field: "sampler.max_ms", Message: "must be greater than sampler.min_ms"}
	}
	if c.LoadingCfg.SyncDuration <= 0 {
		return ValidationError{Field: "loading_durations.sync_duration", Message: "must be positive"}
	}
	if c.LoadingCfg.ThreadedDuration <= 0 {
		return ValidationError{Field: "loading_durations.threaded_duration", Message: "must be positive"}
	}
	if c.Profiler.MaxFrames <= 0 {
		return ValidationError{Field: "profiler.max_frames", Message: "must be positive"}
	}
	if c.Server.Addr == "" {
		return ValidationError{Field: "server.addr", Message: "must not be empty"}
	}
	switch c.Output.Report {
	case "none", "table", "json":
	default:
		return ValidationError{Field: "output.report", Message: "must be none, table or json"}
	}
	return nil
}
