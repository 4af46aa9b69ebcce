// Package config provides YAML configuration parsing and validation for
// skbtrace probes. Configuration describes which metadata filters to compile
// and attach, and how the print collaborator should read back the resulting
// event stream.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LogLevel specifies the minimum level of messages emitted by slog.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var validLogLevels = map[LogLevel]struct{}{
	LogLevelDebug: {},
	LogLevelInfo:  {},
	LogLevelWarn:  {},
	LogLevelError: {},
}

// LogFormat controls the output encoding of the logger.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var validLogFormats = map[LogFormat]struct{}{
	LogFormatJSON: {},
	LogFormatText: {},
}

// LoggingConfig controls the probe's structured logger.
type LoggingConfig struct {
	// Level is the minimum log level. Defaults to "info".
	Level LogLevel `yaml:"level"`
	// Format is "json" or "text". Defaults to "text" for local CLI use.
	Format LogFormat `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Probe rules
// ---------------------------------------------------------------------------

// ProbeRule defines a single metadata filter to compile and attach to a
// probe's meta-op table.
type ProbeRule struct {
	// Name is a unique human-readable identifier for this rule.
	Name string `yaml:"name"`
	// Filter is a metadata filter expression, e.g. "sk_buff.mark == 42".
	Filter string `yaml:"filter"`
	// Disabled skips compiling and attaching this rule without removing it
	// from the file.
	Disabled bool `yaml:"disabled"`
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// OutputConfig controls where compiled events are written and how the print
// collaborator reads them back.
type OutputConfig struct {
	// Path is the filesystem location of the raw-event data file.
	Path string `yaml:"path"`
	// Format is "multiline" or "line", matching cmd/skbtrace-print's -format
	// flag. Defaults to "multiline".
	Format string `yaml:"format"`
	// UTC renders event timestamps in UTC rather than local time.
	UTC bool `yaml:"utc"`
	// ReadTimeout bounds how long the print collaborator waits for a new
	// event before treating the stream as ended. Defaults to 1s.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ---------------------------------------------------------------------------
// Probe (top-level)
// ---------------------------------------------------------------------------

// ProbeConfig is the root configuration for a skbtrace probe. It is
// populated by parsing a YAML file with ParseFile.
type ProbeConfig struct {
	// Rules contains every metadata filter this probe should compile and
	// attach.
	Rules []ProbeRule `yaml:"rules"`

	// Output configures the raw-event data file and how it is read back.
	Output OutputConfig `yaml:"output"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// applyDefaults fills in omitted (zero-valued) fields with sensible
// production values; an explicit zero such as read_timeout: 0s is treated
// the same as an omitted field. It
// is called by ParseFile before validation so that validation can rely on
// defaults being present.
func applyDefaults(cfg *ProbeConfig) {
	if cfg.Output.Path == "" {
		cfg.Output.Path = "skbtrace.data"
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = "multiline"
	}
	if cfg.Output.ReadTimeout == 0 {
		cfg.Output.ReadTimeout = time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogLevelInfo
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatText
	}
}

// ---------------------------------------------------------------------------
// ParseFile
// ---------------------------------------------------------------------------

// ParseFile reads the YAML file at path, applies defaults, and validates the
// resulting configuration. It returns the validated ProbeConfig or an error
// that describes every validation failure (not just the first one).
func ParseFile(path string) (*ProbeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults, and validates the
// configuration. Callers who already have the YAML in memory (e.g. tests)
// should use this function directly.
func Parse(data []byte) (*ProbeConfig, error) {
	var cfg ProbeConfig
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true) // reject unrecognised YAML keys
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	applyDefaults(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
	}

	return &cfg, nil
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

// Validate checks cfg for semantic errors and returns all of them at once so
// operators can see and fix every problem in a single run. An empty slice
// means the configuration is valid.
func Validate(cfg *ProbeConfig) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// ── Rules ─────────────────────────────────────────────────────────────
	names := map[string]struct{}{}
	enabled := 0
	for i, r := range cfg.Rules {
		prefix := fmt.Sprintf("rules[%d]", i)
		if r.Name == "" {
			add("%s.name must not be empty", prefix)
		} else if _, dup := names[r.Name]; dup {
			add("%s.name %q is duplicated; rule names must be unique", prefix, r.Name)
		} else {
			names[r.Name] = struct{}{}
		}
		if strings.TrimSpace(r.Filter) == "" {
			add("%s.filter must not be empty", prefix)
		}
		if !r.Disabled {
			enabled++
		}
	}
	if len(cfg.Rules) == 0 {
		errs = append(errs, errors.New("at least one probe rule must be defined"))
	} else if enabled == 0 {
		errs = append(errs, errors.New("at least one probe rule must be enabled"))
	}

	// ── Output ────────────────────────────────────────────────────────────
	if cfg.Output.Path == "" {
		add("output.path must not be empty")
	}
	switch cfg.Output.Format {
	case "multiline", "line":
		// valid
	default:
		add("output.format %q is invalid; must be one of multiline, line", cfg.Output.Format)
	}
	if cfg.Output.ReadTimeout <= 0 {
		add("output.read_timeout must be positive")
	}

	// ── Logging ───────────────────────────────────────────────────────────
	if _, ok := validLogLevels[cfg.Logging.Level]; !ok {
		add("logging.level %q is invalid; must be one of debug, info, warn, error",
			cfg.Logging.Level)
	}
	if _, ok := validLogFormats[cfg.Logging.Format]; !ok {
		add("logging.format %q is invalid; must be one of json, text",
			cfg.Logging.Format)
	}

	return errs
}
