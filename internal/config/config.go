package config

import (
	"fmt"
	"os"
	"strings"
)

// Config is the run configuration assembled from a config file and CLI flags.
// Per-script behaviour lives in Settings; Overrides are applied on top of the
// script's own settings record.
type Config struct {
	ScriptPath   string                 `mapstructure:"script"`
	Users        int                    `mapstructure:"users"`
	RampRate     float64                `mapstructure:"ramp_rate"`
	Restarts     int                    `mapstructure:"restarts"`
	Overrides    map[string]interface{} `mapstructure:"settings"`
	DataFile     string                 `mapstructure:"data_file"`
	DataUnique   bool                   `mapstructure:"data_unique"`
	Headless     bool                   `mapstructure:"headless"`
	ChromePath   string                 `mapstructure:"chrome_path"`
	JSONOutput   bool                   `mapstructure:"json_output"`
	Dashboard    bool                   `mapstructure:"dashboard"`
	ResultsFile  string                 `mapstructure:"results_file"`
	HAROutput    string                 `mapstructure:"har_output"`
	HTMLOutput   string                 `mapstructure:"html_output"`
	ArtifactsDir string                 `mapstructure:"artifacts_dir"`
	Thresholds   []string               `mapstructure:"thresholds"`
	Logger       LoggerConfig           `mapstructure:"logger"`
	Tracing      TracingConfig          `mapstructure:"tracing"`
	ConfigFile   string                 `mapstructure:"-"`
}

// LoggerConfig controls the zap logger built by the observability package.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Color       bool   `mapstructure:"color"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
	ServiceName string `mapstructure:"service_name"`
}

// TracingConfig configures OpenTelemetry export of step spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Disabled    bool    `mapstructure:"disabled"`
}

// Enabled reports whether a tracer provider should be installed.
func (t TracingConfig) Enabled() bool {
	if t.Disabled {
		return false
	}
	return t.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context should be attached to page
// requests.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled()
}

func defaultConfig() *Config {
	return &Config{
		Users:        1,
		Headless:     true,
		ArtifactsDir: "artifacts",
		Overrides:    map[string]interface{}{},
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			Color:       true,
			MaxSizeMB:   50,
			MaxBackups:  3,
			MaxAgeDays:  14,
			ServiceName: "pagerunner",
		},
		Tracing: TracingConfig{SampleRate: 1.0},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.ScriptPath) == "" {
		issues = append(issues, "script is required (use --help for usage information)")
	}

	if c.Users > 200 {
		fmt.Fprintf(os.Stderr, "WARNING: %d virtual users each launch a browser; make sure the host can sustain that.\n", c.Users)
	}

	if c.Users < 1 {
		issues = append(issues, "users must be >= 1")
	}
	if c.RampRate < 0 {
		issues = append(issues, "ramp-rate must be >= 0")
	}
	if c.Restarts < 0 {
		issues = append(issues, "restarts must be >= 0")
	}
	if c.DataUnique && strings.TrimSpace(c.DataFile) == "" {
		issues = append(issues, "data-unique requires a data file")
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}

	switch strings.ToLower(c.Logger.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log format %q is not supported (console or json)", c.Logger.Format))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported (grpc or http)", c.Tracing.Protocol))
	}

	if len(c.Overrides) > 0 {
		trial := DefaultSettings()
		if err := ApplySettings(&trial, c.Overrides); err != nil {
			issues = append(issues, err.Error())
		}
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
