package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
// A single positional argument is taken as the script path.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	flagSet := cmd.Flags()
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	cfg, err := loadFromFlags(flagSet, len(args) == 0)
	if errors.Is(err, ErrHelpRequested) {
		displayHelp(cmd)
	}
	return cfg, err
}

// LoadFlags builds a Config from an already parsed flag set, as handed over
// by a cobra command. positional holds the command's remaining arguments.
func (Loader) LoadFlags(flagSet *pflag.FlagSet, positional []string) (*Config, error) {
	cfg, err := loadFromFlags(flagSet, false)
	if err != nil {
		return nil, err
	}
	if len(positional) > 0 && !flagSet.Changed("script") {
		cfg.ScriptPath = strings.TrimSpace(positional[0])
	}
	return cfg, nil
}

func loadFromFlags(flagSet *pflag.FlagSet, noArgs bool) (*Config, error) {
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if noArgs && configPath == "" {
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := defaultConfig()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	if args := flagSet.Args(); len(args) > 0 && !flagSet.Changed("script") {
		cfg.ScriptPath = strings.TrimSpace(args[0])
	}
	cfg.ScriptPath = strings.TrimSpace(cfg.ScriptPath)
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := firstKey(settings, "script"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("script: %w", err)
		}
		cfg.ScriptPath = val
	}
	if raw, ok := firstKey(settings, "users", "vus"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("users: %w", err)
		}
		cfg.Users = val
	}
	if raw, ok := firstKey(settings, "ramp_rate", "ramprate", "ramp-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("ramp_rate: %w", err)
		}
		cfg.RampRate = val
	}
	if raw, ok := firstKey(settings, "restarts"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("restarts: %w", err)
		}
		cfg.Restarts = val
	}
	if raw, ok := firstKey(settings, "settings"); ok {
		m, err := asSection(raw)
		if err != nil {
			return fmt.Errorf("settings: %w", err)
		}
		for k, v := range m {
			cfg.Overrides[k] = v
		}
	}
	if raw, ok := firstKey(settings, "headless"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("headless: %w", err)
		}
		cfg.Headless = val
	}
	if raw, ok := firstKey(settings, "chrome_path", "chromepath", "chrome-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("chrome_path: %w", err)
		}
		cfg.ChromePath = strings.TrimSpace(val)
	}
	if raw, ok := firstKey(settings, "json_output", "jsonoutput", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}
	if raw, ok := firstKey(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}
	if raw, ok := firstKey(settings, "results_file", "resultsfile", "results-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("results_file: %w", err)
		}
		cfg.ResultsFile = strings.TrimSpace(val)
	}
	if raw, ok := firstKey(settings, "har_output", "haroutput", "har-output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("har_output: %w", err)
		}
		cfg.HAROutput = strings.TrimSpace(val)
	}
	if raw, ok := firstKey(settings, "data_file", "datafile", "data-file", "data"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("data_file: %w", err)
		}
		cfg.DataFile = strings.TrimSpace(val)
	}
	if raw, ok := firstKey(settings, "data_unique", "dataunique", "data-unique"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("data_unique: %w", err)
		}
		cfg.DataUnique = val
	}
	if raw, ok := firstKey(settings, "html_output", "htmloutput", "html-output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("html_output: %w", err)
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if raw, ok := firstKey(settings, "artifacts_dir", "artifactsdir", "artifacts-dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("artifacts_dir: %w", err)
		}
		cfg.ArtifactsDir = strings.TrimSpace(val)
	}
	if raw, ok := firstKey(settings, "thresholds"); ok {
		vals, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = vals
	}
	if raw, ok := firstKey(settings, "logger", "logging"); ok {
		lc, err := parseLoggerConfig(raw, cfg.Logger)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		cfg.Logger = lc
	}
	if raw, ok := firstKey(settings, "tracing"); ok {
		tc, err := parseTracingConfig(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tc
	}
	return nil
}

func parseLoggerConfig(value interface{}, base LoggerConfig) (LoggerConfig, error) {
	settings, err := asSection(value)
	if err != nil {
		return base, err
	}
	lc := base
	if raw, ok := firstKey(settings, "level"); ok {
		if lc.Level, err = asString(raw); err != nil {
			return base, fmt.Errorf("level: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "format"); ok {
		if lc.Format, err = asString(raw); err != nil {
			return base, fmt.Errorf("format: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "color"); ok {
		if lc.Color, err = asBool(raw); err != nil {
			return base, fmt.Errorf("color: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "file"); ok {
		if lc.File, err = asString(raw); err != nil {
			return base, fmt.Errorf("file: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "max_size"); ok {
		if lc.MaxSizeMB, err = asInt(raw); err != nil {
			return base, fmt.Errorf("max_size: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "max_backups"); ok {
		if lc.MaxBackups, err = asInt(raw); err != nil {
			return base, fmt.Errorf("max_backups: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "max_age"); ok {
		if lc.MaxAgeDays, err = asInt(raw); err != nil {
			return base, fmt.Errorf("max_age: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "compress"); ok {
		if lc.Compress, err = asBool(raw); err != nil {
			return base, fmt.Errorf("compress: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "service_name"); ok {
		if lc.ServiceName, err = asString(raw); err != nil {
			return base, fmt.Errorf("service_name: %w", err)
		}
	}
	return lc, nil
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := asSection(value)
	if err != nil {
		return base, err
	}
	tc := base
	if raw, ok := firstKey(settings, "endpoint"); ok {
		if tc.Endpoint, err = asString(raw); err != nil {
			return base, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "protocol"); ok {
		if tc.Protocol, err = asString(raw); err != nil {
			return base, fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "insecure"); ok {
		if tc.Insecure, err = asBool(raw); err != nil {
			return base, fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "sample_rate", "samplerate"); ok {
		if tc.SampleRate, err = asFloat64(raw); err != nil {
			return base, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "service_name", "servicename"); ok {
		if tc.ServiceName, err = asString(raw); err != nil {
			return base, fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := firstKey(settings, "disabled"); ok {
		if tc.Disabled, err = asBool(raw); err != nil {
			return base, fmt.Errorf("disabled: %w", err)
		}
	}
	return tc, nil
}
