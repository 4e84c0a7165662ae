package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pagerunner [script]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("script", "", "Path to the YAML test script")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Virtual users
	flags.IntP("users", "u", 1, "Number of virtual users, each driving its own browser")
	flags.Float64("ramp-rate", 0, "Virtual user starts per second (0 starts all at once)")
	flags.Int("restarts", 0, "Times a virtual user is restarted after an infrastructure error")

	// Script setting overrides
	flags.String("loop-count", "", "Override the script loopCount (number, -1 or unbounded)")
	flags.String("duration", "", "Override the script duration (seconds, Go duration, -1 or unbounded)")
	flags.String("response-time", "", "Override responseTimeMeasurement: step, page or network")

	// Data
	flags.String("data", "", "CSV or JSON file whose rows fill {{field}} placeholders, one row per session")
	flags.Bool("data-unique", false, "Fail sessions once every data row has been used instead of wrapping")

	// Browser
	flags.Bool("headless", true, "Run Chrome headless")
	flags.String("chrome-path", "", "Chrome executable to launch instead of the detected one")

	// Output
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.String("results-file", "", "Append every measurement and trace to this JSON lines file")
	flags.String("har-output", "", "Write recorded network traffic as a HAR file")
	flags.String("html-output", "", "Generate HTML report to the specified file path")
	flags.String("artifacts-dir", "artifacts", "Directory for screenshots")
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g., 'response_time:p95 < 3000')")

	// Logging
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.String("log-file", "", "Also write JSON logs to this file, rotated by size")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP endpoint for step spans")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of iterations to trace")
	flags.String("tracing-service-name", "", "service.name reported on spans")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("script") {
		val, err := fs.GetString("script")
		if err != nil {
			return err
		}
		cfg.ScriptPath = strings.TrimSpace(val)
	}
	if fs.Changed("users") {
		val, err := fs.GetInt("users")
		if err != nil {
			return err
		}
		cfg.Users = val
	}
	if fs.Changed("ramp-rate") {
		val, err := fs.GetFloat64("ramp-rate")
		if err != nil {
			return err
		}
		cfg.RampRate = val
	}
	if fs.Changed("restarts") {
		val, err := fs.GetInt("restarts")
		if err != nil {
			return err
		}
		cfg.Restarts = val
	}

	overrides := map[string]string{
		"loop-count":    "loopCount",
		"duration":      "duration",
		"response-time": "responseTimeMeasurement",
	}
	for flagName, setting := range overrides {
		if !fs.Changed(flagName) {
			continue
		}
		val, err := fs.GetString(flagName)
		if err != nil {
			return err
		}
		if cfg.Overrides == nil {
			cfg.Overrides = map[string]interface{}{}
		}
		cfg.Overrides[setting] = strings.TrimSpace(val)
	}

	if fs.Changed("headless") {
		val, err := fs.GetBool("headless")
		if err != nil {
			return err
		}
		cfg.Headless = val
	}
	if fs.Changed("chrome-path") {
		val, err := fs.GetString("chrome-path")
		if err != nil {
			return err
		}
		cfg.ChromePath = strings.TrimSpace(val)
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("results-file") {
		val, err := fs.GetString("results-file")
		if err != nil {
			return err
		}
		cfg.ResultsFile = strings.TrimSpace(val)
	}
	if fs.Changed("har-output") {
		val, err := fs.GetString("har-output")
		if err != nil {
			return err
		}
		cfg.HAROutput = strings.TrimSpace(val)
	}
	if fs.Changed("data") {
		val, err := fs.GetString("data")
		if err != nil {
			return err
		}
		cfg.DataFile = strings.TrimSpace(val)
	}
	if fs.Changed("data-unique") {
		val, err := fs.GetBool("data-unique")
		if err != nil {
			return err
		}
		cfg.DataUnique = val
	}
	if fs.Changed("html-output") {
		val, err := fs.GetString("html-output")
		if err != nil {
			return err
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if fs.Changed("artifacts-dir") {
		val, err := fs.GetString("artifacts-dir")
		if err != nil {
			return err
		}
		cfg.ArtifactsDir = strings.TrimSpace(val)
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Logger.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Logger.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-file") {
		val, err := fs.GetString("log-file")
		if err != nil {
			return err
		}
		cfg.Logger.File = strings.TrimSpace(val)
	}

	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = strings.TrimSpace(val)
	}

	return nil
}
