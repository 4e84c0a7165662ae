package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torosent/pagerunner/internal/browser"
	"github.com/torosent/pagerunner/internal/config"
	"github.com/torosent/pagerunner/internal/dashboard"
	"github.com/torosent/pagerunner/internal/engine"
	"github.com/torosent/pagerunner/internal/feeder"
	"github.com/torosent/pagerunner/internal/har"
	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/observability"
	"github.com/torosent/pagerunner/internal/output"
	"github.com/torosent/pagerunner/internal/reporter"
	"github.com/torosent/pagerunner/internal/runner"
	"github.com/torosent/pagerunner/internal/script"
	"github.com/torosent/pagerunner/internal/threshold"
	"github.com/torosent/pagerunner/internal/tracing"
)

const (
	progressInterval = time.Second
	reporterBuffer   = 4096
	shutdownTimeout  = 5 * time.Second
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var errThresholdsFailed = errors.New("thresholds failed")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pagerunner [script]",
		Short:         "Run scripted browser sessions and measure them",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().LoadFlags(cmd.Flags(), args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	config.RegisterFlags(cmd)
	cmd.AddCommand(newValidateCommand(), newDevicesCommand(), newHARCommand())
	return cmd
}

func newValidateCommand() *cobra.Command {
	var artifactsDir, dataFile string
	cmd := &cobra.Command{
		Use:   "validate <script>",
		Short: "Compile a script and print its steps without launching a browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sample feeder.Record
			if dataFile != "" {
				feed, err := feeder.Open(dataFile)
				if err != nil {
					return err
				}
				sample = feed.Peek()
			}
			s, settings, err := compileScript(script.NewYAMLCompiler(artifactsDir), args[0], sample, nil)
			if err != nil {
				return err
			}
			printScript(cmd.OutOrStdout(), s, settings)
			return nil
		},
	}
	cmd.Flags().StringVar(&artifactsDir, "artifacts-dir", "artifacts", "Directory for screenshots")
	cmd.Flags().StringVar(&dataFile, "data", "", "Fill placeholders from the first row of this CSV or JSON file")
	return cmd
}

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the device profiles a script can emulate",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range browser.DeviceNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func newHARCommand() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "har <file>",
		Short: "Summarize a HAR file written by --har-output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := har.ParseFile(args[0])
			if err != nil {
				return err
			}
			printHARSummary(cmd.OutOrStdout(), args[0], har.Summarize(doc, top))
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 5, "Number of slowest requests to list")
	return cmd
}

func run(parent context.Context, cfg *config.Config, stdout io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}

	console := zapcore.Lock(os.Stderr)
	if cfg.Dashboard {
		// termui owns the terminal; keep only the file core.
		console = zapcore.AddSync(io.Discard)
	}
	logger, err := observability.NewLogger(cfg.Logger, console)
	if err != nil {
		return err
	}
	defer observability.Sync(logger)

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	feed, err := openFeeder(cfg)
	if err != nil {
		return err
	}
	var sample feeder.Record
	if feed != nil {
		defer feed.Close()
		sample = feed.Peek()
		warnMissingFields(logger, cfg.ScriptPath, sample)
		logger.Info("loaded data file", zap.String("path", cfg.DataFile), zap.Int("records", feed.Len()))
	}

	compiler := script.NewYAMLCompiler(cfg.ArtifactsDir)
	// Compile once up front so script errors surface before any browser starts.
	_, settings, err := compileScript(compiler, cfg.ScriptPath, sample, cfg.Overrides)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	emitter, err := newEmitter(cfg, logger)
	if err != nil {
		return err
	}
	emitterClosed := false
	defer func() {
		if !emitterClosed {
			_ = emitter.Close()
		}
	}()

	collector := metrics.NewCollector()
	gauge := &metrics.Gauge{}

	r := runner.New(runner.Options{
		Users:    cfg.Users,
		RampRate: cfg.RampRate,
		Restart:  runner.RestartPolicy{MaxRestarts: cfg.Restarts, ShouldRestart: shouldRestart},
		Compile:  sessionCompiler(compiler, cfg.ScriptPath, feed),
		Drivers: func() browser.Driver {
			return browser.NewChromeDriver(browser.ChromeOptions{
				Headless: cfg.Headless,
				ExecPath: cfg.ChromePath,
				Logger:   logger,
			})
		},
		Reporter: emitter,
		Engine: engine.Options{
			Overrides:    cfg.Overrides,
			ArtifactsDir: cfg.ArtifactsDir,
			RecordHAR:    cfg.HAROutput != "",
			Logger:       logger,
			Tracing:      tp,
			Concurrency:  gauge,
			Collector:    collector,
		},
		Logger: logger.Named("runner"),
	})

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(collector, gauge, runConfig(cfg, settings), cancel)
		if err != nil {
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(collector, gauge, progressInterval, stdout)
		progress.Start()
	}

	// Reset the collector clock so rates ignore the time spent compiling and
	// building the UI.
	collector.Start()
	stopSnapshots := func() {}
	if cfg.HTMLOutput != "" && !cfg.Dashboard {
		stopSnapshots = snapshotEvery(collector, progressInterval)
	}
	result, runErr := r.Run(ctx)
	stopSnapshots()
	collector.Snapshot()

	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(stdout)
	}

	emitterClosed = true
	if err := emitter.Close(); err != nil {
		logger.Warn("closing reporter sinks failed", zap.Error(err))
	}

	stats := collector.Stats(result.Duration)
	results := threshold.NewEvaluator(thresholds).Evaluate(stats)

	if cfg.HAROutput != "" {
		if err := writeHAR(cfg.HAROutput, result.Sessions); err != nil {
			return err
		}
		logger.Info("wrote HAR", zap.String("path", cfg.HAROutput))
	}
	if cfg.HTMLOutput != "" {
		if err := writeHTMLReport(cfg, settings, stats, collector.History(), results); err != nil {
			return err
		}
		logger.Info("wrote HTML report", zap.String("path", cfg.HTMLOutput))
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, stats, results); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, stats)
		output.PrintThresholds(stdout, results)
	}

	if runErr != nil {
		return runErr
	}
	if threshold.Failed(results) {
		return errThresholdsFailed
	}
	if result.Errors > 0 {
		return fmt.Errorf("%d virtual users stopped on errors", result.Errors)
	}
	return nil
}

func newEmitter(cfg *config.Config, logger *zap.Logger) (*reporter.Emitter, error) {
	emitter := reporter.NewEmitter(reporterBuffer, logger.Named("reporter"))
	emitter.Subscribe(reporter.LogListener{Logger: logger.Named("results")})
	if cfg.ResultsFile != "" {
		sink, err := reporter.NewJSONLines(cfg.ResultsFile)
		if err != nil {
			_ = emitter.Close()
			return nil, err
		}
		emitter.Subscribe(sink)
	}
	return emitter, nil
}

// compileScript compiles path and resolves its settings with overrides
// applied on top.
func compileScript(c script.Compiler, path string, rec feeder.Record, overrides map[string]interface{}) (*script.Script, config.Settings, error) {
	s, err := compileWith(c, path, rec)
	if err != nil {
		return nil, config.Settings{}, err
	}
	settings := config.DefaultSettings()
	if err := config.ApplySettings(&settings, s.Settings); err != nil {
		return nil, config.Settings{}, &engine.ScriptError{Path: path, Reason: fmt.Sprintf("settings: %v", err)}
	}
	if err := config.ApplySettings(&settings, overrides); err != nil {
		return nil, config.Settings{}, &engine.ScriptError{Path: path, Reason: fmt.Sprintf("overrides: %v", err)}
	}
	if len(s.Steps) == 0 {
		return nil, config.Settings{}, &engine.ScriptError{Path: path, Reason: "script has no steps"}
	}
	return s, settings, nil
}

func runConfig(cfg *config.Config, settings config.Settings) dashboard.RunConfig {
	return dashboard.RunConfig{
		Script:      cfg.ScriptPath,
		Name:        settings.Name,
		Users:       cfg.Users,
		RampRate:    cfg.RampRate,
		Granularity: string(settings.ResponseTimeMeasurement),
		LoopCount:   settings.LoopCount,
		Duration:    settings.Duration,
		Restarts:    cfg.Restarts,
		ConfigFile:  cfg.ConfigFile,
	}
}
