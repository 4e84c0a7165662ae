// Package engine runs a compiled script against one browser client.
//
// An Engine owns its client exclusively. Run executes iterations of the
// enqueued steps until the loop count or duration in the effective settings
// is exhausted, gating every step action on its conditions and feeding the
// outcome to the measurement pipeline and the reporter.
//
// Assertion failures are recorded and never stop a run. Anything else that
// goes wrong inside a step (a browser failure, a panic) aborts the run with
// a *StepError.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/pagerunner/internal/browser"
	"github.com/torosent/pagerunner/internal/config"
	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/network"
	"github.com/torosent/pagerunner/internal/reporter"
	"github.com/torosent/pagerunner/internal/script"
	"github.com/torosent/pagerunner/internal/tracing"
)

// Options configures an Engine. Every field has a usable zero value.
type Options struct {
	// VU names the virtual user in logs, spans and artifact paths.
	VU string
	// Defaults is the settings record scripts are merged over. Nil means
	// config.DefaultSettings.
	Defaults *config.Settings
	// Overrides are applied after each enqueued script's own settings.
	Overrides    map[string]interface{}
	ArtifactsDir string
	RecordHAR    bool
	Logger       *zap.Logger
	Tracing      *tracing.Provider
	// Concurrency is shared by every engine of a run.
	Concurrency *metrics.Gauge
	Collector   *metrics.Collector
}

// Engine executes steps against an attached browser client.
type Engine struct {
	rep      reporter.Reporter
	opts     Options
	logger   *zap.Logger
	recorder *network.Recorder

	mu       sync.Mutex
	running  bool
	client   browser.Client
	path     string
	steps    []script.Step
	settings config.Settings
	pipeline *metrics.Pipeline
}

// New creates an Engine reporting to rep.
func New(rep reporter.Reporter, opts Options) *Engine {
	if rep == nil {
		rep = reporter.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.VU != "" {
		logger = logger.With(zap.String("vu", opts.VU))
	}
	settings := config.DefaultSettings()
	if opts.Defaults != nil {
		settings = *opts.Defaults
	}
	return &Engine{
		rep:      rep,
		opts:     opts,
		logger:   logger,
		recorder: newRecorder(opts.RecordHAR),
		settings: settings,
	}
}

func newRecorder(har bool) *network.Recorder {
	if har {
		return network.NewRecorder(network.RetainHAR())
	}
	return network.NewRecorder()
}

// EnqueueScript installs the steps of s and merges its settings record,
// then the engine overrides, into the effective settings.
func (e *Engine) EnqueueScript(s *script.Script) error {
	if s == nil || len(s.Steps) == 0 {
		path := ""
		if s != nil {
			path = s.Path
		}
		return &ScriptError{Path: path, Reason: "script declares no steps"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrRunning
	}

	settings := e.settings
	if err := config.ApplySettings(&settings, s.Settings); err != nil {
		return &ScriptError{Path: s.Path, Reason: err.Error()}
	}
	if err := config.ApplySettings(&settings, e.opts.Overrides); err != nil {
		return &ScriptError{Path: s.Path, Reason: "overrides: " + err.Error()}
	}

	e.settings = settings
	e.path = s.Path
	e.steps = append(e.steps, s.Steps...)
	return nil
}

// AttachDriver binds the client the engine drives. The client must not be
// shared with another engine.
func (e *Engine) AttachDriver(client browser.Client) error {
	if client == nil {
		return ErrNotAttached
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrRunning
	}
	e.client = client
	return nil
}

// Settings returns the effective settings record.
func (e *Engine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Recorder exposes the network recorder, mainly for HAR export.
func (e *Engine) Recorder() *network.Recorder {
	return e.recorder
}

// Totals returns the iteration counts of the current or last run.
func (e *Engine) Totals() metrics.Totals {
	e.mu.Lock()
	p := e.pipeline
	e.mu.Unlock()
	if p == nil {
		return metrics.Totals{}
	}
	return p.Totals()
}

// run holds the state of one Run call.
type run struct {
	id       string
	path     string
	client   browser.Client
	steps    []script.Step
	settings config.Settings
	pipeline *metrics.Pipeline
	logger   *zap.Logger
	executed int
}

// Run executes iterations until the effective loop count or duration is
// reached, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	r, err := e.begin()
	if err != nil {
		return err
	}
	defer e.end()

	detachRecorder := e.recorder.Attach(r.client)
	defer detachRecorder()
	defer watchConsole(r.client, r.settings.ConsoleFilter, r.logger)()

	profile := browser.Profile{
		Device:            r.settings.Device,
		UserAgent:         r.settings.UserAgent,
		IgnoreHTTPSErrors: r.settings.IgnoreHTTPSErrors,
	}
	if err := r.client.Configure(ctx, profile); err != nil {
		return fmt.Errorf("configure browser: %w", err)
	}

	r.logger.Info("run started",
		zap.String("script", r.path),
		zap.Int("steps", len(r.steps)),
		zap.Int("loop_count", r.settings.LoopCount),
		zap.Duration("duration", r.settings.Duration),
		zap.String("granularity", string(r.settings.ResponseTimeMeasurement)),
	)

	start := time.Now()
	for iteration := 0; r.more(iteration, start); iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.iterate(ctx, r, iteration); err != nil {
			fields := []zap.Field{zap.Int("iteration", iteration), zap.Error(err)}
			var pe *panicError
			if errors.As(err, &pe) {
				fields = append(fields, zap.ByteString("panic_stack", pe.stack))
			}
			r.logger.Error("run aborted", fields...)
			return err
		}
	}

	totals := r.pipeline.Totals()
	r.logger.Info("run finished",
		zap.Int64("iterations", totals.Iterations),
		zap.Int64("passed", totals.Passed),
		zap.Int64("failed", totals.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (e *Engine) begin() (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, ErrNotAttached
	}
	if len(e.steps) == 0 {
		return nil, &ScriptError{Path: e.path, Reason: "no steps enqueued"}
	}
	if e.running {
		return nil, ErrRunning
	}
	e.running = true

	id := ulid.Make().String()
	r := &run{
		id:       id,
		path:     e.path,
		client:   e.client,
		steps:    e.steps,
		settings: e.settings,
		logger:   e.logger.With(zap.String("run", id)),
	}
	r.pipeline = metrics.NewPipeline(metrics.PipelineConfig{
		Granularity: r.settings.ResponseTimeMeasurement,
		Reporter:    e.rep,
		Network:     e.recorder,
		Concurrency: e.opts.Concurrency,
		Collector:   e.opts.Collector,
	})
	e.pipeline = r.pipeline
	return r, nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (r *run) more(iteration int, start time.Time) bool {
	if !r.settings.LoopsUnbounded() && iteration >= r.settings.LoopCount {
		return false
	}
	if !r.settings.DurationUnbounded() && time.Since(start) >= r.settings.Duration {
		return false
	}
	return true
}

func (e *Engine) iterate(ctx context.Context, r *run, iteration int) error {
	if r.settings.ClearCache {
		if err := r.client.ClearCache(ctx); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	if r.settings.ClearCookies {
		if err := r.client.ClearCookies(ctx); err != nil {
			return fmt.Errorf("clear cookies: %w", err)
		}
	}

	r.pipeline.BeginIteration()
	for index, step := range r.steps {
		if step.Skip {
			continue
		}
		if r.executed > 0 {
			if err := pause(ctx, r.settings.ActionDelay+r.settings.StepDelay); err != nil {
				r.pipeline.AbortIteration()
				return err
			}
		}
		r.executed++
		if err := e.runStep(ctx, r, iteration, index, step); err != nil {
			r.pipeline.AbortIteration()
			return err
		}
	}
	if failed := r.pipeline.EndIteration(); failed {
		r.logger.Info("iteration failed", zap.Int("iteration", iteration))
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
