package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/torosent/pagerunner/internal/engine"
	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/network"
	"github.com/torosent/pagerunner/internal/script"
)

// Session is one engine run of one virtual user. A restarted user has one
// Session per attempt.
type Session struct {
	VU       string
	Attempt  int
	Recorder *network.Recorder
	Totals   metrics.Totals
	Err      error
}

// Result captures execution summary.
type Result struct {
	Users      int
	Started    int
	Iterations int64
	Passed     int64
	Failed     int64
	Restarts   int64
	// Errors counts users that stopped on an error after their restarts.
	Errors   int64
	Duration time.Duration
	Sessions []Session
}

// Runner runs virtual users, each an engine on its own browser.
type Runner struct {
	opt    Options
	starts *rate.Limiter
	logger *zap.Logger
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{
		opt:    opt,
		starts: opt.LimiterFactory(opt.RampRate),
		logger: opt.Logger.Named("runner"),
	}
}

// Concurrency is the gauge shared by every engine of the run.
func (r *Runner) Concurrency() *metrics.Gauge {
	return r.opt.Engine.Concurrency
}

// Run starts the virtual users, paced by the ramp rate, and waits for all
// of them. It returns an error only for problems every user would hit, such
// as a script that does not compile; infrastructure failures are restarted
// per the policy and counted in Result.Errors. Cancelling ctx stops the run
// without an error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.opt.Compile == nil || r.opt.Drivers == nil {
		return Result{}, errors.New("runner: Compile and Drivers are required")
	}

	start := time.Now()
	var (
		mu       sync.Mutex
		sessions []Session
		restarts atomic.Int64
		failures atomic.Int64
	)
	record := func(s Session) {
		mu.Lock()
		sessions = append(sessions, s)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	started := 0
	for i := 0; i < r.opt.Users; i++ {
		if err := r.starts.Wait(gctx); err != nil {
			break
		}
		started++
		index, id := i, r.opt.NewID()
		g.Go(func() error {
			log := r.logger.With(zap.String("vu", id), zap.Int("index", index))
			log.Debug("virtual user started")

			err := r.opt.Restart.run(gctx, func(ctx context.Context, attempt int) error {
				s := r.session(ctx, id, attempt, log)
				record(s)
				return s.Err
			}, func(restart int, err error, delay time.Duration) {
				restarts.Add(1)
				r.recordError(err)
				log.Warn("virtual user restarting",
					zap.Int("restart", restart),
					zap.Duration("backoff", delay),
					zap.Error(err),
				)
			})

			switch {
			case err == nil:
				log.Debug("virtual user finished")
				return nil
			case gctx.Err() != nil:
				return nil
			case isScriptProblem(err):
				// Every other user would fail the same way.
				return err
			default:
				failures.Add(1)
				r.recordError(err)
				log.Error("virtual user stopped", zap.Error(err))
				return nil
			}
		})
	}
	err := g.Wait()

	res := Result{
		Users:    r.opt.Users,
		Started:  started,
		Restarts: restarts.Load(),
		Errors:   failures.Load(),
		Duration: time.Since(start),
		Sessions: sessions,
	}
	for _, s := range sessions {
		res.Iterations += s.Totals.Iterations
		res.Passed += s.Totals.Passed
		res.Failed += s.Totals.Failed
	}
	return res, err
}

func (r *Runner) session(ctx context.Context, id string, attempt int, log *zap.Logger) Session {
	s := Session{VU: id, Attempt: attempt}

	sc, err := r.opt.Compile()
	if err != nil {
		s.Err = err
		return s
	}

	driver := r.opt.Drivers()
	defer func() {
		if err := driver.Close(); err != nil {
			log.Warn("browser close failed", zap.Error(err))
		}
	}()
	if err := driver.Launch(ctx); err != nil {
		s.Err = fmt.Errorf("launch browser: %w", err)
		return s
	}
	client, err := driver.Client()
	if err != nil {
		s.Err = fmt.Errorf("browser client: %w", err)
		return s
	}

	opts := r.opt.Engine
	opts.VU = id
	opts.Logger = r.opt.Logger.Named("engine")
	eng := engine.New(r.opt.Reporter.For(id), opts)
	s.Recorder = eng.Recorder()

	if err := eng.EnqueueScript(sc); err != nil {
		s.Err = err
		return s
	}
	if err := eng.AttachDriver(client); err != nil {
		s.Err = err
		return s
	}
	s.Err = eng.Run(ctx)
	s.Totals = eng.Totals()
	return s
}

func (r *Runner) recordError(err error) {
	if c := r.opt.Engine.Collector; c != nil {
		c.RecordError(err)
	}
}

func isScriptProblem(err error) bool {
	var scriptErr *engine.ScriptError
	var compileErr *script.CompileError
	return errors.As(err, &scriptErr) || errors.As(err, &compileErr)
}
