package runner_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/pagerunner/internal/browser"
	"github.com/torosent/pagerunner/internal/browser/browsertest"
	"github.com/torosent/pagerunner/internal/engine"
	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/reporter"
	"github.com/torosent/pagerunner/internal/runner"
	"github.com/torosent/pagerunner/internal/script"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func compiler(settings map[string]interface{}, calls *int64) runner.Compiler {
	return func() (*script.Script, error) {
		raw := map[string]interface{}{"actionDelay": 0.0, "screenshotOnFailure": false}
		for k, v := range settings {
			raw[k] = v
		}
		return &script.Script{
			Path:     "users.yaml",
			Settings: raw,
			Steps: []script.Step{{
				Name: "Home",
				Action: func(ctx context.Context, c browser.Client) error {
					if calls != nil {
						atomic.AddInt64(calls, 1)
					}
					return c.Navigate(ctx, "https://shop.test/")
				},
			}},
		}, nil
	}
}

// fleet hands out fake drivers and remembers them.
type fleet struct {
	mu      sync.Mutex
	drivers []*browsertest.Driver
}

func (f *fleet) next() browser.Driver {
	d := browsertest.NewDriver()
	f.mu.Lock()
	f.drivers = append(f.drivers, d)
	f.mu.Unlock()
	return d
}

func (f *fleet) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.drivers {
		if !d.Closed() {
			return false
		}
	}
	return len(f.drivers) > 0
}

// flakyDriver fails to launch until failures is used up.
type flakyDriver struct {
	*browsertest.Driver
	failures *int64
}

func (d *flakyDriver) Launch(ctx context.Context) error {
	if atomic.AddInt64(d.failures, -1) >= 0 {
		return errors.New("chrome exited with status 1")
	}
	return d.Driver.Launch(ctx)
}

func TestRunnerRunsEveryUser(t *testing.T) {
	var calls int64
	f := &fleet{}
	r := runner.New(runner.Options{
		Users:   3,
		Compile: compiler(map[string]interface{}{"loopCount": 2}, &calls),
		Drivers: f.next,
		Logger:  zaptest.NewLogger(t),
	})

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Started != 3 || len(res.Sessions) != 3 {
		t.Fatalf("started %d users with %d sessions, want 3 and 3", res.Started, len(res.Sessions))
	}
	if res.Iterations != 6 || res.Passed != 6 || res.Failed != 0 {
		t.Errorf("iterations=%d passed=%d failed=%d, want 6/6/0", res.Iterations, res.Passed, res.Failed)
	}
	if calls != 6 {
		t.Errorf("step ran %d times, want 6", calls)
	}

	seen := map[string]bool{}
	for _, s := range res.Sessions {
		if s.VU == "" || seen[s.VU] {
			t.Errorf("duplicate or empty VU id %q", s.VU)
		}
		seen[s.VU] = true
		if s.Recorder == nil {
			t.Errorf("session %s has no recorder", s.VU)
		}
	}
	if !f.allClosed() {
		t.Error("every browser must be closed")
	}
	if v := r.Concurrency().Value(); v != 0 {
		t.Errorf("concurrency gauge = %d after run, want 0", v)
	}
}

func TestRunnerRampPacesStarts(t *testing.T) {
	f := &fleet{}
	r := runner.New(runner.Options{
		Users:    3,
		RampRate: 20,
		Compile:  compiler(nil, nil),
		Drivers:  f.next,
	})

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Starts at 0, 50ms and 100ms.
	if res.Duration < 90*time.Millisecond {
		t.Errorf("run took %v, want at least ~100ms of ramp", res.Duration)
	}
}

func TestRunnerRestartsFailedUsers(t *testing.T) {
	failures := int64(2)
	collector := metrics.NewCollector()
	r := runner.New(runner.Options{
		Users:   1,
		Compile: compiler(map[string]interface{}{"loopCount": 2}, nil),
		Drivers: func() browser.Driver {
			return &flakyDriver{Driver: browsertest.NewDriver(), failures: &failures}
		},
		Restart: runner.RestartPolicy{
			MaxRestarts: 3,
			DelayFunc:   func(int, error) time.Duration { return time.Millisecond },
		},
		Engine: engine.Options{Collector: collector},
	})

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Restarts != 2 {
		t.Errorf("Restarts = %d, want 2", res.Restarts)
	}
	if res.Errors != 0 {
		t.Errorf("Errors = %d, want 0", res.Errors)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
	if len(res.Sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(res.Sessions))
	}
	if res.Sessions[2].Attempt != 2 || res.Sessions[2].Err != nil {
		t.Errorf("last session = %+v", res.Sessions[2])
	}
	if got := collector.Stats(time.Second).Errors; len(got) == 0 {
		t.Error("restart causes should be recorded as errors")
	}
}

func TestRunnerGivesUpAfterRestarts(t *testing.T) {
	failures := int64(100)
	r := runner.New(runner.Options{
		Users:   2,
		Compile: compiler(nil, nil),
		Drivers: func() browser.Driver {
			return &flakyDriver{Driver: browsertest.NewDriver(), failures: &failures}
		},
		Restart: runner.RestartPolicy{
			MaxRestarts: 1,
			DelayFunc:   func(int, error) time.Duration { return 0 },
		},
	})

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for infrastructure failures", err)
	}
	if res.Errors != 2 {
		t.Errorf("Errors = %d, want 2", res.Errors)
	}
	if res.Restarts != 2 {
		t.Errorf("Restarts = %d, want 2", res.Restarts)
	}
}

func TestRunnerScriptErrorStopsRun(t *testing.T) {
	f := &fleet{}
	r := runner.New(runner.Options{
		Users: 4,
		Compile: func() (*script.Script, error) {
			return nil, &script.CompileError{Path: "bad.yaml", Line: 3, Column: 5, Err: errors.New("unknown action")}
		},
		Drivers: f.next,
		Restart: runner.RestartPolicy{MaxRestarts: 5},
	})

	res, err := r.Run(context.Background())
	var compileErr *script.CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Run() error = %v, want *script.CompileError", err)
	}
	if res.Restarts != 0 {
		t.Errorf("Restarts = %d, script errors must not restart", res.Restarts)
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	f := &fleet{}
	r := runner.New(runner.Options{
		Users:   2,
		Compile: compiler(map[string]interface{}{"loopCount": "unbounded", "actionDelay": 0.005}, nil),
		Drivers: f.next,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on cancellation", err)
	}
	if res.Errors != 0 {
		t.Errorf("Errors = %d, cancellation is not a failure", res.Errors)
	}
	if res.Iterations == 0 {
		t.Error("expected some iterations before cancellation")
	}
	if !f.allClosed() {
		t.Error("every browser must be closed")
	}
}

func TestRunnerScopesReporterPerUser(t *testing.T) {
	emitter := reporter.NewEmitter(1024, zaptest.NewLogger(t))
	var mu sync.Mutex
	vus := map[string]int{}
	emitter.Subscribe(reporter.ListenerFunc(func(ev reporter.Event) {
		if ev.Kind != reporter.KindTrace {
			return
		}
		mu.Lock()
		vus[ev.VU]++
		mu.Unlock()
	}))

	r := runner.New(runner.Options{
		Users:    2,
		Compile:  compiler(nil, nil),
		Drivers:  (&fleet{}).next,
		Reporter: emitter,
	})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	emitter.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(vus) != 2 {
		t.Fatalf("traces from %d users, want 2: %v", len(vus), vus)
	}
	for _, s := range res.Sessions {
		if vus[s.VU] != 1 {
			t.Errorf("user %s reported %d traces, want 1", s.VU, vus[s.VU])
		}
	}
}

func TestRunnerRequiresCompilerAndDrivers(t *testing.T) {
	_, err := runner.New(runner.Options{}).Run(context.Background())
	if err == nil {
		t.Fatal("Run() without Compile and Drivers should fail")
	}
}
