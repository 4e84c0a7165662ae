package runner

import (
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/pagerunner/internal/browser"
	"github.com/torosent/pagerunner/internal/engine"
	"github.com/torosent/pagerunner/internal/metrics"
	"github.com/torosent/pagerunner/internal/reporter"
	"github.com/torosent/pagerunner/internal/script"
)

// Compiler produces a fresh script for one virtual user session. Compiled
// conditions hold per-step state, so sessions never share a Script.
type Compiler func() (*script.Script, error)

// DriverFactory returns an unlaunched browser for one session.
type DriverFactory func() browser.Driver

// Scoper hands out a reporter bound to one virtual user.
// *reporter.Emitter satisfies it.
type Scoper interface {
	For(vu string) reporter.Reporter
}

type discardScoper struct{}

func (discardScoper) For(string) reporter.Reporter { return reporter.Discard }

// Options configure the Runner.
type Options struct {
	Users    int     // virtual users, each with its own browser
	RampRate float64 // virtual user starts per second (0 starts all at once)
	Restart  RestartPolicy
	Compile  Compiler      // required
	Drivers  DriverFactory // required
	Reporter Scoper
	// Engine is the template every session's engine is built from. VU and
	// Logger are set per session; a nil Concurrency gauge is replaced by one
	// shared across all users.
	Engine         engine.Options
	Logger         *zap.Logger
	LimiterFactory func(perSecond float64) *rate.Limiter // optional injection for tests
	NewID          func() string
}

func (o *Options) normalize() {
	if o.Users <= 0 {
		o.Users = 1
	}
	if o.RampRate < 0 || math.IsNaN(o.RampRate) {
		o.RampRate = 0
	}
	if o.Restart.MaxRestarts < 0 {
		o.Restart.MaxRestarts = 0
	}
	if o.Reporter == nil {
		o.Reporter = discardScoper{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Engine.Concurrency == nil {
		o.Engine.Concurrency = &metrics.Gauge{}
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(perSecond float64) *rate.Limiter {
			if perSecond <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one so starts are spaced evenly from the first.
			return rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}
