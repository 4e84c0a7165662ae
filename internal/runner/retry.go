package runner

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/torosent/pagerunner/internal/engine"
	"github.com/torosent/pagerunner/internal/script"
)

const (
	DefaultRestartDelay    = 500 * time.Millisecond
	DefaultMaxRestartDelay = 30 * time.Second
)

// RestartPolicy configures how a virtual user whose session failed is
// started again on a fresh browser.
type RestartPolicy struct {
	MaxRestarts   int                                        // restarts after the first session (0 disables)
	BaseDelay     time.Duration                              // first backoff, doubled per restart
	MaxDelay      time.Duration                              // backoff ceiling
	ShouldRestart func(error) bool                           // predicate; if nil, Restartable decides
	DelayFunc     func(restart int, err error) time.Duration // replaces exponential backoff; restart is 1-based
	Jitter        func() float64                             // returns [0,1); nil uses math/rand
}

// Restartable reports whether err is worth another session. Script
// problems and panics in script code repeat on every attempt, and a
// cancelled run is over.
func Restartable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var scriptErr *engine.ScriptError
	var compileErr *script.CompileError
	if errors.As(err, &scriptErr) || errors.As(err, &compileErr) {
		return false
	}
	var stepErr *engine.StepError
	if errors.As(err, &stepErr) && stepErr.Kind == engine.KindPanic {
		return false
	}
	return true
}

func (p RestartPolicy) restartable(err error) bool {
	if p.ShouldRestart != nil {
		return p.ShouldRestart(err)
	}
	return Restartable(err)
}

// delay is exponential in restart with jitter over the upper half of the
// interval.
func (p RestartPolicy) delay(restart int, err error) time.Duration {
	if p.DelayFunc != nil {
		return p.DelayFunc(restart, err)
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultRestartDelay
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxRestartDelay
	}

	d := ceiling
	if shift := restart - 1; shift < 32 {
		if grown := base << uint(shift); grown > 0 && grown < ceiling {
			d = grown
		}
	}

	jitter := rand.Float64
	if p.Jitter != nil {
		jitter = p.Jitter
	}
	half := d / 2
	return half + time.Duration(jitter()*float64(d-half))
}

// run calls session until it succeeds, fails with an error the policy does
// not restart, or the restarts are used up. onRestart is told about every
// restart before its backoff.
func (p RestartPolicy) run(ctx context.Context, session func(ctx context.Context, attempt int) error, onRestart func(restart int, err error, delay time.Duration)) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRestarts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = session(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		// Don't delay after the last attempt.
		if attempt == p.MaxRestarts || !p.restartable(lastErr) {
			return lastErr
		}
		delay := p.delay(attempt+1, lastErr)
		if onRestart != nil {
			onRestart(attempt+1, lastErr, delay)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}
