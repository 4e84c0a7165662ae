// Package condition implements the waitable capabilities a step can gate on.
//
// A [Condition] exposes two operations. PollCheck is a cheap, bounded check
// that lets the engine skip waiting when the condition already holds.
// AwaitEvent subscribes to one browser event source, races it against a
// timer, and resolves exactly once: with the event if it arrives first,
// otherwise with a [*TimeoutError]. Whichever side loses is torn down before
// AwaitEvent returns, so no subscription or timer outlives the wait.
//
// Variants differ only in what they subscribe to and how they recognise the
// signal. The engine depends on the interface, never on a concrete variant.
package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
)

// DefaultTimeout bounds a wait when neither the condition nor the caller
// supplies one.
const DefaultTimeout = 30 * time.Second

// Role decides when the engine evaluates a condition.
type Role int

const (
	// Precondition is checked and awaited before the step action runs.
	Precondition Role = iota
	// Postcondition is checked and awaited after the step action completes.
	Postcondition
	// Interrupt races the step action. If it resolves first the action is
	// cancelled and the step is marked interrupted.
	Interrupt
)

func (r Role) String() string {
	switch r {
	case Precondition:
		return "precondition"
	case Postcondition:
		return "postcondition"
	case Interrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole accepts the long and short role names.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pre", "precondition", "before":
		return Precondition, nil
	case "post", "postcondition", "after":
		return Postcondition, nil
	case "interrupt", "race":
		return Interrupt, nil
	default:
		return 0, fmt.Errorf("unknown condition role %q", s)
	}
}

// Condition is a thing a step can wait on.
type Condition interface {
	Name() string
	Role() Role
	// Timeout is the condition specific bound; zero defers to the caller.
	Timeout() time.Duration
	// HasPollCheck reports whether PollCheck is meaningful. Conditions
	// without one report themselves as always satisfied.
	HasPollCheck() bool
	PollCheck(ctx context.Context, page browser.Page) (bool, error)
	AwaitEvent(ctx context.Context, client browser.Client, timeout time.Duration) (browser.Event, error)
}

// Armer is implemented by conditions that must observe events from the
// moment a step begins, before PollCheck or AwaitEvent are consulted.
// Arm resets any state left from a previous execution of the same step.
type Armer interface {
	Arm(src browser.EventSource) (disarm func())
}

// EffectiveTimeout picks the condition override, then fallback, then
// DefaultTimeout.
func EffectiveTimeout(c Condition, fallback time.Duration) time.Duration {
	if d := c.Timeout(); d > 0 {
		return d
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("condition timeout")

// TimeoutError reports that AwaitEvent lost the race against its timer.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition %q timed out after %s", e.Condition, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Option customises a condition at construction.
type Option func(*base)

// WithTimeout overrides the wait bound for this condition only.
func WithTimeout(d time.Duration) Option {
	return func(b *base) { b.timeout = d }
}

// WithRole changes when the engine evaluates the condition.
func WithRole(r Role) Option {
	return func(b *base) { b.role = r }
}

// WithName replaces the generated display name.
func WithName(name string) Option {
	return func(b *base) {
		if name != "" {
			b.name = name
		}
	}
}

type base struct {
	name    string
	role    Role
	timeout time.Duration
}

func newBase(name string, role Role, opts []Option) base {
	b := base{name: name, role: role}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b base) Name() string           { return b.name }
func (b base) Role() Role             { return b.role }
func (b base) Timeout() time.Duration { return b.timeout }
