package condition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
)

// EventSatisfied is the kind reported by state conditions that resolved on a
// poll rather than on a specific browser event.
const EventSatisfied browser.EventKind = "satisfied"

const pollInterval = 100 * time.Millisecond

const (
	pending int32 = iota
	resolved
)

// completion is a two-state token. Only the first resolve call succeeds.
type completion struct {
	state atomic.Int32
}

func (c *completion) resolve() bool {
	return c.state.CompareAndSwap(pending, resolved)
}

type waiter struct {
	done    completion
	match   func(browser.Event) bool
	events  chan browser.Event
	expired chan struct{}

	mu          sync.Mutex
	timer       *time.Timer
	unsubscribe func()
}

// deliver runs on the publisher goroutine.
func (w *waiter) deliver(ev browser.Event) {
	if w.match != nil && !w.match(ev) {
		return
	}
	if !w.done.resolve() {
		return
	}
	w.stopTimer()
	w.events <- ev
}

// expire runs on the timer goroutine.
func (w *waiter) expire() {
	if !w.done.resolve() {
		return
	}
	w.detach()
	close(w.expired)
}

func (w *waiter) stopTimer() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *waiter) detach() {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (w *waiter) teardown() {
	w.stopTimer()
	w.detach()
}

// Await subscribes once to src for kinds and resolves with the first event
// accepted by match (nil accepts everything). If timeout elapses first it
// fails with *TimeoutError; if ctx ends first it returns ctx.Err(). The
// timer and the subscription are both released before Await returns.
func Await(ctx context.Context, src browser.EventSource, name string, timeout time.Duration, match func(browser.Event) bool, kinds ...browser.EventKind) (browser.Event, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	w := &waiter{
		match:   match,
		events:  make(chan browser.Event, 1),
		expired: make(chan struct{}),
	}
	defer w.teardown()

	w.mu.Lock()
	w.timer = time.AfterFunc(timeout, w.expire)
	w.mu.Unlock()

	unsubscribe := src.Subscribe(w.deliver, kinds...)
	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()

	select {
	case ev := <-w.events:
		return ev, nil
	case <-w.expired:
		return browser.Event{}, &TimeoutError{Condition: name, Timeout: timeout}
	case <-ctx.Done():
		if w.done.resolve() {
			return browser.Event{}, ctx.Err()
		}
		// Lost the race to an outcome that is already in flight.
		select {
		case ev := <-w.events:
			return ev, nil
		case <-w.expired:
			return browser.Event{}, &TimeoutError{Condition: name, Timeout: timeout}
		}
	}
}

// awaitState re-evaluates check whenever one of kinds is published and on a
// short poll interval, until it holds or timeout elapses.
func awaitState(ctx context.Context, src browser.EventSource, name string, timeout time.Duration, check func(context.Context) (bool, error), kinds ...browser.EventKind) (browser.Event, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nudges := make(chan browser.Event, 1)
	unsubscribe := src.Subscribe(func(ev browser.Event) {
		select {
		case nudges <- ev:
		default:
		}
	}, kinds...)
	defer unsubscribe()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	trigger := browser.Event{Kind: EventSatisfied}
	for {
		ok, err := check(waitCtx)
		if err != nil && !errors.Is(err, browser.ErrNoElement) && waitCtx.Err() == nil {
			return browser.Event{}, err
		}
		if ok {
			if trigger.Time.IsZero() {
				trigger.Time = time.Now()
			}
			return trigger, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return browser.Event{}, ctx.Err()
			}
			return browser.Event{}, &TimeoutError{Condition: name, Timeout: timeout}
		case ev := <-nudges:
			trigger = ev
		case <-ticker.C:
			trigger = browser.Event{Kind: EventSatisfied}
		}
	}
}
