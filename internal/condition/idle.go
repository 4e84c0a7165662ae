package condition

import (
	"context"
	"sync"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
)

// DefaultQuietPeriod is how long the network must stay idle.
const DefaultQuietPeriod = 500 * time.Millisecond

// NetworkIdle resolves once no request has been in flight for the quiet
// period. Requests are counted from the moment the condition is armed, or
// from the start of AwaitEvent when it never was.
type NetworkIdle struct {
	base
	quiet time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewNetworkIdle(quiet time.Duration, opts ...Option) *NetworkIdle {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &NetworkIdle{
		base:     newBase("network idle", Postcondition, opts),
		quiet:    quiet,
		inflight: make(map[string]struct{}),
	}
}

func (n *NetworkIdle) track(ev browser.Event) {
	if ev.Network == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	switch ev.Kind {
	case browser.EventRequest:
		n.inflight[ev.Network.RequestID] = struct{}{}
	case browser.EventRequestFinished, browser.EventRequestFailed:
		delete(n.inflight, ev.Network.RequestID)
	}
}

func (n *NetworkIdle) pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight)
}

func (n *NetworkIdle) Arm(src browser.EventSource) func() {
	n.mu.Lock()
	n.inflight = make(map[string]struct{})
	n.mu.Unlock()
	return src.Subscribe(n.track, browser.NetworkKinds...)
}

// HasPollCheck is false: idleness needs the quiet period to elapse, which
// no instantaneous check can observe.
func (n *NetworkIdle) HasPollCheck() bool { return false }

func (n *NetworkIdle) PollCheck(context.Context, browser.Page) (bool, error) { return true, nil }

func (n *NetworkIdle) AwaitEvent(ctx context.Context, client browser.Client, timeout time.Duration) (browser.Event, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	changes := make(chan struct{}, 1)
	unsubscribe := client.Subscribe(func(ev browser.Event) {
		n.track(ev)
		select {
		case changes <- struct{}{}:
		default:
		}
	}, browser.NetworkKinds...)
	defer unsubscribe()

	quiet := time.NewTimer(n.quiet)
	defer quiet.Stop()
	idle := true
	if n.pending() > 0 {
		quiet.Stop()
		idle = false
	}

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return browser.Event{}, ctx.Err()
			}
			return browser.Event{}, &TimeoutError{Condition: n.name, Timeout: timeout}
		case <-changes:
			if n.pending() > 0 {
				if idle {
					quiet.Stop()
					idle = false
				}
			} else {
				// Quiet period restarts after the last activity.
				quiet.Reset(n.quiet)
				idle = true
			}
		case <-quiet.C:
			return browser.Event{Kind: EventSatisfied, Time: time.Now()}, nil
		}
	}
}
