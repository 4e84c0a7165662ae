package condition

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
)

// Navigation resolves when a main frame navigation finishes loading,
// optionally only for URLs matching a pattern. Once armed it remembers a
// matching load that completed while the action was still running, so a
// fast navigation is not missed by the postcondition check.
type Navigation struct {
	base
	pattern *regexp.Regexp
	seen    atomic.Bool
}

func NewNavigation(pattern string, opts ...Option) (*Navigation, error) {
	n := &Navigation{base: newBase("navigation", Postcondition, opts)}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("navigation url pattern: %w", err)
		}
		n.pattern = re
		if n.name == "navigation" {
			n.name = "navigation " + pattern
		}
	}
	return n, nil
}

func (n *Navigation) match(ev browser.Event) bool {
	return n.pattern == nil || n.pattern.MatchString(ev.URL)
}

func (n *Navigation) Arm(src browser.EventSource) func() {
	n.seen.Store(false)
	return src.Subscribe(func(ev browser.Event) {
		if n.match(ev) {
			n.seen.Store(true)
		}
	}, browser.EventLoad)
}

func (n *Navigation) HasPollCheck() bool { return true }

func (n *Navigation) PollCheck(context.Context, browser.Page) (bool, error) {
	return n.seen.Load(), nil
}

func (n *Navigation) AwaitEvent(ctx context.Context, client browser.Client, timeout time.Duration) (browser.Event, error) {
	return Await(ctx, client, n.name, timeout, n.match, browser.EventLoad)
}
