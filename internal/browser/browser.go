// Package browser defines the contracts the test engine drives a browser
// through, plus a Chrome DevTools implementation built on chromedp.
//
// The engine only depends on [Driver], [Client] and [EventSource]. Anything
// that satisfies them (a real Chrome, the fake in browsertest) is
// substitutable.
package browser

import (
	"context"
	"errors"
)

// ErrNoElement is returned when a selector matches nothing.
var ErrNoElement = errors.New("no element matches selector")

// EventSource publishes browser events to subscribers.
type EventSource interface {
	// Subscribe registers fn for the given kinds and returns the function
	// that tears the subscription down. Unsubscribing twice is a no-op.
	Subscribe(fn Handler, kinds ...EventKind) (unsubscribe func())
}

// Page is the set of action primitives step actions invoke.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Press(ctx context.Context, selector, key string) error
	Text(ctx context.Context, selector string) (string, error)
	Visible(ctx context.Context, selector string) (bool, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string, out interface{}) error
	Screenshot(ctx context.Context) ([]byte, error)
	HandleDialog(ctx context.Context, accept bool, promptText string) error
}

// Client is a live browser tab exclusively owned by one engine.
type Client interface {
	EventSource
	Page
	Configure(ctx context.Context, profile Profile) error
	ClearCache(ctx context.Context) error
	ClearCookies(ctx context.Context) error
}

// HeaderSetter is implemented by clients that can add headers to every
// request the page issues.
type HeaderSetter interface {
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
}

// Driver owns the browser process lifecycle.
type Driver interface {
	Launch(ctx context.Context) error
	Client() (Client, error)
	Close() error
}

// Profile is applied to a client once before the first iteration.
type Profile struct {
	Device            string
	UserAgent         string
	IgnoreHTTPSErrors bool
}
