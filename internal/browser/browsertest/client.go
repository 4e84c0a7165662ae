// Package browsertest provides an in-memory browser.Client for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
)

// DialogResponse records one HandleDialog call.
type DialogResponse struct {
	Accept     bool
	PromptText string
}

// Client is a programmable fake. Zero values behave like an empty page;
// the *Func hooks override individual primitives.
type Client struct {
	bus *browser.Bus

	mu           sync.Mutex
	url          string
	title        string
	texts        map[string]string
	visible      map[string]bool
	visits       []string
	clicks       []string
	dialogs      []DialogResponse
	profile      *browser.Profile
	cacheClears  int
	cookieClears int
	headers      map[string]string

	NavigateFunc func(ctx context.Context, url string) error
	ClickFunc    func(ctx context.Context, selector string) error
	EvaluateFunc func(ctx context.Context, expression string, out interface{}) error
}

var (
	_ browser.Client       = (*Client)(nil)
	_ browser.HeaderSetter = (*Client)(nil)
)

func NewClient() *Client {
	return &Client{
		bus:     browser.NewBus(),
		texts:   make(map[string]string),
		visible: make(map[string]bool),
	}
}

// Emit publishes ev to subscribers, stamping the time when unset.
func (c *Client) Emit(ev browser.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.bus.Publish(ev)
}

// EmitAfter publishes ev from a separate goroutine after d.
func (c *Client) EmitAfter(d time.Duration, ev browser.Event) {
	time.AfterFunc(d, func() { c.Emit(ev) })
}

// Subscribers returns the number of live subscriptions.
func (c *Client) Subscribers() int {
	return c.bus.Len()
}

func (c *Client) Subscribe(fn browser.Handler, kinds ...browser.EventKind) func() {
	return c.bus.Subscribe(fn, kinds...)
}

func (c *Client) SetTitle(title string) {
	c.mu.Lock()
	c.title = title
	c.mu.Unlock()
}

func (c *Client) SetURL(url string) {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

func (c *Client) SetText(selector, text string) {
	c.mu.Lock()
	c.texts[selector] = text
	c.mu.Unlock()
}

func (c *Client) SetVisible(selector string, visible bool) {
	c.mu.Lock()
	c.visible[selector] = visible
	c.mu.Unlock()
}

// Visits returns every URL passed to Navigate.
func (c *Client) Visits() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.visits...)
}

// Clicks returns every selector passed to Click.
func (c *Client) Clicks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.clicks...)
}

// Dialogs returns every HandleDialog call.
func (c *Client) Dialogs() []DialogResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DialogResponse(nil), c.dialogs...)
}

// Profile returns the last profile passed to Configure.
func (c *Client) Profile() (browser.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return browser.Profile{}, false
	}
	return *c.profile, true
}

// Clears returns how many times the cache and cookies were cleared.
func (c *Client) Clears() (cache, cookies int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheClears, c.cookieClears
}

// Navigate records url, updates the current URL and publishes a navigation
// followed by a load event.
func (c *Client) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.visits = append(c.visits, url)
	hook := c.NavigateFunc
	c.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, url); err != nil {
			return err
		}
	}
	c.SetURL(url)
	c.Emit(browser.Event{Kind: browser.EventNavigation, URL: url})
	c.Emit(browser.Event{Kind: browser.EventLoad, URL: url})
	return nil
}

func (c *Client) Click(ctx context.Context, selector string) error {
	c.mu.Lock()
	c.clicks = append(c.clicks, selector)
	hook := c.ClickFunc
	c.mu.Unlock()
	if hook != nil {
		return hook(ctx, selector)
	}
	return ctx.Err()
}

func (c *Client) Type(ctx context.Context, selector, text string) error {
	c.mu.Lock()
	c.texts[selector] += text
	c.mu.Unlock()
	return ctx.Err()
}

func (c *Client) Press(ctx context.Context, selector, key string) error {
	return ctx.Err()
}

func (c *Client) Text(ctx context.Context, selector string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.texts[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrNoElement, selector)
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) Visible(ctx context.Context, selector string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible[selector], nil
}

func (c *Client) Title(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title, nil
}

func (c *Client) URL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url, nil
}

func (c *Client) Evaluate(ctx context.Context, expression string, out interface{}) error {
	c.mu.Lock()
	hook := c.EvaluateFunc
	c.mu.Unlock()
	if hook != nil {
		return hook(ctx, expression, out)
	}
	return ctx.Err()
}

// Screenshot returns a fixed PNG signature.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG\r\n\x1a\n"), ctx.Err()
}

func (c *Client) HandleDialog(ctx context.Context, accept bool, promptText string) error {
	c.mu.Lock()
	c.dialogs = append(c.dialogs, DialogResponse{Accept: accept, PromptText: promptText})
	c.mu.Unlock()
	return nil
}

func (c *Client) Configure(ctx context.Context, profile browser.Profile) error {
	if _, err := browser.LookupDevice(profile.Device); err != nil {
		return err
	}
	c.mu.Lock()
	c.profile = &profile
	c.mu.Unlock()
	return nil
}

func (c *Client) ClearCache(ctx context.Context) error {
	c.mu.Lock()
	c.cacheClears++
	c.mu.Unlock()
	return nil
}

func (c *Client) ClearCookies(ctx context.Context) error {
	c.mu.Lock()
	c.cookieClears++
	c.mu.Unlock()
	return nil
}

func (c *Client) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	c.mu.Lock()
	c.headers = make(map[string]string, len(headers))
	for k, v := range headers {
		c.headers[k] = v
	}
	c.mu.Unlock()
	return ctx.Err()
}

// Headers returns the extra headers last set on the client.
func (c *Client) Headers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// Driver hands out a single fake Client.
type Driver struct {
	C        *Client
	launched bool
	closed   bool
	mu       sync.Mutex
}

var _ browser.Driver = (*Driver)(nil)

func NewDriver() *Driver {
	return &Driver{C: NewClient()}
}

func (d *Driver) Launch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launched = true
	return ctx.Err()
}

func (d *Driver) Client() (browser.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.launched {
		return nil, fmt.Errorf("browser not launched")
	}
	return d.C, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
