package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

// ChromeClient adapts a chromedp tab context to Client. CDP events are
// translated once and published on an internal Bus.
type ChromeClient struct {
	ctx    context.Context
	bus    *Bus
	logger *zap.Logger

	mu      sync.RWMutex
	mainURL string
}

var (
	_ Client       = (*ChromeClient)(nil)
	_ HeaderSetter = (*ChromeClient)(nil)
)

func newChromeClient(tabCtx context.Context, logger *zap.Logger) (*ChromeClient, error) {
	c := &ChromeClient{
		ctx:    tabCtx,
		bus:    NewBus(),
		logger: logger.Named("client"),
	}
	chromedp.ListenTarget(tabCtx, c.translate)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		return nil, fmt.Errorf("enable network domain: %w", err)
	}
	return c, nil
}

func (c *ChromeClient) Subscribe(fn Handler, kinds ...EventKind) func() {
	return c.bus.Subscribe(fn, kinds...)
}

func (c *ChromeClient) currentURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mainURL
}

// translate runs on the chromedp event goroutine and must not block.
func (c *ChromeClient) translate(ev interface{}) {
	now := time.Now()
	switch ev := ev.(type) {
	case *page.EventJavascriptDialogOpening:
		c.bus.Publish(Event{
			Kind: EventDialog,
			Time: now,
			URL:  ev.URL,
			Dialog: &Dialog{
				Type:          string(ev.Type),
				Message:       ev.Message,
				DefaultPrompt: ev.DefaultPrompt,
			},
		})
	case *page.EventFrameNavigated:
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		c.mu.Lock()
		c.mainURL = ev.Frame.URL
		c.mu.Unlock()
		c.bus.Publish(Event{Kind: EventNavigation, Time: now, URL: ev.Frame.URL})
	case *page.EventDomContentEventFired:
		c.bus.Publish(Event{Kind: EventDOMContentLoaded, Time: now, URL: c.currentURL()})
	case *page.EventLoadEventFired:
		c.bus.Publish(Event{Kind: EventLoad, Time: now, URL: c.currentURL()})
	case *network.EventRequestWillBeSent:
		if ev.Request == nil {
			return
		}
		c.bus.Publish(Event{
			Kind: EventRequest,
			Time: now,
			URL:  ev.Request.URL,
			Network: &NetworkEvent{
				RequestID:      string(ev.RequestID),
				Method:         ev.Request.Method,
				URL:            ev.Request.URL,
				ResourceType:   string(ev.Type),
				RequestHeaders: flattenHeaders(ev.Request.Headers),
			},
		})
	case *network.EventResponseReceived:
		if ev.Response == nil {
			return
		}
		c.bus.Publish(Event{
			Kind: EventResponse,
			Time: now,
			URL:  ev.Response.URL,
			Network: &NetworkEvent{
				RequestID:       string(ev.RequestID),
				URL:             ev.Response.URL,
				ResourceType:    string(ev.Type),
				Status:          int(ev.Response.Status),
				StatusText:      ev.Response.StatusText,
				MimeType:        ev.Response.MimeType,
				Protocol:        ev.Response.Protocol,
				ResponseHeaders: flattenHeaders(ev.Response.Headers),
			},
		})
	case *network.EventLoadingFinished:
		c.bus.Publish(Event{
			Kind: EventRequestFinished,
			Time: now,
			Network: &NetworkEvent{
				RequestID: string(ev.RequestID),
				BodySize:  int64(ev.EncodedDataLength),
			},
		})
	case *network.EventLoadingFailed:
		c.bus.Publish(Event{
			Kind: EventRequestFailed,
			Time: now,
			Network: &NetworkEvent{
				RequestID:    string(ev.RequestID),
				ResourceType: string(ev.Type),
				ErrorText:    ev.ErrorText,
			},
		})
	case *runtime.EventConsoleAPICalled:
		parts := make([]string, 0, len(ev.Args))
		for _, arg := range ev.Args {
			if arg == nil {
				continue
			}
			if len(arg.Value) > 0 {
				parts = append(parts, strings.Trim(string(arg.Value), `"`))
			} else {
				parts = append(parts, arg.Description)
			}
		}
		c.bus.Publish(Event{
			Kind:    EventConsole,
			Time:    now,
			URL:     c.currentURL(),
			Console: &ConsoleMessage{Type: string(ev.Type), Text: strings.Join(parts, " ")},
		})
	}
}

func flattenHeaders(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// run executes actions on the tab while honouring cancellation and the
// deadline of the caller's context.
func (c *ChromeClient) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *ChromeClient) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *ChromeClient) Click(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (c *ChromeClient) Type(ctx context.Context, selector, text string) error {
	return c.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery, chromedp.NodeVisible))
}

var keyNames = map[string]string{
	"enter":      kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"backspace":  kb.Backspace,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
}

func (c *ChromeClient) Press(ctx context.Context, selector, key string) error {
	seq, ok := keyNames[strings.ToLower(key)]
	if !ok {
		seq = key
	}
	return c.run(ctx, chromedp.SendKeys(selector, seq, chromedp.ByQuery, chromedp.NodeVisible))
}

type elementState struct {
	Found   bool   `json:"found"`
	Visible bool   `json:"visible"`
	Text    string `json:"text"`
}

const elementStateScript = `(() => {
	const el = document.querySelector(%s);
	if (!el) return {found: false, visible: false, text: ""};
	const style = window.getComputedStyle(el);
	const rect = el.getBoundingClientRect();
	const visible = style.visibility !== "hidden" && style.display !== "none" && rect.width > 0 && rect.height > 0;
	return {found: true, visible: visible, text: el.innerText || el.textContent || ""};
})()`

func (c *ChromeClient) inspectElement(ctx context.Context, selector string) (elementState, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return elementState{}, err
	}
	var res elementState
	err = c.run(ctx, chromedp.Evaluate(fmt.Sprintf(elementStateScript, quoted), &res))
	return res, err
}

func (c *ChromeClient) Text(ctx context.Context, selector string) (string, error) {
	res, err := c.inspectElement(ctx, selector)
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return strings.TrimSpace(res.Text), nil
}

func (c *ChromeClient) Visible(ctx context.Context, selector string) (bool, error) {
	res, err := c.inspectElement(ctx, selector)
	if err != nil {
		return false, err
	}
	return res.Visible, nil
}

func (c *ChromeClient) Title(ctx context.Context) (string, error) {
	var title string
	err := c.run(ctx, chromedp.Title(&title))
	return title, err
}

func (c *ChromeClient) URL(ctx context.Context) (string, error) {
	var loc string
	err := c.run(ctx, chromedp.Location(&loc))
	return loc, err
}

// Evaluate runs expression in the page. When out is nil the result is
// discarded, which allows expressions that evaluate to undefined.
func (c *ChromeClient) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if out != nil {
		return c.run(ctx, chromedp.Evaluate(expression, out))
	}
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, exception, err := runtime.Evaluate(expression).WithAwaitPromise(true).Do(ctx)
		if err != nil {
			return err
		}
		if exception != nil {
			return exception
		}
		return nil
	}))
}

func (c *ChromeClient) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (c *ChromeClient) HandleDialog(ctx context.Context, accept bool, promptText string) error {
	params := page.HandleJavaScriptDialog(accept)
	if promptText != "" {
		params = params.WithPromptText(promptText)
	}
	return c.run(ctx, params)
}

func (c *ChromeClient) Configure(ctx context.Context, profile Profile) error {
	info, err := LookupDevice(profile.Device)
	if err != nil {
		return err
	}
	viewport := []chromedp.EmulateViewportOption{chromedp.EmulateScale(info.Scale)}
	if info.Landscape {
		viewport = append(viewport, chromedp.EmulateLandscape)
	}
	if info.Mobile {
		viewport = append(viewport, chromedp.EmulateMobile)
	}
	if info.Touch {
		viewport = append(viewport, chromedp.EmulateTouch)
	}
	actions := []chromedp.Action{chromedp.EmulateViewport(info.Width, info.Height, viewport...)}

	userAgent := profile.UserAgent
	if userAgent == "" {
		userAgent = info.UserAgent
	}
	if userAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(userAgent))
	}
	if profile.IgnoreHTTPSErrors {
		actions = append(actions, security.SetIgnoreCertificateErrors(true))
	}
	if err := c.run(ctx, actions...); err != nil {
		return fmt.Errorf("configure %s: %w", info.Name, err)
	}
	c.logger.Debug("client configured",
		zap.String("device", info.Name),
		zap.Bool("ignore_https_errors", profile.IgnoreHTTPSErrors))
	return nil
}

func (c *ChromeClient) ClearCache(ctx context.Context) error {
	return c.run(ctx, network.ClearBrowserCache())
}

func (c *ChromeClient) ClearCookies(ctx context.Context) error {
	return c.run(ctx, network.ClearBrowserCookies())
}

// SetExtraHeaders replaces the headers added to every request of the tab.
func (c *ChromeClient) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return c.run(ctx, network.SetExtraHTTPHeaders(h))
}
