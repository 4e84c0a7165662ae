package condition

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
)

// stateTriggers are the events after which page state is worth re-reading.
var stateTriggers = []browser.EventKind{
	browser.EventNavigation,
	browser.EventDOMContentLoaded,
	browser.EventLoad,
	browser.EventResponse,
	browser.EventRequestFinished,
}

// Visibility waits for an element to become visible, or hidden.
type Visibility struct {
	base
	selector string
	want     bool
}

func NewVisible(selector string, opts ...Option) *Visibility {
	return &Visibility{base: newBase("visible "+selector, Postcondition, opts), selector: selector, want: true}
}

func NewNotVisible(selector string, opts ...Option) *Visibility {
	return &Visibility{base: newBase("not visible "+selector, Postcondition, opts), selector: selector}
}

func (v *Visibility) HasPollCheck() bool { return true }

func (v *Visibility) PollCheck(ctx context.Context, page browser.Page) (bool, error) {
	visible, err := page.Visible(ctx, v.selector)
	if err != nil {
		return false, err
	}
	return visible == v.want, nil
}

func (v *Visibility) AwaitEvent(ctx context.Context, client browser.Client, timeout time.Duration) (browser.Event, error) {
	return awaitState(ctx, client, v.name, timeout, func(ctx context.Context) (bool, error) {
		return v.PollCheck(ctx, client)
	}, stateTriggers...)
}

// TextContains waits for an element's text to contain a substring.
type TextContains struct {
	base
	selector string
	text     string
}

func NewTextContains(selector, text string, opts ...Option) *TextContains {
	name := fmt.Sprintf("text of %s contains %q", selector, text)
	return &TextContains{base: newBase(name, Postcondition, opts), selector: selector, text: text}
}

func (t *TextContains) HasPollCheck() bool { return true }

func (t *TextContains) PollCheck(ctx context.Context, page browser.Page) (bool, error) {
	got, err := page.Text(ctx, t.selector)
	if err != nil {
		return false, err
	}
	return strings.Contains(got, t.text), nil
}

func (t *TextContains) AwaitEvent(ctx context.Context, client browser.Client, timeout time.Duration) (browser.Event, error) {
	return awaitState(ctx, client, t.name, timeout, func(ctx context.Context) (bool, error) {
		return t.PollCheck(ctx, client)
	}, stateTriggers...)
}

// TitleContains waits for the document title to contain a substring.
type TitleContains struct {
	base
	text string
}

func NewTitleContains(text string, opts ...Option) *TitleContains {
	return &TitleContains{base: newBase(fmt.Sprintf("title contains %q", text), Postcondition, opts), text: text}
}

func (t *TitleContains) HasPollCheck() bool { return true }

func (t *TitleContains) PollCheck(ctx context.Context, page browser.Page) (bool, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(title, t.text), nil
}

func (t *TitleContains) AwaitEvent(ctx context.Context, client browser.Client, timeout time.Duration) (browser.Event, error) {
	return awaitState(ctx, client, t.name, timeout, func(ctx context.Context) (bool, error) {
		return t.PollCheck(ctx, client)
	}, stateTriggers...)
}

// URLMatches waits for the page URL to match a pattern.
type URLMatches struct {
	base
	pattern *regexp.Regexp
}

func NewURLMatches(pattern string, opts ...Option) (*URLMatches, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("url pattern: %w", err)
	}
	return &URLMatches{base: newBase("url matches "+pattern, Postcondition, opts), pattern: re}, nil
}

func (u *URLMatches) HasPollCheck() bool { return true }

func (u *URLMatches) PollCheck(ctx context.Context, page browser.Page) (bool, error) {
	current, err := page.URL(ctx)
	if err != nil {
		return false, err
	}
	return u.pattern.MatchString(current), nil
}

func (u *URLMatches) AwaitEvent(ctx context.Context, client browser.Client, timeout time.Duration) (browser.Event, error) {
	return awaitState(ctx, client, u.name, timeout, func(ctx context.Context) (bool, error) {
		return u.PollCheck(ctx, client)
	}, browser.EventNavigation, browser.EventLoad)
}
