package condition

import (
	"context"
	"strings"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
)

// Dialog resolves when the page opens a JavaScript dialog. It is an
// interrupt by default: an unsolicited alert wins the race against the
// action that was blocked by it.
type Dialog struct {
	base
	contains string
}

// NewDialog waits for any dialog, or only for dialogs whose message contains
// the given text when it is non-empty.
func NewDialog(contains string, opts ...Option) *Dialog {
	return &Dialog{base: newBase("dialog", Interrupt, opts), contains: contains}
}

func (d *Dialog) HasPollCheck() bool { return false }

func (d *Dialog) PollCheck(context.Context, browser.Page) (bool, error) { return true, nil }

func (d *Dialog) match(ev browser.Event) bool {
	if ev.Dialog == nil {
		return false
	}
	return d.contains == "" || strings.Contains(ev.Dialog.Message, d.contains)
}

func (d *Dialog) AwaitEvent(ctx context.Context, client browser.Client, timeout time.Duration) (browser.Event, error) {
	return Await(ctx, client, d.name, timeout, d.match, browser.EventDialog)
}
