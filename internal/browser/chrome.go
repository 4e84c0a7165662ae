package browser

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeOptions configure how Chrome is launched.
type ChromeOptions struct {
	Headless bool
	ExecPath string                 // empty uses the first Chrome found on PATH
	Flags    map[string]interface{} // extra command line switches
	Logger   *zap.Logger
}

// ChromeDriver launches a local Chrome through chromedp and hands out one
// tab-backed Client.
type ChromeDriver struct {
	opts   ChromeOptions
	logger *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	client        *ChromeClient
}

var _ Driver = (*ChromeDriver)(nil)

func NewChromeDriver(opts ChromeOptions) *ChromeDriver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeDriver{opts: opts, logger: logger.Named("chrome")}
}

func (d *ChromeDriver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.DisableGPU,
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if goruntime.GOOS == "linux" {
		opts = append(opts, chromedp.NoSandbox)
	}
	if !d.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if d.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.opts.ExecPath))
	}
	for name, value := range d.opts.Flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// Launch starts the browser process and opens the first tab.
func (d *ChromeDriver) Launch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserCtx != nil {
		return errors.New("browser already launched")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, d.allocatorOptions()...)
	sugar := d.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	// The first Run allocates the browser and the tab.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch chrome: %w", err)
	}

	client, err := newChromeClient(browserCtx, d.logger)
	if err != nil {
		browserCancel()
		allocCancel()
		return err
	}

	d.allocCancel = allocCancel
	d.browserCtx = browserCtx
	d.browserCancel = browserCancel
	d.client = client
	d.logger.Debug("chrome launched", zap.Bool("headless", d.opts.Headless))
	return nil
}

// Client returns the tab opened by Launch.
func (d *ChromeDriver) Client() (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil, errors.New("browser not launched")
	}
	return d.client, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(d.browserCtx)
	d.browserCancel()
	d.allocCancel()
	d.browserCtx = nil
	d.client = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}
