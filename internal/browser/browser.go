// Package browser provides Chrome/Chromedp initialization and the page
// operations the exporter drives.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// DefaultUserAgent matches a stock desktop Chrome so the site serves the full app.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds browser configuration options.
type Config struct {
	ExecPath     string
	DownloadDir  string
	Headless     bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// Timeout bounds the whole browser lifetime. Zero means no limit.
	Timeout time.Duration
	// IgnoreHosts are request hosts excluded from network-quiet tracking and
	// failure logging (analytics beacons never settle).
	IgnoreHosts []string
}

// DefaultConfig returns default browser configuration. The window is visible
// because MFA needs a human at the keyboard.
func DefaultConfig() Config {
	return Config{
		ExecPath:     "",
		Headless:     false,
		UserAgent:    DefaultUserAgent,
		WindowWidth:  1366,
		WindowHeight: 900,
		Timeout:      30 * time.Minute,
	}
}

// Context holds the browser contexts and cancel functions.
type Context struct {
	Ctx         context.Context
	AllocCancel context.CancelFunc
	CtxCancel   context.CancelFunc

	closeOnce sync.Once
}

// New launches a browser under parent. Cancelling parent tears the browser down.
func New(parent context.Context, cfg Config, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)

	ctx, ctxCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp: " + fmt.Sprintf(format, args...))
		}),
	)

	timeoutCancel := context.CancelFunc(func() {})
	if cfg.Timeout > 0 {
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Timeout)
	}

	// Wrap both cancels
	combinedCancel := func() {
		timeoutCancel()
		ctxCancel()
	}

	c := &Context{
		Ctx:         ctx,
		AllocCancel: allocCancel,
		CtxCancel:   combinedCancel,
	}

	// Start the browser now so launch failures surface here rather than on
	// the first navigation.
	if err := chromedp.Run(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return c, nil
}

// Close closes the tab and then the browser process. Only the first call has
// any effect.
func (c *Context) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		if c.CtxCancel != nil {
			c.CtxCancel()
		}
		if c.AllocCancel != nil {
			c.AllocCancel()
		}
	})
}

// ConfigureDownloads makes downloads land in downloadDir under their GUID and
// enables download progress events.
func ConfigureDownloads(ctx context.Context, downloadDir string) error {
	if err := chromedp.Run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	); err != nil {
		return fmt.Errorf("configure downloads: %w", err)
	}
	return nil
}
