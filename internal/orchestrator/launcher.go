package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
)

// Session is one launched browser. Close releases it and must be safe to
// call more than once.
type Session interface {
	Page() browser.Page
	Close()
}

// Launcher starts browsers. The browser lives until Close or until the ctx
// passed to Launch ends.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// ChromeLauncher launches Chrome through chromedp.
type ChromeLauncher struct {
	Config browser.Config
	Logger *slog.Logger
}

type chromeSession struct {
	c   *browser.Context
	tab *browser.Tab
}

func (s *chromeSession) Page() browser.Page { return s.tab }
func (s *chromeSession) Close()             { s.c.Close() }

// Launch starts the browser and opens the tab the exporter drives.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := l.Config
	if cfg.ExecPath == "" {
		cfg.ExecPath = browser.DetectBrowser()
	}
	if cfg.DownloadDir != "" {
		dir, err := filepath.Abs(cfg.DownloadDir)
		if err != nil {
			return nil, serrors.BrowserFailed(fmt.Errorf("resolve download directory: %w", err))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, serrors.BrowserFailed(fmt.Errorf("create download directory: %w", err))
		}
		cfg.DownloadDir = dir
	}

	logger.Info("Launching browser...", slog.String("exec", cfg.ExecPath), slog.Bool("headless", cfg.Headless))
	c, err := browser.New(ctx, cfg, logger)
	if err != nil {
		return nil, serrors.BrowserFailed(err)
	}
	tab, err := browser.NewTab(c, cfg, logger)
	if err != nil {
		c.Close()
		return nil, serrors.BrowserFailed(err)
	}
	return &chromeSession{c: c, tab: tab}, nil
}
