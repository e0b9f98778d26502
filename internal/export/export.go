// Package export triggers Simplifi's CSV export and stores the downloaded file
// under a deterministic name.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/config"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
)

// stampLayout is colon-free so the name is valid on every filesystem.
const stampLayout = "2006-01-02-15-04-05"

// ArtifactName returns "<prefix>-<YYYY-MM-DD>-<HH-MM-SS>.csv" for t. Names are
// unique to the second only.
func ArtifactName(prefix string, t time.Time) string {
	return prefix + "-" + t.Format(stampLayout) + ".csv"
}

// Artifact is a saved export file.
type Artifact struct {
	Path string
	Name string
	Size int64
	At   time.Time
}

// Snapshotter captures a failure screenshot and returns its path, or "".
type Snapshotter interface {
	Capture(ctx context.Context, prefix string) string
}

// Acquirer locates the export control, triggers it and saves the download.
type Acquirer struct {
	Page     browser.Page
	Controls config.ExportControls
	Dir      string
	// Prefix overrides Controls.Prefix, e.g. for date-filtered exports.
	Prefix    string
	Timeouts  config.Timeouts
	Now       func() time.Time
	Snapshots Snapshotter
	Logger    *slog.Logger
}

// Acquire runs one export and returns the saved artifact with an absolute path.
// The download listener is always armed before the control is clicked.
func (a *Acquirer) Acquire(ctx context.Context) (*Artifact, error) {
	logger := a.logger()

	dir, err := filepath.Abs(a.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	button := a.Controls.Button
	logger.Info("Looking for CSV export button...", slog.String("control", button.String()))
	wctx, cancel := context.WithTimeout(ctx, a.Timeouts.ExportButton)
	err = a.Page.WaitVisible(wctx, button)
	cancel()
	if err != nil {
		logger.Info("Export button not found, checking available buttons...")
		candidates := a.Sweep(ctx)
		return nil, a.fail(ctx, serrors.ExportControlNotFound(err, candidates))
	}

	logger.Info("Starting CSV export...")
	waiter, err := a.Page.ExpectDownload(ctx)
	if err != nil {
		return nil, a.fail(ctx, serrors.DownloadTimedOut(fmt.Errorf("arm download listener: %w", err)))
	}
	defer waiter.Cancel()

	cctx, cancel := context.WithTimeout(ctx, a.Timeouts.ExportButton)
	err = a.Page.Click(cctx, button)
	cancel()
	if err != nil {
		return nil, a.fail(ctx, serrors.ExportControlNotFound(err, nil))
	}

	logger.Info("Waiting for download to start...")
	dctx, cancel := context.WithTimeout(ctx, a.Timeouts.Download)
	dl, err := waiter.Wait(dctx)
	cancel()
	if err != nil {
		return nil, a.fail(ctx, serrors.DownloadTimedOut(err))
	}

	at := a.now()
	name := ArtifactName(a.prefix(), at)
	path := filepath.Join(dir, name)
	if err := dl.SaveAs(path); err != nil {
		return nil, a.fail(ctx, fmt.Errorf("save download as %s: %w", path, err))
	}

	art := &Artifact{Path: path, Name: name, At: at}
	if info, err := os.Stat(path); err == nil {
		art.Size = info.Size()
	}
	logger.Info("✓ Download completed", logfields.Path(path),
		slog.String("suggested", dl.SuggestedFilename()), slog.Int64("bytes", art.Size))
	return art, nil
}

// Sweep lists visible controls whose label mentions one of the export
// keywords. It is diagnostic only and never fails.
func (a *Acquirer) Sweep(ctx context.Context) []string {
	logger := a.logger()
	sctx, cancel := context.WithTimeout(ctx, a.Timeouts.Probe)
	defer cancel()

	controls, err := a.Page.Controls(sctx)
	if err != nil {
		logger.Warn("⚠️ Could not list page controls", logfields.Error(err))
		return nil
	}
	logger.Debug("Available buttons", slog.Int("count", len(controls)))

	candidates := MatchKeywords(controls, a.Controls.Keywords)
	if len(candidates) > 0 {
		logger.Info("Found potential export buttons", slog.Any("candidates", candidates))
	}
	return candidates
}

// MatchKeywords returns the labels of controls whose text, aria-label, name or
// id contains any keyword, ignoring case. Duplicates are dropped.
func MatchKeywords(controls []browser.Control, keywords []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range controls {
		hay := strings.ToLower(strings.Join([]string{c.Text, c.AriaLabel, c.Name, c.ID}, " "))
		for _, kw := range keywords {
			if kw == "" || !strings.Contains(hay, strings.ToLower(kw)) {
				continue
			}
			if label := c.Label(); label != "" && !seen[label] {
				seen[label] = true
				out = append(out, label)
			}
			break
		}
	}
	return out
}

// fail attaches a screenshot to err when one can be taken.
func (a *Acquirer) fail(ctx context.Context, err error) error {
	if a.Snapshots == nil {
		return err
	}
	shot := a.Snapshots.Capture(ctx, "download-error")
	if shot == "" {
		return err
	}
	if e, ok := err.(*serrors.Error); ok {
		return e.WithScreenshot(shot)
	}
	return fmt.Errorf("%w (screenshot: %s)", err, shot)
}

func (a *Acquirer) prefix() string {
	if a.Prefix != "" {
		return a.Prefix
	}
	return a.Controls.Prefix
}

func (a *Acquirer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Acquirer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
