// Package diagnostics captures full-page screenshots when a step fails.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
)

// DefaultTimeout bounds one capture.
const DefaultTimeout = 10 * time.Second

// Snapshotter writes screenshots of Page into Dir.
type Snapshotter struct {
	Page    browser.Page
	Dir     string
	Timeout time.Duration
	Now     func() time.Time
	Logger  *slog.Logger

	taken []string
}

// FileName returns "<prefix>-<timestamp>.png" with ':' and '.' of the
// RFC 3339 timestamp replaced so the name is portable.
func FileName(prefix string, t time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(t.Format(time.RFC3339Nano))
	return prefix + "-" + stamp + ".png"
}

// Capture saves a screenshot and returns its path, or "" when nothing was
// written. It never fails the caller: problems are logged as warnings.
// A canceled ctx skips the capture; a ctx that merely ran out of time still
// gets one on its own budget, since that is when a screenshot is most useful.
func (s *Snapshotter) Capture(ctx context.Context, prefix string) string {
	if s == nil || s.Page == nil {
		return ""
	}
	if ctx.Err() == context.Canceled {
		return ""
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	path, err := s.write(cctx, filepath.Join(s.Dir, FileName(prefix, now())))
	if err != nil {
		logger.Warn("⚠️ Could not save screenshot", logfields.Error(serrors.PersistenceWarning("screenshot", err)))
		return ""
	}
	s.taken = append(s.taken, path)
	logger.Info("📸 Screenshot saved", logfields.Path(path))
	return path
}

func (s *Snapshotter) write(ctx context.Context, path string) (string, error) {
	data, err := s.Page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Taken returns the paths written so far.
func (s *Snapshotter) Taken() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.taken...)
}
