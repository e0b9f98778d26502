// Package navigation moves the page to the transactions list and applies the
// optional date filter before an export.
package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
)

// EnsureTransactions navigates to target unless the page already shows it.
// Login can land on another view, and the export control only exists on the
// transactions list.
func EnsureTransactions(ctx context.Context, page browser.Page, target string, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	uctx, cancel := context.WithTimeout(ctx, timeout)
	current, err := page.URL(uctx)
	cancel()
	if err == nil && samePath(current, target) {
		return nil
	}

	logger.Info("Opening transactions page...", logfields.URL(target))
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.Navigate(nctx, target); err != nil {
		return fmt.Errorf("open transactions page: %w", err)
	}
	return nil
}

func samePath(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host == ub.Host && strings.TrimRight(ua.Path, "/") == strings.TrimRight(ub.Path, "/")
}
