package navigation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/config"
	"github.com/cantalupo555/simplifi-exporter/internal/datefilter"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
)

// ApplyDateRange opens the date filter, types the range and applies it. The
// controls are unverified against the live site: when the toggle does not
// show up the export continues unfiltered and ApplyDateRange returns false.
func ApplyDateRange(ctx context.Context, page browser.Page, controls config.DateRangeControls,
	dr *datefilter.DateRange, timeouts config.Timeouts, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dr == nil || !dr.Enabled {
		return false, nil
	}
	if controls.Toggle.IsZero() {
		logger.Warn("⚠️ No date range control configured, exporting all dates")
		return false, nil
	}

	logger.Info("Setting date range...", slog.String("range", dr.String()))

	vctx, cancel := context.WithTimeout(ctx, timeouts.DateRange)
	visible, err := page.Visible(vctx, controls.Toggle)
	cancel()
	if err != nil || !visible {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn("⚠️ Date range control not found, exporting all dates", logfields.Error(err))
		return false, nil
	}

	steps := []struct {
		what string
		run  func(context.Context) error
	}{
		{"open date filter", func(c context.Context) error { return page.Click(c, controls.Toggle) }},
		{"set start date", func(c context.Context) error { return page.Fill(c, controls.Start, dr.Start()) }},
		{"set end date", func(c context.Context) error { return page.Fill(c, controls.End, dr.End()) }},
		{"apply date filter", func(c context.Context) error { return page.Click(c, controls.Apply) }},
	}
	for _, s := range steps {
		sctx, cancel := context.WithTimeout(ctx, timeouts.DateRange)
		err := s.run(sctx)
		cancel()
		if err != nil {
			return false, fmt.Errorf("%s: %w", s.what, err)
		}
	}
	logger.Info("✓ Filter menu applied")

	ictx, cancel := context.WithTimeout(ctx, timeouts.NetworkIdle)
	defer cancel()
	if err := page.WaitNetworkIdle(ictx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn("⚠️ Transactions still loading after filter, continuing...", logfields.Error(err))
	}

	logger.Info("✓ Filter applied successfully")
	return true, nil
}
