// Package datefilter parses the optional date range of a filtered export.
package datefilter

import (
	"fmt"
	"time"
)

// Layout is the date format accepted on the command line and typed into the
// site's date inputs.
const Layout = "2006-01-02"

// DateRange represents a date range filter.
type DateRange struct {
	From    time.Time
	To      time.Time
	Enabled bool
}

// NewDateRange creates a new DateRange from string dates.
// Date format: YYYY-MM-DD (e.g., "2023-01-01")
// Pass empty strings to disable filtering.
func NewDateRange(from, to string) (*DateRange, error) {
	return newDateRange(from, to, time.Now)
}

func newDateRange(from, to string, now func() time.Time) (*DateRange, error) {
	dr := &DateRange{}

	if from == "" && to == "" {
		return dr, nil
	}

	dr.Enabled = true

	if from != "" {
		fromDate, err := time.Parse(Layout, from)
		if err != nil {
			return nil, fmt.Errorf("invalid start date %q (use YYYY-MM-DD): %w", from, err)
		}
		dr.From = fromDate
	}

	if to != "" {
		toDate, err := time.Parse(Layout, to)
		if err != nil {
			return nil, fmt.Errorf("invalid end date %q (use YYYY-MM-DD): %w", to, err)
		}
		dr.To = toDate
	}

	// If only one date is specified, use sensible defaults
	if from != "" && to == "" {
		n := now()
		dr.To = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	}
	if to != "" && from == "" {
		dr.From = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	if dr.From.After(dr.To) {
		return nil, fmt.Errorf("start date (%s) is after end date (%s)", dr.Start(), dr.End())
	}

	return dr, nil
}

// Start returns the first day in Layout.
func (dr *DateRange) Start() string { return dr.From.Format(Layout) }

// End returns the last day in Layout.
func (dr *DateRange) End() string { return dr.To.Format(Layout) }

// Prefix returns the artifact prefix for a filtered export of base, e.g.
// "quicken-transactions-2026-01-01_to_2026-01-31". A disabled range leaves
// base unchanged.
func (dr *DateRange) Prefix(base string) string {
	if dr == nil || !dr.Enabled {
		return base
	}
	return fmt.Sprintf("%s-%s_to_%s", base, dr.Start(), dr.End())
}

// String returns a human-readable representation of the date range.
func (dr *DateRange) String() string {
	if dr == nil || !dr.Enabled {
		return "all dates"
	}
	return fmt.Sprintf("%s to %s", dr.Start(), dr.End())
}
