// Package login classifies whether the current browser session is already
// signed in to Simplifi.
package login

import (
	"context"
	"log/slog"
	"time"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/config"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
	"github.com/cantalupo555/simplifi-exporter/internal/probe"
)

// State is the login classification of the current page.
type State int

const (
	Indeterminate State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	}
	return "indeterminate"
}

// NeedsLogin reports whether credentials should be submitted. An unclear state
// errs toward logging in.
func (s State) NeedsLogin() bool {
	return s != Authenticated
}

// Detector probes the transactions page for signs of a live session.
type Detector struct {
	Page     browser.Page
	Site     *config.Site
	BaseURL  string
	Timeouts config.Timeouts
	Logger   *slog.Logger
}

// Detect navigates to the transactions page and classifies it. A navigation
// failure yields Indeterminate together with the error; probe failures are
// never returned.
func (d *Detector) Detect(ctx context.Context) (State, error) {
	logger := d.logger()
	logger.Info("Checking if already logged in...")

	target := d.Site.TransactionsURL(d.BaseURL)
	navCtx, cancel := context.WithTimeout(ctx, d.Timeouts.Navigation)
	err := d.Page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		logger.Warn("⚠️ Could not open transactions page, will attempt authentication",
			logfields.URL(target), logfields.Error(err))
		return Indeterminate, err
	}

	// The auth frame is the strongest signal and wins over everything else.
	frame := probe.Probe{ID: "auth-frame", Locator: d.Site.AuthFrameLocator()}
	if probe.Evaluate(ctx, d.Page, frame, d.probeTimeout()).Outcome == probe.Match {
		logger.Info("Authentication required (auth frame detected)")
		return Unauthenticated, nil
	}

	if p, ok := probe.FirstMatch(ctx, d.Page, d.Site.LoggedIn, d.probeTimeout(), logger); ok {
		logger.Info("✓ Already logged in", logfields.Probe(p.Label()))
		return Authenticated, nil
	}
	if p, ok := probe.FirstMatch(ctx, d.Page, d.Site.Fallback, d.probeTimeout(), logger); ok {
		logger.Info("✓ Already logged in (detected from page title/URL)", logfields.Probe(p.Label()))
		return Authenticated, nil
	}

	logger.Info("Login state unclear, will attempt authentication")
	return Indeterminate, ctx.Err()
}

func (d *Detector) probeTimeout() time.Duration {
	if d.Timeouts.Probe > 0 {
		return d.Timeouts.Probe
	}
	return config.DefaultTimeouts().Probe
}

func (d *Detector) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
