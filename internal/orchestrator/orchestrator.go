// Package orchestrator runs one export end to end: launch, session restore,
// login detection, authentication, optional date filter, export, and cleanup.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cantalupo555/simplifi-exporter/internal/auth"
	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/config"
	"github.com/cantalupo555/simplifi-exporter/internal/datefilter"
	"github.com/cantalupo555/simplifi-exporter/internal/diagnostics"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/export"
	"github.com/cantalupo555/simplifi-exporter/internal/history"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
	"github.com/cantalupo555/simplifi-exporter/internal/login"
	"github.com/cantalupo555/simplifi-exporter/internal/metrics"
	"github.com/cantalupo555/simplifi-exporter/internal/navigation"
	"github.com/cantalupo555/simplifi-exporter/internal/report"
	"github.com/cantalupo555/simplifi-exporter/internal/session"
)

// recordTimeout bounds writing the history row after a run, even an
// interrupted one.
const recordTimeout = 5 * time.Second

// SessionStore persists the authentication state. *session.Store implements it.
type SessionStore interface {
	Load() (*session.State, error)
	Save(st *session.State) error
	Clear() (bool, error)
}

// Request selects what one run exports.
type Request struct {
	// Range filters the export; nil or disabled exports everything.
	Range *datefilter.DateRange
	// RunID labels logs and history; a random one is generated when empty.
	RunID string
}

// Orchestrator owns every collaborator of a run.
type Orchestrator struct {
	Config   *config.Config
	Site     *config.Site
	Store    SessionStore
	Launcher Launcher
	History  history.Store
	Metrics  metrics.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Run performs one export. The browser is released exactly once whatever the
// outcome. A ctx canceled by an interrupt unwinds through the same path and
// yields a Canceled error. The returned stats are never nil.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*report.Stats, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := o.logger().With(logfields.RunID(runID))
	stats := report.New(runID)
	if req.Range != nil && req.Range.Enabled {
		stats.DateRange = req.Range.String()
	}

	step, err := o.run(ctx, req, stats, logger)
	if err != nil {
		if ctx.Err() != nil || browser.IsBrowserClosed(err) {
			err = serrors.Canceled(err)
		}
		stats.AddError(step, err.Error())
	}
	stats.Finish()
	o.record(ctx, stats, err, logger)
	return stats, err
}

// run returns the name of the step that failed together with its error.
func (o *Orchestrator) run(ctx context.Context, req Request, stats *report.Stats, logger *slog.Logger) (string, error) {
	cfg, site := o.Config, o.Site

	sess, err := o.Launcher.Launch(ctx)
	if err != nil {
		var e *serrors.Error
		if !errors.As(err, &e) {
			err = serrors.BrowserFailed(err)
		}
		return "launch", err
	}
	defer func() {
		sess.Close()
		logger.Debug("Browser closed")
	}()
	page := sess.Page()

	shots := &diagnostics.Snapshotter{Page: page, Dir: cfg.ScreenshotDir, Now: o.Now, Logger: logger}
	defer func() {
		for _, p := range shots.Taken() {
			stats.AddScreenshot(p)
		}
	}()

	stats.SessionRestored = o.restore(ctx, page, logger)

	detector := &login.Detector{Page: page, Site: site, BaseURL: cfg.BaseURL, Timeouts: cfg.Timeouts, Logger: logger}
	var state login.State
	err = o.observe("detect", func() error {
		var derr error
		state, derr = detector.Detect(ctx)
		return derr
	})
	if ctx.Err() != nil {
		return "detect", ctx.Err()
	}
	if state == login.Indeterminate {
		logger.Debug("Treating unclear login state as logged out",
			logfields.Error(serrors.DetectionAmbiguous()), slog.Any("cause", err))
	}
	stats.LoginState = state.String()
	logger.Info("Login state detected", logfields.LoginState(state.String()))

	if state.NeedsLogin() {
		if err := o.login(ctx, page, shots, stats, logger); err != nil {
			return "login", err
		}
		if err := navigation.EnsureTransactions(ctx, page, site.TransactionsURL(cfg.BaseURL),
			cfg.Timeouts.Navigation, logger); err != nil {
			if ctx.Err() != nil {
				return "navigate", ctx.Err()
			}
			logger.Warn("⚠️ Could not reopen transactions page, trying export anyway", logfields.Error(err))
		}
	}

	acq := &export.Acquirer{
		Page:      page,
		Controls:  site.Export,
		Dir:       cfg.DownloadDir,
		Timeouts:  cfg.Timeouts,
		Now:       o.Now,
		Snapshots: shots,
		Logger:    logger,
	}

	if req.Range != nil && req.Range.Enabled {
		var applied bool
		err := o.observe("date-range", func() error {
			var aerr error
			applied, aerr = navigation.ApplyDateRange(ctx, page, site.DateRange, req.Range, cfg.Timeouts, logger)
			return aerr
		})
		if err != nil {
			if ctx.Err() != nil {
				return "date-range", ctx.Err()
			}
			logger.Warn("⚠️ Date range could not be applied, exporting all dates", logfields.Error(err))
			stats.AddError("date-range", err.Error())
		}
		stats.FilterApplied = applied
		if applied {
			acq.Prefix = req.Range.Prefix(site.Export.Prefix)
		}
	}

	var art *export.Artifact
	if err := o.observe("export", func() error {
		var aerr error
		art, aerr = acq.Acquire(ctx)
		return aerr
	}); err != nil {
		return "export", err
	}
	stats.Artifact = art.Path
	stats.ArtifactSize = art.Size
	logger.Info("✓ Export saved", logfields.Path(art.Path), slog.Int64("bytes", art.Size))
	return "", nil
}

// restore replays the persisted session into the browser. Any failure leaves
// a fresh context and is only a warning.
func (o *Orchestrator) restore(ctx context.Context, page browser.Page, logger *slog.Logger) bool {
	st, err := o.Store.Load()
	if err != nil {
		logger.Warn("⚠️ Saved session unreadable, starting fresh",
			logfields.Error(serrors.PersistenceWarning("load session", err)))
		return false
	}
	if st.Empty() {
		logger.Info("No saved session found")
		return false
	}
	if err := page.RestoreState(ctx, st); err != nil {
		logger.Warn("⚠️ Could not restore saved session, starting fresh",
			logfields.Error(serrors.PersistenceWarning("restore session", err)))
		return false
	}
	logger.Info("✓ Saved session loaded", slog.Time("saved_at", st.SavedAt))
	return true
}

func (o *Orchestrator) login(ctx context.Context, page browser.Page, shots *diagnostics.Snapshotter,
	stats *report.Stats, logger *slog.Logger) error {
	cfg := o.Config
	mfa := &auth.Protocol{
		Page:         page,
		Probes:       o.Site.MFA,
		ProbeWindow:  cfg.Timeouts.MFAProbe,
		ProbeTimeout: cfg.Timeouts.Probe,
		HumanWindow:  cfg.Timeouts.LoginCompletion,
		Logger:       logger,
	}
	a := &auth.Authenticator{
		Page:         page,
		Site:         o.Site,
		Credentials:  cfg.Credentials,
		KeepSignedIn: cfg.KeepSignedIn,
		Timeouts:     cfg.Timeouts,
		MFA:          mfa,
		Store:        o.Store,
		Snapshots:    shots,
		Logger:       logger,
	}

	var res *auth.Result
	err := o.observe("login", func() error {
		var lerr error
		res, lerr = a.Login(ctx)
		return lerr
	})
	stats.LoginAttempts = a.Attempts
	var challenged bool
	switch mfa.Phase() {
	case auth.PhaseAwaitingHumanInput, auth.PhaseResolved, auth.PhaseExpired:
		challenged = true
	}
	o.metrics().IncLogin(challenged, err == nil)

	if err != nil {
		stats.Challenged = challenged
		if stats.SessionRestored && ctx.Err() == nil {
			o.clearStale(logger)
		}
		return err
	}
	stats.Challenged = res.Challenged
	stats.SessionSaved = res.Saved
	stats.LoginState = login.Authenticated.String()
	return nil
}

// clearStale removes a saved session that no longer logs in, so the next run
// starts clean.
func (o *Orchestrator) clearStale(logger *slog.Logger) {
	removed, err := o.Store.Clear()
	if err != nil {
		logger.Warn("⚠️ Could not clear stale session", logfields.Error(serrors.PersistenceWarning("clear session", err)))
		return
	}
	if removed {
		logger.Info("Cleared stale saved session")
	}
}

// Reset removes the saved session. removed is false when none existed.
func (o *Orchestrator) Reset() (bool, error) {
	removed, err := o.Store.Clear()
	if err != nil {
		return false, serrors.PersistenceWarning("clear session", err)
	}
	return removed, nil
}

func (o *Orchestrator) observe(step string, fn func() error) error {
	start := time.Now()
	err := fn()
	o.metrics().ObserveStep(step, time.Since(start), err == nil)
	return err
}

// record writes the run to history and metrics. It runs after cleanup and
// outlives an interrupted ctx.
func (o *Orchestrator) record(ctx context.Context, stats *report.Stats, runErr error, logger *slog.Logger) {
	outcome := metrics.OutcomeSuccess
	switch {
	case serrors.IsKind(runErr, serrors.KindCanceled):
		outcome = metrics.OutcomeCanceled
	case runErr != nil:
		outcome = metrics.OutcomeFailed
	}

	m := o.metrics()
	m.ObserveRun(stats.Duration(), outcome)
	if outcome == metrics.OutcomeSuccess {
		m.SetLastSuccess(stats.EndTime)
	}

	if o.History == nil {
		return
	}
	rec := history.Record{
		RunID:      stats.RunID,
		StartedAt:  stats.StartTime,
		FinishedAt: stats.EndTime,
		Outcome:    string(outcome),
		LoginState: stats.LoginState,
		LoggedIn:   stats.LoginAttempts > 0,
		Challenged: stats.Challenged,
		Artifact:   stats.Artifact,
		Size:       stats.ArtifactSize,
		DateRange:  stats.DateRange,
	}
	if runErr != nil {
		rec.ErrorKind = string(serrors.KindOf(runErr))
		rec.Error = runErr.Error()
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.History.Append(hctx, rec); err != nil {
		logger.Warn("⚠️ Could not record export history", logfields.Error(serrors.PersistenceWarning("history", err)))
	}
}

func (o *Orchestrator) metrics() metrics.Recorder {
	if o.Metrics == nil {
		return metrics.NoopRecorder{}
	}
	return o.Metrics
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
