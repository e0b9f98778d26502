package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/browser/browsertest"
	"github.com/cantalupo555/simplifi-exporter/internal/config"
	"github.com/cantalupo555/simplifi-exporter/internal/datefilter"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/history"
	"github.com/cantalupo555/simplifi-exporter/internal/metrics"
	"github.com/cantalupo555/simplifi-exporter/internal/session"
)

var fixedNow = time.Date(2026, 10, 17, 6, 0, 5, 0, time.Local)

type fakeLauncher struct {
	page     *browsertest.Page
	err      error
	launches int
	closes   int
}

func (l *fakeLauncher) Launch(context.Context) (Session, error) {
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	return &fakeSession{l: l}, nil
}

type fakeSession struct{ l *fakeLauncher }

func (s *fakeSession) Page() browser.Page { return s.l.page }
func (s *fakeSession) Close()             { s.l.closes++ }

type fakeRecorder struct {
	mu       sync.Mutex
	steps    map[string]bool
	outcomes []metrics.Outcome
	logins   int
	success  time.Time
}

func (r *fakeRecorder) ObserveStep(step string, _ time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.steps == nil {
		r.steps = map[string]bool{}
	}
	r.steps[step] = ok
}

func (r *fakeRecorder) ObserveRun(_ time.Duration, o metrics.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *fakeRecorder) IncLogin(bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins++
}

func (r *fakeRecorder) SetLastSuccess(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success = t
}

type fixture struct {
	o        *Orchestrator
	site     *config.Site
	cfg      *config.Config
	page     *browsertest.Page
	launcher *fakeLauncher
	store    *session.Store
	history  *history.SQLiteStore
	metrics  *fakeRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Credentials = config.Credentials{Username: "me@example.com", Password: "secret"}
	cfg.DownloadDir = filepath.Join(dir, "exports")
	cfg.SessionFile = filepath.Join(dir, "auth-state.json")
	cfg.ScreenshotDir = filepath.Join(dir, "shots")
	cfg.Timeouts.MFAProbe = 30 * time.Millisecond
	cfg.Timeouts.Probe = 10 * time.Millisecond
	cfg.Timeouts.LoginCompletion = 2 * time.Second

	hist, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	site := config.DefaultSite()
	page := browsertest.New()
	f := &fixture{
		site:     site,
		cfg:      cfg,
		page:     page,
		launcher: &fakeLauncher{page: page},
		store:    session.NewStore(cfg.SessionFile),
		history:  hist,
		metrics:  &fakeRecorder{},
	}
	f.o = &Orchestrator{
		Config:   cfg,
		Site:     site,
		Store:    f.store,
		Launcher: f.launcher,
		History:  hist,
		Metrics:  f.metrics,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return fixedNow },
	}
	return f
}

// loggedOut shows the login form; submitting it reveals the export control.
func (f *fixture) loggedOut() {
	form := f.site.Login
	f.page.Show(f.site.AuthFrameLocator(), form.Identifier, form.Continue, form.Password, form.KeepSignedIn, form.Submit)
	f.page.OnClick(form.Submit, func() {
		f.page.Hide(f.site.AuthFrameLocator())
		f.page.Show(f.site.LoggedIn[0].Locator)
	})
	f.withExport()
}

// loggedIn shows the transactions page of a live session.
func (f *fixture) loggedIn() {
	f.page.Show(f.site.LoggedIn[0].Locator)
	f.withExport()
}

func (f *fixture) withExport() {
	f.page.Show(f.site.Export.Button).SetDownload(f.site.Export.Button, "Transactions.csv", []byte("Date,Payee,Amount\n"))
}

func (f *fixture) saveSession(t *testing.T) {
	t.Helper()
	st, err := f.page.CaptureState(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.store.Save(st))
}

func TestColdLoginWithoutMFA(t *testing.T) {
	f := newFixture(t)
	f.loggedOut()

	stats, err := f.o.Run(context.Background(), Request{RunID: "run-a"})
	require.NoError(t, err)

	assert.Equal(t, "authenticated", stats.LoginState)
	assert.Equal(t, 1, stats.LoginAttempts)
	assert.False(t, stats.Challenged)
	assert.True(t, stats.SessionSaved)
	assert.False(t, stats.SessionRestored)
	assert.True(t, f.store.Exists())

	want := filepath.Join(f.cfg.DownloadDir, "quicken-transactions-2026-10-17-06-00-05.csv")
	abs, err := filepath.Abs(want)
	require.NoError(t, err)
	assert.Equal(t, abs, stats.Artifact)
	assert.FileExists(t, stats.Artifact)

	assert.Equal(t, 1, f.launcher.closes)
	assert.Less(t, f.page.Index("capture-state"), f.page.Index("expect-download"))
	assert.Equal(t, []metrics.Outcome{metrics.OutcomeSuccess}, f.metrics.outcomes)
	assert.False(t, f.metrics.success.IsZero())

	runs, err := f.history.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-a", runs[0].RunID)
	assert.Equal(t, history.OutcomeSuccess, runs[0].Outcome)
	assert.True(t, runs[0].LoggedIn)
	assert.Equal(t, stats.Artifact, runs[0].Artifact)
}

func TestRestoredSessionSkipsLogin(t *testing.T) {
	f := newFixture(t)
	f.saveSession(t)
	f.loggedIn()

	stats, err := f.o.Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.True(t, stats.SessionRestored)
	assert.Equal(t, 0, stats.LoginAttempts)
	assert.Equal(t, 0, f.metrics.logins)
	assert.Equal(t, 0, f.page.Count("fill"))
	require.NotNil(t, f.page.Restored())
	assert.Equal(t, "qsid", f.page.Restored().Cookies[0].Name)
	assert.Less(t, f.page.Index("restore-state"), f.page.Index("navigate "+f.site.TransactionsURL(f.cfg.BaseURL)))
	assert.NotEmpty(t, stats.Artifact)
	assert.Equal(t, 1, f.launcher.closes)
}

func TestExportControlMissing(t *testing.T) {
	f := newFixture(t)
	f.page.Show(f.site.LoggedIn[1].Locator)

	stats, err := f.o.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, serrors.IsKind(err, serrors.KindExportControlNotFound))
	assert.NotEqual(t, 0, serrors.NewCLIAdapter("simplifi-exporter", false, nil).ExitCodeFor(err))

	shots, globErr := filepath.Glob(filepath.Join(f.cfg.ScreenshotDir, "download-error-*.png"))
	require.NoError(t, globErr)
	require.Len(t, shots, 1)
	assert.Equal(t, shots, stats.Screenshots)
	assert.False(t, stats.Succeeded())
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "export", stats.Errors[0].Step)
	assert.Equal(t, 1, f.launcher.closes)

	runs, err := f.history.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.OutcomeFailed, runs[0].Outcome)
	assert.Equal(t, string(serrors.KindExportControlNotFound), runs[0].ErrorKind)
}

func TestMFACompletedByHuman(t *testing.T) {
	f := newFixture(t)
	f.loggedOut()
	f.page.Show(f.site.MFA[0].Locator)

	var polls int
	f.page.WaitFunctionFn = func(ctx context.Context, _ string) error {
		polls++
		select {
		case <-time.After(20 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	stats, err := f.o.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, stats.Challenged)
	assert.True(t, stats.SessionSaved)
	assert.True(t, f.store.Exists())
	assert.Equal(t, 1, polls)
	assert.Less(t, f.page.Index("wait-function"), f.page.Index("capture-state"))
}

func TestResetThenColdLogin(t *testing.T) {
	f := newFixture(t)
	f.saveSession(t)

	removed, err := f.o.Reset()
	require.NoError(t, err)
	assert.True(t, removed)
	_, statErr := os.Stat(f.cfg.SessionFile)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	removed, err = f.o.Reset()
	require.NoError(t, err)
	assert.False(t, removed)

	f.loggedOut()
	stats, err := f.o.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, stats.SessionRestored)
	assert.Equal(t, 1, stats.LoginAttempts)
	assert.True(t, f.store.Exists())
}

func TestStaleSessionClearedWhenLoginFails(t *testing.T) {
	f := newFixture(t)
	f.saveSession(t)
	f.cfg.Credentials = config.Credentials{}
	f.page.Show(f.site.AuthFrameLocator())

	stats, err := f.o.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, serrors.IsKind(err, serrors.KindAuthenticationFailed))
	assert.True(t, stats.SessionRestored)
	assert.False(t, f.store.Exists())
	assert.Equal(t, 1, f.launcher.closes)
}

func TestInterruptDuringMFAWait(t *testing.T) {
	f := newFixture(t)
	f.loggedOut()
	f.page.Show(f.site.MFA[0].Locator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.page.WaitFunctionFn = func(wctx context.Context, _ string) error {
		cancel()
		<-wctx.Done()
		return wctx.Err()
	}

	stats, err := f.o.Run(ctx, Request{})
	require.Error(t, err)
	assert.True(t, serrors.IsKind(err, serrors.KindCanceled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 130, serrors.NewCLIAdapter("simplifi-exporter", false, nil).ExitCodeFor(err))

	assert.Equal(t, 1, f.launcher.closes)
	assert.Equal(t, 0, f.page.Count("capture-state"))
	assert.Equal(t, 0, f.page.Count("screenshot"))
	assert.False(t, f.store.Exists())
	assert.Empty(t, stats.Artifact)

	runs, err := f.history.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.OutcomeCanceled, runs[0].Outcome)
}

func TestMFAWindowExpiryIsAuthenticationFailure(t *testing.T) {
	f := newFixture(t)
	f.loggedOut()
	f.page.Show(f.site.MFA[0].Locator)
	f.cfg.Timeouts.LoginCompletion = 200 * time.Millisecond
	f.page.WaitFunctionFn = func(wctx context.Context, _ string) error {
		<-wctx.Done()
		return fmt.Errorf("%w: %v", wctx.Err(), context.Canceled)
	}

	_, err := f.o.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, serrors.IsKind(err, serrors.KindAuthenticationFailed))
	assert.False(t, serrors.IsKind(err, serrors.KindCanceled))
	assert.Equal(t, 5, serrors.NewCLIAdapter("simplifi-exporter", false, nil).ExitCodeFor(err))
	assert.Equal(t, 1, f.launcher.closes)
	assert.False(t, f.store.Exists())

	runs, err := f.history.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.OutcomeFailed, runs[0].Outcome)
}

func TestLaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.launcher.err = errors.New("exec: chrome not found")

	_, err := f.o.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, serrors.IsKind(err, serrors.KindBrowser))
	assert.Equal(t, 0, f.launcher.closes)
	assert.Equal(t, 0, f.page.Count(""))
}

func TestDateRangeApplied(t *testing.T) {
	f := newFixture(t)
	f.loggedIn()
	dr := f.site.DateRange
	f.page.Show(dr.Toggle, dr.Start, dr.End, dr.Apply)

	rng, err := datefilter.NewDateRange("2026-01-01", "2026-01-31")
	require.NoError(t, err)

	stats, err := f.o.Run(context.Background(), Request{Range: rng})
	require.NoError(t, err)
	assert.True(t, stats.FilterApplied)
	assert.Equal(t, "quicken-transactions-2026-01-01_to_2026-01-31-2026-10-17-06-00-05.csv", filepath.Base(stats.Artifact))
	assert.Less(t, f.page.Index("click "+dr.Apply.String()), f.page.Index("expect-download"))
}

func TestDateRangeControlMissingExportsAll(t *testing.T) {
	f := newFixture(t)
	f.loggedIn()
	f.cfg.Timeouts.DateRange = 10 * time.Millisecond

	rng, err := datefilter.NewDateRange("2026-01-01", "2026-01-31")
	require.NoError(t, err)

	stats, err := f.o.Run(context.Background(), Request{Range: rng})
	require.NoError(t, err)
	assert.False(t, stats.FilterApplied)
	assert.Equal(t, "quicken-transactions-2026-10-17-06-00-05.csv", filepath.Base(stats.Artifact))
	assert.Equal(t, "2026-01-01 to 2026-01-31", stats.DateRange)
}
