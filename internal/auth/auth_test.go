package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantalupo555/simplifi-exporter/internal/browser/browsertest"
	"github.com/cantalupo555/simplifi-exporter/internal/config"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/session"
)

type fakeSaver struct {
	saved []*session.State
	err   error
}

func (f *fakeSaver) Save(st *session.State) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, st)
	return nil
}

type fakeSnapshots struct{ prefixes []string }

func (f *fakeSnapshots) Capture(_ context.Context, prefix string) string {
	f.prefixes = append(f.prefixes, prefix)
	return prefix + "-shot.png"
}

type fixture struct {
	page  *browsertest.Page
	site  *config.Site
	saver *fakeSaver
	shots *fakeSnapshots
	auth  *Authenticator
}

func newFixture() *fixture {
	site := config.DefaultSite()
	page := browsertest.New().Show(
		site.AuthFrameLocator(),
		site.Login.Identifier,
		site.Login.Continue,
		site.Login.Password,
		site.Login.KeepSignedIn,
		site.Login.Submit,
	)
	f := &fixture{page: page, site: site, saver: &fakeSaver{}, shots: &fakeSnapshots{}}
	f.auth = &Authenticator{
		Page:         page,
		Site:         site,
		Credentials:  config.Credentials{Username: "me@example.com", Password: "secret"},
		KeepSignedIn: true,
		Timeouts:     config.DefaultTimeouts(),
		MFA: &Protocol{
			Page:         page,
			Probes:       site.MFA,
			ProbeWindow:  30 * time.Millisecond,
			ProbeTimeout: 10 * time.Millisecond,
			HumanWindow:  time.Second,
		},
		Store:     f.saver,
		Snapshots: f.shots,
	}
	return f
}

func TestLoginWithoutMFA(t *testing.T) {
	f := newFixture()

	res, err := f.auth.Login(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Challenged)
	assert.True(t, res.Saved)
	assert.Len(t, f.saver.saved, 1)
	assert.Equal(t, PhaseNoChallenge, f.auth.MFA.Phase())
	assert.Empty(t, f.shots.prefixes)

	login := f.site.Login
	order := []string{
		"wait-visible " + f.site.AuthFrameLocator().String(),
		"fill " + login.Identifier.String(),
		"click " + login.Continue.String(),
		"wait-visible " + login.Password.String(),
		"fill " + login.Password.String(),
		"check " + login.KeepSignedIn.String(),
		"click " + login.Submit.String(),
		"wait-function",
		"network-idle",
		"capture-state",
	}
	last := -1
	for _, ev := range order {
		i := f.page.Index(ev)
		require.GreaterOrEqual(t, i, 0, "missing %q in %v", ev, f.page.Events())
		assert.Greater(t, i, last, "%q out of order", ev)
		last = i
	}
	assert.Greater(t, f.page.Index("visible "+f.site.MFA[0].Locator.String()), f.page.Index("click "+login.Submit.String()))
}

func TestLoginSkipsKeepSignedIn(t *testing.T) {
	f := newFixture()
	f.auth.KeepSignedIn = false

	_, err := f.auth.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.page.Count("check"))
}

func TestLoginMFAResolvedByHuman(t *testing.T) {
	f := newFixture()
	f.page.Show(f.site.MFA[0].Locator)
	f.page.WaitFunctionFn = func(ctx context.Context, _ string) error {
		select {
		case <-time.After(20 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	res, err := f.auth.Login(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Challenged)
	assert.Equal(t, PhaseResolved, f.auth.MFA.Phase())
	assert.False(t, f.auth.MFA.Deadline().IsZero())
	assert.Len(t, f.saver.saved, 1)
}

func TestLoginMFAWindowExpires(t *testing.T) {
	f := newFixture()
	f.page.Show(f.site.MFA[6].Locator)
	f.auth.MFA.HumanWindow = 50 * time.Millisecond
	f.page.WaitFunctionFn = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.auth.Login(context.Background())
	require.Error(t, err)
	assert.True(t, serrors.IsKind(err, serrors.KindAuthenticationFailed))
	assert.ErrorIs(t, err, ErrHumanWindowExpired)
	assert.Equal(t, PhaseExpired, f.auth.MFA.Phase())
	assert.Empty(t, f.saver.saved, "no save after a failed login")
	assert.Equal(t, 0, f.page.Count("capture-state"))

	var e *serrors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "login-error-shot.png", e.Screenshot)
	assert.Equal(t, []string{"login-error"}, f.shots.prefixes)
}

func TestLoginPasswordNeverAppears(t *testing.T) {
	f := newFixture()
	f.page.Hide(f.site.Login.Password)

	_, err := f.auth.Login(context.Background())
	require.Error(t, err)
	assert.True(t, serrors.IsKind(err, serrors.KindAuthenticationFailed))
	assert.Contains(t, err.Error(), "password field did not appear")
	assert.Equal(t, 0, f.page.Count("click "+f.site.Login.Submit.String()))
	assert.Empty(t, f.saver.saved)
}

func TestLoginRequiresCredentials(t *testing.T) {
	f := newFixture()
	f.auth.Credentials = config.Credentials{Username: "me@example.com"}

	_, err := f.auth.Login(context.Background())
	require.Error(t, err)
	assert.True(t, serrors.IsKind(err, serrors.KindAuthenticationFailed))
	assert.ErrorIs(t, err, &serrors.Error{Kind: serrors.KindConfig})
	assert.Empty(t, f.page.Events(), "the form is never touched")
	assert.Equal(t, 1, f.auth.Attempts)
}

func TestLoginToleratesNetworkIdleTimeout(t *testing.T) {
	f := newFixture()
	f.page.NetworkIdleFn = func(context.Context) error { return context.DeadlineExceeded }

	res, err := f.auth.Login(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Saved)
}

func TestLoginSaveFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.saver.err = errors.New("read-only file system")

	res, err := f.auth.Login(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Saved)
}

func TestLoginCanceled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.page.WaitFunctionFn = func(c context.Context, _ string) error {
		cancel()
		<-c.Done()
		return c.Err()
	}

	_, err := f.auth.Login(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.saver.saved)
}

func TestCompletionExpr(t *testing.T) {
	expr := completionExpr(`iframe[title="auth"]`)
	assert.Contains(t, expr, `document.querySelector("iframe[title=\"auth\"]")`)
	assert.True(t, strings.HasPrefix(expr, "(() => {"))
	assert.Contains(t, expr, "offsetHeight === 0")
	assert.Contains(t, expr, "!f.contentDocument")
}
