// Package auth drives the Simplifi login form and hands MFA challenges to the
// human at the browser window.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/config"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
	"github.com/cantalupo555/simplifi-exporter/internal/session"
)

// Saver persists the captured session. *session.Store implements it.
type Saver interface {
	Save(st *session.State) error
}

// Snapshotter captures a failure screenshot and returns its path, or "".
type Snapshotter interface {
	Capture(ctx context.Context, prefix string) string
}

// Result describes a completed login.
type Result struct {
	Challenged bool
	Saved      bool
	Duration   time.Duration
}

// Authenticator submits credentials through the auth frame.
type Authenticator struct {
	Page         browser.Page
	Site         *config.Site
	Credentials  config.Credentials
	KeepSignedIn bool
	Timeouts     config.Timeouts
	MFA          *Protocol // required
	Store        Saver
	Snapshots    Snapshotter
	Logger       *slog.Logger
	// Attempts counts calls to Login.
	Attempts int
}

// Login runs the whole sequence once, without retries. Any failure is an
// AuthenticationFailed error carrying the screenshot path when one was
// captured. The session is saved only after the auth frame is gone.
func (a *Authenticator) Login(ctx context.Context) (*Result, error) {
	a.Attempts++
	if !a.Credentials.Complete() {
		return nil, serrors.AuthenticationFailed(
			serrors.ConfigInvalid(config.EnvUsername+"/"+config.EnvPassword, "must be set to log in"))
	}

	start := time.Now()
	res, err := a.login(ctx)
	if err != nil {
		aerr := serrors.AuthenticationFailed(err)
		if a.Snapshots != nil {
			if shot := a.Snapshots.Capture(ctx, "login-error"); shot != "" {
				aerr = aerr.WithScreenshot(shot)
			}
		}
		return nil, aerr
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (a *Authenticator) login(ctx context.Context) (*Result, error) {
	logger := a.logger()
	form := a.Site.Login
	logger.Info("Starting authentication process...")

	logger.Info("Waiting for auth frame...")
	if err := a.step(ctx, a.Timeouts.AuthFrame, func(c context.Context) error {
		return a.Page.WaitVisible(c, a.Site.AuthFrameLocator())
	}); err != nil {
		return nil, fmt.Errorf("auth frame did not appear: %w", err)
	}

	logger.Info("Entering email...")
	if err := a.step(ctx, a.Timeouts.AuthFrame, func(c context.Context) error {
		return a.Page.Fill(c, form.Identifier, a.Credentials.Username)
	}); err != nil {
		return nil, err
	}
	if err := a.step(ctx, a.Timeouts.AuthFrame, func(c context.Context) error {
		return a.Page.Click(c, form.Continue)
	}); err != nil {
		return nil, err
	}

	logger.Info("Entering password...")
	if err := a.step(ctx, a.Timeouts.PasswordField, func(c context.Context) error {
		return a.Page.WaitVisible(c, form.Password)
	}); err != nil {
		return nil, fmt.Errorf("password field did not appear: %w", err)
	}
	if err := a.step(ctx, a.Timeouts.PasswordField, func(c context.Context) error {
		return a.Page.Fill(c, form.Password, a.Credentials.Password)
	}); err != nil {
		return nil, err
	}

	if a.KeepSignedIn && !form.KeepSignedIn.IsZero() {
		if err := a.step(ctx, a.Timeouts.PasswordField, func(c context.Context) error {
			return a.Page.Check(c, form.KeepSignedIn)
		}); err != nil {
			return nil, err
		}
	}

	if err := a.step(ctx, a.Timeouts.PasswordField, func(c context.Context) error {
		return a.Page.Click(c, form.Submit)
	}); err != nil {
		return nil, err
	}

	res := &Result{Challenged: a.MFA.Detect(ctx)}

	logger.Info("Waiting for login to complete...")
	expr := completionExpr(a.Site.AuthFrame)
	if err := a.MFA.Await(ctx, func(c context.Context) error {
		return a.Page.WaitFunction(c, expr)
	}); err != nil {
		return nil, err
	}

	if err := a.step(ctx, a.Timeouts.NetworkIdle, a.Page.WaitNetworkIdle); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("⚠️ Page still loading (analytics timeouts), but continuing...", logfields.Error(err))
	}

	logger.Info("✓ Login successful!")
	res.Saved = a.save(ctx)
	return res, nil
}

// save captures and persists the session. Failures are warnings only.
func (a *Authenticator) save(ctx context.Context) bool {
	if a.Store == nil {
		return false
	}
	logger := a.logger()
	st, err := a.Page.CaptureState(ctx)
	if err == nil {
		err = a.Store.Save(st)
	}
	if err != nil {
		logger.Warn("⚠️ Could not save authentication state",
			logfields.Error(serrors.PersistenceWarning("save session", err)))
		return false
	}
	logger.Info("Authentication state saved for future use")
	return true
}

func (a *Authenticator) step(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(c)
}

func (a *Authenticator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// completionExpr is truthy once the auth frame is gone, hidden, collapsed or
// without a document.
func completionExpr(frame string) string {
	sel, err := json.Marshal(frame)
	if err != nil {
		sel = []byte(`""`)
	}
	return `(() => {
	const f = document.querySelector(` + string(sel) + `);
	if (!f) return true;
	const s = getComputedStyle(f);
	return f.style.display === 'none' || s.display === 'none' || s.visibility === 'hidden' ||
		f.offsetHeight === 0 || !f.contentDocument;
})()`
}
