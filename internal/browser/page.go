package browser

import (
	"context"
	"strings"

	"github.com/cantalupo555/simplifi-exporter/internal/session"
)

// Locator identifies an element on the page. Exactly one of CSS, Role or Text
// selects the element; Frame, when set, is the CSS selector of the iframe
// hosting it.
type Locator struct {
	Frame string `yaml:"frame,omitempty"`
	CSS   string `yaml:"css,omitempty"`
	// Role and Name select by accessibility role and accessible name. Name is
	// matched case-insensitively as a prefix of the computed name.
	Role string `yaml:"role,omitempty"`
	Name string `yaml:"name,omitempty"`
	// Text matches any visible element whose rendered text contains it.
	Text string `yaml:"text,omitempty"`
}

// InFrame returns a copy of l scoped to the iframe matched by frame.
func (l Locator) InFrame(frame string) Locator {
	l.Frame = frame
	return l
}

// IsZero reports whether the locator selects nothing.
func (l Locator) IsZero() bool {
	return l.CSS == "" && l.Role == "" && l.Text == ""
}

func (l Locator) String() string {
	var s string
	switch {
	case l.CSS != "":
		s = l.CSS
	case l.Role != "":
		s = "role=" + l.Role
		if l.Name != "" {
			s += `[name="` + l.Name + `"]`
		}
	case l.Text != "":
		s = `text="` + l.Text + `"`
	}
	if l.Frame != "" {
		s = l.Frame + " >> " + s
	}
	return s
}

// Control describes a visible button-like element, used when diagnosing a
// missing export control.
type Control struct {
	Text      string `json:"text"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	AriaLabel string `json:"ariaLabel"`
}

// Label returns the most descriptive non-empty label of c.
func (c Control) Label() string {
	for _, v := range []string{c.Text, c.AriaLabel, c.Name, c.ID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Download is a completed browser download waiting to be persisted.
type Download interface {
	SuggestedFilename() string
	// SaveAs moves the downloaded file to path.
	SaveAs(path string) error
}

// DownloadWaiter is an armed download listener.
type DownloadWaiter interface {
	// Wait blocks until the download completes or ctx ends.
	Wait(ctx context.Context) (Download, error)
	// Cancel disarms the listener. Safe to call more than once.
	Cancel()
}

// Page is the browser surface the exporter drives. Every method blocks until
// the action completes or ctx ends; per-step timeouts are set by the caller.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Visible reports whether loc becomes visible before ctx expires. An
	// expired ctx yields (false, nil); other failures are returned.
	Visible(ctx context.Context, loc Locator) (bool, error)
	WaitVisible(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, value string) error
	Click(ctx context.Context, loc Locator) error
	// Check ticks a checkbox if it is not already ticked.
	Check(ctx context.Context, loc Locator) error
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	// WaitFunction polls a JavaScript expression until it is truthy.
	WaitFunction(ctx context.Context, expression string) error
	// WaitNetworkIdle returns once no tracked request has been in flight for
	// a short quiet period.
	WaitNetworkIdle(ctx context.Context) error
	// ExpectDownload arms a download listener. It must be called before the
	// action that triggers the download.
	ExpectDownload(ctx context.Context) (DownloadWaiter, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Controls lists visible button elements.
	Controls(ctx context.Context) ([]Control, error)
	CaptureState(ctx context.Context) (*session.State, error)
	RestoreState(ctx context.Context, st *session.State) error
}
