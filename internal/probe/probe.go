// Package probe evaluates ordered, data-driven page checks. Each probe yields
// a tri-state outcome and lists are combined first-match-wins.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
)

// Kind is what a probe inspects.
type Kind string

const (
	KindSelector Kind = "selector"
	KindRole     Kind = "role"
	KindText     Kind = "text"
	KindTitle    Kind = "title"
	KindURL      Kind = "url"
	KindInvalid  Kind = "invalid"
)

// Probe is one page check. Exactly one of the embedded locator, Title or URL
// is set.
type Probe struct {
	// ID names the probe in logs; the locator's own Name is the accessible name.
	ID              string `yaml:"id,omitempty"`
	browser.Locator `yaml:",inline"`
	// Title matches when the document title contains it.
	Title string `yaml:"title,omitempty"`
	// URL matches when the current URL contains it.
	URL string `yaml:"url,omitempty"`
}

func (p Probe) Kind() Kind {
	switch {
	case p.Title != "":
		return KindTitle
	case p.URL != "":
		return KindURL
	case p.CSS != "":
		return KindSelector
	case p.Role != "":
		return KindRole
	case p.Text != "":
		return KindText
	}
	return KindInvalid
}

// Label names the probe in logs.
func (p Probe) Label() string {
	if p.ID != "" {
		return p.ID
	}
	switch p.Kind() {
	case KindTitle:
		return "title~" + p.Title
	case KindURL:
		return "url~" + p.URL
	}
	return p.Locator.String()
}

// Outcome is the tri-state result of a probe.
type Outcome int

const (
	NoMatch Outcome = iota
	Match
	Error
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Error:
		return "error"
	}
	return "no-match"
}

// Result pairs an outcome with the probe that produced it.
type Result struct {
	Probe   Probe
	Outcome Outcome
	Err     error
}

// Evaluate runs p against page within timeout. A probe that does not appear in
// time is NoMatch; any other failure is Error with the cause attached.
func Evaluate(ctx context.Context, page browser.Page, p Probe, timeout time.Duration) Result {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := Result{Probe: p}
	var (
		ok  bool
		err error
	)
	switch p.Kind() {
	case KindTitle:
		var title string
		if title, err = page.Title(pctx); err == nil {
			ok = strings.Contains(title, p.Title)
		}
	case KindURL:
		var url string
		if url, err = page.URL(pctx); err == nil {
			ok = strings.Contains(url, p.URL)
		}
	case KindInvalid:
		res.Outcome = Error
		res.Err = errInvalid
		return res
	default:
		ok, err = page.Visible(pctx, p.Locator)
	}

	switch {
	case err != nil && browser.IsTimeout(err):
		res.Outcome = NoMatch
	case err != nil:
		res.Outcome = Error
		res.Err = err
	case ok:
		res.Outcome = Match
	}
	return res
}

// FirstMatch evaluates probes in order and returns the first match. Errors are
// logged at debug and folded into no-match.
func FirstMatch(ctx context.Context, page browser.Page, probes []Probe, timeout time.Duration, logger *slog.Logger) (Probe, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range probes {
		if ctx.Err() != nil {
			return Probe{}, false
		}
		res := Evaluate(ctx, page, p, timeout)
		switch res.Outcome {
		case Match:
			return p, true
		case Error:
			logger.Debug("Probe failed", logfields.Probe(p.Label()), logfields.Error(res.Err))
		}
	}
	return Probe{}, false
}

var errInvalid = errors.New("probe has no locator, title or url")
