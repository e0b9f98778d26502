// Package errors classifies exporter failures so the CLI can pick an exit code
// and print a cause the operator can act on.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is the failure class of an exporter error.
type Kind string

const (
	// KindDetectionAmbiguous means login state could not be classified. It is a
	// cue to authenticate, never a fatal condition by itself.
	KindDetectionAmbiguous Kind = "detection_ambiguous"
	// KindAuthenticationFailed covers the whole credential and MFA sequence.
	KindAuthenticationFailed Kind = "authentication_failed"
	// KindExportControlNotFound means the export trigger never became actionable.
	KindExportControlNotFound Kind = "export_control_not_found"
	// KindDownloadTimedOut means the trigger fired but no download arrived.
	KindDownloadTimedOut Kind = "download_timed_out"
	// KindPersistenceWarning is logged only: session save/clear or screenshot failed.
	KindPersistenceWarning Kind = "persistence_warning"

	KindConfig   Kind = "config"
	KindBrowser  Kind = "browser"
	KindCanceled Kind = "canceled"
)

// Error is a classified exporter error. The underlying cause is preserved for
// errors.Is / errors.As.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Cause      error
	Screenshot string
	// Candidates lists controls that looked export-related when the primary
	// export control could not be located.
	Candidates []string
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// WithScreenshot records the diagnostic screenshot path and returns e.
func (e *Error) WithScreenshot(path string) *Error {
	e.Screenshot = path
	return e
}

// Fatal reports whether the kind aborts a run.
func (k Kind) Fatal() bool {
	switch k {
	case KindDetectionAmbiguous, KindPersistenceWarning:
		return false
	default:
		return true
	}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) has kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
