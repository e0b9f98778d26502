// Package logfields holds the canonical slog attribute keys used across the exporter.
package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyStep       = "step"
	KeyProbe      = "probe"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyDurationMS = "duration_ms"
	KeyLoginState = "login_state"
	KeyPhase      = "phase"
	KeyDeadline   = "deadline"
	KeyOutcome    = "outcome"
	KeyError      = "error"
)

func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Step(name string) slog.Attr       { return slog.String(KeyStep, name) }
func Probe(name string) slog.Attr      { return slog.String(KeyProbe, name) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func LoginState(s string) slog.Attr    { return slog.String(KeyLoginState, s) }
func Phase(p string) slog.Attr         { return slog.String(KeyPhase, p) }
func Outcome(o string) slog.Attr       { return slog.String(KeyOutcome, o) }
func Deadline(t time.Time) slog.Attr   { return slog.String(KeyDeadline, t.Format(time.RFC3339)) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
