// Package metrics records export run metrics. NoopRecorder is the default;
// PrometheusRecorder is used when the scheduler exposes a metrics endpoint.
package metrics

import "time"

// Outcome labels a finished run.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Recorder defines observability hooks for export runs. Implementations must
// be safe to call from the scheduler goroutine.
type Recorder interface {
	ObserveStep(step string, d time.Duration, ok bool)
	ObserveRun(d time.Duration, outcome Outcome)
	IncLogin(challenged bool, ok bool)
	SetLastSuccess(t time.Time)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStep(string, time.Duration, bool) {}
func (NoopRecorder) ObserveRun(time.Duration, Outcome)       {}
func (NoopRecorder) IncLogin(bool, bool)                     {}
func (NoopRecorder) SetLastSuccess(time.Time)                {}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
