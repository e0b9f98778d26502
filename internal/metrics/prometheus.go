package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simplifi_exporter"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stepDuration *prom.HistogramVec
	runDuration  prom.Histogram
	runOutcome   *prom.CounterVec
	logins       *prom.CounterVec
	lastSuccess  prom.Gauge
}

// NewPrometheusRecorder constructs the metrics and registers them with reg
// (a fresh registry when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual export steps",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"step", "result"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total export run duration",
			Buckets:   []float64{5, 10, 30, 60, 120, 300, 600},
		}),
		runOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Export runs by outcome",
		}, []string{"outcome"}),
		logins: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Credential logins by MFA challenge and result",
		}, []string{"challenged", "result"}),
		lastSuccess: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful export",
		}),
	}
	reg.MustRegister(pr.stepDuration, pr.runDuration, pr.runOutcome, pr.logins, pr.lastSuccess)
	return pr
}

func (p *PrometheusRecorder) ObserveStep(step string, d time.Duration, ok bool) {
	if p == nil {
		return
	}
	p.stepDuration.WithLabelValues(step, result(ok)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRun(d time.Duration, outcome Outcome) {
	if p == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncLogin(challenged bool, ok bool) {
	if p == nil {
		return
	}
	p.logins.WithLabelValues(strconv.FormatBool(challenged), result(ok)).Inc()
}

func (p *PrometheusRecorder) SetLastSuccess(t time.Time) {
	if p == nil {
		return
	}
	p.lastSuccess.Set(float64(t.Unix()))
}

// HTTPHandler returns an http.Handler that serves the metrics in reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
