package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)

func counterValue(t *testing.T, reg *prom.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveStep("login", 12*time.Second, true)
	pr.ObserveRun(40*time.Second, OutcomeSuccess)
	pr.ObserveRun(5*time.Second, OutcomeFailed)
	pr.ObserveRun(6*time.Second, OutcomeFailed)
	pr.IncLogin(true, true)
	pr.SetLastSuccess(time.Unix(1_790_000_000, 0))

	assert.Equal(t, 1.0, counterValue(t, reg, "simplifi_exporter_runs_total", map[string]string{"outcome": "success"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "simplifi_exporter_runs_total", map[string]string{"outcome": "failed"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "simplifi_exporter_logins_total",
		map[string]string{"challenged": "true", "result": "success"}))
	assert.Equal(t, 1_790_000_000.0, counterValue(t, reg, "simplifi_exporter_last_success_timestamp_seconds", nil))
}

func TestNilPrometheusRecorder(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.ObserveStep("export", time.Second, false)
		pr.ObserveRun(time.Second, OutcomeCanceled)
		pr.IncLogin(false, false)
		pr.SetLastSuccess(time.Now())
	})
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).ObserveRun(time.Second, OutcomeSuccess)

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `simplifi_exporter_runs_total{outcome="success"} 1`)
}
