package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func getTestMetrics() PrometheusMetrics {
	return newPrometheus(MetricsConfig{
		Enable: true,
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.Level(slog.LevelDebug),
		})),
		Registry: prometheus.NewRegistry(),
	})
}

func TestGetMetricsDisabled(t *testing.T) {
	m := GetMetrics(MetricsConfig{Enable: false})

	if _, ok := m.(DummyMetrics); !ok {
		t.Errorf("expected dummy metrics when disabled, got %T", m)
	}

	// must not panic with nil timers
	m.ObserveTimer(m.GetForwardTimer())
}

func TestRequestCounters(t *testing.T) {
	m := getTestMetrics()

	m.IncRequests(http.StatusOK)
	m.IncRequests(http.StatusOK)
	m.IncRequests(http.StatusGatewayTimeout)
	m.IncTruncatedRetries()
	m.IncUpstreamFailures("timeout")

	if v := testutil.ToFloat64(m.requests.WithLabelValues("200")); v != 2 {
		t.Errorf("200 count was %v, expected 2", v)
	}

	if v := testutil.ToFloat64(m.requests.WithLabelValues("504")); v != 1 {
		t.Errorf("504 count was %v, expected 1", v)
	}

	if v := testutil.ToFloat64(m.truncatedRetries); v != 1 {
		t.Errorf("truncated retry count was %v, expected 1", v)
	}

	if v := testutil.ToFloat64(m.upstreamFailures.WithLabelValues("timeout")); v != 1 {
		t.Errorf("timeout failure count was %v, expected 1", v)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := getTestMetrics()
	m.ObserveTimer(m.GetResponseTimer())
	m.IncRequests(http.StatusBadRequest)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(recorder.Body)
	for _, name := range []string{"donut_requests_total", "donut_duration_seconds"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}
}
