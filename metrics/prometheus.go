package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusMetrics struct {
	requests          *prometheus.CounterVec
	truncatedRetries  prometheus.Counter
	upstreamFailures  *prometheus.CounterVec
	queryResponseTime *prometheus.HistogramVec

	registry *prometheus.Registry
	config   MetricsConfig
}

func (ms PrometheusMetrics) IncRequests(status int) {
	ms.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (ms PrometheusMetrics) IncTruncatedRetries() {
	ms.truncatedRetries.Inc()
}

func (ms PrometheusMetrics) IncUpstreamFailures(kind string) {
	ms.upstreamFailures.WithLabelValues(kind).Inc()
}

func (ms PrometheusMetrics) GetForwardTimer() *prometheus.Timer {
	return prometheus.NewTimer(ms.queryResponseTime.WithLabelValues("forward"))
}

func (ms PrometheusMetrics) GetResponseTimer() *prometheus.Timer {
	return prometheus.NewTimer(ms.queryResponseTime.WithLabelValues("respond"))
}

func (ms PrometheusMetrics) ObserveTimer(timer *prometheus.Timer) {
	if timer != nil {
		timer.ObserveDuration()
	}
}

func (ms PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(ms.registry, promhttp.HandlerOpts{Registry: ms.registry})
}

func (ms PrometheusMetrics) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", ms.Handler())

	server := &http.Server{
		Addr:              ms.config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	ms.config.Logger.Info("starting prometheus metrics", "addr", ms.config.Address, "endpoint", "/metrics")
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newPrometheus(config MetricsConfig) PrometheusMetrics {
	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(registry)

	return PrometheusMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "requests_total",
			Namespace: "donut",
			Help:      "The total number of DoH requests answered since last start, by HTTP status",
		}, []string{"status"}),
		truncatedRetries: factory.NewCounter(prometheus.CounterOpts{
			Name:      "truncated_retries_total",
			Namespace: "donut",
			Help:      "The number of truncated UDP answers retried over TCP",
		}),
		upstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "upstream_failures_total",
			Namespace: "donut",
			Help:      "The number of upstream exchanges that failed, by failure kind",
		}, []string{"kind"}),
		queryResponseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:      "duration_seconds",
			Help:      "Response time of DoH requests and upstream exchanges",
			Namespace: "donut",
		}, []string{"action"}),
		registry: registry,
		config:   config,
	}
}
