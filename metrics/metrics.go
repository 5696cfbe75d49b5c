package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type MetricsConfig struct {
	Enable  bool
	Logger  *slog.Logger
	Address string
	// Registry to publish to; a fresh one is created when nil
	Registry *prometheus.Registry
}

type MetricsInterface interface {
	IncRequests(status int)
	IncTruncatedRetries()
	IncUpstreamFailures(kind string)
	GetForwardTimer() *prometheus.Timer
	GetResponseTimer() *prometheus.Timer
	ObserveTimer(*prometheus.Timer)
	// Serve metrics until the context is done
	Start(ctx context.Context) error
}

func GetMetrics(config MetricsConfig) MetricsInterface {
	if config.Enable {
		return newPrometheus(config)
	}
	return DummyMetrics{}
}
