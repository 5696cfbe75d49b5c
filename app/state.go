package app

import (
	"log/slog"

	"github.com/56quarters/donut/metrics"
	"github.com/56quarters/donut/resolver"
)

type AppState struct {
	Log      *slog.Logger
	Metrics  metrics.MetricsInterface
	Resolver resolver.DnsResolver
}

// NewAppState wires the metrics and upstream resolver described by config
func NewAppState(config AppConfig, log *slog.Logger) (*AppState, error) {
	appMetrics := metrics.GetMetrics(metrics.MetricsConfig{
		Enable:  !config.DisableMetrics,
		Logger:  log,
		Address: config.MetricsAddress(),
	})

	target, err := config.UpstreamTarget()
	if err != nil {
		return nil, err
	}

	forwarder, err := resolver.GetDnsResolver(resolver.DnsResolverConfig{
		Target:  target,
		Logger:  log,
		Metrics: appMetrics,
	})
	if err != nil {
		return nil, err
	}

	return &AppState{
		Log:      log,
		Metrics:  appMetrics,
		Resolver: forwarder,
	}, nil
}
