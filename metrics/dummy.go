package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type DummyMetrics struct{}

func (ds DummyMetrics) IncRequests(int)                     {}
func (ds DummyMetrics) IncTruncatedRetries()                {}
func (ds DummyMetrics) IncUpstreamFailures(string)          {}
func (ds DummyMetrics) GetForwardTimer() *prometheus.Timer  { return nil }
func (ds DummyMetrics) GetResponseTimer() *prometheus.Timer { return nil }
func (ds DummyMetrics) ObserveTimer(_ *prometheus.Timer)    {}

func (ds DummyMetrics) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
