package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/56quarters/donut/metrics"
	"github.com/56quarters/donut/models"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	TransportUdp   = "udp"
	TransportTcp   = "tcp"
	TransportHttps = "https"

	// Largest query sent over UDP before going straight to TCP,
	// see https://dnsflagday.net/2020/
	DefaultUdpSize = 1232
)

// UpstreamTarget describes the single resolver every query is forwarded
// to. It is built once at startup and never modified.
type UpstreamTarget struct {
	// host:port for udp and tcp, a URL for https
	Address     string
	Transport   string
	IpVersion   string
	UdpSize     int
	Timeout     time.Duration
	TcpReuse    bool
	TcpPoolSize int
	MaxInflight int64
	Qps         float64
}

func (t UpstreamTarget) network(proto string) string {
	return proto + t.IpVersion
}

type DnsResolverConfig struct {
	Target  UpstreamTarget
	Logger  *slog.Logger
	Metrics metrics.MetricsInterface
}

type DnsResolver interface {
	QueryDns(ctx context.Context, q models.DnsQuery) (*models.DnsResponse, error)
}

// boundedClient applies the per-query deadline and the in-flight and rate
// bounds before handing the query to the transport client.
type boundedClient struct {
	client   DnsResolver
	inflight *semaphore.Weighted
	limiter  *rate.Limiter
	config   DnsResolverConfig
}

func (bc *boundedClient) QueryDns(ctx context.Context, query models.DnsQuery) (*models.DnsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, bc.config.Target.Timeout)
	defer cancel()

	if bc.inflight != nil {
		if err := bc.inflight.Acquire(ctx, 1); err != nil {
			return nil, bc.failed(models.NewError(models.KindTimeout, "waiting for an upstream slot", err))
		}
		defer bc.inflight.Release(1)
	}

	if bc.limiter != nil {
		if err := bc.limiter.Wait(ctx); err != nil {
			return nil, bc.failed(models.NewError(models.KindTimeout, "waiting for upstream rate limit", err))
		}
	}

	timer := bc.config.Metrics.GetForwardTimer()
	defer bc.config.Metrics.ObserveTimer(timer)

	response, err := bc.client.QueryDns(ctx, query)
	if err != nil {
		return nil, bc.failed(err)
	}

	return response, nil
}

func (bc *boundedClient) failed(err error) error {
	bc.config.Metrics.IncUpstreamFailures(models.KindOf(err).String())
	return err
}

func GetDnsResolver(config DnsResolverConfig) (DnsResolver, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.Metrics == nil {
		config.Metrics = metrics.DummyMetrics{}
	}

	if config.Target.Timeout <= 0 {
		return nil, fmt.Errorf("upstream timeout must be positive, got %s", config.Target.Timeout)
	}

	var client DnsResolver
	switch config.Target.Transport {
	case TransportUdp, TransportTcp:
		client = newMiekgDnsClient(config)
	case TransportHttps:
		https, err := newHttpsClient(config)
		if err != nil {
			return nil, err
		}
		client = https
	default:
		return nil, fmt.Errorf("unsupported upstream transport '%s'", config.Target.Transport)
	}

	bounded := &boundedClient{
		client: client,
		config: config,
	}

	if config.Target.MaxInflight > 0 {
		bounded.inflight = semaphore.NewWeighted(config.Target.MaxInflight)
	}

	if config.Target.Qps > 0 {
		bounded.limiter = rate.NewLimiter(rate.Limit(config.Target.Qps), max(1, int(config.Target.Qps)))
	}

	return bounded, nil
}
