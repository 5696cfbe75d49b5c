package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/56quarters/donut/models"
	"golang.org/x/net/http2"
)

// httpsClient forwards queries to another DoH server using POST
type httpsClient struct {
	config   DnsResolverConfig
	endpoint *url.URL
	http     *http.Client
}

func newHttpsClient(config DnsResolverConfig) (*httpsClient, error) {
	endpoint, err := url.Parse(config.Target.Address)
	if err != nil {
		return nil, fmt.Errorf("unable to parse dns over https endpoint '%s': %w", config.Target.Address, err)
	}

	if endpoint.Scheme != "https" && endpoint.Scheme != "http" {
		return nil, fmt.Errorf("dns over https endpoint '%s' must be an http(s) url", config.Target.Address)
	}

	dialer := &net.Dialer{Timeout: config.Target.Timeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if config.Target.IpVersion != "" {
				network = config.Target.network("tcp")
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConnsPerHost: max(1, config.Target.TcpPoolSize),
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: config.Target.Timeout,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("unable to enable http2 for dns over https: %w", err)
	}

	return &httpsClient{
		config:   config,
		endpoint: endpoint,
		http:     &http.Client{Transport: transport},
	}, nil
}

func (c *httpsClient) QueryDns(ctx context.Context, q models.DnsQuery) (*models.DnsResponse, error) {
	logger := c.config.Logger
	addr := c.endpoint.String()

	// RFC 8484 recommends a zero id so answers are cacheable
	packedQuery, err := q.WithId(0).Pack()
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(packedQuery))
	if err != nil {
		return nil, models.NewError(models.KindInternal, "failed to create request for http dns", err)
	}
	request.Header.Set("Accept", models.ContentTypeDnsMessage)
	request.Header.Set("Content-Type", models.ContentTypeDnsMessage)

	resp, err := c.http.Do(request)
	if err != nil {
		logger.Warn("dns over https request failed", "server", addr, "err", err)
		return nil, httpsError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("not ok status for dns over https request", "server", addr, "status", resp.StatusCode)
		return nil, models.NewError(models.KindUnreachable, fmt.Sprintf("upstream answered with status %d", resp.StatusCode), nil)
	}

	ct := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(ct); err != nil || !strings.EqualFold(mediaType, models.ContentTypeDnsMessage) {
		logger.Warn("unexpected content type for dns over https response", "server", addr, "content_type", ct)
		return nil, models.NewError(models.KindUnreachable, fmt.Sprintf("upstream answered with content type %q", ct), nil)
	}

	msg, err := io.ReadAll(io.LimitReader(resp.Body, int64(models.MaxMessageSize)+1))
	if err != nil {
		logger.Warn("failed to read https dns response body", "server", addr, "err", err)
		return nil, httpsError(ctx, err)
	}

	if len(msg) > models.MaxMessageSize {
		return nil, models.NewError(models.KindUnreachable, "upstream response exceeds the dns message size", nil)
	}

	dnsResp, err := models.NewDnsResponseFromBytes(msg)
	if err != nil {
		logger.Warn("failed to read https dns response", "server", addr, "err", err)
		return nil, models.NewError(models.KindUnreachable, "upstream sent an unusable response", err)
	}

	if dnsResp.Id() != 0 {
		return nil, models.NewError(models.KindUnreachable, fmt.Sprintf("upstream answered id %d, expected 0", dnsResp.Id()), nil)
	}

	dnsResp.Resolver = addr
	logger.Debug("dns over https lookup succeeded", "server", addr)
	return dnsResp, nil
}

func httpsError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.KindTimeout, "no answer from upstream before the deadline", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewError(models.KindTimeout, "no answer from upstream before the deadline", err)
	}

	return models.NewError(models.KindUnreachable, "dns over https exchange failed", err)
}
