package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/56quarters/donut/models"
	"github.com/miekg/dns"
)

// miekgDnsClient talks to a conventional resolver over UDP, falling back
// to TCP for truncated answers and oversized queries.
type miekgDnsClient struct {
	config DnsResolverConfig
	// nil when tcp reuse is off
	pool *connPool
}

func newMiekgDnsClient(config DnsResolverConfig) *miekgDnsClient {
	client := &miekgDnsClient{config: config}
	if config.Target.TcpReuse && config.Target.TcpPoolSize > 0 {
		client.pool = newConnPool(config.Target.TcpPoolSize)
	}
	return client
}

func (mdc *miekgDnsClient) QueryDns(ctx context.Context, q models.DnsQuery) (*models.DnsResponse, error) {
	target := mdc.config.Target
	logger := mdc.config.Logger

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(target.Timeout)
	}

	upstream, _ := q.WithFreshId()
	packed, err := upstream.Pack()
	if err != nil {
		return nil, err
	}

	udpSize := target.UdpSize
	if udpSize <= 0 {
		udpSize = DefaultUdpSize
	}

	var msg *dns.Msg
	if target.Transport == TransportTcp || len(packed) > udpSize {
		msg, err = mdc.exchangeTcp(ctx, upstream.Id(), packed, deadline)
	} else {
		msg, err = mdc.exchangeUdp(ctx, upstream.Id(), packed, deadline)
		if err == nil && msg.Truncated {
			logger.Debug("truncated answer over udp, retrying over tcp", "query", q.String(), "upstream", target.Address)
			mdc.config.Metrics.IncTruncatedRetries()
			msg, err = mdc.exchangeTcp(ctx, upstream.Id(), packed, deadline)
		}
	}

	if err != nil {
		logger.Warn("dns lookup failed", "upstream", target.Address, "query", q.String(), "err", err)
		return nil, err
	}

	response, err := models.NewDnsResponseFromMsg(msg)
	if err != nil {
		return nil, models.NewError(models.KindUnreachable, "upstream sent an unusable response", err)
	}
	response.Resolver = target.Address

	logger.Debug("dns lookup succeeded", "upstream", target.Address, "result", fmt.Sprintf("%v", msg.Answer))
	return response, nil
}

func (mdc *miekgDnsClient) exchangeUdp(ctx context.Context, id uint16, packed []byte, deadline time.Time) (*dns.Msg, error) {
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, mdc.config.Target.network("udp"), mdc.config.Target.Address)
	if err != nil {
		return nil, exchangeError(ctx, "dial", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetDeadline(deadline)
	if _, err := conn.Write(packed); err != nil {
		return nil, exchangeError(ctx, "write", err)
	}

	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, exchangeError(ctx, "read", err)
		}

		if msg, ok := mdc.matchResponse(buf[:n], id); ok {
			return msg, nil
		}
	}
}

func (mdc *miekgDnsClient) exchangeTcp(ctx context.Context, id uint16, packed []byte, deadline time.Time) (*dns.Msg, error) {
	if mdc.pool != nil {
		if conn := mdc.pool.Get(); conn != nil {
			msg, stale, err := mdc.streamRoundTrip(ctx, conn, id, packed, deadline)
			if err == nil {
				return msg, nil
			}

			if !stale || ctx.Err() != nil || !time.Now().Before(deadline) {
				return nil, err
			}
			mdc.config.Logger.Debug("pooled upstream connection was closed, dialing a new one", "err", err)
		}
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, mdc.config.Target.network("tcp"), mdc.config.Target.Address)
	if err != nil {
		return nil, exchangeError(ctx, "dial", err)
	}

	msg, _, err := mdc.streamRoundTrip(ctx, &dns.Conn{Conn: conn}, id, packed, deadline)
	return msg, err
}

// streamRoundTrip owns conn: it is closed on return unless the exchange
// completed cleanly, in which case it goes back to the pool. stale is set
// when the query could not be written or the upstream closed conn without
// sending a single byte back.
func (mdc *miekgDnsClient) streamRoundTrip(ctx context.Context, conn *dns.Conn, id uint16, packed []byte, deadline time.Time) (msg *dns.Msg, stale bool, err error) {
	clean := false
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if stop() && clean && mdc.pool != nil {
			mdc.pool.Put(conn)
			return
		}
		conn.Close()
	}()

	conn.SetDeadline(deadline)
	if _, err := conn.Write(packed); err != nil {
		return nil, true, exchangeError(ctx, "write", err)
	}

	buf := make([]byte, dns.MaxMsgSize)
	for first := true; ; first = false {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, first && errors.Is(err, io.EOF), exchangeError(ctx, "read", err)
		}

		if msg, ok := mdc.matchResponse(buf[:n], id); ok {
			clean = true
			return msg, false, nil
		}
	}
}

// matchResponse accepts a packet only if it parses as a response to the
// outstanding query id.
func (mdc *miekgDnsClient) matchResponse(packet []byte, id uint16) (*dns.Msg, bool) {
	msg := new(dns.Msg)
	if err := msg.Unpack(packet); err != nil {
		mdc.config.Logger.Debug("discarding unparseable packet from upstream", "err", err)
		return nil, false
	}

	if !msg.Response || msg.Id != id {
		mdc.config.Logger.Debug("discarding unexpected packet from upstream", "id", msg.Id, "expected", id)
		return nil, false
	}

	return msg, true
}

func exchangeError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return models.NewError(models.KindTimeout, fmt.Sprintf("upstream %s interrupted", op), context.Cause(ctx))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewError(models.KindTimeout, "no answer from upstream before the deadline", err)
	}

	return models.NewError(models.KindUnreachable, fmt.Sprintf("upstream %s failed", op), err)
}
