package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/56quarters/donut/app"
	"github.com/56quarters/donut/models"
)

// Gateway turns one DoH HTTP request into one upstream DNS exchange
type Gateway struct {
	appState       *app.AppState
	maxMessageSize int
	requestTimeout time.Duration
	inflight       atomic.Int64
}

type resolved struct {
	response *models.DnsResponse
	err      error
}

func NewGateway(config app.AppConfig, state *app.AppState) *Gateway {
	return &Gateway{
		appState:       state,
		maxMessageSize: config.MaxMessageSize,
		requestTimeout: config.RequestTimeout(),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.inflight.Add(1)
	defer g.inflight.Add(-1)

	responseTimer := g.appState.Metrics.GetResponseTimer()
	defer g.appState.Metrics.ObserveTimer(responseTimer)

	response, ok := g.serve(w, r)
	if !ok {
		g.appState.Log.Debug("client went away before an answer was ready", "remote", r.RemoteAddr)
		return
	}

	g.appState.Metrics.IncRequests(response.Status)
	if err := response.WriteTo(w); err != nil {
		g.appState.Log.Debug("failed to write dns over http response", "remote", r.RemoteAddr, "err", err)
	}
}

// serve returns false when the client disconnected and nothing should be
// written.
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) (response DohResponse, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			g.appState.Log.Error("panic while handling dns over http request", "panic", rec, "stack", string(debug.Stack()))
			response, ok = NewErrorResponse(models.NewError(models.KindInternal, "panic", fmt.Errorf("%v", rec))), true
		}
	}()

	ctx, cancel := context.WithTimeout(r.Context(), g.requestTimeout)
	defer cancel()

	request, err := g.decode(ctx, w, r)
	if err != nil {
		return g.failed(r, err), true
	}

	query, err := request.Query(g.maxMessageSize)
	if err != nil {
		return g.failed(r, err), true
	}

	g.appState.Log.Debug("got dns over http request", "method", r.Method, "query", query.String())

	// buffered so a late answer never blocks the resolving goroutine
	result := make(chan resolved, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				g.appState.Log.Error("panic while resolving query", "panic", rec, "stack", string(debug.Stack()))
				result <- resolved{err: models.NewError(models.KindInternal, "panic", fmt.Errorf("%v", rec))}
			}
		}()

		answer, err := g.appState.Resolver.QueryDns(ctx, *query)
		result <- resolved{response: answer, err: err}
	}()

	select {
	case res := <-result:
		if res.err != nil {
			if r.Context().Err() != nil {
				return DohResponse{}, false
			}
			return g.failed(r, res.err), true
		}
		g.appState.Log.Debug("got upstream answer", "query", query.String(), "upstream", res.response.Resolver)

		response, err := NewDohResponse(query, res.response, request.ResponseType())
		if err != nil {
			return g.failed(r, err), true
		}
		return response, true
	case <-ctx.Done():
		if r.Context().Err() != nil {
			return DohResponse{}, false
		}
		return g.failed(r, models.NewError(models.KindTimeout, "request deadline passed", ctx.Err())), true
	}
}

// decode reads the request, holding a POST body to the request deadline
func (g *Gateway) decode(ctx context.Context, w http.ResponseWriter, r *http.Request) (DohRequest, error) {
	deadline, hasDeadline := ctx.Deadline()
	if r.Method != http.MethodPost || !hasDeadline {
		return NewDohRequest(r, g.maxMessageSize)
	}

	// cleared once the body is read, the connection's background read
	// would otherwise time out and cancel the request
	controller := http.NewResponseController(w)
	if err := controller.SetReadDeadline(deadline); err != nil {
		g.appState.Log.Debug("unable to bound request body read", "remote", r.RemoteAddr, "err", err)
		return NewDohRequest(r, g.maxMessageSize)
	}

	// on failure the deadline stays so the unread body is not drained
	request, err := NewDohRequest(r, g.maxMessageSize)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, models.NewError(models.KindTimeout, "request body not received before the deadline", err)
	}
	if err != nil {
		return nil, err
	}

	controller.SetReadDeadline(time.Time{})
	return request, nil
}

// Inflight is the number of requests currently being served
func (g *Gateway) Inflight() int64 {
	return g.inflight.Load()
}

func (g *Gateway) failed(r *http.Request, err error) DohResponse {
	if models.KindOf(err) == models.KindInternal {
		g.appState.Log.Error("error handling dns over http request", "remote", r.RemoteAddr, "err", err)
	} else {
		g.appState.Log.Warn("error handling dns over http request", "remote", r.RemoteAddr, "kind", models.KindOf(err).String(), "err", err)
	}

	return NewErrorResponse(err)
}
