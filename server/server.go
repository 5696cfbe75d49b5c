package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/56quarters/donut/app"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const DohPath = "/dns-query"

type DohServer struct {
	appConfig            *app.AppConfig
	appState             *app.AppState
	gateway              *Gateway
	dns_over_http_server *http.Server
}

func NewDohServer(config app.AppConfig, state *app.AppState) (*DohServer, error) {
	gateway := NewGateway(config, state)
	mux := http.NewServeMux()
	mux.Handle(DohPath, gateway)

	h2 := &http2.Server{}
	server := &http.Server{
		Addr: config.HttpAddress(),
		// HTTP/1.1 and prior-knowledge HTTP/2 from a TLS terminating proxy
		Handler:           h2c.NewHandler(mux, h2),
		ReadHeaderTimeout: config.RequestTimeout(),
		IdleTimeout:       2 * time.Minute,
	}
	// h2c connections are hijacked, this lets Shutdown send them GOAWAY
	if err := http2.ConfigureServer(server, h2); err != nil {
		return nil, err
	}

	return &DohServer{
		appConfig:            &config,
		appState:             state,
		gateway:              gateway,
		dns_over_http_server: server,
	}, nil
}

// Listen binds the server address without serving yet
func (ds *DohServer) Listen() (net.Listener, error) {
	return net.Listen("tcp", ds.dns_over_http_server.Addr)
}

// Serve answers requests on listener until ctx is done, then waits for
// in-flight requests for up to the request timeout plus a second.
func (ds *DohServer) Serve(ctx context.Context, listener net.Listener) error {
	served := make(chan error, 1)
	go func() {
		ds.appState.Log.Info("starting DNS over HTTP server", "addr", listener.Addr().String(), "path", DohPath)
		served <- ds.dns_over_http_server.Serve(listener)
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	grace := ds.appConfig.RequestTimeout() + time.Second
	ds.appState.Log.Info("stopping DNS over HTTP server", "grace", grace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	err := ds.dns_over_http_server.Shutdown(shutdownCtx)
	if serveErr := <-served; !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	if err != nil {
		return err
	}
	return ds.drain(shutdownCtx)
}

// drain waits for requests on hijacked h2c connections, which Shutdown
// does not track.
func (ds *DohServer) drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for ds.gateway.Inflight() > 0 {
		select {
		case <-ctx.Done():
			ds.appState.Log.Warn("requests still in flight at shutdown", "count", ds.gateway.Inflight())
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (ds *DohServer) Start(ctx context.Context) error {
	listener, err := ds.Listen()
	if err != nil {
		return err
	}
	return ds.Serve(ctx, listener)
}
