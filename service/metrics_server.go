package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the registered prometheus collectors on /metrics.
type MetricsServer struct {
	Gatherer prometheus.Gatherer // Defaults to prometheus.DefaultGatherer

	server   *http.Server
	listener net.Listener
}

// Listen binds addr. Serve must be called afterwards.
func (m *MetricsServer) Listen(addr string) error {
	gatherer := m.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	hdlr := http.NewServeMux()
	hdlr.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.listener = listener
	m.server = &http.Server{
		Handler:           hdlr,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// Serve blocks until the server is shut down.
func (m *MetricsServer) Serve() error {
	if err := m.server.Serve(m.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address.
func (m *MetricsServer) Addr() net.Addr {
	return m.listener.Addr()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
