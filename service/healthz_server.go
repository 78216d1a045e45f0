package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
)

// HealthzServer answers /healthz. It reports unhealthy while Check fails.
type HealthzServer struct {
	Check func() error
	Log   log.Logger

	server   *http.Server
	listener net.Listener
}

// Listen binds addr. Serve must be called afterwards.
func (h *HealthzServer) Listen(addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.listener = listener
	h.server = &http.Server{
		Handler:           c.Handler(hdlr),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// Serve blocks until the server is shut down.
func (h *HealthzServer) Serve() error {
	if err := h.server.Serve(h.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address.
func (h *HealthzServer) Addr() net.Addr {
	return h.listener.Addr()
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Check != nil {
		if err := h.Check(); err != nil {
			h.logger().Debug("Health check failed", "err", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("OK")) //nolint:errcheck
}

func (h *HealthzServer) logger() log.Logger {
	if h.Log == nil {
		return log.Root()
	}
	return h.Log
}
