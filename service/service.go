package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-test-explorer/metrics"
)

// Config selects the servers to run. Empty addresses disable a server.
type Config struct {
	HealthzAddr string
	APIAddr     string
	Metrics     opmetrics.CLIConfig
	Explorer    Explorer     // Required when APIAddr is set
	Health      func() error // Optional readiness check for /healthz
	Log         log.Logger
}

// Service runs the HTTP servers of the explorer.
type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer
	API     *APIServer

	cfg   Config
	log   log.Logger
	group *errgroup.Group
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	s := &Service{
		cfg: cfg,
		log: cfg.Log,
	}
	if cfg.HealthzAddr != "" {
		s.Healthz = &HealthzServer{Check: cfg.Health, Log: cfg.Log}
	}
	if cfg.Metrics.Enabled {
		s.Metrics = &MetricsServer{}
	}
	if cfg.APIAddr != "" && cfg.Explorer != nil {
		s.API = NewAPIServer(cfg.Explorer, cfg.Log)
	}
	return s
}

type server interface {
	Listen(addr string) error
	Serve() error
}

// Start binds every enabled server and serves them in the background. A
// server that cannot bind fails Start.
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("service starting")
	s.group = new(errgroup.Group)

	start := func(name, addr string, srv server) error {
		if err := srv.Listen(addr); err != nil {
			metrics.RecordErrorDetails(fmt.Sprintf("error starting %s server", name), err)
			return fmt.Errorf("failed to start %s server on %s: %w", name, addr, err)
		}
		s.log.Info(fmt.Sprintf("starting %s server", name), "addr", addr)
		s.group.Go(func() error {
			if err := srv.Serve(); err != nil {
				s.log.Error(fmt.Sprintf("error serving %s", name), "err", err)
				metrics.RecordErrorDetails(fmt.Sprintf("error serving %s", name), err)
				return err
			}
			return nil
		})
		return nil
	}

	var err error
	if s.Healthz != nil {
		err = errors.Join(err, start("healthz", s.cfg.HealthzAddr, s.Healthz))
	}
	if s.Metrics != nil {
		addr := net.JoinHostPort(s.cfg.Metrics.ListenAddr, strconv.Itoa(s.cfg.Metrics.ListenPort))
		err = errors.Join(err, start("metrics", addr, s.Metrics))
	}
	if s.API != nil {
		err = errors.Join(err, start("api", s.cfg.APIAddr, s.API))
	}
	if err != nil {
		_ = s.Shutdown(ctx)
		return err
	}
	s.log.Info("service started")
	return nil
}

// Shutdown stops every server and waits for them to return.
func (s *Service) Shutdown(ctx context.Context) error {
	s.log.Info("service shutting down")

	var err error
	if s.Healthz != nil {
		err = errors.Join(err, s.Healthz.Shutdown(ctx))
		s.log.Info("healthz stopped")
	}
	if s.Metrics != nil {
		err = errors.Join(err, s.Metrics.Shutdown(ctx))
		s.log.Info("metrics stopped")
	}
	if s.API != nil {
		err = errors.Join(err, s.API.Shutdown(ctx))
		s.log.Info("api stopped")
	}
	if s.group != nil {
		err = errors.Join(err, s.group.Wait())
	}

	s.log.Info("service stopped")
	return err
}
