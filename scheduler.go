package explorer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// ReloadScheduler runs a task once on start and then at a fixed interval
// until stopped. A zero interval runs the task only once.
type ReloadScheduler struct {
	interval time.Duration
	logger   log.Logger
	task     func(ctx context.Context, scheduled bool) error

	running  atomic.Bool
	done     chan struct{}
	stopOnce *sync.Once
	wg       sync.WaitGroup
}

// NewReloadScheduler creates a new ReloadScheduler. scheduled is false for
// the initial run of task and true for every interval run.
func NewReloadScheduler(interval time.Duration, logger log.Logger, task func(ctx context.Context, scheduled bool) error) *ReloadScheduler {
	return &ReloadScheduler{
		interval: interval,
		logger:   logger,
		task:     task,
		done:     make(chan struct{}),
		stopOnce: new(sync.Once),
	}
}

// Start runs the task in the background and returns immediately.
func (s *ReloadScheduler) Start(ctx context.Context) error {
	if s.task == nil {
		return errors.New("task must be set before starting scheduler")
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	s.done = make(chan struct{})
	s.stopOnce = new(sync.Once)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if err := s.task(ctx, false); err != nil {
			s.logger.Error("Initial test discovery failed", "err", err)
		}
		if s.interval <= 0 {
			s.logger.Debug("Periodic reload disabled")
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return
		}

		s.logger.Info("Reloading tests periodically", "interval", s.interval)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.task(ctx, true); err != nil {
					s.logger.Error("Periodic test discovery failed", "err", err)
				}
			case <-s.done:
				s.logger.Debug("Done signal received, stopping reload scheduler")
				return
			case <-ctx.Done():
				s.logger.Debug("Context canceled, stopping reload scheduler")
				return
			}
		}
	}()
	return nil
}

// Stop stops the scheduler. A task in progress is not interrupted.
func (s *ReloadScheduler) Stop() error {
	if !s.running.Load() {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *ReloadScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until the scheduler goroutine has returned.
func (s *ReloadScheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for scheduler to stop", "error", ctx.Err())
		return ctx.Err()
	}
}
