package runner

import (
	"context"
	"time"
)

// StaticBackoff waits a fixed interval between connection attempts. There
// is no cap on the number of attempts.
type StaticBackoff struct {
	lastBackoffTime time.Time
	interval        time.Duration
}

// NewStaticBackoff returns a backoff with the given interval.
func NewStaticBackoff(interval time.Duration) *StaticBackoff {
	return &StaticBackoff{interval: interval}
}

func (b *StaticBackoff) Backoff() {
	b.lastBackoffTime = time.Now()
}

func (b *StaticBackoff) WithinBackoff() bool {
	if b.lastBackoffTime.IsZero() {
		return false
	}
	return time.Since(b.lastBackoffTime) < b.interval
}

func (b *StaticBackoff) Reset() {
	b.lastBackoffTime = time.Time{}
}

func (b *StaticBackoff) BackoffWait() time.Duration {
	if b.WithinBackoff() {
		return b.interval - time.Since(b.lastBackoffTime)
	}
	return 0
}

// Wait blocks the calling goroutine until the backoff window has passed or
// one of the contexts is done.
func (b *StaticBackoff) Wait(ctx context.Context, lifetime context.Context) error {
	wait := b.BackoffWait()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-lifetime.Done():
		return ErrClosed
	}
}
