package explorer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestReloadScheduler_NoInterval(t *testing.T) {
	var initial, scheduled atomic.Int32
	s := NewReloadScheduler(0, testLogger(), func(ctx context.Context, isScheduled bool) error {
		if isScheduled {
			scheduled.Add(1)
		} else {
			initial.Add(1)
		}
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return initial.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, scheduled.Load())
	assert.False(t, s.Stopped())

	require.NoError(t, s.Stop())
	require.NoError(t, s.WaitForShutdown(context.Background()))
	assert.True(t, s.Stopped())
}

func TestReloadScheduler_Periodic(t *testing.T) {
	calls := make(chan bool, 16)
	s := NewReloadScheduler(10*time.Millisecond, testLogger(), func(ctx context.Context, isScheduled bool) error {
		select {
		case calls <- isScheduled:
		default:
		}
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, <-calls, "first run is the initial load")
	for i := 0; i < 3; i++ {
		select {
		case isScheduled := <-calls:
			assert.True(t, isScheduled)
		case <-time.After(time.Second):
			t.Fatalf("scheduled run %d did not happen", i)
		}
	}

	require.NoError(t, s.Stop())
	require.NoError(t, s.WaitForShutdown(context.Background()))
}

func TestReloadScheduler_TaskErrorKeepsRunning(t *testing.T) {
	var calls atomic.Int32
	s := NewReloadScheduler(5*time.Millisecond, testLogger(), func(ctx context.Context, isScheduled bool) error {
		calls.Add(1)
		return errors.New("runner unavailable")
	})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.WaitForShutdown(context.Background()))
}

func TestReloadScheduler_NoTask(t *testing.T) {
	s := NewReloadScheduler(time.Second, testLogger(), nil)
	require.Error(t, s.Start(context.Background()))
}

func TestReloadScheduler_StartTwice(t *testing.T) {
	s := NewReloadScheduler(0, testLogger(), func(context.Context, bool) error { return nil })
	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.WaitForShutdown(context.Background()))
}

func TestReloadScheduler_StopBeforeStart(t *testing.T) {
	s := NewReloadScheduler(time.Second, testLogger(), func(context.Context, bool) error { return nil })
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.True(t, s.Stopped())
}

func TestReloadScheduler_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewReloadScheduler(time.Hour, testLogger(), func(context.Context, bool) error { return nil })
	require.NoError(t, s.Start(ctx))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, s.WaitForShutdown(waitCtx))
	assert.True(t, s.Stopped())
}

func TestReloadScheduler_WaitForShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	s := NewReloadScheduler(0, testLogger(), func(context.Context, bool) error {
		<-release
		return nil
	})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.WaitForShutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.WaitForShutdown(context.Background()))
}
