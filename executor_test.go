package explorer

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// mockCollector is a mock implementation of the runCollector interface
type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) RunAndCollect(ctx context.Context, ids []string) (*types.RunSummary, error) {
	args := m.Called(ctx, ids)
	summary, _ := args.Get(0).(*types.RunSummary)
	return summary, args.Error(1)
}

func TestDefaultTestExecutor_Execute(t *testing.T) {
	summary := types.NewRunSummary("run-1")
	summary.Record("t1", "Adds", types.TestStatePassed, "")
	summary.Record("t2", "Subtracts", types.TestStateFailed, "expected 1")

	collector := new(mockCollector)
	collector.On("RunAndCollect", mock.Anything, []string{"root"}).Return(summary, nil)

	executor := NewDefaultTestExecutor(collector, log.NewLogger(log.DiscardHandler()))
	got, err := executor.Execute(context.Background(), []string{"root"})

	require.NoError(t, err)
	assert.Same(t, summary, got)
	collector.AssertExpectations(t)
}

func TestDefaultTestExecutor_ExecuteError(t *testing.T) {
	summary := types.NewRunSummary("run-2")
	summary.Record("t1", "Adds", types.TestStateErrored, "connection lost")
	runErr := errors.New("connection lost")

	collector := new(mockCollector)
	collector.On("RunAndCollect", mock.Anything, []string{"t1"}).Return(summary, runErr)

	executor := NewDefaultTestExecutor(collector, log.NewLogger(log.DiscardHandler()))
	got, err := executor.Execute(context.Background(), []string{"t1"})

	require.ErrorIs(t, err, runErr)
	// The partial summary is kept so the caller can still print it.
	assert.Same(t, summary, got)
	collector.AssertExpectations(t)
}
