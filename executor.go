package explorer

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// TestExecutor runs a set of tree nodes and collects their outcome.
type TestExecutor interface {
	Execute(ctx context.Context, ids []string) (*types.RunSummary, error)
}

// runCollector is the part of the adapter the executor needs.
type runCollector interface {
	RunAndCollect(ctx context.Context, ids []string) (*types.RunSummary, error)
}

// DefaultTestExecutor implements the TestExecutor interface.
type DefaultTestExecutor struct {
	adapter runCollector
	logger  log.Logger
}

// NewDefaultTestExecutor creates a new DefaultTestExecutor.
func NewDefaultTestExecutor(adapter runCollector, logger log.Logger) *DefaultTestExecutor {
	return &DefaultTestExecutor{
		adapter: adapter,
		logger:  logger,
	}
}

// Execute runs the given nodes. The summary is returned even when the run
// fails so that tests which did report keep their state.
func (e *DefaultTestExecutor) Execute(ctx context.Context, ids []string) (*types.RunSummary, error) {
	e.logger.Info("Running tests...", "nodes", ids)
	summary, err := e.adapter.RunAndCollect(ctx, ids)
	if err != nil {
		e.logger.Error("Error running tests", "error", err)
		return summary, err
	}
	stats := summary.Stats()
	e.logger.Info("Test run completed", "run_id", summary.RunID,
		"total", stats.Total, "passed", stats.Passed, "failed", stats.Failed,
		"skipped", stats.Skipped, "errored", stats.Errored)
	return summary, nil
}
