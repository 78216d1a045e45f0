package explorer

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-test-explorer/exitcodes"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// RuntimeError is an operational failure such as a bad config or a runner
// that cannot be reached. It maps to exit code 2.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("runtime error: %v", e.Err)
	}
	return fmt.Sprintf("runtime error: %s: %v", e.Op, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError for the failed operation op
func NewRuntimeError(op string, err error) *RuntimeError {
	return &RuntimeError{Op: op, Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a run that completed with failed, errored or
// unfinished tests. It maps to exit code 1.
type TestFailureError struct {
	RunID string
	Stats types.RunStats
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: run %s: %d of %d tests failed, %d errored, %d unfinished",
		e.RunID, e.Stats.Failed, e.Stats.Total, e.Stats.Errored, e.Stats.Pending)
}

// NewTestFailureError creates a new TestFailureError from a run summary
func NewTestFailureError(summary *types.RunSummary) *TestFailureError {
	return &TestFailureError{RunID: summary.RunID, Stats: summary.Stats()}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}
