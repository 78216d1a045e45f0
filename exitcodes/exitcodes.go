// Package exitcodes defines the exit codes of op-test-explorer in run-once mode.
package exitcodes

const (
	Success     = 0 // Every selected test passed or was skipped
	TestFailure = 1 // A test failed, errored or never reported a final outcome
	RuntimeErr  = 2 // The runner could not be reached or the configuration is invalid
)
