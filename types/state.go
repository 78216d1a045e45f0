package types

// TestState is the state of a test as shown by the explorer UI
type TestState string

const (
	TestStateRunning TestState = "running"
	TestStatePassed  TestState = "passed"
	TestStateFailed  TestState = "failed"
	TestStateSkipped TestState = "skipped"
	TestStateErrored TestState = "errored"
)

// StateForOutcome maps a runner outcome onto a UI state. The mapping is
// total: any outcome the runner may invent maps to errored.
func StateForOutcome(outcome Outcome) TestState {
	switch outcome.Normalize() {
	case OutcomePassed:
		return TestStatePassed
	case OutcomeFailed:
		return TestStateFailed
	case OutcomeSkipped:
		return TestStateSkipped
	case OutcomeNotFound:
		return TestStateErrored
	case OutcomeRunning:
		return TestStateRunning
	default:
		return TestStateErrored
	}
}

// Final reports whether no further transition is expected for the state.
func (s TestState) Final() bool {
	return s != TestStateRunning
}

// HasMessage reports whether the state carries failure text to the UI.
func (s TestState) HasMessage() bool {
	return s == TestStateFailed || s == TestStateErrored
}
