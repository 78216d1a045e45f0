package types

import "time"

// RunSummary collects the final state of every test touched by one run.
type RunSummary struct {
	RunID    string
	Duration time.Duration
	Tests    []TestSummary // In the order tests were first seen
	Err      error         // Set when the run could not be dispatched

	index map[string]int
}

// TestSummary is the last known state of one test in a run.
type TestSummary struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	State   TestState `json:"state"`
	Message string    `json:"message,omitempty"`
}

// NewRunSummary creates an empty summary for the given run.
func NewRunSummary(runID string) *RunSummary {
	return &RunSummary{
		RunID: runID,
		index: make(map[string]int),
	}
}

// Record stores the latest state of a test. A test keeps its first-seen
// position; later transitions overwrite its state and message.
func (s *RunSummary) Record(id, label string, state TestState, message string) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[id]; ok {
		s.Tests[i].State = state
		s.Tests[i].Message = message
		if label != "" {
			s.Tests[i].Label = label
		}
		return
	}
	s.index[id] = len(s.Tests)
	s.Tests = append(s.Tests, TestSummary{ID: id, Label: label, State: state, Message: message})
}

// Get returns the recorded state of a test.
func (s *RunSummary) Get(id string) (TestSummary, bool) {
	i, ok := s.index[id]
	if !ok {
		return TestSummary{}, false
	}
	return s.Tests[i], true
}

// Stats counts tests per state.
func (s *RunSummary) Stats() RunStats {
	var stats RunStats
	for _, t := range s.Tests {
		stats.Total++
		switch t.State {
		case TestStatePassed:
			stats.Passed++
		case TestStateFailed:
			stats.Failed++
		case TestStateSkipped:
			stats.Skipped++
		case TestStateErrored:
			stats.Errored++
		case TestStateRunning:
			stats.Pending++
		}
	}
	return stats
}

// Failed reports whether any test failed, errored or never finished, or the
// run itself failed.
func (s *RunSummary) Failed() bool {
	stats := s.Stats()
	return s.Err != nil || stats.Failed > 0 || stats.Errored > 0 || stats.Pending > 0
}

// RunStats holds per-state counters of a run.
type RunStats struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
	Pending int `json:"pending"` // Still running when the run finished
}
