package types

import "strings"

// TestDescriptor describes one test discovered by the runner process.
type TestDescriptor struct {
	ID      string `json:"Id"`      // Globally unique, stable across discovery calls
	Project string `json:"Project"` // Project the test belongs to
	File    string `json:"File"`    // Source file, as reported by the runner
	Label   string `json:"Label"`   // Display name
	Line    int    `json:"Line"`    // Line of the test in File
}

// TestResult is one per-test result pushed by the runner during a run.
type TestResult struct {
	ID              string  `json:"Id"`
	Outcome         Outcome `json:"Outcome"`
	ErrorMessage    string  `json:"ErrorMessage,omitempty"`
	ErrorStackTrace string  `json:"ErrorStackTrace,omitempty"`
}

// Outcome is the runner's verdict for a single test.
type Outcome string

const (
	OutcomePassed   Outcome = "Passed"
	OutcomeFailed   Outcome = "Failed"
	OutcomeSkipped  Outcome = "Skipped"
	OutcomeNotFound Outcome = "NotFound"
	OutcomeRunning  Outcome = "Running"
)

var knownOutcomes = []Outcome{OutcomePassed, OutcomeFailed, OutcomeSkipped, OutcomeNotFound, OutcomeRunning}

// Normalize returns the canonical spelling of a known outcome, matched
// case-insensitively. Unknown outcomes are returned unchanged.
func (o Outcome) Normalize() Outcome {
	for _, known := range knownOutcomes {
		if strings.EqualFold(string(o), string(known)) {
			return known
		}
	}
	return o
}

// Terminal reports whether the outcome finishes the test. Only Running is
// an intermediate outcome; anything unrecognized is treated as final.
func (o Outcome) Terminal() bool {
	return o.Normalize() != OutcomeRunning
}

// Message combines the error text of a result for display.
func (r TestResult) Message() string {
	if r.ErrorMessage == "" && r.ErrorStackTrace == "" {
		return ""
	}
	return r.ErrorMessage + "\n" + r.ErrorStackTrace
}
