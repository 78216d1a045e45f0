package runner

import "github.com/ethereum-optimism/infra/op-test-explorer/types"

// inFlightRun is the set of test ids one RunTests call still waits for.
type inFlightRun struct {
	pending map[string]struct{}
	done    chan struct{}
	err     error
}

func newInFlightRun(tests []types.TestDescriptor) *inFlightRun {
	pending := make(map[string]struct{}, len(tests))
	for _, test := range tests {
		pending[test.ID] = struct{}{}
	}
	return &inFlightRun{
		pending: pending,
		done:    make(chan struct{}),
	}
}

// settle removes id from the run and reports whether the run has drained.
func (r *inFlightRun) settle(id string) (drained bool, ok bool) {
	if _, ok := r.pending[id]; !ok {
		return false, false
	}
	delete(r.pending, id)
	return len(r.pending) == 0, true
}

// finish must be called exactly once, after the run left the client's table.
func (r *inFlightRun) finish(err error) {
	r.err = err
	close(r.done)
}
