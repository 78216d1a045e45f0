package adapter

import (
	"slices"
	"sync"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// EventType tags the phase an event reports.
type EventType string

const (
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
	EventTest     EventType = "test" // State change of a single test
)

// TestsEvent reports the progress of a test discovery.
type TestsEvent struct {
	Type         EventType           `json:"type"`
	Suite        *types.TestTreeNode `json:"suite,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}

// StateEvent reports the progress of a test run. Started events carry the
// requested node ids in Tests, test events carry TestID and State.
type StateEvent struct {
	Type    EventType       `json:"type"`
	RunID   string          `json:"runId,omitempty"`
	Tests   []string        `json:"tests,omitempty"`
	TestID  string          `json:"test,omitempty"`
	State   types.TestState `json:"state,omitempty"`
	Message string          `json:"message,omitempty"`
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// observers is a set of callbacks notified synchronously in registration order.
type observers[T any] struct {
	mu     sync.Mutex
	nextID uint64
	list   []observer[T]
}

func (o *observers[T]) add(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.list = append(o.list, observer[T]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.list = slices.DeleteFunc(o.list, func(ob observer[T]) bool { return ob.id == id })
		})
	}
}

func (o *observers[T]) emit(ev T) {
	o.mu.Lock()
	list := slices.Clone(o.list)
	o.mu.Unlock()
	for _, ob := range list {
		ob.fn(ev)
	}
}

func (o *observers[T]) clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = nil
}

func (o *observers[T]) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.list)
}
