package registry

import (
	"sync"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
	"github.com/ethereum/go-ethereum/log"
)

// Registry indexes the tests of the last discovery by id
type Registry struct {
	config Config
	tests  map[string]types.TestDescriptor
	order  []string
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
}

// NewRegistry creates a new, empty registry instance
func NewRegistry(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Registry{
		config: cfg,
		tests:  make(map[string]types.TestDescriptor),
	}
}

// ReplaceAll drops every known test and indexes tests instead. Readers see
// either the old or the new set, never a mix. If an id is reported twice the
// later descriptor wins.
func (r *Registry) ReplaceAll(tests []types.TestDescriptor) {
	index := make(map[string]types.TestDescriptor, len(tests))
	order := make([]string, 0, len(tests))
	for _, test := range tests {
		if _, exists := index[test.ID]; exists {
			r.config.Log.Warn("Duplicate test id in discovery", "id", test.ID)
		} else {
			order = append(order, test.ID)
		}
		index[test.ID] = test
	}

	r.mu.Lock()
	r.tests = index
	r.order = order
	r.mu.Unlock()

	r.config.Log.Debug("Registry replaced", "len(tests)", len(order))
}

// Lookup returns the test with the given id. A miss is expected when the id
// comes from a tree built before the latest discovery.
func (r *Registry) Lookup(id string) (types.TestDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	test, ok := r.tests[id]
	return test, ok
}

// Len returns the number of known tests
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Tests returns all known tests in discovery order
func (r *Registry) Tests() []types.TestDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tests := make([]types.TestDescriptor, 0, len(r.order))
	for _, id := range r.order {
		tests = append(tests, r.tests[id])
	}
	return tests
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}
