// Package adapter exposes the test runner to an explorer UI. It turns
// discoveries into a test tree and runs of tree node ids into a stream of
// per-test state events.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-test-explorer/metrics"
	"github.com/ethereum-optimism/infra/op-test-explorer/registry"
	"github.com/ethereum-optimism/infra/op-test-explorer/runner"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// RunnerClient is the part of runner.Client the adapter depends on.
type RunnerClient interface {
	Connect(ctx context.Context) error
	Connected() bool
	EnumerateTests(ctx context.Context) ([]types.TestDescriptor, error)
	RunTests(ctx context.Context, tests []types.TestDescriptor) error
	OnResult(fn runner.ResultFunc) (unsubscribe func())
}

// Config contains adapter configuration
type Config struct {
	Log      log.Logger
	Client   RunnerClient
	Registry *registry.Registry
	// RootLabel names the root suite of the tree.
	RootLabel string
	// DedupeRuns sends each test at most once per run when requested ids overlap.
	DedupeRuns bool
	// RequestTimeout bounds connect, enumerate and run requests. Zero waits forever.
	RequestTimeout time.Duration
}

// Adapter serves Load and Run requests of an explorer UI.
type Adapter struct {
	cfg    Config
	log    log.Logger
	tracer trace.Tracer

	loadMu sync.Mutex // one discovery at a time
	runMu  sync.Mutex // one run at a time

	mu      sync.RWMutex
	tree    *types.TestTreeNode
	runID   string
	active  map[string]struct{} // tests of the current run without a final state
	summary *types.RunSummary

	testsObservers   observers[TestsEvent]
	stateObservers   observers[StateEvent]
	autorunObservers observers[struct{}]

	unsubscribeResults func()
	disposeOnce        sync.Once
}

// New creates an adapter and subscribes it to the client's results. The
// tree is empty until the first Load.
func New(cfg Config) (*Adapter, error) {
	if cfg.Client == nil {
		return nil, errors.New("runner client is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.NewRegistry(registry.Config{Log: cfg.Log})
	}
	if cfg.RootLabel == "" {
		cfg.RootLabel = types.DefaultRootLabel
	}

	a := &Adapter{
		cfg:    cfg,
		log:    cfg.Log,
		tracer: otel.Tracer("test explorer"),
		tree:   types.NewTestTreeBuilder().WithRootLabel(cfg.RootLabel).Build(nil),
		active: make(map[string]struct{}),
	}
	a.unsubscribeResults = cfg.Client.OnResult(a.onResult)
	return a, nil
}

// Load discovers the runner's tests, replaces the registry and the tree, and
// returns the finished event. A failed discovery yields an empty tree and
// an event carrying the error message.
func (a *Adapter) Load(ctx context.Context) TestsEvent {
	a.loadMu.Lock()
	defer a.loadMu.Unlock()

	ctx, span := a.tracer.Start(ctx, "load tests")
	defer span.End()

	a.testsObservers.emit(TestsEvent{Type: EventStarted})
	start := time.Now()

	event := TestsEvent{Type: EventFinished}
	tests, err := a.discover(ctx)
	if err != nil {
		a.log.Error("Test discovery failed", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		metrics.RecordErrorDetails("discovery", err)
		tests = nil
		event.ErrorMessage = err.Error()
	}

	a.cfg.Registry.ReplaceAll(tests)
	root := types.NewTestTreeBuilder().WithRootLabel(a.cfg.RootLabel).Build(tests)
	a.mu.Lock()
	a.tree = root
	a.mu.Unlock()

	metrics.RecordDiscovery(len(tests), time.Since(start))
	span.SetAttributes(attribute.Int("tests", len(tests)))
	a.log.Info("Loaded tests", "tests", len(tests), "duration", time.Since(start))

	event.Suite = root
	a.testsObservers.emit(event)
	return event
}

func (a *Adapter) discover(ctx context.Context) ([]types.TestDescriptor, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if !a.cfg.Client.Connected() {
		if err := a.cfg.Client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connecting to runner: %w", err)
		}
	}
	tests, err := a.cfg.Client.EnumerateTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating tests: %w", err)
	}
	return tests, nil
}

// Tree returns the tree built by the last Load.
func (a *Adapter) Tree() *types.TestTreeNode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tree
}

// Run executes every test under the given tree node ids. It emits a
// started event, a running event per resolved test before the request is
// sent, test events as results arrive and a finished event once the runner
// has reported every test. Runs do not overlap.
func (a *Adapter) Run(ctx context.Context, ids []string) error {
	_, err := a.RunAndCollect(ctx, ids)
	return err
}

// RunAndCollect runs like Run and also returns the last state of every test
// of the run.
func (a *Adapter) RunAndCollect(ctx context.Context, ids []string) (*types.RunSummary, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	start := time.Now()
	runID := uuid.New().String()
	ctx, span := a.tracer.Start(ctx, "run tests", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.StringSlice("run.nodes", ids),
	))
	defer span.End()

	a.stateObservers.emit(StateEvent{Type: EventStarted, RunID: runID, Tests: ids})

	batch := a.resolve(ids)
	a.beginRun(runID, batch)
	for _, test := range batch {
		a.emitState(runID, test.ID, types.TestStateRunning, "")
	}
	a.log.Info("Running tests", "run", runID, "nodes", len(ids), "tests", len(batch))

	var err error
	if len(batch) > 0 {
		runCtx, cancel := a.withTimeout(ctx)
		err = a.cfg.Client.RunTests(runCtx, batch)
		cancel()
	}
	if err != nil {
		a.log.Error("Test run failed", "run", runID, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		a.failPending(runID, batch, err)
	}
	summary := a.endRun()
	summary.Duration = time.Since(start)

	metrics.RecordRun(len(batch), err != nil)
	a.stateObservers.emit(StateEvent{Type: EventFinished, RunID: runID})
	if err != nil {
		summary.Err = fmt.Errorf("run %s: %w", runID, err)
		return summary, summary.Err
	}
	return summary, nil
}

// resolve expands node ids into the registry's tests in tree order. Ids not
// in the tree and leaves no longer in the registry are skipped.
func (a *Adapter) resolve(ids []string) []types.TestDescriptor {
	root := a.Tree()

	var batch []types.TestDescriptor
	seen := make(map[string]struct{})
	for _, id := range ids {
		node := root.Find(id)
		if node == nil {
			a.log.Warn("Requested node not in test tree", "id", id)
			continue
		}
		for _, leaf := range node.Leaves() {
			test, ok := a.cfg.Registry.Lookup(leaf.ID)
			if !ok {
				a.log.Warn("Test no longer known to the runner, skipping", "id", leaf.ID)
				continue
			}
			if a.cfg.DedupeRuns {
				if _, dup := seen[test.ID]; dup {
					continue
				}
				seen[test.ID] = struct{}{}
			}
			batch = append(batch, test)
		}
	}
	return batch
}

func (a *Adapter) beginRun(runID string, batch []types.TestDescriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runID = runID
	a.active = make(map[string]struct{}, len(batch))
	a.summary = types.NewRunSummary(runID)
	for _, test := range batch {
		a.active[test.ID] = struct{}{}
		a.summary.Record(test.ID, test.Label, types.TestStateRunning, "")
	}
}

func (a *Adapter) endRun() *types.RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	summary := a.summary
	a.runID = ""
	a.active = make(map[string]struct{})
	a.summary = nil
	return summary
}

// failPending reports every test of the batch without a final state as
// errored.
func (a *Adapter) failPending(runID string, batch []types.TestDescriptor, cause error) {
	message := stripansi.Strip(cause.Error())
	for _, test := range batch {
		a.mu.Lock()
		_, pending := a.active[test.ID]
		delete(a.active, test.ID)
		a.mu.Unlock()
		if pending {
			a.emitState(runID, test.ID, types.TestStateErrored, message)
		}
	}
}

func (a *Adapter) onResult(result types.TestResult) {
	state := types.StateForOutcome(result.Outcome)
	var message string
	if state.HasMessage() {
		message = stripansi.Strip(result.Message())
	}

	a.mu.Lock()
	runID := a.runID
	if state.Final() {
		delete(a.active, result.ID)
	}
	a.mu.Unlock()

	a.emitState(runID, result.ID, state, message)
}

func (a *Adapter) emitState(runID, testID string, state types.TestState, message string) {
	a.mu.Lock()
	if a.summary != nil && a.summary.RunID == runID {
		if _, ok := a.summary.Get(testID); ok {
			a.summary.Record(testID, "", state, message)
		}
	}
	a.mu.Unlock()

	metrics.RecordTestState(state)
	a.stateObservers.emit(StateEvent{
		Type:    EventTest,
		RunID:   runID,
		TestID:  testID,
		State:   state,
		Message: message,
	})
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// SubscribeTests registers fn for discovery events.
func (a *Adapter) SubscribeTests(fn func(TestsEvent)) (unsubscribe func()) {
	return a.testsObservers.add(fn)
}

// SubscribeStates registers fn for run events.
func (a *Adapter) SubscribeStates(fn func(StateEvent)) (unsubscribe func()) {
	return a.stateObservers.add(fn)
}

// SubscribeAutorun registers fn to be called whenever the UI should repeat
// its auto-run set.
func (a *Adapter) SubscribeAutorun(fn func()) (unsubscribe func()) {
	return a.autorunObservers.add(func(struct{}) { fn() })
}

// NotifyAutorun fires the autorun observers.
func (a *Adapter) NotifyAutorun() {
	a.autorunObservers.emit(struct{}{})
}

// Dispose drops every observer and stops listening for results.
func (a *Adapter) Dispose() {
	a.disposeOnce.Do(func() {
		a.unsubscribeResults()
		a.testsObservers.clear()
		a.stateObservers.clear()
		a.autorunObservers.clear()
		a.log.Debug("Adapter disposed")
	})
}
