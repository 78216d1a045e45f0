// Package explorer wires the runner client, the test adapter and the HTTP
// surface into the op-test-explorer service.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-test-explorer/adapter"
	"github.com/ethereum-optimism/infra/op-test-explorer/logging"
	"github.com/ethereum-optimism/infra/op-test-explorer/registry"
	"github.com/ethereum-optimism/infra/op-test-explorer/reporting"
	"github.com/ethereum-optimism/infra/op-test-explorer/runner"
	"github.com/ethereum-optimism/infra/op-test-explorer/service"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// Explorer implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = (*Explorer)(nil)

// Explorer discovers the runner's tests and runs them, either once from the
// command line or on demand for a UI connected to its API.
type Explorer struct {
	config    *Config
	version   string
	client    *runner.Client
	registry  *registry.Registry
	adapter   *adapter.Adapter
	scheduler *ReloadScheduler
	executor  TestExecutor
	reporter  MetricsReporter
	service   *service.Service
	runLogs   *logging.FileLogger // nil unless LogDir is set
	out       io.Writer

	cancel   context.CancelFunc
	running  atomic.Bool
	stopOnce sync.Once

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Explorer, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config has no logger")
	}

	config.Log.Debug("Creating explorer with config",
		"runnerAddr", config.RunnerAddr,
		"runOnce", config.RunOnce,
		"reloadInterval", config.ReloadInterval,
		"apiAddr", config.APIAddr)

	client := runner.NewClient(runner.Config{
		Addr:                config.RunnerAddr,
		ReconnectInterval:   config.ReconnectInterval,
		WaitForFinalOutcome: config.WaitFinalOutcome,
		Log:                 config.Log.New("component", "runner"),
	})
	reg := registry.NewRegistry(registry.Config{Log: config.Log})
	a, err := adapter.New(adapter.Config{
		Log:            config.Log.New("component", "adapter"),
		Client:         client,
		Registry:       reg,
		RootLabel:      config.RootLabel,
		DedupeRuns:     config.DedupeRuns,
		RequestTimeout: config.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter: %w", err)
	}

	e := &Explorer{
		config:           config,
		version:          version,
		client:           client,
		registry:         reg,
		adapter:          a,
		executor:         NewDefaultTestExecutor(a, config.Log),
		reporter:         NewDefaultMetricsReporter(),
		out:              os.Stdout,
		shutdownCallback: shutdownCallback,
	}
	e.scheduler = NewReloadScheduler(config.ReloadInterval, config.Log, e.reload)
	if config.LogDir != "" {
		e.runLogs, err = logging.NewFileLogger(config.LogDir, config.Log.New("component", "runlogs"))
		if err != nil {
			return nil, fmt.Errorf("failed to create run logger: %w", err)
		}
		a.SubscribeStates(e.logEvent)
	}
	if !config.RunOnce {
		e.service = service.New(service.Config{
			HealthzAddr: config.HealthzAddr,
			APIAddr:     config.APIAddr,
			Metrics:     config.Metrics,
			Explorer:    apiExplorer{Adapter: a, explorer: e},
			Health:      e.health,
			Log:         config.Log.New("component", "service"),
		})
	}
	return e, nil
}

// Start implements the cliapp.Lifecycle interface. In run-once mode it
// returns when the run is complete.
func (e *Explorer) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	e.running.Store(true)

	if e.config.RunOnce {
		e.config.Log.Info("Starting op-test-explorer in run-once mode", "version", e.version, "nodes", e.config.RunIDs)
		if err := e.runOnce(ctx); err != nil {
			return err
		}
		go e.shutdownCallback(nil)
		return nil
	}

	e.config.Log.Info("Starting op-test-explorer", "version", e.version, "reloadInterval", e.config.ReloadInterval)
	if err := e.service.Start(ctx); err != nil {
		return NewRuntimeError("start service", err)
	}
	if err := e.scheduler.Start(ctx); err != nil {
		return NewRuntimeError("start scheduler", err)
	}
	e.config.Log.Debug("op-test-explorer started successfully")
	return nil
}

// runOnce discovers, runs the configured nodes and prints the results.
func (e *Explorer) runOnce(ctx context.Context) error {
	ev := e.adapter.Load(ctx)
	if ev.ErrorMessage != "" {
		return NewRuntimeError("discover tests", errors.New(ev.ErrorMessage))
	}
	fmt.Fprint(e.out, reporting.NewTreeFormatter(true).Format(ev.Suite))

	summary, err := e.execute(ctx, e.config.RunIDs)
	if summary != nil && len(summary.Tests) > 0 {
		fmt.Fprint(e.out, reporting.NewSummaryFormatter("Test Results").Format(summary))
	}
	if err != nil {
		return NewRuntimeError("run tests", err)
	}
	if len(summary.Tests) == 0 {
		return NewRuntimeError("run tests", fmt.Errorf("no tests match %v", e.config.RunIDs))
	}
	if summary.Failed() {
		e.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
		return NewTestFailureError(summary)
	}
	e.config.Log.Info("Tests completed, exiting (run-once mode)")
	return nil
}

// execute runs ids and records the outcome in metrics and, if enabled, the
// run logs.
func (e *Explorer) execute(ctx context.Context, ids []string) (*types.RunSummary, error) {
	summary, err := e.executor.Execute(ctx, ids)
	e.reporter.ReportResults(summary)
	if e.runLogs != nil && summary != nil {
		dir, logErr := e.runLogs.Complete(summary, e.adapter.Tree())
		if logErr != nil {
			e.config.Log.Warn("Failed to write run logs", "run_id", summary.RunID, "err", logErr)
		} else {
			e.config.Log.Info("Run logs written", "run_id", summary.RunID, "dir", dir)
		}
	}
	return summary, err
}

func (e *Explorer) logEvent(ev adapter.StateEvent) {
	if ev.RunID == "" {
		return
	}
	if err := e.runLogs.LogEvent(ev.RunID, ev); err != nil {
		e.config.Log.Warn("Failed to log run event", "run_id", ev.RunID, "err", err)
	}
}

// reload is the scheduler task. Interval reloads ask the UI to repeat its
// auto-run set.
func (e *Explorer) reload(ctx context.Context, scheduled bool) error {
	ev := e.adapter.Load(ctx)
	if ev.ErrorMessage != "" {
		return errors.New(ev.ErrorMessage)
	}
	if scheduled {
		e.adapter.NotifyAutorun()
	}
	return nil
}

func (e *Explorer) health() error {
	if !e.client.Connected() {
		return fmt.Errorf("runner at %s is %s", e.config.RunnerAddr, e.client.State())
	}
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (e *Explorer) Stop(ctx context.Context) error {
	var err error
	e.stopOnce.Do(func() {
		e.config.Log.Info("Stopping op-test-explorer")
		e.running.Store(false)

		err = errors.Join(err, e.scheduler.Stop())
		if e.cancel != nil {
			e.cancel()
		}
		if e.service != nil {
			err = errors.Join(err, e.service.Shutdown(ctx))
		}
		err = errors.Join(err, e.scheduler.WaitForShutdown(ctx))
		e.adapter.Dispose()
		err = errors.Join(err, e.client.Close())
		if e.runLogs != nil {
			err = errors.Join(err, e.runLogs.Close())
		}
		e.config.Log.Info("op-test-explorer stopped")
	})
	return err
}

// Stopped implements the cliapp.Lifecycle interface.
func (e *Explorer) Stopped() bool {
	return !e.running.Load()
}

// List discovers the runner's tests once and writes their tree to w.
func List(ctx context.Context, config *Config, w io.Writer) error {
	e, err := New(ctx, config, "", func(error) {})
	if err != nil {
		return NewRuntimeError("create explorer", err)
	}
	e.out = w
	defer func() {
		_ = e.client.Close()
		e.adapter.Dispose()
	}()

	ev := e.adapter.Load(ctx)
	if ev.ErrorMessage != "" {
		return NewRuntimeError("discover tests", errors.New(ev.ErrorMessage))
	}
	fmt.Fprint(e.out, reporting.NewTreeFormatter(true).Format(ev.Suite))
	return nil
}

// apiExplorer serves the adapter over the API. Runs started from the API go
// through the explorer so they are reported like run-once runs.
type apiExplorer struct {
	*adapter.Adapter
	explorer *Explorer
}

func (a apiExplorer) Run(ctx context.Context, ids []string) error {
	_, err := a.explorer.execute(ctx, ids)
	return err
}

// Adapter returns the adapter served by the explorer.
func (e *Explorer) Adapter() *adapter.Adapter {
	return e.adapter
}
