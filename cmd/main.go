package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	explorer "github.com/ethereum-optimism/infra/op-test-explorer"
	"github.com/ethereum-optimism/infra/op-test-explorer/flags"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-test-explorer"
	app.Usage = "Test explorer for a remote test runner"
	app.Description = "op-test-explorer discovers the tests of a runner process, shows them as a tree and runs them on demand"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.Commands = []*cli.Command{
		{
			Name:   "list",
			Usage:  "Print the runner's test tree and exit",
			Action: list,
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err := exitError(err); err != nil {
			cli.HandleExitCoder(err)
		}
	}
	return app
}

// exitError maps err to a cli.ExitCoder carrying the exit code for its kind.
func exitError(err error) cli.ExitCoder {
	if err == nil {
		return nil
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return cli.Exit(err.Error(), explorer.ExitCode(err))
}

func setupLogger(ctx *cli.Context) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()
	return log
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	log := setupLogger(ctx)

	cfg, err := explorer.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, explorer.NewRuntimeError("create config", err)
	}
	cfg.Log.Debug("Config", "config", cfg)

	svc, err := explorer.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, explorer.NewRuntimeError("create explorer", err)
	}
	return svc, nil
}

func list(ctx *cli.Context) error {
	log := setupLogger(ctx)

	cfg, err := explorer.NewConfig(ctx, log)
	if err != nil {
		return explorer.NewRuntimeError("create config", err)
	}
	return explorer.List(ctx.Context, cfg, ctx.App.Writer)
}
