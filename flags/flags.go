package flags

import (
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TEST_EXPLORER"

var (
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a YAML config file. Flags set explicitly take precedence over its values",
	}
	RunnerAddr = &cli.StringFlag{
		Name:    "runner-addr",
		Value:   "localhost:12345",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNNER_ADDR"),
		Usage:   "host:port of the test runner process",
	}
	ReconnectInterval = &cli.DurationFlag{
		Name:    "reconnect-interval",
		Value:   2 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RECONNECT_INTERVAL"),
		Usage:   "Wait between attempts to (re)connect to the runner",
	}
	RequestTimeout = &cli.DurationFlag{
		Name:    "request-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REQUEST_TIMEOUT"),
		Usage:   "Upper bound for a discovery or a run (e.g. '10m'). 0 waits forever",
	}
	WaitForFinalOutcome = &cli.BoolFlag{
		Name:    "wait-final-outcome",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WAIT_FINAL_OUTCOME"),
		Usage:   "Keep a run open after a Running result until the test reports a final outcome",
	}
	RunOnce = &cli.BoolFlag{
		Name:    "run-once",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_ONCE"),
		Usage:   "Discover, run the selected tests, print the results and exit",
	}
	RunIDs = &cli.StringSliceFlag{
		Name:    "run",
		Value:   cli.NewStringSlice("root"),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN"),
		Usage:   "Tree node ids to run in run-once mode: root, project:<name>, file:<project>/<path> or a test id",
	}
	ReloadInterval = &cli.DurationFlag{
		Name:    "reload-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RELOAD_INTERVAL"),
		Usage:   "Interval between test discoveries in continuous mode (e.g. '5m'). 0 disables reloads",
	}
	DedupeRuns = &cli.BoolFlag{
		Name:    "dedupe-runs",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEDUPE_RUNS"),
		Usage:   "Send each test once per run when the requested nodes overlap",
	}
	RootLabel = &cli.StringFlag{
		Name:    "root-label",
		Value:   "Tests",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ROOT_LABEL"),
		Usage:   "Display name of the root suite",
	}
	APIAddr = &cli.StringFlag{
		Name:    "api-addr",
		Value:   "0.0.0.0:8081",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "API_ADDR"),
		Usage:   "Listen address of the explorer API. Empty disables it",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz-addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the health check server. Empty disables it",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory receiving the events, results and HTML report of every run. Empty disables it",
	}
)

var optionalFlags = []cli.Flag{
	ConfigFile,
	RunnerAddr,
	ReconnectInterval,
	RequestTimeout,
	WaitForFinalOutcome,
	RunOnce,
	RunIDs,
	ReloadInterval,
	DedupeRuns,
	RootLabel,
	APIAddr,
	HealthzAddr,
	LogDir,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = optionalFlags
}

func CheckRequired(ctx *cli.Context) error {
	return opflags.CheckRequiredXor(ctx)
}
