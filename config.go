package explorer

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-test-explorer/flags"
)

// Config holds the application configuration
type Config struct {
	RunnerAddr        string        // host:port of the runner process
	ReconnectInterval time.Duration // Fixed wait between connection attempts
	RequestTimeout    time.Duration // Bound for discovery and runs, 0 waits forever
	WaitFinalOutcome  bool          // Running results do not settle a test
	RunOnce           bool          // Exit after one discovery and run
	RunIDs            []string      // Tree node ids run in run-once mode
	ReloadInterval    time.Duration // Interval between discoveries in continuous mode, 0 disables
	DedupeRuns        bool
	RootLabel         string
	APIAddr           string // Empty disables the API server
	HealthzAddr       string // Empty disables the health check server
	LogDir            string // Empty disables run artifacts
	Metrics           opmetrics.CLIConfig
	Log               log.Logger
}

// fileConfig is the YAML form of Config. Unset keys leave the flag value in
// place.
type fileConfig struct {
	RunnerAddr        *string        `yaml:"runner_addr"`
	ReconnectInterval *time.Duration `yaml:"reconnect_interval"`
	RequestTimeout    *time.Duration `yaml:"request_timeout"`
	WaitFinalOutcome  *bool          `yaml:"wait_final_outcome"`
	RunOnce           *bool          `yaml:"run_once"`
	RunIDs            []string       `yaml:"run"`
	ReloadInterval    *time.Duration `yaml:"reload_interval"`
	DedupeRuns        *bool          `yaml:"dedupe_runs"`
	RootLabel         *string        `yaml:"root_label"`
	APIAddr           *string        `yaml:"api_addr"`
	HealthzAddr       *string        `yaml:"healthz_addr"`
	LogDir            *string        `yaml:"log_dir"`
}

// NewConfig creates a new Config from cli context. Values of the optional
// config file apply to every flag that was not set explicitly.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	cfg := &Config{
		RunnerAddr:        ctx.String(flags.RunnerAddr.Name),
		ReconnectInterval: ctx.Duration(flags.ReconnectInterval.Name),
		RequestTimeout:    ctx.Duration(flags.RequestTimeout.Name),
		WaitFinalOutcome:  ctx.Bool(flags.WaitForFinalOutcome.Name),
		RunOnce:           ctx.Bool(flags.RunOnce.Name),
		RunIDs:            ctx.StringSlice(flags.RunIDs.Name),
		ReloadInterval:    ctx.Duration(flags.ReloadInterval.Name),
		DedupeRuns:        ctx.Bool(flags.DedupeRuns.Name),
		RootLabel:         ctx.String(flags.RootLabel.Name),
		APIAddr:           ctx.String(flags.APIAddr.Name),
		HealthzAddr:       ctx.String(flags.HealthzAddr.Name),
		LogDir:            ctx.String(flags.LogDir.Name),
		Metrics:           opmetrics.ReadCLIConfig(ctx),
		Log:               log,
	}

	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		file, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		file.apply(cfg, ctx.IsSet)
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.RunnerAddr == "" {
		return errors.New("runner address is required")
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect interval must be positive, got %s", c.ReconnectInterval)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout)
	}
	if c.ReloadInterval < 0 {
		return fmt.Errorf("reload interval must not be negative, got %s", c.ReloadInterval)
	}
	if c.RunOnce && len(c.RunIDs) == 0 {
		return errors.New("run-once mode needs at least one node id to run")
	}
	if err := c.Metrics.Check(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}

func readConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &file, nil
}

// apply copies every value present in the file whose flag isSet reports as
// not set on the command line.
func (f *fileConfig) apply(cfg *Config, isSet func(name string) bool) {
	if f.RunnerAddr != nil && !isSet(flags.RunnerAddr.Name) {
		cfg.RunnerAddr = *f.RunnerAddr
	}
	if f.ReconnectInterval != nil && !isSet(flags.ReconnectInterval.Name) {
		cfg.ReconnectInterval = *f.ReconnectInterval
	}
	if f.RequestTimeout != nil && !isSet(flags.RequestTimeout.Name) {
		cfg.RequestTimeout = *f.RequestTimeout
	}
	if f.WaitFinalOutcome != nil && !isSet(flags.WaitForFinalOutcome.Name) {
		cfg.WaitFinalOutcome = *f.WaitFinalOutcome
	}
	if f.RunOnce != nil && !isSet(flags.RunOnce.Name) {
		cfg.RunOnce = *f.RunOnce
	}
	if len(f.RunIDs) > 0 && !isSet(flags.RunIDs.Name) {
		cfg.RunIDs = f.RunIDs
	}
	if f.ReloadInterval != nil && !isSet(flags.ReloadInterval.Name) {
		cfg.ReloadInterval = *f.ReloadInterval
	}
	if f.DedupeRuns != nil && !isSet(flags.DedupeRuns.Name) {
		cfg.DedupeRuns = *f.DedupeRuns
	}
	if f.RootLabel != nil && !isSet(flags.RootLabel.Name) {
		cfg.RootLabel = *f.RootLabel
	}
	if f.APIAddr != nil && !isSet(flags.APIAddr.Name) {
		cfg.APIAddr = *f.APIAddr
	}
	if f.HealthzAddr != nil && !isSet(flags.HealthzAddr.Name) {
		cfg.HealthzAddr = *f.HealthzAddr
	}
	if f.LogDir != nil && !isSet(flags.LogDir.Name) {
		cfg.LogDir = *f.LogDir
	}
}
