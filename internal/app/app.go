// Package app wires configuration, storage, the run ledger, the planner and
// the runner into a single split-merge run.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkilian/splitmerge/internal/config"
	"github.com/arkilian/splitmerge/internal/inputs"
	"github.com/arkilian/splitmerge/internal/lifecycle"
	"github.com/arkilian/splitmerge/internal/manifest"
	"github.com/arkilian/splitmerge/internal/merge"
	"github.com/arkilian/splitmerge/internal/observability"
	"github.com/arkilian/splitmerge/internal/output"
	"github.com/arkilian/splitmerge/internal/runner"
	"github.com/arkilian/splitmerge/internal/storage"
	"github.com/rs/zerolog"
)

// App owns the shared resources of one invocation.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Shared resources
	storage   storage.ObjectStorage
	ledger    *manifest.SQLiteLedger
	metrics   *observability.Metrics
	lifecycle *lifecycle.Manager

	// invoker overrides the exec invoker, for tests
	invoker merge.Invoker

	mu      sync.Mutex
	started bool
}

// Option configures an App.
type Option func(*App)

// WithInvoker replaces the external merge tool.
func WithInvoker(inv merge.Invoker) Option {
	return func(a *App) { a.invoker = inv }
}

// New resolves and validates cfg and creates the data directories.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Start opens storage and the ledger and installs the interrupt handler.
// Cancelling ctx cancels running merges.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app is already started")
	}

	a.lifecycle = lifecycle.NewManager(ctx, lifecycle.Config{DrainTimeout: a.cfg.DrainTimeout}, a.logger)
	if err := a.initSharedResources(ctx); err != nil {
		a.lifecycle.Close()
		return err
	}
	a.lifecycle.ListenForSignals()
	a.started = true
	return nil
}

// initSharedResources initializes storage and the run ledger.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case config.StorageLocal:
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case config.StorageS3:
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		s3Cfg.MultipartConfig.PartSize = a.cfg.Storage.S3.PartSizeMB * 1024 * 1024
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if a.storage != nil {
		a.logger.Debug().
			Str("type", a.cfg.Storage.Type).
			Str("bucket", a.cfg.Storage.S3.Bucket).
			Str("path", a.cfg.Storage.Path).
			Msg("storage initialized")
	}

	a.ledger, err = manifest.NewLedger(a.cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	a.lifecycle.RegisterCloser(a.ledger)
	a.logger.Debug().Str("path", a.cfg.LedgerPath).Msg("run ledger opened")
	return nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Ledger returns the run ledger. Start must have been called.
func (a *App) Ledger() manifest.Ledger {
	return a.ledger
}

// Metrics returns the run metrics.
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// Interrupted reports whether the run was stopped by a signal.
func (a *App) Interrupted() bool {
	return a.lifecycle != nil && a.lifecycle.Interrupted()
}

// Planner builds a planner from the configuration.
func (a *App) Planner() (*runner.Planner, error) {
	limit, err := a.cfg.LimitBytes()
	if err != nil {
		return nil, err
	}

	var resolver runner.Resolver
	if a.storage != nil {
		resolver = inputs.NewObjectResolver(a.storage, a.cfg.Suffix, a.logger)
	} else {
		resolver = inputs.NewLocalResolver(a.cfg.Suffix, a.logger)
	}

	namer := output.NewNamer(a.cfg.Output)
	if a.cfg.Suffix != "" {
		namer.Suffix = a.cfg.Suffix
	}
	return runner.NewPlanner(resolver, namer, limit, a.logger), nil
}

// Plan resolves ids and partitions them without merging anything.
func (a *App) Plan(ctx context.Context, ids []string) (*runner.Plan, error) {
	planner, err := a.Planner()
	if err != nil {
		return nil, err
	}
	return planner.Plan(ctx, ids)
}

// Execute merges every group of plan and writes the metrics file when one
// is configured.
func (a *App) Execute(plan *runner.Plan) (*runner.Report, error) {
	if a.lifecycle == nil {
		return nil, fmt.Errorf("app is not started")
	}

	inv := a.invoker
	if inv == nil {
		execInv, err := merge.NewExecInvoker(merge.ExecConfig{
			ToolPath:    a.cfg.Merge.Tool,
			KeepPartial: a.cfg.Merge.KeepPartial,
			Force:       a.cfg.Merge.Force,
			ExtraArgs:   a.cfg.Merge.ExtraArgs,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		inv = execInv
	}

	tool := a.cfg.Merge.Tool
	if execInv, ok := inv.(*merge.ExecInvoker); ok {
		tool = execInv.Tool()
	}

	opts := []runner.Option{
		runner.WithLedger(a.ledger),
		runner.WithMetrics(a.metrics),
		runner.WithDrain(a.lifecycle, a.lifecycle.Draining()),
	}
	if a.storage != nil {
		opts = append(opts, runner.WithStorage(a.storage))
	}

	r := runner.New(runner.Config{
		Concurrency:         a.cfg.Concurrency,
		WorkDir:             a.cfg.WorkDir,
		DownloadConcurrency: a.cfg.Storage.DownloadConcurrency,
		Resume:              a.cfg.Resume,
		Tool:                tool,
	}, inv, &merge.Verifier{MinBytes: a.cfg.Merge.MinOutputBytes}, a.logger, opts...)

	report, err := r.Execute(a.lifecycle.Context(), plan)
	if err != nil {
		return nil, err
	}

	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			a.logger.Warn().Err(err).Str("path", a.cfg.MetricsFile).Msg("failed to write metrics file")
		}
	}
	return report, nil
}

// Close releases all shared resources.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lifecycle == nil {
		return nil
	}
	err := a.lifecycle.Close()
	a.lifecycle = nil
	a.started = false
	return err
}
