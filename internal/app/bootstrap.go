package app

import (
	"context"
	"errors"
	"log/slog"

	"exec_quality/internal/api"
	"exec_quality/internal/domain"
	"exec_quality/internal/event"
	"exec_quality/internal/infra"
	"exec_quality/internal/infra/storage"
	"exec_quality/internal/service"
)

// DefaultConfigPath is read when no -config flag is given.
const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Hub      *event.Hub
	Pipeline *service.Pipeline
	Results  *service.Results
	Fetcher  *infra.SourceFetcher

	shutdownTracing func(context.Context) error
}

// Options adjust startup.
type Options struct {
	ConfigPath string
	// Persist forces the result storage on, whatever the config says.
	Persist bool
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logging, tracing, DB)
func (b *Bootstrap) Initialize(opts Options) error {
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigPath
	}

	// 1. Load Config
	cfg, err := infra.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	if opts.Persist {
		cfg.Storage.Enabled = true
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("Bootstrapping execution-quality ETL", slog.String("config", opts.ConfigPath))

	// 3. Tracing
	shutdown, err := infra.InitTracing(cfg)
	if err != nil {
		return err
	}
	b.shutdownTracing = shutdown

	// 4. Initialize Storage (DB)
	var repo domain.ResultRepository
	if cfg.Storage.Enabled {
		store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		b.Storage = store
		repo = store
		slog.Info("Database initialized", slog.String("driver", cfg.Storage.Driver))
	}

	// 5. Pipeline and lookups
	b.Hub = event.NewHub(0)
	pipelineOpts := []service.Option{
		service.WithMetrics(infra.GlobalMetrics),
		service.WithHub(b.Hub),
	}
	if repo != nil {
		pipelineOpts = append(pipelineOpts, service.WithRepository(repo))
	}
	b.Pipeline = service.NewPipeline(pipelineOpts...)
	b.Results = service.NewResults(repo, cfg.Pipeline.OutputDir)
	b.Fetcher = infra.NewSourceFetcherWithConfig(cfg)

	return nil
}

// RunConfig returns the run configuration described by the loaded config.
func (b *Bootstrap) RunConfig() service.RunConfig {
	return service.NewRunConfig(b.Config)
}

// Server builds the HTTP API on top of the initialized components.
func (b *Bootstrap) Server() *api.Server {
	base := b.RunConfig()
	base.OrdersPath, base.TradesPath, base.QuotesPath = "", "", ""

	return api.NewServer(api.Deps{
		Pipeline: b.Pipeline,
		Results:  b.Results,
		Fetcher:  b.Fetcher,
		Hub:      b.Hub,
		Metrics:  infra.GlobalMetrics,
		Logger:   slog.Default().With(slog.String("module", "api")),
		Base:     base,
	})
}

// Close flushes spans and releases the database.
func (b *Bootstrap) Close(ctx context.Context) error {
	var errs []error
	if b.shutdownTracing != nil {
		errs = append(errs, b.shutdownTracing(ctx))
	}
	if b.Storage != nil {
		errs = append(errs, b.Storage.Close())
	}
	return errors.Join(errs...)
}
