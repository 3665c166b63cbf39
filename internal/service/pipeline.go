package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"exec_quality/internal/csvio"
	"exec_quality/internal/domain"
	"exec_quality/internal/engine"
	"exec_quality/internal/event"
	"exec_quality/internal/infra"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Output file names inside RunConfig.OutputDir.
const (
	FillsFile   = "fills_normalized.csv"
	SummaryFile = "order_summary.csv"
)

// RunsDir holds one output directory per isolated run under the output root.
const RunsDir = "runs"

// RunDir returns the output directory of run runID under root.
func RunDir(root, runID string) string {
	return filepath.Join(root, RunsDir, runID)
}

// RunConfig is the immutable input of one pipeline run.
type RunConfig struct {
	RunID           string // Generated when empty
	OrdersPath      string
	TradesPath      string
	QuotesPath      string
	OutputDir       string
	ChunkSize       int                    // Trades per window; <= 0 means engine.DefaultWindowSize
	UnmatchedPolicy engine.UnmatchedPolicy // Empty means drop
}

// NewRunConfig builds a run configuration from the application settings.
func NewRunConfig(cfg *infra.Config) RunConfig {
	return RunConfig{
		OrdersPath:      cfg.Sources.Orders,
		TradesPath:      cfg.Sources.Trades,
		QuotesPath:      cfg.Sources.Quotes,
		OutputDir:       cfg.Pipeline.OutputDir,
		ChunkSize:       cfg.Pipeline.ChunkSize,
		UnmatchedPolicy: cfg.UnmatchedPolicy(),
	}
}

// Validate reports missing paths.
func (c RunConfig) Validate() error {
	switch {
	case c.OrdersPath == "":
		return &domain.ConfigError{Field: "orders_path", Err: errors.New("must not be empty")}
	case c.TradesPath == "":
		return &domain.ConfigError{Field: "trades_path", Err: errors.New("must not be empty")}
	case c.QuotesPath == "":
		return &domain.ConfigError{Field: "quotes_path", Err: errors.New("must not be empty")}
	case c.OutputDir == "":
		return &domain.ConfigError{Field: "output_dir", Err: errors.New("must not be empty")}
	}
	return nil
}

// RowCounts holds the number of data rows written per output file.
type RowCounts struct {
	Fills   int `json:"fills"`
	Summary int `json:"summary"`
}

// RunStats describes what happened while joining.
type RunStats struct {
	Quotes          int           `json:"quotes"`
	Orders          int           `json:"orders"`
	DuplicateOrders int           `json:"duplicate_orders"`
	Chunks          int           `json:"chunks"`
	TradesRead      int           `json:"trades_read"`
	Unmatched       int           `json:"unmatched"`
	MissingQuotes   int           `json:"missing_quotes"`
	Duration        time.Duration `json:"duration_ns"`
}

// RunResult is the outcome of a successful run.
type RunResult struct {
	RunID       string
	FillsPath   string
	SummaryPath string
	Rows        RowCounts
	Stats       RunStats
	FinishedAt  time.Time

	// Unmatched holds trades without a parent order under engine.UnmatchedReport.
	Unmatched []domain.Trade
}

// Pipeline runs the ETL. A Pipeline holds no per-run state and may serve
// concurrent runs with different configurations.
type Pipeline struct {
	logger  *slog.Logger
	metrics *infra.Metrics
	hub     *event.Hub
	repo    domain.ResultRepository
	tracer  trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics records run counters into m.
func WithMetrics(m *infra.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithHub publishes progress events to h.
func WithHub(h *event.Hub) Option {
	return func(p *Pipeline) { p.hub = h }
}

// WithRepository persists fills and summaries after the files are written.
func WithRepository(r domain.ResultRepository) Option {
	return func(p *Pipeline) { p.repo = r }
}

// NewPipeline creates a pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:  slog.Default().With(slog.String("module", "pipeline")),
		metrics: infra.GlobalMetrics,
		tracer:  otel.Tracer("exec_quality/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run loads the quote and order tables, streams the trades through the
// chunked join, and writes both output files atomically.
func (p *Pipeline) Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	res := &RunResult{
		RunID:       runID,
		FillsPath:   filepath.Join(cfg.OutputDir, FillsFile),
		SummaryPath: filepath.Join(cfg.OutputDir, SummaryFile),
	}
	log := p.logger.With(slog.String("run_id", res.RunID))

	ctx, span := p.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run_id", res.RunID),
		attribute.Int("chunk_size", cfg.ChunkSize),
		attribute.String("unmatched_policy", string(cfg.UnmatchedPolicy)),
	))
	defer span.End()

	start := time.Now()
	p.metrics.RunStarted()
	p.publish(event.RunEvent{RunID: res.RunID, Kind: event.KindStarted})
	log.Info("Run started",
		slog.String("orders", cfg.OrdersPath),
		slog.String("trades", cfg.TradesPath),
		slog.String("quotes", cfg.QuotesPath),
	)

	err := p.run(ctx, cfg, res, log)
	res.FinishedAt = time.Now()
	res.Stats.Duration = res.FinishedAt.Sub(start)
	p.metrics.RunFinished(res.Stats.Duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.publish(event.RunEvent{RunID: res.RunID, Kind: event.KindFailed, Message: err.Error()})
		log.Error("Run failed", slog.Any("error", err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("fills", res.Rows.Fills),
		attribute.Int("summaries", res.Rows.Summary),
	)
	p.publish(event.RunEvent{RunID: res.RunID, Kind: event.KindCompleted, Rows: res.Rows.Fills})
	log.Info("Run completed",
		slog.Int("fills", res.Rows.Fills),
		slog.Int("summaries", res.Rows.Summary),
		slog.Int("chunks", res.Stats.Chunks),
		slog.Int("unmatched", res.Stats.Unmatched),
		slog.Int("missing_quotes", res.Stats.MissingQuotes),
		slog.Duration("duration", res.Stats.Duration),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, cfg RunConfig, res *RunResult, log *slog.Logger) error {
	quotes, err := p.loadQuotes(ctx, cfg.QuotesPath)
	if err != nil {
		return err
	}
	orders, err := p.loadOrders(ctx, cfg.OrdersPath)
	if err != nil {
		return err
	}
	res.Stats.Quotes = quotes.Len()
	res.Stats.Orders = orders.Len()
	res.Stats.DuplicateOrders = len(orders.Duplicates())
	if dups := orders.Duplicates(); len(dups) > 0 {
		log.Warn("Duplicate order ids; first occurrence wins", slog.Int("count", len(dups)), slog.Any("order_ids", dups))
	}

	trades, err := csvio.OpenTradeFile(cfg.TradesPath)
	if err != nil {
		return err
	}
	defer trades.Close()

	joiner := engine.NewJoiner(quotes, orders, cfg.ChunkSize, cfg.UnmatchedPolicy)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("window", joiner.Window()))
	log.Debug("Joining trades", slog.Int("window", joiner.Window()))
	agg := engine.NewAggregator()
	var fills []domain.Fill

	err = joiner.Chunks(trades).Each(ctx, func(b engine.Batch) error {
		_, span := p.tracer.Start(ctx, "pipeline.Chunk", trace.WithAttributes(
			attribute.Int("chunk", b.Index),
			attribute.Int("trades", b.TradesRead),
			attribute.Int("fills", len(b.Fills)),
		))
		defer span.End()

		fills = append(fills, b.Fills...)
		agg.AddAll(b.Fills)
		res.Unmatched = append(res.Unmatched, b.Unmatched...)

		res.Stats.Chunks++
		res.Stats.TradesRead += b.TradesRead
		res.Stats.Unmatched += b.Dropped
		res.Stats.MissingQuotes += b.MissingQuotes
		p.metrics.RecordChunk(b.TradesRead, b.Dropped, b.MissingQuotes)
		p.publish(event.RunEvent{RunID: res.RunID, Kind: event.KindChunk, Chunk: b.Index, Rows: len(b.Fills)})

		if b.MissingQuotes > 0 {
			log.Warn("Fills without a prevailing quote",
				slog.Int("chunk", b.Index),
				slog.Int("count", b.MissingQuotes),
				slog.Any("first", firstQuoteErr(b.Fills)),
			)
		}

		log.Debug("Chunk joined",
			slog.Int("chunk", b.Index),
			slog.Int("trades", b.TradesRead),
			slog.Int("fills", len(b.Fills)),
		)
		return nil
	})
	if err != nil {
		return err
	}

	engine.SortFills(fills)
	summaries := agg.Summaries()

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := csvio.WriteFileAtomic(res.FillsPath, func(w io.Writer) error {
		return csvio.WriteFills(w, fills)
	}); err != nil {
		return fmt.Errorf("write fills: %w", err)
	}
	if err := csvio.WriteFileAtomic(res.SummaryPath, func(w io.Writer) error {
		return csvio.WriteSummaries(w, summaries)
	}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	res.Rows = RowCounts{Fills: len(fills), Summary: len(summaries)}
	p.metrics.RecordFills(len(fills))

	if p.repo != nil {
		if err := p.persist(ctx, res.RunID, fills, summaries); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) loadQuotes(ctx context.Context, path string) (*engine.QuoteBook, error) {
	_, span := p.tracer.Start(ctx, "pipeline.LoadQuotes", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	book, err := csvio.LoadQuotesFile(path)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", book.Len()), attribute.Int("symbols", book.Symbols()))
	return book, nil
}

func (p *Pipeline) loadOrders(ctx context.Context, path string) (*engine.OrderBook, error) {
	_, span := p.tracer.Start(ctx, "pipeline.LoadOrders", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	book, err := csvio.LoadOrdersFile(path)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", book.Len()))
	return book, nil
}

func (p *Pipeline) persist(ctx context.Context, runID string, fills []domain.Fill, summaries []domain.OrderSummary) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.Persist")
	defer span.End()

	if err := p.repo.SaveFills(ctx, runID, fills); err != nil {
		return fmt.Errorf("persist fills: %w", err)
	}
	if err := p.repo.SaveSummaries(ctx, runID, summaries); err != nil {
		return fmt.Errorf("persist summaries: %w", err)
	}
	return nil
}

func firstQuoteErr(fills []domain.Fill) error {
	for _, f := range fills {
		if err := f.QuoteErr(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) publish(ev event.RunEvent) {
	if p.hub != nil {
		p.hub.Publish(ev)
	}
}
