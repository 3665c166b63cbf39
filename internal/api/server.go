// Package api exposes the ETL over HTTP: run ingestion, order lookups,
// metrics and a websocket stream of run progress.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"exec_quality/internal/domain"
	"exec_quality/internal/event"
	"exec_quality/internal/infra"
	"exec_quality/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxTopLimit = 100

// Server serves the HTTP API.
type Server struct {
	handler  http.Handler
	logger   *slog.Logger
	pipeline *service.Pipeline
	results  *service.Results
	fetcher  *infra.SourceFetcher
	hub      *event.Hub
	metrics  *infra.Metrics
	base     service.RunConfig
}

// Deps bundles the collaborators of a Server.
type Deps struct {
	Pipeline *service.Pipeline
	Results  *service.Results
	Fetcher  *infra.SourceFetcher
	Hub      *event.Hub
	Metrics  *infra.Metrics
	Logger   *slog.Logger

	// Base supplies OutputDir, ChunkSize and UnmatchedPolicy for /ingest runs.
	Base service.RunConfig
}

// NewServer creates a server and its routes.
func NewServer(d Deps) *Server {
	s := &Server{
		logger:   d.Logger,
		pipeline: d.Pipeline,
		results:  d.Results,
		fetcher:  d.Fetcher,
		hub:      d.Hub,
		metrics:  d.Metrics,
		base:     d.Base,
	}
	if s.logger == nil {
		s.logger = slog.Default().With(slog.String("module", "api"))
	}
	if s.metrics == nil {
		s.metrics = infra.GlobalMetrics
	}
	if s.hub == nil {
		s.hub = event.NewHub(0)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth())
	mux.HandleFunc("POST /ingest", s.handleIngest())
	mux.HandleFunc("GET /orders/top", s.handleTopOrders())
	mux.HandleFunc("GET /orders/{order_id}", s.handleGetOrder())
	mux.HandleFunc("GET /metrics", s.handleMetrics())
	mux.HandleFunc("GET /ws/runs", s.handleRunStream())
	s.handler = s.loggingMiddleware(mux)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ======================================================================================
// Handlers
// ======================================================================================

type ingestRequest struct {
	OrdersURL string  `json:"orders_url"`
	TradesURL string  `json:"trades_url"`
	NBBOURL   string  `json:"nbbo_url"`
	Notes     *string `json:"notes,omitempty"`
}

type ingestResponse struct {
	Status      string            `json:"status"`
	RunID       string            `json:"run_id"`
	OutputFiles map[string]string `json:"output_files"`
	Rows        service.RowCounts `json:"rows"`
	Stats       service.RunStats  `json:"stats"`
}

// orderResponse carries decimals as JSON numbers; undefined values are null.
type orderResponse struct {
	OrderID        string       `json:"order_id"`
	TotalOrderQty  json.Number  `json:"total_order_qty"`
	FilledQty      json.Number  `json:"filled_qty"`
	VWAP           *json.Number `json:"vwap"`
	TotalPIDollars json.Number  `json:"total_pi_dollars"`
	FillRate       *json.Number `json:"fill_rate"`
}

func newOrderResponse(s domain.OrderSummary) orderResponse {
	return orderResponse{
		OrderID:        s.OrderID,
		TotalOrderQty:  jsonNumber(s.TotalOrderQty),
		FilledQty:      jsonNumber(s.FilledQty),
		VWAP:           nullJSONNumber(s.VWAP),
		TotalPIDollars: jsonNumber(s.TotalPIDollars),
		FillRate:       nullJSONNumber(s.FillRate),
	}
}

func jsonNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func nullJSONNumber(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	n := jsonNumber(d.Decimal)
	return &n
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		if err := dec.Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if req.OrdersURL == "" || req.TradesURL == "" || req.NBBOURL == "" {
			s.respondError(w, http.StatusUnprocessableEntity, "orders_url, trades_url and nbbo_url are required")
			return
		}

		ctx := r.Context()
		cfg := s.base
		cfg.RunID = uuid.NewString()
		cfg.OutputDir = service.RunDir(s.base.OutputDir, cfg.RunID)
		var cleanups []func()
		defer func() {
			for _, c := range cleanups {
				c()
			}
		}()

		for _, src := range []struct {
			location string
			dst      *string
		}{
			{req.OrdersURL, &cfg.OrdersPath},
			{req.TradesURL, &cfg.TradesPath},
			{req.NBBOURL, &cfg.QuotesPath},
		} {
			p, cleanup, err := s.fetcher.Resolve(ctx, src.location)
			cleanups = append(cleanups, cleanup)
			if err != nil {
				s.respondRunError(w, err)
				return
			}
			*src.dst = p
		}

		if req.Notes != nil {
			s.logger.Info("Ingest requested", slog.String("notes", *req.Notes))
		}

		res, err := s.pipeline.Run(ctx, cfg)
		if err != nil {
			s.respondRunError(w, err)
			return
		}
		s.results.Observe(res)

		s.respondJSON(w, http.StatusOK, ingestResponse{
			Status: "ok",
			RunID:  res.RunID,
			OutputFiles: map[string]string{
				"fills":   res.FillsPath,
				"summary": res.SummaryPath,
			},
			Rows:  res.Rows,
			Stats: res.Stats,
		})
	}
}

func (s *Server) handleGetOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := r.PathValue("order_id")

		summary, err := s.results.Get(r.Context(), orderID)
		switch {
		case errors.Is(err, domain.ErrNoRunYet):
			s.respondError(w, http.StatusNotFound, "no summary available, run /ingest first")
		case errors.Is(err, domain.ErrOrderNotFound):
			s.respondError(w, http.StatusNotFound, "order_id not found: "+orderID)
		case err != nil:
			s.logger.Error("Order lookup failed", slog.String("order_id", orderID), slog.Any("error", err))
			s.respondError(w, http.StatusInternalServerError, "failed to read summary")
		default:
			s.respondJSON(w, http.StatusOK, newOrderResponse(*summary))
		}
	}
}

func (s *Server) handleTopOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 5
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxTopLimit {
				s.respondError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxTopLimit))
				return
			}
			limit = n
		}

		summaries, err := s.results.Top(r.Context(), limit)
		switch {
		case errors.Is(err, domain.ErrNoRunYet):
			s.respondError(w, http.StatusNotFound, "no summary available, run /ingest first")
			return
		case err != nil:
			s.logger.Error("Top orders lookup failed", slog.Any("error", err))
			s.respondError(w, http.StatusInternalServerError, "failed to read summary")
			return
		}

		out := make([]orderResponse, len(summaries))
		for i, sm := range summaries {
			out[i] = newOrderResponse(sm)
		}
		s.respondJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.respondJSON(w, http.StatusOK, s.metrics.Snapshot())
	}
}

// ======================================================================================
// Helpers
// ======================================================================================

// respondRunError maps pipeline and source failures to status codes.
func (s *Server) respondRunError(w http.ResponseWriter, err error) {
	var (
		mie *domain.MalformedInputError
		uje *domain.UnmatchedJoinError
		se  *domain.SourceError
		ce  *domain.ConfigError
	)
	switch {
	case errors.As(err, &mie), errors.As(err, &uje), errors.As(err, &se), errors.As(err, &ce):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled):
		s.respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("ETL failed", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "ETL failed: "+err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	errorResponse := struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Timestamp int64  `json:"timestamp"`
	}{
		Error:     message,
		Status:    statusCode,
		Timestamp: time.Now().Unix(),
	}
	s.respondJSON(w, statusCode, errorResponse)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes the connection through for websocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.statusCode),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
