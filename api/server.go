package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/metrics"
	"github.com/malbeclabs/rwe/pkg/tablestore"
	"github.com/malbeclabs/rwe/pkg/tracking"
	"github.com/malbeclabs/rwe/pkg/vectorindex"
)

const (
	maxRequestBytes = 64 << 10
	maxSearchK      = 50
)

// Asker runs the question-answering pipeline.
type Asker interface {
	RunWithProgress(ctx context.Context, query string, onProgress pipeline.ProgressCallback) (*pipeline.Record, error)
}

type FeedbackLogger interface {
	LogFeedback(ctx context.Context, runID string, useful bool, comment string) error
}

type TableLister interface {
	Tables() []tablestore.TableConfig
}

type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorindex.Result, error)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type ApiServer struct {
	asker      Asker
	feedback   FeedbackLogger
	tables     TableLister
	searcher   Searcher
	checks     map[string]ReadinessCheck
	httpServer *http.Server
	logger     *slog.Logger
	listenAddr string
}

type Option func(*ApiServer)

// WithAsker sets the pipeline that answers questions.
func WithAsker(asker Asker) Option {
	return func(s *ApiServer) {
		s.asker = asker
	}
}

// WithFeedbackLogger enables POST /api/feedback.
func WithFeedbackLogger(f FeedbackLogger) Option {
	return func(s *ApiServer) {
		s.feedback = f
	}
}

func WithTables(t TableLister) Option {
	return func(s *ApiServer) {
		s.tables = t
	}
}

// WithSearcher enables GET /api/search over the retrieval index.
func WithSearcher(searcher Searcher) Option {
	return func(s *ApiServer) {
		s.searcher = searcher
	}
}

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *ApiServer) {
		s.checks[name] = check
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *ApiServer) {
		s.logger = logger
	}
}

func WithListenAddr(addr string) Option {
	return func(s *ApiServer) {
		s.listenAddr = addr
	}
}

func NewApiServer(opts ...Option) (*ApiServer, error) {
	s := &ApiServer{
		checks:     make(map[string]ReadinessCheck),
		logger:     slog.Default(),
		listenAddr: ":8080", // Default listen address
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.asker == nil {
		return nil, fmt.Errorf("asker is required")
	}
	if s.tables == nil {
		return nil, fmt.Errorf("table lister is required")
	}
	return s, nil
}

// Handler returns the router serving the API.
func (s *ApiServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Post("/api/ask", s.handleAsk)
	r.Post("/api/feedback", s.handleFeedback)
	r.Get("/api/tables", s.handleTables)
	r.Get("/api/search", s.handleSearch)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *ApiServer) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", s.httpServer.Addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	RunID  string           `json:"run_id,omitempty"`
	Answer string           `json:"answer"`
	Record *pipeline.Record `json:"record"`
	Error  string           `json:"error,omitempty"`
}

func (s *ApiServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var runID string
	rec, err := s.asker.RunWithProgress(r.Context(), req.Query, func(p pipeline.Progress) {
		if p.RunID != "" {
			runID = p.RunID
		}
	})

	resp := askResponse{RunID: runID, Record: rec}
	if rec != nil {
		resp.Answer = rec.Answer()
	}
	status := http.StatusOK
	if err != nil {
		s.logger.Error("api: pipeline failed", "runID", runID, "error", err)
		resp.Error = err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

type feedbackRequest struct {
	RunID   string `json:"run_id"`
	Useful  *bool  `json:"useful"`
	Comment string `json:"comment,omitempty"`
}

func (s *ApiServer) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.feedback == nil {
		writeError(w, http.StatusServiceUnavailable, "run tracking is disabled")
		return
	}
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	if req.Useful == nil {
		writeError(w, http.StatusBadRequest, "useful is required")
		return
	}

	err := s.feedback.LogFeedback(r.Context(), req.RunID, *req.Useful, req.Comment)
	switch {
	case errors.Is(err, tracking.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("api: failed to log feedback", "runID", req.RunID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to log feedback")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type tableResponse struct {
	Name        string   `json:"name"`
	IDColumn    string   `json:"id_column"`
	TextColumns []string `json:"text_columns,omitempty"`
}

// handleTables lists logical table names. Paths stay server side.
func (s *ApiServer) handleTables(w http.ResponseWriter, _ *http.Request) {
	tables := s.tables.Tables()
	out := make([]tableResponse, 0, len(tables))
	for _, t := range tables {
		out = append(out, tableResponse{Name: t.Name, IDColumn: t.IDColumn, TextColumns: t.TextColumns})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": out})
}

func (s *ApiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval index is not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := vectorindex.DefaultSearchK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchK {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("k must be between 1 and %d", maxSearchK))
			return
		}
		k = n
	}

	results, err := s.searcher.Search(r.Context(), q, k)
	if err != nil {
		s.logger.Error("api: search failed", "error", err)
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	if results == nil {
		results = []vectorindex.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *ApiServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ApiServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// metricsMiddleware records request counts and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	})
}
