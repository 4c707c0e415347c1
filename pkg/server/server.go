// Package server provides the HTTP API for inspecting runs and deciding
// breakpoints out of band while runs wait for approval.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/process"
	"github.com/a5c-ai/babysitter/pkg/runs"
	"github.com/a5c-ai/babysitter/pkg/version"
)

// Processes lists and resolves process definitions.
type Processes interface {
	List() []*process.Definition
	Get(id string) (*process.Definition, error)
}

// Server serves the babysitter HTTP API.
type Server struct {
	router    *mux.Router
	processes Processes
	store     runs.Store
	config    *Config
	server    *http.Server
}

// Config holds the listen address of the server.
type Config struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// New creates a server over the given process registry and run store.
func New(config *Config, processes Processes, store runs.Store) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:    mux.NewRouter(),
		processes: processes,
		store:     store,
		config:    config,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/processes", s.handleListProcesses).Methods("GET")
	api.HandleFunc("/processes/{id:.+}", s.handleGetProcess).Methods("GET")
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleDeleteRun).Methods("DELETE")
	api.HandleFunc("/breakpoints", s.handleListBreakpoints).Methods("GET")
	api.HandleFunc("/breakpoints/{id}", s.handleGetBreakpoint).Methods("GET")
	api.HandleFunc("/breakpoints/{id}/approve", s.handleDecide(runs.BreakpointApproved)).Methods("POST")
	api.HandleFunc("/breakpoints/{id}/reject", s.handleDecide(runs.BreakpointRejected)).Methods("POST")

	for _, r := range []*mux.Router{s.router, api} {
		r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	}

	s.router.Use(s.loggingMiddleware)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeErrorResponse(w, r, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), nil)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeErrorResponse(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), nil)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Get().Version})
}

// ProcessSummary is the listing view of a process.
type ProcessSummary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Phases      int               `json:"phases"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// handleListProcesses handles GET /api/processes
func (s *Server) handleListProcesses(w http.ResponseWriter, _ *http.Request) {
	list := s.processes.List()
	out := make([]ProcessSummary, 0, len(list))
	for _, def := range list {
		out = append(out, ProcessSummary{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Phases:      len(def.Phases),
			Metadata:    def.Metadata,
		})
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"processes": out})
}

// handleGetProcess handles GET /api/processes/{id}
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	def, err := s.processes.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, def)
}

// handleListRuns handles GET /api/runs?status=&process=&limit=
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := runs.RunFilter{
		ProcessID: query.Get("process"),
		Status:    runs.Status(query.Get("status")),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.writeErrorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", limitStr), nil)
			return
		}
		filter.Limit = limit
	}

	list, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*runs.Run{}
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"runs": list})
}

// RunResponse is a run with its journal and breakpoints.
type RunResponse struct {
	*runs.Run
	Journal     []*runs.JournalEntry `json:"journal"`
	Breakpoints []*runs.Breakpoint   `json:"breakpoints"`
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	journal, err := s.store.Journal(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bps, err := s.store.ListBreakpoints(ctx, runs.BreakpointFilter{RunID: id})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, RunResponse{Run: run, Journal: journal, Breakpoints: bps})
}

// handleDeleteRun handles DELETE /api/runs/{id}
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListBreakpoints handles GET /api/breakpoints?status=&run=
func (s *Server) handleListBreakpoints(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := runs.BreakpointStatus(query.Get("status"))
	switch status {
	case "", runs.BreakpointPending, runs.BreakpointApproved, runs.BreakpointRejected:
	default:
		s.writeErrorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status), nil)
		return
	}

	list, err := s.store.ListBreakpoints(r.Context(), runs.BreakpointFilter{
		RunID:  query.Get("run"),
		Status: status,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*runs.Breakpoint{}
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"breakpoints": list})
}

// handleGetBreakpoint handles GET /api/breakpoints/{id}
func (s *Server) handleGetBreakpoint(w http.ResponseWriter, r *http.Request) {
	bp, err := s.store.GetBreakpoint(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, bp)
}

// DecisionRequest is the body of approve and reject requests.
type DecisionRequest struct {
	Response  string `json:"response"`
	DecidedBy string `json:"decidedBy"`
}

// handleDecide handles POST /api/breakpoints/{id}/approve|reject
func (s *Server) handleDecide(status runs.BreakpointStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DecisionRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				s.writeErrorResponse(w, r, http.StatusBadRequest, "invalid request body", err)
				return
			}
		}
		if req.DecidedBy == "" {
			req.DecidedBy = "api"
		}

		bp, err := s.store.DecideBreakpoint(r.Context(), mux.Vars(r)["id"], runs.Decision{
			Status:    status,
			Response:  req.Response,
			DecidedBy: req.DecidedBy,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		logger.G(r.Context()).WithField("breakpoint", bp.ID).WithField("run_id", bp.RunID).
			WithField("status", bp.Status).Info("breakpoint decided")
		s.writeJSONResponse(w, http.StatusOK, bp)
	}
}

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
	}
}

// writeError maps store errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, runs.ErrNotFound), errors.Is(err, process.ErrNotFound):
		s.writeErrorResponse(w, r, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, runs.ErrAlreadyDecided):
		s.writeErrorResponse(w, r, http.StatusConflict, err.Error(), nil)
	default:
		s.writeErrorResponse(w, r, http.StatusInternalServerError, "internal error", err)
	}
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	if err != nil {
		logger.G(r.Context()).WithError(err).Error(message)
	}
	s.writeJSONResponse(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Starting API server on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
