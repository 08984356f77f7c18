package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tpr-labs/nriy/internal/execution"
	"github.com/tpr-labs/nriy/internal/metrics"
	"github.com/tpr-labs/nriy/internal/registry"
)

const maxBodyBytes = 1 << 20

// StageRunner starts a registered stage and waits for its terminal result.
type StageRunner interface {
	Execute(ctx context.Context, stage string, payload json.RawMessage) (json.RawMessage, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Server struct {
	registry *registry.Registry
	stages   StageRunner
	metrics  *metrics.Metrics
	logger   *slog.Logger
	checks   map[string]Check
	executor execution.Executor
}

type Option func(*Server)

// WithReadinessCheck adds a dependency probed by /ready.
func WithReadinessCheck(name string, check Check) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExecutor sets the executor used for in-process activity calls. Its
// Observe hook is replaced by the activity metrics observer.
func WithExecutor(exec execution.Executor) Option {
	return func(s *Server) {
		s.executor = exec
	}
}

func NewServer(reg *registry.Registry, stages StageRunner, m *metrics.Metrics, opts ...Option) *Server {
	if m == nil {
		m = metrics.New()
	}
	server := &Server{
		registry: reg,
		stages:   stages,
		metrics:  m,
		logger:   slog.Default(),
		checks:   map[string]Check{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/stages/{name}", s.runStage)
	r.Get("/stages", s.listStages)
	r.Post("/activities/{name}", s.runActivity)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	if method != http.MethodGet {
		return false
	}
	switch strings.TrimSpace(path) {
	case "/health", "/ready", "/metrics":
		return true
	}
	return false
}

func (s *Server) runStage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	payload, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	started := time.Now()
	result, err := s.stages.Execute(r.Context(), name, payload)
	outcome := "ok"
	if err != nil {
		outcome = string(execution.KindOf(err))
	}
	if _, known := s.registry.ResolveWorkflow(name); known == nil {
		s.metrics.ObserveStage(name, outcome, time.Since(started))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSONStatus(w, result, http.StatusOK)
}

func (s *Server) runActivity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	unit, err := s.registry.ResolveActivity(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	exec := s.executor
	exec.Observe = s.metrics.ActivityObserver(name)
	result, err := unit.Invoke(r.Context(), exec, payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSONStatus(w, result, http.StatusOK)
}

func (s *Server) listStages(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, s.registry.Names(), http.StatusOK)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			subsystems[name] = subsystemStatus{Status: "error", Error: err.Error()}
			overall = http.StatusServiceUnavailable
			continue
		}
		subsystems[name] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func readBody(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, execution.Validation("request", "read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, execution.Validation("request", "body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StatusFor maps an error kind to the trigger's HTTP status.
func StatusFor(kind execution.Kind) int {
	switch kind {
	case execution.KindValidation:
		return http.StatusBadRequest
	case execution.KindNotFound:
		return http.StatusNotFound
	case execution.KindTimeout:
		return http.StatusGatewayTimeout
	case execution.KindRetriesExhausted, execution.KindUpstreamRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := execution.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("trigger request failed", "kind", kind, "error", err)
	}
	writeJSONStatus(w, errorResponse{Error: err.Error(), Kind: string(kind)}, status)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}
