package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/dispatcher"
	"github.com/JakeFAU/listing-enricher/internal/metrics"
	"github.com/JakeFAU/listing-enricher/internal/progress/sinks"
	"github.com/JakeFAU/listing-enricher/internal/storage"
	"github.com/JakeFAU/listing-enricher/internal/store"
)

// Launcher admits and cancels runs.
type Launcher interface {
	Start() (string, error)
	Current() (string, bool)
	Cancel(runID string) error
}

// StatusSource exposes the live view of the latest run.
type StatusSource interface {
	Snapshot() sinks.Snapshot
}

// Check reports whether a downstream is usable.
type Check func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	ArchivePrefix  string
	// Metrics serves /metrics; nil uses the default Prometheus handler.
	Metrics http.Handler
	// Ready is consulted by /readyz, keyed by downstream name.
	Ready map[string]Check
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	launcher Launcher
	status   StatusSource
	runs     *RunsHandler
	archive  storage.BlobStore
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs, status and
// archive may be nil; their routes then answer 503.
func NewServer(
	launcher Launcher,
	status StatusSource,
	runs store.RunRepository,
	archive storage.BlobStore,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.ArchivePrefix == "" {
		opts.ArchivePrefix = "runs"
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Handler()
	}
	s := &Server{
		launcher: launcher,
		status:   status,
		runs:     NewRunsHandler(runs, logger),
		archive:  archive,
		opts:     opts,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", opts.Metrics)

	r.Route("/v1/runs", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/", s.startRun)
		r.Get("/", s.runs.ListRuns)
		r.Get("/current", s.currentRun)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", s.runs.GetRun)
			r.Post("/cancel", s.cancelRun)
			r.Get("/items", s.runs.ListRunItems)
			r.Get("/items/{asin}/record", s.itemRecord)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failing := map[string]string{}
	for name, check := range s.opts.Ready {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	runID, err := s.launcher.Start()
	switch {
	case errors.Is(err, dispatcher.ErrBusy):
		current, _ := s.launcher.Current()
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "run_id": current})
		return
	case errors.Is(err, dispatcher.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) currentRun(w http.ResponseWriter, _ *http.Request) {
	runID, active := s.launcher.Current()
	resp := map[string]any{"active": active, "run_id": runID}
	if s.status != nil {
		resp["status"] = s.status.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.launcher.Cancel(runID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "canceling"})
}

func (s *Server) itemRecord(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "item archive unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := parseASIN(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := s.archive.GetObject(r.Context(), storage.ItemKey(s.opts.ArchivePrefix, runID, id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "item record not found")
			return
		}
		s.logger.Error("load item record failed", zap.String("run_id", runID), zap.String("asin", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load item record")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write item record failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
