// Package api exposes jobs and stored businesses over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/jobs"
	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

// JobRunner accepts and cancels jobs.
type JobRunner interface {
	Submit(ctx context.Context, jobType model.JobType, params model.JobParameters) (*model.Job, error)
	Cancel(ctx context.Context, id string) error
}

// Store is the read side the handlers need.
type Store interface {
	store.JobStore
	store.BusinessStore
}

// Server holds the handler dependencies.
type Server struct {
	runner         JobRunner
	store          Store
	allowedOrigins []string
	log            *zap.Logger
}

// NewServer creates a Server. allowedOrigins feeds the CORS policy.
func NewServer(runner JobRunner, st Store, allowedOrigins []string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{runner: runner, store: st, allowedOrigins: allowedOrigins, log: log}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.createJob)
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Delete("/{id}", s.cancelJob)
	})

	r.Route("/businesses", func(r chi.Router) {
		r.Get("/", s.listBusinesses)
		r.Get("/count", s.countBusinesses)
		r.Get("/categories", s.listCategories)
		r.Get("/{id}", s.getBusiness)
	})

	r.Get("/dashboard/stats", s.dashboardStats)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeStoreError maps store sentinels to status codes. Anything else is
// logged and reported as a 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, notFound, conflict string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, conflict)
	case errors.Is(err, jobs.ErrInvalidJob):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("api: store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
