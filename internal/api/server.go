package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/ragserve/internal/backend"
	"github.com/seantiz/ragserve/internal/cache"
	"github.com/seantiz/ragserve/internal/engine"
	"github.com/seantiz/ragserve/internal/router"
	"github.com/seantiz/ragserve/internal/store"
	"github.com/seantiz/ragserve/internal/trace"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxBodySize       = 1 << 20 // 1 MB
)

// Options holds the server's dependencies. Cache, Broker and Registry are
// optional.
type Options struct {
	Addr      string
	Router    *router.Router
	Store     store.Store
	Cache     cache.Cache
	Broker    *engine.JobBroker
	Registry  *backend.Registry
	Generator backend.Info
	Deadline  time.Duration
	Logger    *slog.Logger
}

// Server wraps the chi router and application dependencies.
type Server struct {
	mux       *chi.Mux
	router    *router.Router
	store     store.Store
	cache     cache.Cache
	broker    *engine.JobBroker
	registry  *backend.Registry
	generator backend.Info
	logger    *slog.Logger
	addr      string

	// writeTimeout leaves room past the answer deadline to write the reply.
	writeTimeout time.Duration
}

// NewServer creates and configures a new HTTP server.
func NewServer(o Options) *Server {
	deadline := o.Deadline
	if deadline <= 0 {
		deadline = engine.DefaultDeadline
	}
	srv := &Server{
		mux:          chi.NewRouter(),
		router:       o.Router,
		store:        o.Store,
		cache:        o.Cache,
		broker:       o.Broker,
		registry:     o.Registry,
		generator:    o.Generator,
		logger:       o.Logger,
		addr:         o.Addr,
		writeTimeout: deadline + 10*time.Second,
	}

	srv.mux.Use(middleware.RequestID)
	srv.mux.Use(trace.Middleware)
	srv.mux.Use(middleware.Recoverer)
	srv.mux.Use(srv.loggingMiddleware)
	srv.mux.Use(metricsMiddleware)
	srv.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", trace.Header},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.mux.Get("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", metricsHandler())

	s.mux.Post("/ask", s.handleAsk)
	s.mux.Route("/status/{task_id}", func(r chi.Router) {
		r.Get("/", s.handleGetStatus)
		r.Get("/events", s.handleStreamEvents)
	})

	s.mux.Get("/v1/traces/{trace_id}", s.handleGetTrace)
	s.mux.Get("/v1/backends", s.handleListBackends)
	s.mux.Get("/v1/stats", s.handleGetStats)
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.mux
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr, "mode", s.router.Mode())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		trace.Logger(r.Context(), s.logger).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Detail  string `json:"detail"`
	TraceID string `json:"trace_id"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response carrying the request's trace id.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail, TraceID: trace.FromContext(r.Context())})
}
