// Package server exposes the schedulability analysis over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jlelli/rt-audit/internal/config"
	"github.com/jlelli/rt-audit/internal/history"
	"github.com/jlelli/rt-audit/internal/report"
)

// ReportStore persists analysed reports. *history.Store implements it.
type ReportStore interface {
	Save(ctx context.Context, r *report.Report) error
	Get(ctx context.Context, id string) (*report.Report, error)
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server is the rt-audit REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	analysis  report.Config
	store     ReportStore // nil disables /reports and persistence
	limiter   *rate.Limiter
	startTime time.Time
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore persists every analysed report and enables the /reports routes.
func WithStore(st ReportStore) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithAnalysis sets the defaults applied to every analysis request.
func WithAnalysis(cfg report.Config) Option {
	return func(s *Server) {
		s.analysis = cfg
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.With(rateLimitMiddleware(s.limiter)).Post("/analyze", s.handleAnalyze)
		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{id}", s.handleGetReport)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
