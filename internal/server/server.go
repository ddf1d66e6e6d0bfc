// Package server is the composition root: it opens storage, builds the auth
// components, mounts the routes and runs the HTTP server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sakif/matcha/internal/auth"
	"github.com/sakif/matcha/internal/config"
	"github.com/sakif/matcha/internal/handler"
	"github.com/sakif/matcha/internal/metrics"
	"github.com/sakif/matcha/internal/middleware"
	"github.com/sakif/matcha/internal/service"
	"github.com/sakif/matcha/internal/storage"
)

// Server owns the router and the storage backend. The backend is closed by
// Close, or by Start when it returns.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	store    storage.Backend
	registry *prometheus.Registry
}

// New opens storage and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("server: opening storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		store:    store,
		registry: reg,
	}
	s.setupRoutes(tokens, metrics.New(reg))

	return s, nil
}

// setupRoutes mounts middleware and handlers.
//
//	GET  /health              liveness + DB ping
//	GET  /metrics             Prometheus exposition
//	POST /api/auth/register
//	POST /api/auth/login
//	POST /api/auth/logout
//	GET  /api/auth/session    best-effort session
//	GET  /api/me              mandatory session
//	POST /api/me/password     mandatory session
func (s *Server) setupRoutes(tokens *auth.TokenService, m *metrics.Metrics) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	authService := service.NewAuthService(s.store, tokens, auth.NewPasswordService(), s.logger, m)
	resolver := auth.NewSessionResolver(tokens, s.store, s.logger, m, s.config.DBTimeout)
	cookies := auth.CookiePolicy{Secure: s.config.SecureCookies(), MaxAge: tokens.TTL()}

	authHandler := handler.NewAuthHandler(authService, cookies, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	s.router.Get("/health", healthHandler.HandleHealth)
	s.router.Handle("/metrics", metrics.Handler(s.registry))

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
			r.With(resolver.Optional).Get("/session", authHandler.HandleSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(resolver.Require)
			r.Get("/me", authHandler.HandleMe)
			r.Post("/me/password", authHandler.HandleChangePassword)
		})
	})
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the storage backend.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start serves until ctx is cancelled, then drains in-flight requests for up
// to ShutdownTimeout and closes storage.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("environment", string(s.config.Environment)),
			slog.String("driver", s.config.DBDriver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
