// Package core provides the API chassis for the Presto backend. It builds a
// chi router usable both as a plain http.Handler (local dev) and behind the
// AWS Lambda proxy adapter, and applies the cross-cutting concerns --
// recovery, request IDs, logging, identity resolution -- before requests
// reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"presto/internal/auth"
	"presto/internal/config"
)

// RouteRegistrar mounts a handler's routes onto a chi router. Handlers
// expose one of these instead of importing core, which keeps the dependency
// arrow pointing one way.
type RouteRegistrar func(chi.Router)

// Server bundles the chassis dependencies so tests can inject fakes.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Resolver  *auth.Resolver

	// V1Registrars mount under /v1 behind identity resolution.
	V1Registrars []RouteRegistrar
	// V1PublicRegistrars mount under /v1 with no identity middleware
	// (the Stripe webhook, which authenticates by signature instead).
	V1PublicRegistrars []RouteRegistrar

	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer initializes the chassis. Routes are mounted separately via
// MountRoutes so tests can register their own.
func NewServer(cfg *config.Config, resolver *auth.Resolver, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("identity resolver must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		Resolver:  resolver,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for ListenAndServe and the
// Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases chassis-held resources. The database pool and metric
// publisher are owned by cmd/api, which closes them after the HTTP server
// drains.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
