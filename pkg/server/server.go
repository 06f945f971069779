// Package server provides the public entry point for initializing the
// starter-kit studio engine.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"

	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/starterkit-studio/engine/internal/api"
	"github.com/starterkit-studio/engine/internal/api/handlers"
	"github.com/starterkit-studio/engine/internal/assembly"
	"github.com/starterkit-studio/engine/internal/config"
	"github.com/starterkit-studio/engine/internal/pathresolver"
	"github.com/starterkit-studio/engine/internal/preview"
	"github.com/starterkit-studio/engine/internal/pricing"
	"github.com/starterkit-studio/engine/internal/store"
	"github.com/starterkit-studio/engine/internal/telemetry"
)

// Server holds the initialized studio engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Catalog is the data store backing the Feature Resolver, Pricing
	// Calculator, and Assembly Engine. Exposed so callers can close it or
	// swap it out in tests.
	Catalog store.CatalogReader

	// Assembly is the generation engine, independently callable without
	// going through HTTP at all.
	Assembly *assembly.Engine

	// Pricing is the order totals calculator.
	Pricing *pricing.Calculator

	// Preview is the ephemeral preview schema control plane.
	Preview *preview.ControlPlane

	Config *config.Config
	Port   int

	shutdownTelemetry func(context.Context) error
}

// New initializes all studio engine components from environment
// configuration and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()
	if cfg.Preview.BackendURL != "" && cfg.Preview.Secret == "" {
		return nil, fmt.Errorf("server: INTERNAL_API_SECRET is required when PREVIEW_BACKEND_URL is set")
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the engine with an explicit configuration. The
// catalog reader is always Postgres-backed, connecting to
// cfg.Database.URL; callers that want an in-memory catalog (tests, local
// smoke runs) should build one directly and call NewWithCatalog instead.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	catalog, err := store.NewPostgresCatalog(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("server: init catalog: %w", err)
	}
	log.Info().Msg("catalog store initialized (postgres)")

	return NewWithCatalog(ctx, cfg, catalog)
}

// NewWithCatalog initializes the engine against a caller-provided catalog
// reader. The returned Server's Shutdown closes that catalog.
func NewWithCatalog(ctx context.Context, cfg *config.Config, catalog store.CatalogReader) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("server: init telemetry: %w", err)
	}

	roots := pathresolver.Roots{
		ProjectRoot: cfg.Assembly.ProjectRoot,
		CoreBase:    cfg.Assembly.CoreBase,
	}

	pricingCalc := pricing.NewCalculator(catalog)
	assemblyEngine := assembly.NewEngine(catalog, roots)
	previewCP := preview.NewControlPlane(cfg.Preview.BackendURL, cfg.Preview.Secret, cfg.Preview.Timeout)

	h := handlers.New(pricingCalc, assemblyEngine, previewCP)
	router := api.NewRouter(cfg, h)

	log.Info().Msg("pricing calculator initialized")
	log.Info().Msg("assembly engine initialized")
	log.Info().Msg("preview control plane initialized")

	return &Server{
		Handler:           router,
		Catalog:           catalog,
		Assembly:          assemblyEngine,
		Pricing:           pricingCalc,
		Preview:           previewCP,
		Config:            cfg,
		Port:              cfg.Port,
		shutdownTelemetry: shutdown,
	}, nil
}

// Shutdown flushes telemetry and closes the catalog. Should be called on
// graceful shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Catalog != nil {
		_ = s.Catalog.Close()
	}
	if s.shutdownTelemetry != nil {
		return s.shutdownTelemetry(ctx)
	}
	return nil
}
