package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/starterkit-studio/engine/internal/api/handlers"
	"github.com/starterkit-studio/engine/internal/api/middleware"
	"github.com/starterkit-studio/engine/internal/config"
)

// NewRouter builds the HTTP adapter: health/version, the pricing and
// generation entry points the storefront calls, and the Preview Control
// Plane's inbound routes, guarded by a shared-secret check. Everything
// here is a thin dispatch layer — see internal/api/handlers.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	corsOrigins := parseCORSOrigins(cfg.Assembly.CORSOrigin)
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", "X-Internal-Secret"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	internalAuth := middleware.NewInternalAuth(cfg.Preview.Secret)
	r.Use(internalAuth.Handler)

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/orders", func(r chi.Router) {
		r.Post("/price", h.PriceOrder)
		r.Post("/{orderNumber}/generate", h.GenerateOrder)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Route("/sessions/{sessionToken}", func(r chi.Router) {
			r.Post("/provision", h.ProvisionPreview)
			r.Post("/invalidate", h.InvalidateSession)
		})
		r.Delete("/schemas/{schemaName}", h.DropSchema)
	})

	return r
}

// parseCORSOrigins splits a comma-separated origin list; an empty or "*"
// value means wildcard, which forces AllowCredentials off above.
func parseCORSOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "starterkit-studio-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "starterkit-studio-engine",
		})
	}
}
