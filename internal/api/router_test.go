package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starterkit-studio/engine/internal/api"
	"github.com/starterkit-studio/engine/internal/api/handlers"
	"github.com/starterkit-studio/engine/internal/config"
	"github.com/starterkit-studio/engine/internal/preview"
	"github.com/starterkit-studio/engine/internal/pricing"
	"github.com/starterkit-studio/engine/internal/store"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{Version: "test"}
	cfg.Preview.Secret = "topsecret"

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{}})
	}))
	t.Cleanup(backend.Close)

	catalog := store.NewMemoryCatalog()
	calc := pricing.NewCalculator(catalog)
	cp := preview.NewControlPlane(backend.URL, "topsecret", 5*time.Second)

	return api.NewRouter(cfg, handlers.New(calc, nil, cp))
}

func TestRouter_HealthIsUnauthenticated(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_InternalRouteRejectsMissingSecret(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodDelete, "/internal/schemas/preview_x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_InternalRouteAcceptsCorrectSecret(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodDelete, "/internal/schemas/preview_x", nil)
	req.Header.Set("X-Internal-Secret", "topsecret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRouter_PreflightBypassesInternalAuth(t *testing.T) {
	r := testRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/internal/schemas/preview_x", nil)
	req.Header.Set("Origin", "https://storefront.example.com")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.NotEqual(t, http.StatusUnauthorized, rec.Code)
}
