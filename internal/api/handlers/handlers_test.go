package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/starterkit-studio/engine/internal/api/handlers"
	"github.com/starterkit-studio/engine/internal/assembly"
	"github.com/starterkit-studio/engine/internal/pathresolver"
	"github.com/starterkit-studio/engine/internal/preview"
	"github.com/starterkit-studio/engine/internal/pricing"
	"github.com/starterkit-studio/engine/internal/store"
	"github.com/starterkit-studio/engine/pkg/models"
)

func seededCatalog() *store.MemoryCatalog {
	c := store.NewMemoryCatalog()
	c.SeedTier(models.PricingTier{Slug: "starter", Name: "Starter", Price: 4900, IsActive: true})
	c.SeedFeature(models.Feature{Slug: "billing", Name: "Billing", Price: 3000})
	return c
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newTestHandlers(t *testing.T) *handlers.Handlers {
	t.Helper()
	catalog := seededCatalog()

	projectRoot := t.TempDir()
	coreBase := filepath.Join(projectRoot, "core")
	writeFile(t, coreBase, "backend/package.json", `{"name":"base","version":"0.1.0","scripts":{},"dependencies":{},"devDependencies":{},"peerDependencies":{}}`)
	writeFile(t, coreBase, "prisma/schema.prisma", "model User {\n  id String @id\n}\n")

	engine := assembly.NewEngine(catalog, pathresolver.Roots{ProjectRoot: projectRoot, CoreBase: coreBase})
	calc := pricing.NewCalculator(catalog)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"schemaName": "preview_x"}})
	}))
	t.Cleanup(backend.Close)
	cp := preview.NewControlPlane(backend.URL, "shh", 5*time.Second)

	return handlers.New(calc, engine, cp)
}

func TestPriceOrder_HappyPath(t *testing.T) {
	h := newTestHandlers(t)
	body := bytes.NewBufferString(`{"tier":"starter","selectedFeatures":["billing"]}`)
	req := httptest.NewRequest(http.MethodPost, "/orders/price", body)
	rec := httptest.NewRecorder()

	h.PriceOrder(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var totals models.Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &totals))
	require.Equal(t, int64(7900), totals.Total)
}

func TestPriceOrder_InvalidTierReturns422(t *testing.T) {
	h := newTestHandlers(t)
	body := bytes.NewBufferString(`{"tier":"does-not-exist"}`)
	req := httptest.NewRequest(http.MethodPost, "/orders/price", body)
	rec := httptest.NewRecorder()

	h.PriceOrder(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPriceOrder_BadJSONReturns400(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/orders/price", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()

	h.PriceOrder(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateOrder_StreamsZipWithStatus200(t *testing.T) {
	h := newTestHandlers(t)
	orderBody, err := json.Marshal(models.Order{Tier: "starter", SelectedFeatures: []string{"billing"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/orders/SK-1/generate", bytes.NewReader(orderBody))
	rtx := chi.NewRouteContext()
	rtx.URLParams.Add("orderNumber", "SK-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rtx))
	rec := httptest.NewRecorder()

	h.GenerateOrder(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "SK-1.zip")
	require.NotZero(t, rec.Body.Len())
}

func TestProvisionPreview_MintsTokenWhenAbsent(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/internal/sessions//provision", bytes.NewBufferString(`{"tier":"starter"}`))
	rtx := chi.NewRouteContext()
	rtx.URLParams.Add("sessionToken", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rtx))
	rec := httptest.NewRecorder()

	h.ProvisionPreview(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var sess models.PreviewSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.SessionToken)
	require.Equal(t, "preview_x", sess.SchemaName)
}
