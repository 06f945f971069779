// Package handlers adapts the in-process engine packages (pricing,
// assembly, preview) to HTTP. Every handler here is a thin decode/call/
// encode wrapper — the actual logic lives in the packages it calls, each
// of which is independently callable without going through HTTP at all.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/starterkit-studio/engine/internal/assembly"
	"github.com/starterkit-studio/engine/internal/pricing"
	"github.com/starterkit-studio/engine/internal/preview"
	"github.com/starterkit-studio/engine/internal/resolver"
	"github.com/starterkit-studio/engine/pkg/models"
)

// Handlers holds the engine components the HTTP adapter dispatches into.
type Handlers struct {
	Pricing  *pricing.Calculator
	Assembly *assembly.Engine
	Preview  *preview.ControlPlane
}

func New(p *pricing.Calculator, a *assembly.Engine, cp *preview.ControlPlane) *Handlers {
	return &Handlers{Pricing: p, Assembly: a, Preview: cp}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// ── Pricing ──────────────────────────────────────────────────

type priceRequest struct {
	Tier             string   `json:"tier"`
	SelectedFeatures []string `json:"selectedFeatures"`
	CouponCode       string   `json:"couponCode,omitempty"`
}

// PriceOrder computes order totals for a candidate tier/feature selection,
// without generating anything. The storefront calls this on every cart
// change, at order time; the Assembly Engine does not read the totals back
// when it generates the order.
func (h *Handlers) PriceOrder(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	totals, err := h.Pricing.Calculate(r.Context(), req.Tier, req.SelectedFeatures, req.CouponCode)
	if err != nil {
		var tierErr *pricing.InvalidTierError
		if errors.As(err, &tierErr) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_tier", err.Error())
			return
		}
		log.Error().Err(err).Msg("pricing calculation failed")
		writeError(w, http.StatusInternalServerError, "pricing_failed", "could not price order")
		return
	}

	writeJSON(w, http.StatusOK, totals)
}

// ── Assembly ─────────────────────────────────────────────────

// GenerateOrder streams the assembled project ZIP for a fully-formed order.
// Order persistence is an external concern (the storefront/payment layer);
// the caller supplies the complete order document in the request body and
// this handler only orchestrates generation against it.
func (h *Handlers) GenerateOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	var order models.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	order.OrderNumber = orderNumber

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+orderNumber+`.zip"`)

	warnings, err := h.Assembly.Generate(r.Context(), &order, w)
	if err != nil {
		var cycleErr *resolver.CatalogCycleError
		var tierErr *pricing.InvalidTierError
		switch {
		case errors.As(err, &cycleErr), errors.As(err, &tierErr):
			writeError(w, http.StatusUnprocessableEntity, "generation_rejected", err.Error())
		default:
			log.Error().Err(err).Str("order", orderNumber).Msg("assembly generation failed")
			writeError(w, http.StatusInternalServerError, "generation_failed", "could not generate project")
		}
		return
	}

	for _, wrn := range warnings {
		log.Warn().Str("order", orderNumber).Str("kind", wrn.Kind).Str("message", wrn.Message).Msg("assembly warning")
	}
}

// ── Preview Control Plane ───────────────────────────────────

type provisionRequest struct {
	Features []string `json:"features"`
	Tier     string   `json:"tier"`
}

// ProvisionPreview starts (or restarts, after a prior failure) a preview
// session. A session token is minted when the caller does not already hold
// one from an earlier provision attempt.
func (h *Handlers) ProvisionPreview(w http.ResponseWriter, r *http.Request) {
	sessionToken := chi.URLParam(r, "sessionToken")
	if sessionToken == "" {
		sessionToken = uuid.NewString()
	}

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	sess, err := h.Preview.Provision(r.Context(), sessionToken, req.Features, req.Tier)
	if err != nil {
		var txErr *preview.TransportError
		if errors.As(err, &txErr) {
			writeError(w, http.StatusBadGateway, "preview_backend_unreachable", err.Error())
			return
		}
		writeError(w, http.StatusConflict, "provision_rejected", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// InvalidateSession tears down a ready preview session. Failures against
// the backend never surface here — invalidation is a non-critical side
// effect, so this always returns 202 once accepted.
func (h *Handlers) InvalidateSession(w http.ResponseWriter, r *http.Request) {
	sessionToken := chi.URLParam(r, "sessionToken")
	h.Preview.Invalidate(r.Context(), sessionToken)
	w.WriteHeader(http.StatusAccepted)
}

// DropSchema deletes a provisioned preview schema. Best-effort, same as
// InvalidateSession.
func (h *Handlers) DropSchema(w http.ResponseWriter, r *http.Request) {
	schemaName := chi.URLParam(r, "schemaName")
	h.Preview.Drop(r.Context(), schemaName)
	w.WriteHeader(http.StatusAccepted)
}
