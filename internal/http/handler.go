package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"LunaPayCredit/internal/pricing"
	"LunaPayCredit/internal/services"
	"LunaPayCredit/internal/webhook"
)

// CreditsStore exposes user balances for the read endpoint.
type CreditsStore interface {
	UserCredits(ctx context.Context, userID int64) (int64, error)
}

// Handler wires the public payment API.
type Handler struct {
	intents    *services.IntentService
	catalog    *pricing.Catalog
	webhook    *webhook.Handler
	credits    CreditsStore
	registry   *prometheus.Registry
	adminToken string
	log        zerolog.Logger
}

func NewHandler(intents *services.IntentService, catalog *pricing.Catalog, wh *webhook.Handler, credits CreditsStore, registry *prometheus.Registry, adminToken string, log zerolog.Logger) *Handler {
	return &Handler{
		intents:    intents,
		catalog:    catalog,
		webhook:    wh,
		credits:    credits,
		registry:   registry,
		adminToken: adminToken,
		log:        log,
	}
}

func (h *Handler) Routes(webhookPath string) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(h.log))

	r.Get("/health", h.handleHealth)
	if h.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}

	r.Get("/packages", h.handleListPackages)
	r.Post("/payments/intents", h.handleCreateIntent)
	r.Get("/payments/intents/{intentID}", h.handleGetIntent)
	r.Post("/payments/intents/{intentID}/reject", h.requireAdmin(h.handleRejectIntent))
	r.Get("/users/{userID}/credits", h.handleUserCredits)

	r.Post(webhookPath, h.webhook.ServeHTTP)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListPackages(w http.ResponseWriter, r *http.Request) {
	type pkg struct {
		Key     string `json:"key"`
		Title   string `json:"title"`
		Price   string `json:"price"`
		Credits int64  `json:"credits"`
	}
	var out []pkg
	for _, p := range h.catalog.List() {
		out = append(out, pkg{Key: p.Key, Title: p.Title, Price: p.Price.StringFixed(2), Credits: p.Credits})
	}
	writeJSON(w, http.StatusOK, out)
}

type createIntentRequest struct {
	UserID     int64  `json:"user_id"`
	PackageKey string `json:"package_key"`
}

func (h *Handler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.intents.CreateIntent(r.Context(), req.UserID, req.PackageKey)
	switch {
	case errors.Is(err, services.ErrMissingUserID):
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	case errors.Is(err, services.ErrUnknownPackage):
		writeError(w, http.StatusBadRequest, "unknown package")
		return
	case err != nil:
		h.log.Error().Err(err).Msg("create intent failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"intent_id":   created.Intent.IntentID,
		"label":       created.Intent.Label,
		"status":      created.Intent.Status,
		"amount":      created.Intent.RequestedAmount.StringFixed(2),
		"payment_url": created.PaymentURL,
	})
}

func (h *Handler) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentID")
	intent, err := h.intents.GetIntent(r.Context(), intentID)
	if errors.Is(err, services.ErrNotFound) {
		writeError(w, http.StatusNotFound, "intent not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("intent_id", intentID).Msg("get intent failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]interface{}{
		"intent_id":   intent.IntentID,
		"user_id":     intent.UserID,
		"package_key": intent.PackageKey,
		"amount":      intent.RequestedAmount.StringFixed(2),
		"status":      intent.Status,
		"created_at":  intent.CreatedAt,
		"updated_at":  intent.UpdatedAt,
	}
	if intent.OperationID != nil {
		resp["operation_id"] = *intent.OperationID
	}
	if intent.AmountReceived != nil {
		resp["amount_received"] = intent.AmountReceived.StringFixed(2)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRejectIntent(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentID")
	err := h.intents.RejectIntent(r.Context(), intentID)
	if errors.Is(err, services.ErrNotFound) {
		writeError(w, http.StatusNotFound, "intent not found or not pending")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("intent_id", intentID).Msg("reject intent failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *Handler) handleUserCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	credits, err := h.credits.UserCredits(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("read credits failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"credits": credits,
	})
}

// requireAdmin guards operator endpoints with the shared admin token.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled")
			return
		}
		got := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}
