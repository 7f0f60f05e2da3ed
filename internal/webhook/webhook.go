package webhook

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"LunaPayCredit/internal/metrics"
	"LunaPayCredit/internal/models"
	"LunaPayCredit/internal/payments"
	"LunaPayCredit/internal/store"
	"LunaPayCredit/internal/token"
)

// Notification is the provider's form-encoded push for one operation.
type Notification struct {
	NotificationType string
	OperationID      string
	Amount           string
	Currency         string
	Datetime         string
	Sender           string
	Codepro          string
	Label            string
	SHA1Hash         string
}

func parseNotification(form url.Values) Notification {
	return Notification{
		NotificationType: form.Get("notification_type"),
		OperationID:      form.Get("operation_id"),
		Amount:           form.Get("amount"),
		Currency:         form.Get("currency"),
		Datetime:         form.Get("datetime"),
		Sender:           form.Get("sender"),
		Codepro:          form.Get("codepro"),
		Label:            form.Get("label"),
		SHA1Hash:         form.Get("sha1_hash"),
	}
}

// Signature computes the provider's SHA1 checksum over the notification
// fields joined with the shared secret. Field order is fixed by the provider
// protocol.
func Signature(n Notification, secret string) string {
	base := strings.Join([]string{
		n.NotificationType,
		n.OperationID,
		n.Amount,
		n.Currency,
		n.Datetime,
		n.Sender,
		n.Codepro,
		secret,
		n.Label,
	}, "&")
	sum := sha1.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

// verify compares signatures case-insensitively in constant time.
func verify(n Notification, secret string) bool {
	want := Signature(n, secret)
	got := strings.ToLower(n.SHA1Hash)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Lookup is the store surface the handler needs.
type Lookup interface {
	GetIntentByLabel(ctx context.Context, label string) (models.PaymentIntent, error)
}

// Handler acknowledges provider push notifications. The provider retries on
// anything but 200, so every outcome that the sweep can repair later is
// acknowledged; only signature and protocol failures are refused.
type Handler struct {
	lookup    Lookup
	confirmer *payments.Confirmer
	codec     token.Codec
	secret    string
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewHandler(lookup Lookup, confirmer *payments.Confirmer, codec token.Codec, secret string, m *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{
		lookup:    lookup,
		confirmer: confirmer,
		codec:     codec,
		secret:    secret,
		metrics:   m,
		log:       log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.serve(w, r)
	h.metrics.WebhookHandled(strconv.Itoa(status))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) int {
	if h.secret == "" {
		h.log.Error().Msg("webhook secret not configured, refusing notification")
		http.Error(w, "notification secret not configured", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	n := parseNotification(r.PostForm)
	if n.OperationID == "" || n.SHA1Hash == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	if !verify(n, h.secret) {
		h.log.Warn().Str("operation_id", n.OperationID).Msg("webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return http.StatusForbidden
	}

	h.process(r, n)
	w.WriteHeader(http.StatusOK)
	return http.StatusOK
}

// process settles the notification if it points at a known pending intent.
// Failures here are logged and swallowed: the signature checked out, so we
// ack to stop provider retries and let the sweep reconcile the operation.
func (h *Handler) process(r *http.Request, n Notification) {
	if n.Label == "" {
		h.log.Debug().Str("operation_id", n.OperationID).Msg("notification without label, leaving to sweep")
		return
	}

	if _, ok := h.codec.Decode(n.Label); !ok {
		h.log.Debug().Str("operation_id", n.OperationID).Str("label", n.Label).Msg("foreign label, acknowledged")
		return
	}

	ctx := r.Context()
	intent, err := h.lookup.GetIntentByLabel(ctx, n.Label)
	if errors.Is(err, store.ErrNotFound) {
		h.log.Info().
			Str("operation_id", n.OperationID).
			Str("label", n.Label).
			Msg("notification for unknown label, acknowledged")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("operation_id", n.OperationID).Msg("intent lookup failed")
		return
	}

	amount, err := decimal.NewFromString(n.Amount)
	if err != nil {
		h.log.Warn().Str("operation_id", n.OperationID).Str("amount", n.Amount).Msg("unparseable amount")
		return
	}

	_, err = h.confirmer.Confirm(ctx, models.MatchDecision{
		IntentID:      intent.IntentID,
		OperationID:   n.OperationID,
		Confidence:    models.ConfidenceExactToken,
		Amount:        amount,
		ResolvedLabel: n.Label,
	})
	if err != nil {
		h.log.Error().Err(err).Str("intent_id", intent.IntentID).Msg("webhook confirmation failed, sweep will retry")
	}
}
