package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quotewise/backend/internal/services"
)

var webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quotewise_payment_webhook_events_total",
	Help: "Payment provider webhook events by outcome",
}, []string{"outcome"})

// PurchaseProcessor applies a payment provider event to the ledger.
type PurchaseProcessor interface {
	ApplyPurchaseEvent(ctx context.Context, evt services.PurchaseEvent) (*services.ApplyResult, error)
}

// WebhookHandler receives payment provider events. Once the shared token is
// verified, the response is always 200: the provider can't act on anything
// else, retries are already idempotent-safe, and a non-200 would only feed a
// retry storm. Processing errors are logged for manual follow-up.
type WebhookHandler struct {
	Purchases PurchaseProcessor
	AuthToken string
	Logger    *slog.Logger
}

// HandlePaymentEvent handles POST /v1/webhooks/payments.
func (h *WebhookHandler) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var evt services.PurchaseEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		h.Logger.Error("webhook payload unreadable", "error", err)
		webhookEventsTotal.WithLabelValues("malformed").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "malformed"})
		return
	}

	result, err := h.Purchases.ApplyPurchaseEvent(r.Context(), evt)
	if err != nil {
		h.Logger.Error("webhook processing failed", "transaction_id", evt.TransactionID, "event_type", evt.EventType, "error", err)
		webhookEventsTotal.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	webhookEventsTotal.WithLabelValues(result.Outcome).Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": result.Outcome})
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.AuthToken == "" {
		return true
	}
	raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	return subtle.ConstantTimeCompare([]byte(raw), []byte(h.AuthToken)) == 1
}
