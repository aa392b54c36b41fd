package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quotewise/backend/internal/services"
)

type stubProcessor struct {
	result *services.ApplyResult
	err    error
	events []services.PurchaseEvent
}

func (s *stubProcessor) ApplyPurchaseEvent(_ context.Context, evt services.PurchaseEvent) (*services.ApplyResult, error) {
	s.events = append(s.events, evt)
	return s.result, s.err
}

func webhookRequest(body, token string) *http.Request {
	req := httptest.NewRequest("POST", "/v1/webhooks/payments", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestWebhookAppliesEvent(t *testing.T) {
	proc := &stubProcessor{result: &services.ApplyResult{Outcome: services.OutcomeApplied}}
	h := &WebhookHandler{Purchases: proc, AuthToken: "hook-secret", Logger: slog.Default()}

	body := `{"event_type":"INITIAL_PURCHASE","app_user_id":"u1","product_id":"qw_credits_10","transaction_id":"txn-1"}`
	rec := httptest.NewRecorder()
	h.HandlePaymentEvent(rec, webhookRequest(body, "hook-secret"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(proc.events) != 1 || proc.events[0].TransactionID != "txn-1" {
		t.Fatalf("processor saw %+v", proc.events)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != services.OutcomeApplied {
		t.Fatalf("body status = %q, want applied", resp["status"])
	}
}

func TestWebhookRejectsBadToken(t *testing.T) {
	proc := &stubProcessor{result: &services.ApplyResult{Outcome: services.OutcomeApplied}}
	h := &WebhookHandler{Purchases: proc, AuthToken: "hook-secret", Logger: slog.Default()}

	rec := httptest.NewRecorder()
	h.HandlePaymentEvent(rec, webhookRequest(`{}`, "wrong"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandlePaymentEvent(rec, webhookRequest(`{}`, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d, want 401", rec.Code)
	}
	if len(proc.events) != 0 {
		t.Fatal("unauthorized request reached the processor")
	}
}

// Once authenticated, the provider always gets a 200, even when the payload
// is garbage or processing blows up. Anything else triggers retry storms.
func TestWebhookAcknowledgesFailures(t *testing.T) {
	t.Run("malformed payload", func(t *testing.T) {
		h := &WebhookHandler{Purchases: &stubProcessor{}, AuthToken: "hook-secret", Logger: slog.Default()}
		rec := httptest.NewRecorder()
		h.HandlePaymentEvent(rec, webhookRequest(`{{{`, "hook-secret"))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp map[string]string
		decodeBody(t, rec, &resp)
		if resp["status"] != "malformed" {
			t.Fatalf("body status = %q, want malformed", resp["status"])
		}
	})

	t.Run("processing error", func(t *testing.T) {
		proc := &stubProcessor{err: errors.New("database down")}
		h := &WebhookHandler{Purchases: proc, AuthToken: "hook-secret", Logger: slog.Default()}
		rec := httptest.NewRecorder()
		h.HandlePaymentEvent(rec, webhookRequest(`{"event_type":"RENEWAL"}`, "hook-secret"))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp map[string]string
		decodeBody(t, rec, &resp)
		if resp["status"] != "error" {
			t.Fatalf("body status = %q, want error", resp["status"])
		}
	})
}

func TestWebhookOrphanedOutcomePassthrough(t *testing.T) {
	proc := &stubProcessor{result: &services.ApplyResult{Outcome: services.OutcomeOrphaned}}
	h := &WebhookHandler{Purchases: proc, AuthToken: "hook-secret", Logger: slog.Default()}

	body := `{"event_type":"INITIAL_PURCHASE","app_user_id":"unknown","transaction_id":"txn-9"}`
	rec := httptest.NewRecorder()
	h.HandlePaymentEvent(rec, webhookRequest(body, "hook-secret"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != services.OutcomeOrphaned {
		t.Fatalf("body status = %q, want orphaned", resp["status"])
	}
}
