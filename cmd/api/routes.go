package main

import (
	"net/http"

	"github.com/quotewise/backend/internal/auth"
	"github.com/quotewise/backend/internal/handlers"
)

// RegisterRoutes mounts the API.
// Middleware chain for /v1/credits: BearerAuth -> handler. The payment
// webhook authenticates with its own shared token, not a user session.
func RegisterRoutes(
	mux *http.ServeMux,
	authHandler *auth.Handler,
	creditsHandler *handlers.CreditsHandler,
	webhookHandler *handlers.WebhookHandler,
	authMW func(http.Handler) http.Handler,
) {
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.Handle("POST /v1/credits/reserve", authMW(http.HandlerFunc(creditsHandler.Reserve)))
	mux.Handle("POST /v1/credits/finalize", authMW(http.HandlerFunc(creditsHandler.Finalize)))
	mux.Handle("GET /v1/credits/status", authMW(http.HandlerFunc(creditsHandler.GetStatus)))

	mux.HandleFunc("POST /v1/webhooks/payments", webhookHandler.HandlePaymentEvent)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
