package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quotewise/backend/internal/middleware"
	"github.com/quotewise/backend/internal/services"
)

var (
	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotewise_credit_reservations_total",
		Help: "Reserve attempts by outcome",
	}, []string{"outcome"})

	finalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotewise_credit_finalizations_total",
		Help: "Finalize/rollback submissions by outcome",
	}, []string{"outcome"})

	aiCallLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quotewise_ai_call_latency_seconds",
		Help:    "Client-reported AI call latency at finalize time",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
	})
)

// CreditEngine is the reservation protocol surface the handler needs.
type CreditEngine interface {
	Reserve(ctx context.Context, userID, requestID uuid.UUID, meta services.ReservationMeta) (*services.ReserveResult, error)
	Finalize(ctx context.Context, requestID uuid.UUID, latencyMs *int) (*services.FinalizeResult, error)
	Rollback(ctx context.Context, requestID uuid.UUID, reason string) (*services.FinalizeResult, error)
}

// StatusProjector assembles the read-only credit status view.
type StatusProjector interface {
	Project(ctx context.Context, userID uuid.UUID) (*services.StatusView, error)
}

// CreditsHandler serves /v1/credits endpoints.
type CreditsHandler struct {
	Credits CreditEngine
	Status  StatusProjector
	Logger  *slog.Logger
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// --- POST /v1/credits/reserve ---

type reserveRequest struct {
	RequestID   string  `json:"request_id"`
	ProjectType *string `json:"project_type,omitempty"`
	CountryCode *string `json:"country_code,omitempty"`
}

type reserveResponse struct {
	RequestID       string `json:"request_id"`
	CreditsBalance  int    `json:"credits_balance"`
	CreditsReserved int    `json:"credits_reserved"`
}

// Reserve handles POST /v1/credits/reserve. The client supplies a fresh
// request id (one is generated when absent) and gets the wallet state after
// the hold. Re-sending a request id returns the prior reservation with 200
// instead of 201; the wallet is charged once either way.
func (h *CreditsHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	requestID := uuid.New()
	if req.RequestID != "" {
		parsed, err := uuid.Parse(req.RequestID)
		if err != nil {
			http.Error(w, `{"error":"invalid request_id"}`, http.StatusBadRequest)
			return
		}
		requestID = parsed
	}

	result, err := h.Credits.Reserve(r.Context(), user.ID, requestID, services.ReservationMeta{
		ProjectType: req.ProjectType,
		CountryCode: req.CountryCode,
	})
	if err != nil {
		h.writeReserveError(w, err)
		return
	}

	status := http.StatusCreated
	outcome := "reserved"
	if result.Duplicate {
		status = http.StatusOK
		outcome = "duplicate"
	}
	reservationsTotal.WithLabelValues(outcome).Inc()

	writeJSON(w, status, reserveResponse{
		RequestID:       result.Reservation.RequestID.String(),
		CreditsBalance:  result.Wallet.CreditsBalance,
		CreditsReserved: result.Wallet.CreditsReserved,
	})
}

func (h *CreditsHandler) writeReserveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAccountSuspended):
		reservationsTotal.WithLabelValues("suspended").Inc()
		writeError(w, http.StatusForbidden, "ACCOUNT_SUSPENDED", "account is suspended")
	case errors.Is(err, services.ErrDailyLimitReached):
		reservationsTotal.WithLabelValues("limit").Inc()
		writeError(w, http.StatusTooManyRequests, "DAILY_LIMIT_REACHED", "daily AI call limit reached")
	case errors.Is(err, services.ErrInsufficientCredits):
		reservationsTotal.WithLabelValues("insufficient").Inc()
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "not enough credits")
	case errors.Is(err, services.ErrUserNotFound):
		reservationsTotal.WithLabelValues("unknown_user").Inc()
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "unknown user")
	default:
		// Maintenance mode and transient storage errors surface the same
		// way: retry later with the same request id.
		reservationsTotal.WithLabelValues("unavailable").Inc()
		if !errors.Is(err, services.ErrServiceUnavailable) {
			h.Logger.Error("reserve failed", "error", err)
		}
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service temporarily unavailable")
	}
}

// --- POST /v1/credits/finalize ---

type finalizeRequest struct {
	RequestID   string `json:"request_id"`
	Success     bool   `json:"success"`
	LatencyMs   *int   `json:"latency_ms,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
}

type finalizeResponse struct {
	OK              bool `json:"ok"`
	CreditsBalance  int  `json:"credits_balance"`
	CreditsReserved int  `json:"credits_reserved"`
}

// Finalize handles POST /v1/credits/finalize. A successful AI call consumes
// the reserved credit; a reported failure refunds it via rollback. Both
// paths are idempotent on retry.
func (h *CreditsHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		http.Error(w, `{"error":"invalid request_id"}`, http.StatusBadRequest)
		return
	}

	var result *services.FinalizeResult
	if req.Success {
		result, err = h.Credits.Finalize(r.Context(), requestID, req.LatencyMs)
		if err == nil && req.LatencyMs != nil {
			aiCallLatency.Observe(float64(*req.LatencyMs) / 1000)
		}
	} else {
		reason := req.ErrorReason
		if reason == "" {
			reason = "ai_call_failed"
		}
		result, err = h.Credits.Rollback(r.Context(), requestID, reason)
	}
	if err != nil {
		h.writeFinalizeError(w, err)
		return
	}

	outcome := "finalized"
	if !req.Success {
		outcome = "rolled_back"
	}
	if result.AlreadyApplied {
		outcome = "replayed"
	}
	finalizationsTotal.WithLabelValues(outcome).Inc()

	writeJSON(w, http.StatusOK, finalizeResponse{
		OK:              true,
		CreditsBalance:  result.Wallet.CreditsBalance,
		CreditsReserved: result.Wallet.CreditsReserved,
	})
}

func (h *CreditsHandler) writeFinalizeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReservationNotFound):
		finalizationsTotal.WithLabelValues("not_found").Inc()
		writeError(w, http.StatusNotFound, "RESERVATION_NOT_FOUND", "unknown request id")
	case errors.Is(err, services.ErrAlreadyCompleted):
		finalizationsTotal.WithLabelValues("conflict").Inc()
		writeError(w, http.StatusConflict, "ALREADY_COMPLETED", "reservation was already finalized")
	case errors.Is(err, services.ErrAlreadyRolledBack):
		finalizationsTotal.WithLabelValues("conflict").Inc()
		writeError(w, http.StatusConflict, "ALREADY_ROLLED_BACK", "reservation was already rolled back")
	default:
		finalizationsTotal.WithLabelValues("unavailable").Inc()
		h.Logger.Error("finalize failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service temporarily unavailable")
	}
}

// --- GET /v1/credits/status ---

// GetStatus handles GET /v1/credits/status.
func (h *CreditsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	view, err := h.Status.Project(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "unknown user")
			return
		}
		h.Logger.Error("status projection failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- helpers ---

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
