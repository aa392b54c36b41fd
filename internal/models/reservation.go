package models

import (
	"time"

	"github.com/google/uuid"
)

// Reservation status values. A reservation moves pending -> completed or
// pending -> rolled_back exactly once; terminal rows are never updated again.
const (
	ReservationPending    = "pending"
	ReservationCompleted  = "completed"
	ReservationRolledBack = "rolled_back"
)

// Reservation holds one credit against one in-flight AI call, keyed by the
// caller-generated request id.
type Reservation struct {
	RequestID    uuid.UUID  `json:"request_id"`
	UserID       uuid.UUID  `json:"user_id"`
	Status       string     `json:"status"`
	ProjectType  *string    `json:"project_type,omitempty"`
	CountryCode  *string    `json:"country_code,omitempty"`
	LatencyMs    *int       `json:"latency_ms,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the reservation is in a final state.
func (r *Reservation) Terminal() bool {
	return r.Status == ReservationCompleted || r.Status == ReservationRolledBack
}
