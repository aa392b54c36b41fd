package services

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReservationCounter counts reservations created at or after a point in time.
type ReservationCounter interface {
	CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

// QuotaService counts a user's AI-call attempts in the current UTC day.
// Pending and completed reservations both count; a rolled-back attempt hands
// its quota unit back, mirroring the credit refund. The count is consulted
// only at reserve time.
type QuotaService struct {
	reservations ReservationCounter
	now          func() time.Time
}

func NewQuotaService(reservations ReservationCounter) *QuotaService {
	return &QuotaService{reservations: reservations, now: time.Now}
}

func (s *QuotaService) UsageToday(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.reservations.CountSince(ctx, userID, StartOfUTCDay(s.now()))
}
