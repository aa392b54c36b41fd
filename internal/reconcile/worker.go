package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/quotewise/backend/internal/services"
)

// ReasonTimeout marks reservations rolled back by the sweep rather than the
// client.
const ReasonTimeout = "reservation_timeout"

const sweepBatchSize = 100

// SweepArgs is the periodic job that reclaims credits parked in reservations
// whose caller never reported back (app killed mid-call, network drop).
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "reservation_sweep" }

// StalePendingLister returns reservations pending longer than the cutoff.
type StalePendingLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// CreditRoller is the rollback side of the reservation protocol.
type CreditRoller interface {
	Rollback(ctx context.Context, requestID uuid.UUID, reason string) (*services.FinalizeResult, error)
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	reservations StalePendingLister
	credits      CreditRoller
	pendingMax   time.Duration
	log          *slog.Logger
}

func NewSweepWorker(reservations StalePendingLister, credits CreditRoller, pendingMax time.Duration, log *slog.Logger) *SweepWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SweepWorker{reservations: reservations, credits: credits, pendingMax: pendingMax, log: log}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	cutoff := time.Now().Add(-w.pendingMax)
	ids, err := w.reservations.ListStalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return err
	}

	swept := 0
	for _, id := range ids {
		_, err := w.credits.Rollback(ctx, id, ReasonTimeout)
		switch {
		case err == nil:
			swept++
		case errors.Is(err, services.ErrAlreadyCompleted), errors.Is(err, services.ErrAlreadyRolledBack), errors.Is(err, services.ErrReservationNotFound):
			// The client raced the sweep and won; nothing to reclaim.
		default:
			return err
		}
	}

	if swept > 0 {
		w.log.Info("swept stale reservations", "count", swept, "pending_max", w.pendingMax)
	}
	return nil
}
