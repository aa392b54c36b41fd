package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quotewise/backend/internal/models"
	"github.com/quotewise/backend/internal/repository"
)

// Policy errors returned synchronously to the caller. None of them are
// retried by this layer; the caller decides.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAccountSuspended    = errors.New("account suspended")
	ErrDailyLimitReached   = errors.New("daily limit reached")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAlreadyCompleted    = errors.New("reservation already completed")
	ErrAlreadyRolledBack   = errors.New("reservation already rolled back")
	ErrServiceUnavailable  = errors.New("service unavailable")
)

// AvailabilityGate is the externally-owned kill switch consulted before a new
// reservation. Maintenance mode flips it off without touching the ledger.
type AvailabilityGate interface {
	Available(ctx context.Context) bool
}

// StaticGate is an AvailabilityGate fixed at startup from config.
type StaticGate bool

func (g StaticGate) Available(context.Context) bool { return bool(g) }

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserStore is the minimal user lookup the credit engine needs.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// WalletStore performs the atomic per-user wallet mutations. Every mutation
// is a single conditional statement, so concurrent callers for the same user
// serialize at the row and a rejected guard applies nothing.
type WalletStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	ConsumeReserved(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	ReleaseReserved(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
}

// ReservationStore persists the reserve -> finalize | rollback state machine.
type ReservationStore interface {
	Create(ctx context.Context, tx pgx.Tx, res *models.Reservation) error
	GetByRequestID(ctx context.Context, requestID uuid.UUID) (*models.Reservation, error)
	GetByRequestIDForUpdate(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (*models.Reservation, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, latencyMs *int) error
	MarkRolledBack(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, reason string) error
}

// LedgerStore appends balance-affecting events.
type LedgerStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

// UsageCounter reports how many quota units the user consumed today.
type UsageCounter interface {
	UsageToday(ctx context.Context, userID uuid.UUID) (int, error)
}

// ReservationMeta is optional client context recorded on the reservation.
type ReservationMeta struct {
	ProjectType *string
	CountryCode *string
}

// ReserveResult is returned on a successful (or deduplicated) reserve.
type ReserveResult struct {
	Reservation *models.Reservation
	Wallet      *models.Wallet
	// Duplicate is set when the request id had already been reserved; the
	// prior reservation is returned and the wallet was not touched again.
	Duplicate bool
}

// FinalizeResult is returned by Finalize and Rollback.
type FinalizeResult struct {
	Wallet *models.Wallet
	// AlreadyApplied is set when the reservation was already in the
	// requested terminal state and nothing changed.
	AlreadyApplied bool
}

// CreditService implements the credit reservation protocol: one credit moves
// from balance to reserved at reserve time, then is either consumed
// (finalize) or refunded (rollback). A crashed caller leaves the credit
// parked in reserved, where the reconciliation sweep can see it.
type CreditService struct {
	pool         TxBeginner
	users        UserStore
	wallets      WalletStore
	reservations ReservationStore
	ledger       LedgerStore
	usage        UsageCounter
	gate         AvailabilityGate
	log          *slog.Logger
}

func NewCreditService(
	pool TxBeginner,
	users UserStore,
	wallets WalletStore,
	reservations ReservationStore,
	ledger LedgerStore,
	usage UsageCounter,
	gate AvailabilityGate,
	log *slog.Logger,
) *CreditService {
	if log == nil {
		log = slog.Default()
	}
	return &CreditService{
		pool:         pool,
		users:        users,
		wallets:      wallets,
		reservations: reservations,
		ledger:       ledger,
		usage:        usage,
		gate:         gate,
		log:          log,
	}
}

// Reserve holds one credit for the AI call identified by requestID.
// Preconditions: service available, user active, daily quota not exhausted,
// balance >= 1. The wallet decrement and the reservation insert share one
// transaction, so a duplicate request id rolls the decrement back and the
// caller gets the prior reservation instead of an error.
func (s *CreditService) Reserve(ctx context.Context, userID, requestID uuid.UUID, meta ReservationMeta) (*ReserveResult, error) {
	if !s.gate.Available(ctx) {
		return nil, ErrServiceUnavailable
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountSuspended
	}

	// Advisory check: not re-verified at finalize, so a concurrent burst can
	// overshoot by at most the number of in-flight requests.
	used, err := s.usage.UsageToday(ctx, userID)
	if err != nil {
		return nil, err
	}
	if used >= user.DailyLimit {
		return nil, ErrDailyLimitReached
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wallet, err := s.wallets.Reserve(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletConflict) {
			return nil, ErrInsufficientCredits
		}
		return nil, err
	}

	res := &models.Reservation{
		RequestID:   requestID,
		UserID:      userID,
		Status:      models.ReservationPending,
		ProjectType: meta.ProjectType,
		CountryCode: meta.CountryCode,
	}
	if err := s.reservations.Create(ctx, tx, res); err != nil {
		if errors.Is(err, repository.ErrDuplicateRequestID) {
			// Losing the uniqueness race drops the whole transaction, so the
			// wallet decrement above never lands a second time.
			_ = tx.Rollback(ctx)
			return s.existingReservation(ctx, requestID)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("credit reserved", "user_id", userID, "request_id", requestID, "balance", wallet.CreditsBalance)
	return &ReserveResult{Reservation: res, Wallet: wallet}, nil
}

// Finalize permanently consumes the reserved credit after a successful AI
// call. Idempotent: a second finalize of the same request id is a no-op
// success. Finalizing a rolled-back reservation fails; terminal states are
// never reversed.
func (s *CreditService) Finalize(ctx context.Context, requestID uuid.UUID, latencyMs *int) (*FinalizeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	res, err := s.reservations.GetByRequestIDForUpdate(ctx, tx, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	switch res.Status {
	case models.ReservationCompleted:
		wallet, err := s.wallets.Get(ctx, res.UserID)
		if err != nil {
			return nil, err
		}
		return &FinalizeResult{Wallet: wallet, AlreadyApplied: true}, nil
	case models.ReservationRolledBack:
		return nil, ErrAlreadyRolledBack
	}

	wallet, err := s.wallets.ConsumeReserved(ctx, tx, res.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CreateTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		UserID:      res.UserID,
		Amount:      -1,
		EntryType:   models.LedgerEntryUsage,
		ReferenceID: requestID.String(),
		Description: "ai estimate call",
	}); err != nil {
		return nil, err
	}
	if err := s.reservations.MarkCompleted(ctx, tx, requestID, latencyMs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("reservation finalized", "user_id", res.UserID, "request_id", requestID)
	return &FinalizeResult{Wallet: wallet}, nil
}

// Rollback refunds the reserved credit after a failed or abandoned AI call.
// Idempotent: rolling back an already rolled-back reservation is a no-op
// success. Rolling back a completed reservation fails.
func (s *CreditService) Rollback(ctx context.Context, requestID uuid.UUID, reason string) (*FinalizeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	res, err := s.reservations.GetByRequestIDForUpdate(ctx, tx, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	switch res.Status {
	case models.ReservationRolledBack:
		wallet, err := s.wallets.Get(ctx, res.UserID)
		if err != nil {
			return nil, err
		}
		return &FinalizeResult{Wallet: wallet, AlreadyApplied: true}, nil
	case models.ReservationCompleted:
		return nil, ErrAlreadyCompleted
	}

	wallet, err := s.wallets.ReleaseReserved(ctx, tx, res.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CreateTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		UserID:      res.UserID,
		Amount:      1,
		EntryType:   models.LedgerEntryRefund,
		ReferenceID: requestID.String(),
		Description: "refund: " + reason,
	}); err != nil {
		return nil, err
	}
	if err := s.reservations.MarkRolledBack(ctx, tx, requestID, reason); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("reservation rolled back", "user_id", res.UserID, "request_id", requestID, "reason", reason)
	return &FinalizeResult{Wallet: wallet}, nil
}

func (s *CreditService) existingReservation(ctx context.Context, requestID uuid.UUID) (*ReserveResult, error) {
	res, err := s.reservations.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.wallets.Get(ctx, res.UserID)
	if err != nil {
		return nil, err
	}
	return &ReserveResult{Reservation: res, Wallet: wallet, Duplicate: true}, nil
}

// StartOfUTCDay returns midnight UTC for the given instant. The daily quota
// window rolls over at UTC midnight regardless of client timezone.
func StartOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
