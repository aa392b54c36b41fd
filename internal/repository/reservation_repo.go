package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotewise/backend/internal/models"
)

// ErrDuplicateRequestID is returned when inserting a reservation whose
// request_id already exists. The primary key on request_id is the durable
// idempotency anchor for the usage path.
var ErrDuplicateRequestID = errors.New("request id already reserved")

type ReservationRepo struct {
	pool *pgxpool.Pool
}

func NewReservationRepo(pool *pgxpool.Pool) *ReservationRepo {
	return &ReservationRepo{pool: pool}
}

func (r *ReservationRepo) Create(ctx context.Context, tx pgx.Tx, res *models.Reservation) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_reservations (request_id, user_id, status, project_type, country_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, res.RequestID, res.UserID, res.Status, res.ProjectType, res.CountryCode).Scan(&res.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRequestID
		}
		return err
	}
	return nil
}

func (r *ReservationRepo) GetByRequestID(ctx context.Context, requestID uuid.UUID) (*models.Reservation, error) {
	return scanReservation(r.pool.QueryRow(ctx, `
		SELECT request_id, user_id, status, project_type, country_code, latency_ms, error_message, created_at, completed_at
		FROM credit_reservations WHERE request_id = $1
	`, requestID))
}

// GetByRequestIDForUpdate locks the reservation row so finalize and rollback
// for the same request id serialize. Call within a transaction.
func (r *ReservationRepo) GetByRequestIDForUpdate(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (*models.Reservation, error) {
	return scanReservation(tx.QueryRow(ctx, `
		SELECT request_id, user_id, status, project_type, country_code, latency_ms, error_message, created_at, completed_at
		FROM credit_reservations WHERE request_id = $1 FOR UPDATE
	`, requestID))
}

// MarkCompleted transitions a pending reservation to completed. The status
// guard in the WHERE clause keeps terminal rows immutable.
func (r *ReservationRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, latencyMs *int) error {
	return markTerminal(ctx, tx, `
		UPDATE credit_reservations
		SET status = 'completed', latency_ms = $2, completed_at = now()
		WHERE request_id = $1 AND status = 'pending'
	`, requestID, latencyMs)
}

// MarkRolledBack transitions a pending reservation to rolled_back, recording
// the failure reason.
func (r *ReservationRepo) MarkRolledBack(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, reason string) error {
	return markTerminal(ctx, tx, `
		UPDATE credit_reservations
		SET status = 'rolled_back', error_message = $2, completed_at = now()
		WHERE request_id = $1 AND status = 'pending'
	`, requestID, reason)
}

// CountSince returns the number of reservations the user created at or after
// since that were not rolled back. Rolled-back attempts hand their quota unit
// back, mirroring the credit refund.
func (r *ReservationRepo) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM credit_reservations
		WHERE user_id = $1 AND created_at >= $2 AND status <> 'rolled_back'
	`, userID, since).Scan(&n)
	return n, err
}

// ListStalePending returns request ids of reservations pending longer than
// the cutoff, oldest first. Used by the reconciliation sweep.
func (r *ReservationRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT request_id FROM credit_reservations
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func markTerminal(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	var res models.Reservation
	err := row.Scan(&res.RequestID, &res.UserID, &res.Status, &res.ProjectType, &res.CountryCode,
		&res.LatencyMs, &res.ErrorMessage, &res.CreatedAt, &res.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
