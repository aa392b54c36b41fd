package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotewise/backend/internal/models"
)

// ErrDuplicateReference is returned when an idempotent entry type (purchase,
// subscription_renewal) already has a row for this (user_id, reference_id).
// The partial unique index enforcing it is the durable idempotency anchor
// for the purchase path; correctness does not depend on any cache.
var ErrDuplicateReference = errors.New("ledger reference already recorded")

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// CreateTx appends a ledger entry inside the given transaction.
func (r *LedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, user_id, amount, entry_type, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.UserID, e.Amount, e.EntryType, e.ReferenceID, e.Description).Scan(&e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// GetByReference returns the entry for (user, reference, type), or nil.
func (r *LedgerRepo) GetByReference(ctx context.Context, userID uuid.UUID, referenceID, entryType string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, amount, entry_type, reference_id, description, created_at
		FROM credit_ledger WHERE user_id = $1 AND reference_id = $2 AND entry_type = $3
	`, userID, referenceID, entryType).Scan(&e.ID, &e.UserID, &e.Amount, &e.EntryType, &e.ReferenceID, &e.Description, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *LedgerRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, entry_type, reference_id, description, created_at
		FROM credit_ledger WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.EntryType, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
