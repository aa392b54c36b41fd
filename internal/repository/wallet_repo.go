package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotewise/backend/internal/models"
)

// ErrWalletConflict is returned when a conditional wallet update matched no
// row: either the wallet does not exist or the guard (balance/reserved >= 1)
// failed. Callers distinguish the two by fetching the wallet.
var ErrWalletConflict = errors.New("wallet update rejected")

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, credits_balance, credits_reserved, lifetime_credits)
		VALUES ($1, 0, 0, 0)
	`, userID)
	return err
}

func (r *WalletRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `
		SELECT user_id, credits_balance, credits_reserved, lifetime_credits, updated_at
		FROM wallets WHERE user_id = $1
	`, userID))
}

// Reserve atomically moves one credit from balance to reserved. The guard on
// credits_balance makes the decrement and the insufficient-funds check a
// single statement, so concurrent reservations for one user serialize on the
// row and can never drive the balance negative.
func (r *WalletRepo) Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return affectWallet(tx.QueryRow(ctx, `
		UPDATE wallets
		SET credits_balance = credits_balance - 1, credits_reserved = credits_reserved + 1, updated_at = now()
		WHERE user_id = $1 AND credits_balance >= 1
		RETURNING user_id, credits_balance, credits_reserved, lifetime_credits, updated_at
	`, userID))
}

// ConsumeReserved drops one reserved credit without touching the balance:
// the credit was already deducted at reserve time and is now permanently spent.
func (r *WalletRepo) ConsumeReserved(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return affectWallet(tx.QueryRow(ctx, `
		UPDATE wallets
		SET credits_reserved = credits_reserved - 1, updated_at = now()
		WHERE user_id = $1 AND credits_reserved >= 1
		RETURNING user_id, credits_balance, credits_reserved, lifetime_credits, updated_at
	`, userID))
}

// ReleaseReserved refunds one reserved credit back to the spendable balance.
func (r *WalletRepo) ReleaseReserved(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return affectWallet(tx.QueryRow(ctx, `
		UPDATE wallets
		SET credits_reserved = credits_reserved - 1, credits_balance = credits_balance + 1, updated_at = now()
		WHERE user_id = $1 AND credits_reserved >= 1
		RETURNING user_id, credits_balance, credits_reserved, lifetime_credits, updated_at
	`, userID))
}

// Credit adds purchased/granted credits to both balance and lifetime total.
func (r *WalletRepo) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (*models.Wallet, error) {
	return affectWallet(tx.QueryRow(ctx, `
		UPDATE wallets
		SET credits_balance = credits_balance + $2, lifetime_credits = lifetime_credits + $2, updated_at = now()
		WHERE user_id = $1
		RETURNING user_id, credits_balance, credits_reserved, lifetime_credits, updated_at
	`, userID, amount))
}

func affectWallet(row pgx.Row) (*models.Wallet, error) {
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletConflict
	}
	return w, err
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.UserID, &w.CreditsBalance, &w.CreditsReserved, &w.LifetimeCredits, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
