package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quotewise/backend/internal/models"
)

// StatusView is the read-only snapshot the client polls. No side effects,
// safe to compute concurrently with writers.
type StatusView struct {
	CreditsBalance  int    `json:"credits_balance"`
	CreditsReserved int    `json:"credits_reserved"`
	LifetimeCredits int    `json:"lifetime_credits"`
	DailyUsage      int    `json:"daily_usage"`
	DailyLimit      int    `json:"daily_limit"`
	PlanType        string `json:"plan_type"`
	CanUseAI        bool   `json:"can_use_ai"`
}

// WalletReader is the read side of the wallet store.
type WalletReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
}

// StatusService assembles a StatusView from the wallet and today's usage.
type StatusService struct {
	users   UserStore
	wallets WalletReader
	usage   UsageCounter
}

func NewStatusService(users UserStore, wallets WalletReader, usage UsageCounter) *StatusService {
	return &StatusService{users: users, wallets: wallets, usage: usage}
}

func (s *StatusService) Project(ctx context.Context, userID uuid.UUID) (*StatusView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	wallet, err := s.wallets.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	used, err := s.usage.UsageToday(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &StatusView{
		CreditsBalance:  wallet.CreditsBalance,
		CreditsReserved: wallet.CreditsReserved,
		LifetimeCredits: wallet.LifetimeCredits,
		DailyUsage:      used,
		DailyLimit:      user.DailyLimit,
		PlanType:        user.PlanType,
		CanUseAI:        user.IsActive && wallet.CreditsBalance > 0 && used < user.DailyLimit,
	}, nil
}
