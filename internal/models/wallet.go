package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is the per-user credit record. credits_balance and credits_reserved
// never go negative; lifetime_credits only ever grows (purchase/trial/bonus
// grants), so it is a stable audit anchor independent of spending.
type Wallet struct {
	UserID          uuid.UUID `json:"user_id"`
	CreditsBalance  int       `json:"credits_balance"`
	CreditsReserved int       `json:"credits_reserved"`
	LifetimeCredits int       `json:"lifetime_credits"`
	UpdatedAt       time.Time `json:"updated_at"`
}
