package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry_type enums.
const (
	LedgerEntryPurchase = "purchase"
	LedgerEntryUsage    = "usage"
	LedgerEntryRefund   = "refund"
	LedgerEntryBonus    = "bonus"
	LedgerEntryRenewal  = "subscription_renewal"
	LedgerEntryTrial    = "trial"
)

// LedgerEntry is an append-only record of a balance-affecting event.
// ReferenceID carries the external dedup key: the payment provider's
// transaction id for purchase/subscription_renewal rows, the reservation
// request id for usage/refund rows. A partial unique index on
// (user_id, reference_id) over the idempotent entry types makes replayed
// purchase events collapse to a no-op at the storage layer.
type LedgerEntry struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      int       `json:"amount"`
	EntryType   string    `json:"entry_type"`
	ReferenceID string    `json:"reference_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
