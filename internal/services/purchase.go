package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quotewise/backend/internal/models"
	"github.com/quotewise/backend/internal/repository"
)

// Payment provider event types we act on. Anything else is acknowledged and
// ignored.
const (
	EventInitialPurchase = "INITIAL_PURCHASE"
	EventRenewal         = "RENEWAL"
	EventNonRenewing     = "NON_RENEWING_PURCHASE"
	EventCancellation    = "CANCELLATION"
	EventExpiration      = "EXPIRATION"
)

// Apply outcomes.
const (
	OutcomeApplied          = "applied"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeOrphaned         = "orphaned"
	OutcomeIgnored          = "ignored"
	OutcomePlanUpdated      = "plan_updated"
)

// Product maps a store product id to the credits it grants and, for
// subscriptions, the plan it activates.
type Product struct {
	Credits int
	Plan    string
}

// DefaultCatalog lists purchasable products. Consumable credit packs carry no
// plan; subscription products grant their monthly credit allotment on every
// renewal event.
var DefaultCatalog = map[string]Product{
	"qw_credits_10":      {Credits: 10},
	"qw_credits_50":      {Credits: 50},
	"qw_starter_monthly": {Credits: 30, Plan: models.PlanStarter},
	"qw_pro_monthly":     {Credits: 120, Plan: models.PlanPro},
}

// PurchaseEvent is the normalized webhook payload from the payment provider.
// TransactionID is the provider's stable id; replays arrive with the same
// value.
type PurchaseEvent struct {
	EventType      string `json:"event_type"`
	AppUserID      string `json:"app_user_id"`
	ProductID      string `json:"product_id"`
	TransactionID  string `json:"transaction_id"`
	PurchasedAtMs  int64  `json:"purchased_at_ms"`
	ExpirationAtMs int64  `json:"expiration_at_ms"`
}

// ApplyResult reports what a webhook event did.
type ApplyResult struct {
	Outcome string         `json:"outcome"`
	Wallet  *models.Wallet `json:"wallet,omitempty"`
}

// PlanStore applies plan transitions for purchase/cancellation events.
type PlanStore interface {
	SetPlan(ctx context.Context, tx pgx.Tx, id uuid.UUID, planType string, isActive bool, dailyLimit int) error
}

// WalletCreditor adds purchased credits to balance and lifetime totals.
type WalletCreditor interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (*models.Wallet, error)
}

// PurchaseLedger resolves prior applications and appends new ones.
type PurchaseLedger interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	GetByReference(ctx context.Context, userID uuid.UUID, referenceID, entryType string) (*models.LedgerEntry, error)
}

// PurchaseService applies at-least-once webhook events to the wallet. The
// ledger's unique (user_id, reference_id) index for purchase/renewal rows is
// the idempotency anchor: the insert and the wallet credit share one
// transaction, so a replay that loses on the index leaves the wallet alone.
type PurchaseService struct {
	pool    TxBeginner
	users   UserStore
	plans   PlanStore
	wallets WalletCreditor
	ledger  PurchaseLedger
	catalog map[string]Product
	log     *slog.Logger
}

func NewPurchaseService(pool TxBeginner, users UserStore, plans PlanStore, wallets WalletCreditor, ledger PurchaseLedger, catalog map[string]Product, log *slog.Logger) *PurchaseService {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	if log == nil {
		log = slog.Default()
	}
	return &PurchaseService{pool: pool, users: users, plans: plans, wallets: wallets, ledger: ledger, catalog: catalog, log: log}
}

// ApplyPurchaseEvent processes one webhook event. It never returns an error
// for conditions the provider cannot act on (unknown user, unknown product,
// replay): those are acknowledged with a descriptive outcome and logged.
func (s *PurchaseService) ApplyPurchaseEvent(ctx context.Context, evt PurchaseEvent) (*ApplyResult, error) {
	userID, err := uuid.Parse(evt.AppUserID)
	if err != nil {
		s.log.Warn("orphaned purchase event: unparseable app user id", "app_user_id", evt.AppUserID, "transaction_id", evt.TransactionID)
		return &ApplyResult{Outcome: OutcomeOrphaned}, nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.log.Warn("orphaned purchase event: no such user", "app_user_id", evt.AppUserID, "transaction_id", evt.TransactionID)
			return &ApplyResult{Outcome: OutcomeOrphaned}, nil
		}
		return nil, err
	}

	switch evt.EventType {
	case EventInitialPurchase, EventRenewal, EventNonRenewing:
		return s.applyCredit(ctx, user, evt)
	case EventCancellation, EventExpiration:
		return s.applyDowngrade(ctx, user, evt)
	default:
		s.log.Info("ignoring purchase event", "event_type", evt.EventType, "transaction_id", evt.TransactionID)
		return &ApplyResult{Outcome: OutcomeIgnored}, nil
	}
}

func (s *PurchaseService) applyCredit(ctx context.Context, user *models.User, evt PurchaseEvent) (*ApplyResult, error) {
	product, ok := s.catalog[evt.ProductID]
	if !ok {
		s.log.Warn("purchase event for unknown product", "product_id", evt.ProductID, "transaction_id", evt.TransactionID)
		return &ApplyResult{Outcome: OutcomeIgnored}, nil
	}

	entryType := models.LedgerEntryPurchase
	if evt.EventType == EventRenewal {
		entryType = models.LedgerEntryRenewal
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	err = s.ledger.CreateTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		UserID:      user.ID,
		Amount:      product.Credits,
		EntryType:   entryType,
		ReferenceID: evt.TransactionID,
		Description: evt.EventType + " " + evt.ProductID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			s.log.Info("purchase event already applied", "user_id", user.ID, "transaction_id", evt.TransactionID)
			return &ApplyResult{Outcome: OutcomeAlreadyProcessed}, nil
		}
		return nil, err
	}

	wallet, err := s.wallets.Credit(ctx, tx, user.ID, product.Credits)
	if err != nil {
		return nil, err
	}

	if product.Plan != "" {
		if err := s.plans.SetPlan(ctx, tx, user.ID, product.Plan, user.IsActive, models.DailyLimitForPlan(product.Plan)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("purchase credited", "user_id", user.ID, "product_id", evt.ProductID, "credits", product.Credits, "transaction_id", evt.TransactionID)
	return &ApplyResult{Outcome: OutcomeApplied, Wallet: wallet}, nil
}

// applyDowngrade drops the user to the free plan. Purchased credits are kept;
// only the plan label and daily limit change. Setting fields to fixed values
// is naturally idempotent, so replays converge.
func (s *PurchaseService) applyDowngrade(ctx context.Context, user *models.User, evt PurchaseEvent) (*ApplyResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.plans.SetPlan(ctx, tx, user.ID, models.PlanFree, user.IsActive, models.DailyLimitForPlan(models.PlanFree)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("plan downgraded", "user_id", user.ID, "event_type", evt.EventType)
	return &ApplyResult{Outcome: OutcomePlanUpdated}, nil
}
