package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/quotewise/backend/internal/models"
)

type purchaseFixture struct {
	users   *mockUsers
	wallets *mockWallets
	ledger  *mockLedger
	svc     *PurchaseService
	userID  uuid.UUID
}

func newPurchaseFixture(t *testing.T) *purchaseFixture {
	t.Helper()
	userID := uuid.New()
	users := newMockUsers(&models.User{
		ID: userID, Email: "pat@example.com", PlanType: models.PlanFree,
		IsActive: true, DailyLimit: models.DailyLimitForPlan(models.PlanFree),
	})
	wallets := newMockWallets(&models.Wallet{UserID: userID})
	ledger := &mockLedger{}
	svc := NewPurchaseService(mockPool{}, users, users, wallets, ledger, nil, nil)
	return &purchaseFixture{users: users, wallets: wallets, ledger: ledger, svc: svc, userID: userID}
}

func TestApplyInitialPurchase(t *testing.T) {
	f := newPurchaseFixture(t)

	result, err := f.svc.ApplyPurchaseEvent(context.Background(), PurchaseEvent{
		EventType:     EventInitialPurchase,
		AppUserID:     f.userID.String(),
		ProductID:     "qw_credits_10",
		TransactionID: "txn-1001",
	})
	if err != nil {
		t.Fatalf("ApplyPurchaseEvent: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want applied", result.Outcome)
	}
	if result.Wallet.CreditsBalance != 10 || result.Wallet.LifetimeCredits != 10 {
		t.Fatalf("wallet = {balance %d, lifetime %d}, want {10, 10}",
			result.Wallet.CreditsBalance, result.Wallet.LifetimeCredits)
	}
	if n := f.ledger.countType(models.LedgerEntryPurchase); n != 1 {
		t.Fatalf("purchase ledger entries = %d, want 1", n)
	}
}

func TestApplyPurchaseReplayCreditsOnce(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()
	evt := PurchaseEvent{
		EventType:     EventInitialPurchase,
		AppUserID:     f.userID.String(),
		ProductID:     "qw_credits_50",
		TransactionID: "txn-2002",
	}

	if _, err := f.svc.ApplyPurchaseEvent(ctx, evt); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	replay, err := f.svc.ApplyPurchaseEvent(ctx, evt)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("replay outcome = %q, want already_processed", replay.Outcome)
	}
	if b, _, lifetime := f.wallets.state(f.userID); b != 50 || lifetime != 50 {
		t.Fatalf("wallet after replay = {balance %d, lifetime %d}, want {50, 50}", b, lifetime)
	}
	if n := f.ledger.countType(models.LedgerEntryPurchase); n != 1 {
		t.Fatalf("purchase ledger entries = %d, want 1", n)
	}
}

func TestApplySubscriptionActivatesPlan(t *testing.T) {
	f := newPurchaseFixture(t)

	result, err := f.svc.ApplyPurchaseEvent(context.Background(), PurchaseEvent{
		EventType:     EventInitialPurchase,
		AppUserID:     f.userID.String(),
		ProductID:     "qw_pro_monthly",
		TransactionID: "txn-3003",
	})
	if err != nil {
		t.Fatalf("ApplyPurchaseEvent: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want applied", result.Outcome)
	}
	if result.Wallet.CreditsBalance != 120 {
		t.Fatalf("balance = %d, want 120", result.Wallet.CreditsBalance)
	}

	user, err := f.users.GetByID(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if user.PlanType != models.PlanPro {
		t.Fatalf("plan = %q, want pro", user.PlanType)
	}
	if user.DailyLimit != models.DailyLimitForPlan(models.PlanPro) {
		t.Fatalf("daily limit = %d, want %d", user.DailyLimit, models.DailyLimitForPlan(models.PlanPro))
	}
}

func TestApplyRenewalWritesRenewalEntry(t *testing.T) {
	f := newPurchaseFixture(t)

	result, err := f.svc.ApplyPurchaseEvent(context.Background(), PurchaseEvent{
		EventType:     EventRenewal,
		AppUserID:     f.userID.String(),
		ProductID:     "qw_starter_monthly",
		TransactionID: "txn-4004",
	})
	if err != nil {
		t.Fatalf("ApplyPurchaseEvent: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want applied", result.Outcome)
	}
	if n := f.ledger.countType(models.LedgerEntryRenewal); n != 1 {
		t.Fatalf("renewal ledger entries = %d, want 1", n)
	}
}

func TestApplyCancellationDowngradesKeepingCredits(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ApplyPurchaseEvent(ctx, PurchaseEvent{
		EventType:     EventInitialPurchase,
		AppUserID:     f.userID.String(),
		ProductID:     "qw_starter_monthly",
		TransactionID: "txn-5005",
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	result, err := f.svc.ApplyPurchaseEvent(ctx, PurchaseEvent{
		EventType: EventCancellation,
		AppUserID: f.userID.String(),
		ProductID: "qw_starter_monthly",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.Outcome != OutcomePlanUpdated {
		t.Fatalf("outcome = %q, want plan_updated", result.Outcome)
	}

	user, _ := f.users.GetByID(ctx, f.userID)
	if user.PlanType != models.PlanFree {
		t.Fatalf("plan = %q, want free", user.PlanType)
	}
	if b, _, _ := f.wallets.state(f.userID); b != 30 {
		t.Fatalf("balance after cancellation = %d, want 30", b)
	}
}

func TestApplyOrphanedEvents(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	for _, appUserID := range []string{"not-a-uuid", uuid.New().String()} {
		result, err := f.svc.ApplyPurchaseEvent(ctx, PurchaseEvent{
			EventType:     EventInitialPurchase,
			AppUserID:     appUserID,
			ProductID:     "qw_credits_10",
			TransactionID: "txn-6006",
		})
		if err != nil {
			t.Fatalf("app_user_id %q: %v", appUserID, err)
		}
		if result.Outcome != OutcomeOrphaned {
			t.Fatalf("app_user_id %q: outcome = %q, want orphaned", appUserID, result.Outcome)
		}
	}
	if b, _, _ := f.wallets.state(f.userID); b != 0 {
		t.Fatalf("wallet credited by orphaned event: balance = %d", b)
	}
}

func TestApplyUnknownProductIgnored(t *testing.T) {
	f := newPurchaseFixture(t)

	result, err := f.svc.ApplyPurchaseEvent(context.Background(), PurchaseEvent{
		EventType:     EventInitialPurchase,
		AppUserID:     f.userID.String(),
		ProductID:     "qw_mystery_pack",
		TransactionID: "txn-7007",
	})
	if err != nil {
		t.Fatalf("ApplyPurchaseEvent: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, want ignored", result.Outcome)
	}
}

func TestApplyUnhandledEventTypeIgnored(t *testing.T) {
	f := newPurchaseFixture(t)

	result, err := f.svc.ApplyPurchaseEvent(context.Background(), PurchaseEvent{
		EventType: "BILLING_ISSUE",
		AppUserID: f.userID.String(),
	})
	if err != nil {
		t.Fatalf("ApplyPurchaseEvent: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, want ignored", result.Outcome)
	}
}
