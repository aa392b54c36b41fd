package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUsageTodayIgnoresPriorDays(t *testing.T) {
	f := newFixture(t, 10, 5, true)
	ctx := context.Background()

	yesterday := uuid.New()
	if _, err := f.svc.Reserve(ctx, f.userID, yesterday, ReservationMeta{}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	f.reservations.backdate(yesterday, time.Now().UTC().Add(-26*time.Hour))

	today := uuid.New()
	if _, err := f.svc.Reserve(ctx, f.userID, today, ReservationMeta{}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	quota := NewQuotaService(f.reservations)
	used, err := quota.UsageToday(ctx, f.userID)
	if err != nil {
		t.Fatalf("UsageToday: %v", err)
	}
	if used != 1 {
		t.Fatalf("usage = %d, want 1 (yesterday's reservation must not count)", used)
	}
}

func TestStartOfUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 08:30 on the 2nd in UTC+9 is 23:30 on the 1st in UTC; the quota window
	// follows UTC regardless of the client's zone.
	at := time.Date(2026, 3, 2, 8, 30, 0, 0, loc)
	got := StartOfUTCDay(at)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartOfUTCDay = %v, want %v", got, want)
	}
}
