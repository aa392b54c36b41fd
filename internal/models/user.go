package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan types. daily_limit defaults are set per plan at signup/upgrade.
const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPro     = "pro"
)

// DailyLimitForPlan returns the AI-call ceiling per UTC day for a plan.
func DailyLimitForPlan(plan string) int {
	switch plan {
	case PlanStarter:
		return 25
	case PlanPro:
		return 100
	default:
		return 5
	}
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	PlanType     string    `json:"plan_type"`
	IsActive     bool      `json:"is_active"`
	DailyLimit   int       `json:"daily_limit"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
