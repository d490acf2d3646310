// Package domain contains the service plan read model consumed by billing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// BillingCycleType is the recurrence of a plan.
type BillingCycleType string

const (
	BillingCycleMonthly   BillingCycleType = "monthly"
	BillingCycleQuarterly BillingCycleType = "quarterly"
	BillingCycleYearly    BillingCycleType = "yearly"
)

// PeriodDays returns the fixed proration period length for a cycle.
// Unknown cycles fall back to 30 days; callers must not assume exact
// calendar month lengths.
func (t BillingCycleType) PeriodDays() int {
	switch t {
	case BillingCycleMonthly:
		return 30
	case BillingCycleQuarterly:
		return 90
	case BillingCycleYearly:
		return 365
	default:
		return 30
	}
}

// Plan is owned by the catalog layer; billing reads price, setup fee and
// recurrence.
type Plan struct {
	ID           snowflake.ID     `gorm:"primaryKey"`
	Name         string           `gorm:"type:text;not null"`
	Price        decimal.Decimal  `gorm:"type:numeric(12,2);not null"`
	SetupFee     decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0"`
	BillingCycle BillingCycleType `gorm:"type:text;not null;default:'monthly'"`
	CreatedAt    time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }
