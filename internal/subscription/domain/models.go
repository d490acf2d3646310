// Package domain contains the subscription model and the billing-owned
// suspend/reactivate transitions.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
)

// Subscription captures a customer's service agreement. The status field
// is jointly owned with the CRUD layer; the billing engine is the sole
// writer of the active<->suspended transition.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	CustomerID         snowflake.ID       `gorm:"not null;index"`
	PlanID             snowflake.ID       `gorm:"not null;index"`
	Status             SubscriptionStatus `gorm:"type:text;not null;default:'pending'"`
	MonthlyFee         decimal.Decimal    `gorm:"type:numeric(12,2);not null;default:0"`
	DiscountPercentage decimal.Decimal    `gorm:"type:numeric(5,2);not null;default:0"`
	SuspendedAt        *time.Time         `gorm:""`
	SuspensionReason   string             `gorm:"type:text;not null;default:''"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// View is the fully-typed shape the calculators consume. DiscountPercentage
// is always present, zero when the subscription carries no discount.
type View struct {
	ID                 snowflake.ID
	CustomerID         snowflake.ID
	MonthlyFee         decimal.Decimal
	DiscountPercentage decimal.Decimal
}

func (s Subscription) View() View {
	return View{
		ID:                 s.ID,
		CustomerID:         s.CustomerID,
		MonthlyFee:         s.MonthlyFee,
		DiscountPercentage: s.DiscountPercentage,
	}
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrNotActive            = errors.New("subscription_not_active")
	ErrNotSuspended         = errors.New("subscription_not_suspended")
)
