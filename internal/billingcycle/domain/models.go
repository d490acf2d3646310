// Package domain contains the derived billing period bookkeeping record.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// BillingCycle is a materialized period record written alongside invoice
// generation. It is derived bookkeeping only; the invoice is authoritative
// for money.
type BillingCycle struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	SubscriptionID snowflake.ID    `gorm:"not null;index"`
	CycleNumber    int             `gorm:"not null"`
	PeriodStart    time.Time       `gorm:"not null"`
	PeriodEnd      time.Time       `gorm:"not null"`
	BaseAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingCycle) TableName() string { return "billing_cycles" }
