// Package domain contains persistence models and contracts for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states. paid and cancelled
// are terminal.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// InvoiceType classifies what the invoice charges for.
type InvoiceType string

const (
	InvoiceTypeMonthly    InvoiceType = "monthly"
	InvoiceTypeSetup      InvoiceType = "setup"
	InvoiceTypeAdjustment InvoiceType = "adjustment"
	InvoiceTypeOther      InvoiceType = "other"
)

// Invoice represents one billing obligation for one customer over one
// period. All state transitions live in services; the struct itself
// mutates nothing.
type Invoice struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceNumber  string          `gorm:"type:text;not null;uniqueIndex" json:"invoice_number"`
	CustomerID     snowflake.ID    `gorm:"not null;index" json:"customer_id"`
	SubscriptionID *snowflake.ID   `gorm:"index;uniqueIndex:ux_invoice_subscription_period,where:status <> 'cancelled' AND type = 'monthly'" json:"subscription_id,omitempty"`
	Type           InvoiceType     `gorm:"type:text;not null;default:'monthly'" json:"type"`
	Status         InvoiceStatus   `gorm:"type:text;not null;default:'pending'" json:"status"`
	PeriodStart    time.Time       `gorm:"not null;uniqueIndex:ux_invoice_subscription_period,where:status <> 'cancelled' AND type = 'monthly'" json:"period_start"`
	PeriodEnd      time.Time       `gorm:"not null" json:"period_end"`
	Subtotal       decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"tax_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"discount_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_amount"`
	PaidAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"paid_amount"`
	IssueDate      time.Time       `gorm:"not null" json:"issue_date"`
	DueDate        time.Time       `gorm:"not null;index" json:"due_date"`
	PaidDate       *time.Time      `gorm:"" json:"paid_date,omitempty"`
	Notes          string          `gorm:"type:text;not null;default:''" json:"notes,omitempty"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// BalanceDue is the amount still owed on the invoice.
func (i Invoice) BalanceDue() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// Payable reports whether the invoice can still accept payments.
func (i Invoice) Payable() bool {
	return i.Status != InvoiceStatusPaid && i.Status != InvoiceStatusCancelled
}
