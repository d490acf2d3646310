package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodOnline       PaymentMethod = "online"
)

// Manual returns true for methods an operator records at the counter.
// Manual payments complete synchronously; the rest complete via a
// provider webhook.
func (m PaymentMethod) Manual() bool {
	return m == PaymentMethodCash || m == PaymentMethodBankTransfer
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCreditCard, PaymentMethodOnline:
		return true
	}
	return false
}

// Payment applies money against exactly one invoice. TransactionID is
// the provider reference for webhook methods and a generated reference
// for manual ones; (invoice_id, transaction_id) is unique so webhook
// replays cannot double-credit.
type Payment struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	PaymentNumber string          `gorm:"uniqueIndex" json:"payment_number"`
	InvoiceID     snowflake.ID    `gorm:"index;uniqueIndex:ux_payment_invoice_txn" json:"invoice_id"`
	CustomerID    snowflake.ID    `gorm:"index" json:"customer_id"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	Method        PaymentMethod   `json:"method"`
	Status        PaymentStatus   `gorm:"index" json:"status"`
	TransactionID string          `gorm:"uniqueIndex:ux_payment_invoice_txn" json:"transaction_id"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
