package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound      = errors.New("payment_not_found")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidMethod        = errors.New("invalid_method")
	ErrInvoiceNotPayable    = errors.New("invoice_not_payable")
	ErrAmountExceedsBalance = errors.New("amount_exceeds_balance")
	ErrDuplicateTransaction = errors.New("duplicate_transaction")
	ErrNotRefundable        = errors.New("payment_not_refundable")
	ErrRefundExceedsPaid    = errors.New("refund_exceeds_paid")
)

type ProcessRequest struct {
	InvoiceID     snowflake.ID
	Amount        decimal.Decimal
	Method        PaymentMethod
	TransactionID string
	Notes         string
}

type WebhookRequest struct {
	InvoiceID     snowflake.ID
	TransactionID string
	Amount        decimal.Decimal
	Method        PaymentMethod
	Succeeded     bool
}

// WebhookResult reports what a provider callback did. Replay is true
// when the same (invoice, transaction) was already processed and
// nothing changed. InvoicePaid is true when this completion settled
// the invoice in full; callers use it to chain reactivation.
type WebhookResult struct {
	Payment     Payment
	Replay      bool
	InvoicePaid bool
	CustomerID  snowflake.ID
}

type Service interface {
	// Process validates and records a payment. Manual methods complete
	// synchronously; webhook methods stay pending until CompleteWebhook.
	Process(ctx context.Context, req ProcessRequest) (Payment, error)

	// CompleteWebhook applies a provider callback, idempotent on
	// (invoice_id, transaction_id).
	CompleteWebhook(ctx context.Context, req WebhookRequest) (WebhookResult, error)

	// Refund reverses a completed payment and re-opens the invoice if
	// the balance becomes positive again.
	Refund(ctx context.Context, paymentID snowflake.ID, reason string) (Payment, error)

	GetByID(ctx context.Context, id snowflake.ID) (Payment, error)
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)
}
