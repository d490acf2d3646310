package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrDuplicatePeriod   = errors.New("duplicate_billing_period")
	ErrNoSetupFee        = errors.New("plan_has_no_setup_fee")
	ErrInvalidPeriod     = errors.New("invalid_billing_period")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrNotCancellable    = errors.New("invoice_not_cancellable")
	ErrSubscriptionState = errors.New("subscription_not_billable")
)

// BulkError identifies one failed subscription inside a bulk run, with
// enough context for an operator to action it manually.
type BulkError struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	CustomerName   string       `json:"customer_name"`
	Reason         string       `json:"reason"`
}

// BulkResult reports both sides of a partially-failed batch.
type BulkResult struct {
	Generated []Invoice   `json:"generated"`
	Errors    []BulkError `json:"errors"`
	Summary   BulkSummary `json:"summary"`
}

type BulkSummary struct {
	Eligible  int             `json:"eligible"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Total     decimal.Decimal `json:"total_amount"`
}

type ListRequest struct {
	CustomerID *snowflake.ID
	Status     *InvoiceStatus
	DueBefore  *time.Time
}

type AdjustmentRequest struct {
	CustomerID     snowflake.ID
	SubscriptionID *snowflake.ID
	Amount         decimal.Decimal
	Notes          string
}

// Service owns invoice creation and administrative transitions. Payment
// and overdue transitions belong to the payment and dunning services.
type Service interface {
	Generate(ctx context.Context, subscriptionID snowflake.ID, billingDate time.Time) (Invoice, error)
	GenerateSetupFee(ctx context.Context, subscriptionID snowflake.ID) (Invoice, error)
	BulkGenerate(ctx context.Context, customerIDs []snowflake.ID, billingDate time.Time) (BulkResult, error)
	CreateAdjustment(ctx context.Context, req AdjustmentRequest) (Invoice, error)
	Cancel(ctx context.Context, id snowflake.ID, reason string) error

	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
	List(ctx context.Context, req ListRequest) ([]Invoice, error)
	OutstandingCount(ctx context.Context, customerID snowflake.ID) (int64, error)
}
