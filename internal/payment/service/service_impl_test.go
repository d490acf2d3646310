package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/wireline/internal/clock"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	"github.com/smallbiznis/wireline/internal/migration"
	paymentdomain "github.com/smallbiznis/wireline/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   paymentdomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})
	return &testEnv{db: conn, node: node, clock: fake, svc: svc}
}

func (e *testEnv) createInvoice(t *testing.T, total float64, status invoicedomain.InvoiceStatus, due time.Time) invoicedomain.Invoice {
	t.Helper()
	now := e.clock.Now()
	inv := invoicedomain.Invoice{
		ID:            e.node.Generate(),
		InvoiceNumber: "INV-T" + e.node.Generate().String(),
		CustomerID:    e.node.Generate(),
		Type:          invoicedomain.InvoiceTypeMonthly,
		Status:        status,
		PeriodStart:   now.AddDate(0, 0, -10),
		PeriodEnd:     now.AddDate(0, 0, 20),
		Subtotal:      decimal.NewFromFloat(total),
		TotalAmount:   decimal.NewFromFloat(total),
		PaidAmount:    decimal.Zero,
		IssueDate:     now,
		DueDate:       due,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, e.db.Create(&inv).Error)
	return inv
}

func (e *testEnv) reloadInvoice(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, e.db.First(&inv, "id = ?", id).Error)
	return inv
}

func TestProcessCashPaymentPaysInvoice(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	payment, err := env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(49.00),
		Method:    paymentdomain.PaymentMethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, "PAY-000001", payment.PaymentNumber)
	require.Equal(t, paymentdomain.PaymentStatusCompleted, payment.Status)
	require.NotEmpty(t, payment.TransactionID)
	require.NotNil(t, payment.PaidAt)

	got := env.reloadInvoice(t, inv.ID)
	require.Equal(t, invoicedomain.InvoiceStatusPaid, got.Status)
	require.True(t, got.PaidAmount.Equal(decimal.NewFromFloat(49.00)))
	require.NotNil(t, got.PaidDate)
}

func TestProcessPartialPaymentKeepsInvoiceOpen(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 100.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	_, err := env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(40.00),
		Method:    paymentdomain.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)

	got := env.reloadInvoice(t, inv.ID)
	require.Equal(t, invoicedomain.InvoiceStatusPending, got.Status)
	require.True(t, got.PaidAmount.Equal(decimal.NewFromFloat(40.00)))
	require.Nil(t, got.PaidDate)

	// The remainder settles it.
	_, err = env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(60.00),
		Method:    paymentdomain.PaymentMethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, invoicedomain.InvoiceStatusPaid, env.reloadInvoice(t, inv.ID).Status)
}

func TestProcessRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	_, err := env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.Zero,
		Method:    paymentdomain.PaymentMethodCash,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(10.00),
		Method:    "barter",
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidMethod)

	_, err = env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(50.00),
		Method:    paymentdomain.PaymentMethodCash,
	})
	require.ErrorIs(t, err, paymentdomain.ErrAmountExceedsBalance)

	_, err = env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: env.node.Generate(),
		Amount:    decimal.NewFromFloat(10.00),
		Method:    paymentdomain.PaymentMethodCash,
	})
	require.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestProcessRejectsClosedInvoice(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusCancelled, env.clock.Now())

	_, err := env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(49.00),
		Method:    paymentdomain.PaymentMethodCash,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvoiceNotPayable)
}

func TestWebhookCompletesPayment(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	result, err := env.svc.CompleteWebhook(context.Background(), paymentdomain.WebhookRequest{
		InvoiceID:     inv.ID,
		TransactionID: "txn-001",
		Amount:        decimal.NewFromFloat(49.00),
		Succeeded:     true,
	})
	require.NoError(t, err)
	require.False(t, result.Replay)
	require.True(t, result.InvoicePaid)
	require.Equal(t, paymentdomain.PaymentStatusCompleted, result.Payment.Status)
	require.Equal(t, paymentdomain.PaymentMethodOnline, result.Payment.Method)
	require.Equal(t, invoicedomain.InvoiceStatusPaid, env.reloadInvoice(t, inv.ID).Status)
}

func TestWebhookReplayDoesNotDoubleCredit(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	req := paymentdomain.WebhookRequest{
		InvoiceID:     inv.ID,
		TransactionID: "txn-001",
		Amount:        decimal.NewFromFloat(49.00),
		Succeeded:     true,
	}
	first, err := env.svc.CompleteWebhook(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Replay)

	second, err := env.svc.CompleteWebhook(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Replay)
	require.Equal(t, first.Payment.ID, second.Payment.ID)

	got := env.reloadInvoice(t, inv.ID)
	require.True(t, got.PaidAmount.Equal(decimal.NewFromFloat(49.00)), "paid %s", got.PaidAmount)

	payments, err := env.svc.ListByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
}

func TestWebhookFailureMarksPaymentFailed(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	result, err := env.svc.CompleteWebhook(context.Background(), paymentdomain.WebhookRequest{
		InvoiceID:     inv.ID,
		TransactionID: "txn-002",
		Amount:        decimal.NewFromFloat(49.00),
		Succeeded:     false,
	})
	require.NoError(t, err)
	require.Equal(t, paymentdomain.PaymentStatusFailed, result.Payment.Status)

	got := env.reloadInvoice(t, inv.ID)
	require.Equal(t, invoicedomain.InvoiceStatusPending, got.Status)
	require.True(t, got.PaidAmount.IsZero())
}

func TestWebhookLosingCompletionIsRejected(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	// Two gateways race to settle the same invoice in full. They
	// serialize on the invoice row; whichever lands second must not
	// credit a second time.
	_, err := env.svc.CompleteWebhook(context.Background(), paymentdomain.WebhookRequest{
		InvoiceID:     inv.ID,
		TransactionID: "txn-a",
		Amount:        decimal.NewFromFloat(49.00),
		Succeeded:     true,
	})
	require.NoError(t, err)

	_, err = env.svc.CompleteWebhook(context.Background(), paymentdomain.WebhookRequest{
		InvoiceID:     inv.ID,
		TransactionID: "txn-b",
		Amount:        decimal.NewFromFloat(49.00),
		Succeeded:     true,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvoiceNotPayable)

	got := env.reloadInvoice(t, inv.ID)
	require.True(t, got.PaidAmount.Equal(decimal.NewFromFloat(49.00)), "paid %s", got.PaidAmount)
}

func TestWebhookPartialThenOverpayRejected(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 100.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	_, err := env.svc.CompleteWebhook(context.Background(), paymentdomain.WebhookRequest{
		InvoiceID:     inv.ID,
		TransactionID: "txn-a",
		Amount:        decimal.NewFromFloat(70.00),
		Succeeded:     true,
	})
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	// 70 + 70 > 100: the second completion exceeds the open balance.
	_, err = env.svc.CompleteWebhook(context.Background(), paymentdomain.WebhookRequest{
		InvoiceID:     inv.ID,
		TransactionID: "txn-b",
		Amount:        decimal.NewFromFloat(70.00),
		Succeeded:     true,
	})
	require.ErrorIs(t, err, paymentdomain.ErrAmountExceedsBalance)

	got := env.reloadInvoice(t, inv.ID)
	require.True(t, got.PaidAmount.Equal(decimal.NewFromFloat(70.00)), "paid %s", got.PaidAmount)

	payments, err := env.svc.ListByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.Equal(t, paymentdomain.PaymentStatusFailed, payments[1].Status)

	// Re-delivery of the rejected transaction returns the recorded
	// failure without touching balances or creating another row.
	replay, err := env.svc.CompleteWebhook(context.Background(), paymentdomain.WebhookRequest{
		InvoiceID:     inv.ID,
		TransactionID: "txn-b",
		Amount:        decimal.NewFromFloat(70.00),
		Succeeded:     true,
	})
	require.NoError(t, err)
	require.True(t, replay.Replay)
	require.Equal(t, paymentdomain.PaymentStatusFailed, replay.Payment.Status)

	payments, err = env.svc.ListByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
}

func TestRefundReopensInvoice(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	payment, err := env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(49.00),
		Method:    paymentdomain.PaymentMethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, invoicedomain.InvoiceStatusPaid, env.reloadInvoice(t, inv.ID).Status)

	refunded, err := env.svc.Refund(context.Background(), payment.ID, "customer dispute")
	require.NoError(t, err)
	require.Equal(t, paymentdomain.PaymentStatusRefunded, refunded.Status)
	require.Equal(t, "customer dispute", refunded.Notes)

	got := env.reloadInvoice(t, inv.ID)
	require.Equal(t, invoicedomain.InvoiceStatusPending, got.Status)
	require.True(t, got.PaidAmount.IsZero(), "paid %s", got.PaidAmount)
	require.Nil(t, got.PaidDate)
}

func TestRefundAfterDueDateReopensAsOverdue(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 49.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 2))

	payment, err := env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(49.00),
		Method:    paymentdomain.PaymentMethodCash,
	})
	require.NoError(t, err)

	env.clock.Advance(5 * 24 * time.Hour)

	_, err = env.svc.Refund(context.Background(), payment.ID, "billing error")
	require.NoError(t, err)
	require.Equal(t, invoicedomain.InvoiceStatusOverdue, env.reloadInvoice(t, inv.ID).Status)
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 100.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	payment, err := env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromFloat(50.00),
		Method:    paymentdomain.PaymentMethodOnline,
	})
	require.NoError(t, err)
	require.Equal(t, paymentdomain.PaymentStatusPending, payment.Status)

	_, err = env.svc.Refund(context.Background(), payment.ID, "not settled yet")
	require.ErrorIs(t, err, paymentdomain.ErrNotRefundable)

	_, err = env.svc.Refund(context.Background(), env.node.Generate(), "missing")
	require.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestDuplicateTransactionOnProcess(t *testing.T) {
	env := newTestEnv(t)
	inv := env.createInvoice(t, 100.00, invoicedomain.InvoiceStatusPending, env.clock.Now().AddDate(0, 0, 5))

	_, err := env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID:     inv.ID,
		Amount:        decimal.NewFromFloat(10.00),
		Method:        paymentdomain.PaymentMethodCash,
		TransactionID: "txn-dup",
	})
	require.NoError(t, err)

	_, err = env.svc.Process(context.Background(), paymentdomain.ProcessRequest{
		InvoiceID:     inv.ID,
		Amount:        decimal.NewFromFloat(10.00),
		Method:        paymentdomain.PaymentMethodCash,
		TransactionID: "txn-dup",
	})
	require.ErrorIs(t, err, paymentdomain.ErrDuplicateTransaction)
}
