package dunning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/wireline/internal/clock"
	"github.com/smallbiznis/wireline/internal/config"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/wireline/internal/invoice/service"
	"github.com/smallbiznis/wireline/internal/migration"
	"github.com/smallbiznis/wireline/internal/notifier"
	"github.com/smallbiznis/wireline/internal/providers/email"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/wireline/internal/subscription/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	disabled    []snowflake.ID
	enabled     []snowflake.ID
	failDisable bool
}

func (g *fakeGateway) Disable(ctx context.Context, customerID snowflake.ID) error {
	if g.failDisable {
		return errors.New("radius unreachable")
	}
	g.disabled = append(g.disabled, customerID)
	return nil
}

func (g *fakeGateway) Enable(ctx context.Context, customerID snowflake.ID) error {
	g.enabled = append(g.enabled, customerID)
	return nil
}

type testEnv struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	net   *fakeGateway
	subs  subscriptiondomain.Service
	svc   Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	log := zap.NewNop()
	send := notifier.NewNotifier(notifier.Params{Provider: &email.NoOpProvider{}, Log: log})

	subs := subscriptionservice.NewService(subscriptionservice.Params{
		DB:    conn,
		Log:   log,
		Clock: fake,
	})
	invoices := invoiceservice.NewService(invoiceservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Billing:  holder,
		Notifier: send,
	})
	gateway := &fakeGateway{}

	svc := NewService(Params{
		DB:            conn,
		Log:           log,
		Clock:         fake,
		Billing:       holder,
		Subscriptions: subs,
		Invoices:      invoices,
		Net:           gateway,
		Notifier:      send,
	})
	return &testEnv{db: conn, node: node, clock: fake, net: gateway, subs: subs, svc: svc}
}

type fixtures struct {
	customerID snowflake.ID
	subID      snowflake.ID
}

func (e *testEnv) createAccount(t *testing.T, status subscriptiondomain.SubscriptionStatus) fixtures {
	t.Helper()
	customerID := e.node.Generate()
	require.NoError(t, e.db.Exec(
		`INSERT INTO customers (id, name, email, country, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		customerID, "Dunning Customer", "dunning@example.com", "US", e.clock.Now(), e.clock.Now(),
	).Error)

	sub := subscriptiondomain.Subscription{
		ID:         e.node.Generate(),
		CustomerID: customerID,
		PlanID:     e.node.Generate(),
		Status:     status,
		MonthlyFee: decimal.NewFromFloat(49.99),
	}
	require.NoError(t, e.db.Create(&sub).Error)
	return fixtures{customerID: customerID, subID: sub.ID}
}

func (e *testEnv) createInvoice(t *testing.T, f fixtures, status invoicedomain.InvoiceStatus, due time.Time, paidDate *time.Time) invoicedomain.Invoice {
	t.Helper()
	now := e.clock.Now()
	subID := f.subID
	inv := invoicedomain.Invoice{
		ID:             e.node.Generate(),
		InvoiceNumber:  "INV-T" + e.node.Generate().String(),
		CustomerID:     f.customerID,
		SubscriptionID: &subID,
		Type:           invoicedomain.InvoiceTypeMonthly,
		Status:         status,
		PeriodStart:    due.AddDate(0, 0, -15),
		PeriodEnd:      due.AddDate(0, 0, 15),
		TotalAmount:    decimal.NewFromFloat(49.99),
		PaidAmount:     decimal.Zero,
		IssueDate:      now,
		DueDate:        due,
		PaidDate:       paidDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status == invoicedomain.InvoiceStatusPaid {
		inv.PaidAmount = inv.TotalAmount
	}
	require.NoError(t, e.db.Create(&inv).Error)
	return inv
}

func (e *testEnv) invoiceStatus(t *testing.T, id snowflake.ID) invoicedomain.InvoiceStatus {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, e.db.First(&inv, "id = ?", id).Error)
	return inv.Status
}

func (e *testEnv) subscriptionStatus(t *testing.T, id snowflake.ID) subscriptiondomain.SubscriptionStatus {
	t.Helper()
	sub, err := e.subs.Get(context.Background(), id)
	require.NoError(t, err)
	return sub.Status
}

func TestMarkOverdueFlipsPastDueInvoices(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, subscriptiondomain.SubscriptionStatusActive)
	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	pastDue := env.createInvoice(t, acct, invoicedomain.InvoiceStatusPending, today.AddDate(0, 0, -1), nil)
	notDue := env.createInvoice(t, acct, invoicedomain.InvoiceStatusPending, today.AddDate(0, 0, 1), nil)

	result, err := env.svc.MarkOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Marked)
	require.Equal(t, invoicedomain.InvoiceStatusOverdue, env.invoiceStatus(t, pastDue.ID))
	require.Equal(t, invoicedomain.InvoiceStatusPending, env.invoiceStatus(t, notDue.ID))

	// A second sweep over the same data finds nothing left to mark.
	again, err := env.svc.MarkOverdue(context.Background())
	require.NoError(t, err)
	require.Zero(t, again.Marked)
}

func TestMarkOverdueDueTodayIsNotOverdue(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, subscriptiondomain.SubscriptionStatusActive)
	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	dueToday := env.createInvoice(t, acct, invoicedomain.InvoiceStatusPending, today, nil)

	result, err := env.svc.MarkOverdue(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Marked)
	require.Equal(t, invoicedomain.InvoiceStatusPending, env.invoiceStatus(t, dueToday.ID))
}

func TestEnforceOverdueSuspendsAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	expired := env.createAccount(t, subscriptiondomain.SubscriptionStatusActive)
	env.createInvoice(t, expired, invoicedomain.InvoiceStatusOverdue, today.AddDate(0, 0, -10), nil)

	inGrace := env.createAccount(t, subscriptiondomain.SubscriptionStatusActive)
	env.createInvoice(t, inGrace, invoicedomain.InvoiceStatusOverdue, today.AddDate(0, 0, -3), nil)

	result, err := env.svc.EnforceOverdue(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.Suspended)
	require.Empty(t, result.Errors)

	require.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, env.subscriptionStatus(t, expired.subID))
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, env.subscriptionStatus(t, inGrace.subID))
	require.Equal(t, []snowflake.ID{expired.customerID}, env.net.disabled)

	// Rerun: the subscription is already suspended, nothing happens.
	again, err := env.svc.EnforceOverdue(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, again.Suspended)
	require.Len(t, env.net.disabled, 1)
}

func TestEnforceOverdueReportsNetworkFailure(t *testing.T) {
	env := newTestEnv(t)
	env.net.failDisable = true
	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	acct := env.createAccount(t, subscriptiondomain.SubscriptionStatusActive)
	env.createInvoice(t, acct, invoicedomain.InvoiceStatusOverdue, today.AddDate(0, 0, -10), nil)

	result, err := env.svc.EnforceOverdue(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.Suspended)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0].Reason, "network disable failed")

	// Suspension committed even though the disable call failed.
	require.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, env.subscriptionStatus(t, acct.subID))
}

func TestReactivateRestoresSettledCustomer(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, subscriptiondomain.SubscriptionStatusSuspended)
	paidAt := env.clock.Now().Add(-2 * time.Hour)
	env.createInvoice(t, acct, invoicedomain.InvoiceStatusPaid, env.clock.Now().AddDate(0, 0, -10), &paidAt)

	result, err := env.svc.Reactivate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Reactivated)
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, env.subscriptionStatus(t, acct.subID))
	require.Equal(t, []snowflake.ID{acct.customerID}, env.net.enabled)
}

func TestReactivateRequiresZeroOutstanding(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, subscriptiondomain.SubscriptionStatusSuspended)
	paidAt := env.clock.Now().Add(-2 * time.Hour)
	env.createInvoice(t, acct, invoicedomain.InvoiceStatusPaid, env.clock.Now().AddDate(0, 0, -10), &paidAt)

	// The customer still owes on a second invoice, possibly for a
	// different subscription.
	env.createInvoice(t, acct, invoicedomain.InvoiceStatusOverdue, env.clock.Now().AddDate(0, 0, -5), nil)

	result, err := env.svc.Reactivate(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Reactivated)
	require.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, env.subscriptionStatus(t, acct.subID))
	require.Empty(t, env.net.enabled)
}

func TestReactivateIgnoresStalePayments(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, subscriptiondomain.SubscriptionStatusSuspended)

	// Paid outside the reactivation window: the sweep does not pick
	// it up; a manual reactivation endpoint still can.
	paidAt := env.clock.Now().Add(-48 * time.Hour)
	env.createInvoice(t, acct, invoicedomain.InvoiceStatusPaid, env.clock.Now().AddDate(0, 0, -10), &paidAt)

	result, err := env.svc.Reactivate(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Processed)
	require.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, env.subscriptionStatus(t, acct.subID))
}
