package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/wireline/internal/clock"
	"github.com/smallbiznis/wireline/internal/config"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	"github.com/smallbiznis/wireline/internal/notifier"
	"github.com/smallbiznis/wireline/internal/observability/metrics"
	plandomain "github.com/smallbiznis/wireline/internal/plan/domain"
	"github.com/smallbiznis/wireline/internal/rating"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	"github.com/smallbiznis/wireline/internal/tax"
	"github.com/smallbiznis/wireline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	Notifier notifier.Notifier
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	notifier notifier.Notifier
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		notifier: p.Notifier,
	}
}

// billingTarget joins the rows the generator reads for one subscription.
type billingTarget struct {
	Subscription  subscriptiondomain.Subscription
	Plan          plandomain.Plan
	CustomerName  string
	CustomerEmail string
	Country       string
	CustomerSince time.Time
}

func (t billingTarget) recipient() notifier.Recipient {
	return notifier.Recipient{Name: t.CustomerName, Email: t.CustomerEmail}
}

func (s *Service) Generate(ctx context.Context, subscriptionID snowflake.ID, billingDate time.Time) (invoicedomain.Invoice, error) {
	target, err := s.loadBillingTarget(ctx, subscriptionID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if target.Subscription.Status != subscriptiondomain.SubscriptionStatusActive {
		return invoicedomain.Invoice{}, invoicedomain.ErrSubscriptionState
	}

	invoice, err := s.generateForTarget(ctx, target, billingDate)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.sendInvoiceAsync(invoice, target.recipient())
	return invoice, nil
}

func (s *Service) generateForTarget(ctx context.Context, target billingTarget, billingDate time.Time) (invoicedomain.Invoice, error) {
	cfg := s.billing.Get()
	now := s.clock.Now()

	periodStart := truncateDay(billingDate)
	periodEnd := periodEndFor(periodStart, target.Plan.BillingCycle)
	if !periodEnd.After(periodStart) {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidPeriod
	}

	subtotal := target.Plan.Price
	taxAmount := tax.Compute(cfg, subtotal, target.Country)
	discount := rating.Discount(cfg, subtotal, target.Subscription.View(), target.CustomerSince, now)
	total := subtotal.Add(taxAmount).Sub(discount)

	subID := target.Subscription.ID
	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		CustomerID:     target.Subscription.CustomerID,
		SubscriptionID: &subID,
		Type:           invoicedomain.InvoiceTypeMonthly,
		Status:         invoicedomain.InvoiceStatusPending,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Subtotal:       subtotal,
		TaxAmount:      taxAmount,
		DiscountAmount: discount,
		TotalAmount:    total,
		PaidAmount:     decimal.Zero,
		IssueDate:      now,
		DueDate:        periodStart.AddDate(0, 0, cfg.DueDays),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findPeriodInvoice(ctx, tx, subID, periodStart)
		if err != nil {
			return err
		}
		if existing != 0 {
			return invoicedomain.ErrDuplicatePeriod
		}

		number, err := s.nextNumber(ctx, tx, invoicedomain.InvoicePrefix, "invoices", "invoice_number")
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number

		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			// Concurrent generation loses the unique-constraint race here:
			// report it the same way as the pre-check.
			if db.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrDuplicatePeriod
			}
			return err
		}

		return s.recordBillingCycle(ctx, tx, subID, periodStart, periodEnd, subtotal, total, now)
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	metrics.Billing().IncInvoiceGenerated(string(invoice.Type))
	s.log.Info("invoice.generated",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("subscription_id", subID.String()),
		zap.String("total", invoice.TotalAmount.String()),
	)
	return invoice, nil
}

func (s *Service) GenerateSetupFee(ctx context.Context, subscriptionID snowflake.ID) (invoicedomain.Invoice, error) {
	target, err := s.loadBillingTarget(ctx, subscriptionID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if target.Plan.SetupFee.Sign() <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrNoSetupFee
	}

	cfg := s.billing.Get()
	now := s.clock.Now()
	subtotal := target.Plan.SetupFee
	taxAmount := tax.Compute(cfg, subtotal, target.Country)

	subID := target.Subscription.ID
	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		CustomerID:     target.Subscription.CustomerID,
		SubscriptionID: &subID,
		Type:           invoicedomain.InvoiceTypeSetup,
		Status:         invoicedomain.InvoiceStatusPending,
		PeriodStart:    truncateDay(now),
		PeriodEnd:      truncateDay(now).AddDate(0, 0, 1),
		Subtotal:       subtotal,
		TaxAmount:      taxAmount,
		DiscountAmount: decimal.Zero,
		TotalAmount:    subtotal.Add(taxAmount),
		PaidAmount:     decimal.Zero,
		IssueDate:      now,
		DueDate:        now.AddDate(0, 0, cfg.SetupFeeDueDays),
		Notes:          "setup fee",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.nextNumber(ctx, tx, invoicedomain.InvoicePrefix, "invoices", "invoice_number")
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number
		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return invoicedomain.ErrDuplicatePeriod
			}
			return err
		}
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	metrics.Billing().IncInvoiceGenerated(string(invoice.Type))
	s.sendInvoiceAsync(invoice, target.recipient())
	return invoice, nil
}

// BulkGenerate fans generation out over eligible subscriptions with
// per-item error isolation: one subscription's failure is recorded and
// the batch continues. Duplicate-period skips are reported as error
// entries, not silently ignored, so operators can audit skipped periods.
func (s *Service) BulkGenerate(ctx context.Context, customerIDs []snowflake.ID, billingDate time.Time) (invoicedomain.BulkResult, error) {
	targets, err := s.loadEligibleTargets(ctx, customerIDs)
	if err != nil {
		return invoicedomain.BulkResult{}, err
	}

	result := invoicedomain.BulkResult{
		Generated: make([]invoicedomain.Invoice, 0, len(targets)),
		Errors:    make([]invoicedomain.BulkError, 0),
		Summary:   invoicedomain.BulkSummary{Eligible: len(targets), Total: decimal.Zero},
	}

	for _, target := range targets {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		invoice, err := s.generateForTarget(ctx, target, billingDate)
		if err != nil {
			result.Errors = append(result.Errors, invoicedomain.BulkError{
				SubscriptionID: target.Subscription.ID,
				CustomerName:   target.CustomerName,
				Reason:         err.Error(),
			})
			continue
		}
		result.Generated = append(result.Generated, invoice)
		result.Summary.Total = result.Summary.Total.Add(invoice.TotalAmount)
		s.sendInvoiceAsync(invoice, target.recipient())
	}

	result.Summary.Succeeded = len(result.Generated)
	result.Summary.Failed = len(result.Errors)

	s.log.Info("invoice.bulk_generated",
		zap.Int("eligible", result.Summary.Eligible),
		zap.Int("succeeded", result.Summary.Succeeded),
		zap.Int("failed", result.Summary.Failed),
	)
	return result, nil
}

func (s *Service) CreateAdjustment(ctx context.Context, req invoicedomain.AdjustmentRequest) (invoicedomain.Invoice, error) {
	if req.Amount.Sign() <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}

	country, err := s.customerCountry(ctx, req.CustomerID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	cfg := s.billing.Get()
	now := s.clock.Now()
	taxAmount := tax.Compute(cfg, req.Amount, country)

	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		Type:           invoicedomain.InvoiceTypeAdjustment,
		Status:         invoicedomain.InvoiceStatusPending,
		PeriodStart:    truncateDay(now),
		PeriodEnd:      truncateDay(now).AddDate(0, 0, 1),
		Subtotal:       req.Amount,
		TaxAmount:      taxAmount,
		DiscountAmount: decimal.Zero,
		TotalAmount:    req.Amount.Add(taxAmount),
		PaidAmount:     decimal.Zero,
		IssueDate:      now,
		DueDate:        now.AddDate(0, 0, cfg.DueDays),
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.nextNumber(ctx, tx, invoicedomain.InvoicePrefix, "invoices", "invoice_number")
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number
		return tx.WithContext(ctx).Create(&invoice).Error
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	metrics.Billing().IncInvoiceGenerated(string(invoice.Type))
	return invoice, nil
}

// Cancel is administrative: only draft or pending invoices may be
// cancelled, and the transition is terminal.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.lockInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Status != invoicedomain.InvoiceStatusDraft && invoice.Status != invoicedomain.InvoiceStatusPending {
			return invoicedomain.ErrNotCancellable
		}

		return tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET status = ?, notes = CASE WHEN ? = '' THEN notes ELSE ? END, updated_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			invoicedomain.InvoiceStatusCancelled,
			reason,
			reason,
			now,
			id,
			invoicedomain.InvoiceStatusDraft,
			invoicedomain.InvoiceStatusPending,
		).Error
	})
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE id = ?`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if invoice.ID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) ([]invoicedomain.Invoice, error) {
	stmt := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{})
	if req.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *req.CustomerID)
	}
	if req.Status != nil {
		stmt = stmt.Where("status = ?", *req.Status)
	}
	if req.DueBefore != nil {
		stmt = stmt.Where("due_date < ?", *req.DueBefore)
	}

	var invoices []invoicedomain.Invoice
	err := stmt.Order("created_at DESC").Find(&invoices).Error
	return invoices, err
}

// OutstandingCount reports how many invoices still demand money from a
// customer. Reactivation requires it to be zero.
func (s *Service) OutstandingCount(ctx context.Context, customerID snowflake.ID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM invoices
		 WHERE customer_id = ? AND status IN (?, ?)`,
		customerID,
		invoicedomain.InvoiceStatusPending,
		invoicedomain.InvoiceStatusOverdue,
	).Scan(&count).Error
	return count, err
}

func (s *Service) loadBillingTarget(ctx context.Context, subscriptionID snowflake.ID) (billingTarget, error) {
	var row struct {
		subscriptiondomain.Subscription
		PlanPrice        decimal.Decimal
		PlanSetupFee     decimal.Decimal
		PlanBillingCycle plandomain.BillingCycleType
		CustomerName     string
		CustomerEmail    string
		Country          string
		CustomerSince    time.Time
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT s.*, p.price AS plan_price, p.setup_fee AS plan_setup_fee,
		        p.billing_cycle AS plan_billing_cycle,
		        c.name AS customer_name, c.email AS customer_email,
		        c.country AS country, c.created_at AS customer_since
		 FROM subscriptions s
		 JOIN plans p ON p.id = s.plan_id
		 JOIN customers c ON c.id = s.customer_id
		 WHERE s.id = ?`,
		subscriptionID,
	).Scan(&row).Error
	if err != nil {
		return billingTarget{}, err
	}
	if row.ID == 0 {
		return billingTarget{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	return billingTarget{
		Subscription: row.Subscription,
		Plan: plandomain.Plan{
			ID:           row.PlanID,
			Price:        row.PlanPrice,
			SetupFee:     row.PlanSetupFee,
			BillingCycle: row.PlanBillingCycle,
		},
		CustomerName:  row.CustomerName,
		CustomerEmail: row.CustomerEmail,
		Country:       row.Country,
		CustomerSince: row.CustomerSince,
	}, nil
}

func (s *Service) loadEligibleTargets(ctx context.Context, customerIDs []snowflake.ID) ([]billingTarget, error) {
	query := `SELECT s.*, p.price AS plan_price, p.setup_fee AS plan_setup_fee,
	                 p.billing_cycle AS plan_billing_cycle,
	                 c.name AS customer_name, c.email AS customer_email,
	                 c.country AS country, c.created_at AS customer_since
	          FROM subscriptions s
	          JOIN plans p ON p.id = s.plan_id
	          JOIN customers c ON c.id = s.customer_id
	          WHERE s.status = ?`
	args := []any{subscriptiondomain.SubscriptionStatusActive}
	if len(customerIDs) > 0 {
		query += ` AND s.customer_id IN ?`
		args = append(args, customerIDs)
	}
	query += ` ORDER BY s.id`

	var rows []struct {
		subscriptiondomain.Subscription
		PlanPrice        decimal.Decimal
		PlanSetupFee     decimal.Decimal
		PlanBillingCycle plandomain.BillingCycleType
		CustomerName     string
		CustomerEmail    string
		Country          string
		CustomerSince    time.Time
	}
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	targets := make([]billingTarget, 0, len(rows))
	for _, row := range rows {
		targets = append(targets, billingTarget{
			Subscription: row.Subscription,
			Plan: plandomain.Plan{
				ID:           row.PlanID,
				Price:        row.PlanPrice,
				SetupFee:     row.PlanSetupFee,
				BillingCycle: row.PlanBillingCycle,
			},
			CustomerName:  row.CustomerName,
			CustomerEmail: row.CustomerEmail,
			Country:       row.Country,
			CustomerSince: row.CustomerSince,
		})
	}
	return targets, nil
}

func (s *Service) customerCountry(ctx context.Context, customerID snowflake.ID) (string, error) {
	var country string
	err := s.db.WithContext(ctx).Raw(
		`SELECT country FROM customers WHERE id = ?`,
		customerID,
	).Scan(&country).Error
	return country, err
}

func (s *Service) lockInvoice(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE id = ?`+db.LockClause(tx),
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (s *Service) findPeriodInvoice(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (snowflake.ID, error) {
	var id snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id
		 FROM invoices
		 WHERE subscription_id = ? AND period_start = ? AND type = ? AND status <> ?
		 LIMIT 1`,
		subscriptionID,
		periodStart,
		invoicedomain.InvoiceTypeMonthly,
		invoicedomain.InvoiceStatusCancelled,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) nextNumber(ctx context.Context, tx *gorm.DB, prefix, table, column string) (string, error) {
	var last string
	err := tx.WithContext(ctx).Raw(
		`SELECT ` + column + ` FROM ` + table + ` ORDER BY ` + column + ` DESC LIMIT 1` + db.LockClause(tx),
	).Scan(&last).Error
	if err != nil {
		return "", err
	}
	return invoicedomain.NextNumber(prefix, last, s.clock.Now()), nil
}

func (s *Service) recordBillingCycle(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, periodStart, periodEnd time.Time, base, total decimal.Decimal, now time.Time) error {
	var cycleCount int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_cycles WHERE subscription_id = ?`,
		subscriptionID,
	).Scan(&cycleCount).Error; err != nil {
		return err
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO billing_cycles (
			id, subscription_id, cycle_number, period_start, period_end,
			base_amount, total_amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		subscriptionID,
		cycleCount+1,
		periodStart,
		periodEnd,
		base,
		total,
		now,
	).Error
}

func (s *Service) sendInvoiceAsync(invoice invoicedomain.Invoice, to notifier.Recipient) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.SendInvoice(ctx, invoice, to); err != nil {
			s.log.Warn("invoice.notify_failed",
				zap.String("invoice_number", invoice.InvoiceNumber),
				zap.Error(err),
			)
		}
	}()
}

func periodEndFor(start time.Time, cycle plandomain.BillingCycleType) time.Time {
	switch cycle {
	case plandomain.BillingCycleMonthly:
		return start.AddDate(0, 1, -1)
	case plandomain.BillingCycleQuarterly:
		return start.AddDate(0, 3, -1)
	case plandomain.BillingCycleYearly:
		return start.AddDate(1, 0, -1)
	default:
		return start.AddDate(0, 0, 30)
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
