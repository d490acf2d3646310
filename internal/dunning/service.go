package dunning

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wireline/internal/clock"
	"github.com/smallbiznis/wireline/internal/config"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	"github.com/smallbiznis/wireline/internal/netaccess"
	"github.com/smallbiznis/wireline/internal/notifier"
	"github.com/smallbiznis/wireline/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	"github.com/smallbiznis/wireline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SweepError records a single failed item inside a sweep. Sweeps keep
// going past individual failures and report them all at the end.
type SweepError struct {
	InvoiceID      snowflake.ID `json:"invoice_id,omitempty"`
	SubscriptionID snowflake.ID `json:"subscription_id,omitempty"`
	CustomerID     snowflake.ID `json:"customer_id,omitempty"`
	Reason         string       `json:"reason"`
}

type SweepResult struct {
	Processed   int          `json:"processed"`
	Marked      int          `json:"marked"`
	Suspended   int          `json:"suspended"`
	Reactivated int          `json:"reactivated"`
	Errors      []SweepError `json:"errors"`
}

type Service interface {
	// MarkOverdue flips past-due pending invoices to overdue.
	// Idempotent: a second run over the same set changes nothing.
	MarkOverdue(ctx context.Context) (SweepResult, error)

	// EnforceOverdue suspends subscriptions whose invoices stayed
	// overdue past the grace period and disables network access.
	EnforceOverdue(ctx context.Context, graceDays int) (SweepResult, error)

	// Reactivate restores suspended subscriptions whose customer has
	// settled every open invoice.
	Reactivate(ctx context.Context) (SweepResult, error)
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Billing       *config.BillingConfigHolder
	Subscriptions subscriptiondomain.Service
	Invoices      invoicedomain.Service
	Net           netaccess.Gateway
	Notifier      notifier.Notifier
}

type service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	billing       *config.BillingConfigHolder
	subscriptions subscriptiondomain.Service
	invoices      invoicedomain.Service
	net           netaccess.Gateway
	notifier      notifier.Notifier
}

func NewService(p Params) Service {
	return &service{
		db:            p.DB,
		log:           p.Log.Named("dunning.service"),
		clock:         p.Clock,
		billing:       p.Billing,
		subscriptions: p.Subscriptions,
		invoices:      p.Invoices,
		net:           p.Net,
		notifier:      p.Notifier,
	}
}

// overdueRow is one claimed invoice plus the customer contact fields
// the overdue notice needs.
type overdueRow struct {
	invoicedomain.Invoice
	CustomerName  string
	CustomerEmail string
}

func (s *service) MarkOverdue(ctx context.Context) (SweepResult, error) {
	cfg := s.billing.Get()
	today := truncateDay(s.clock.Now())
	result := SweepResult{Errors: []SweepError{}}

	for {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		var batch []overdueRow
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Claim a chunk at a time so payment webhooks arriving
			// mid-sweep never wait on one long transaction.
			if err := tx.WithContext(ctx).Raw(
				`SELECT i.*, c.name AS customer_name, c.email AS customer_email
				 FROM invoices i
				 JOIN customers c ON c.id = i.customer_id
				 WHERE i.status = ? AND i.due_date < ?
				 ORDER BY i.id
				 LIMIT ?`+db.SkipLockedClause(tx),
				invoicedomain.InvoiceStatusPending,
				today,
				cfg.SweepBatchSize,
			).Scan(&batch).Error; err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}

			ids := make([]snowflake.ID, 0, len(batch))
			for _, row := range batch {
				ids = append(ids, row.ID)
			}
			res := tx.WithContext(ctx).Exec(
				`UPDATE invoices SET status = ?, updated_at = ? WHERE id IN ? AND status = ?`,
				invoicedomain.InvoiceStatusOverdue,
				s.clock.Now(),
				ids,
				invoicedomain.InvoiceStatusPending,
			)
			if res.Error != nil {
				return res.Error
			}
			result.Marked += int(res.RowsAffected)
			return nil
		})
		if err != nil {
			return result, err
		}

		result.Processed += len(batch)
		for _, row := range batch {
			s.sendOverdueAsync(row)
		}
		if len(batch) < cfg.SweepBatchSize {
			break
		}
	}

	s.log.Info("dunning.mark_overdue",
		zap.Int("processed", result.Processed),
		zap.Int("marked", result.Marked),
	)
	return result, nil
}

// enforceRow pairs an enforceable invoice with its subscription row.
type enforceRow struct {
	InvoiceID      snowflake.ID
	InvoiceNumber  string
	SubscriptionID snowflake.ID
	CustomerID     snowflake.ID
	SubStatus      subscriptiondomain.SubscriptionStatus
}

func (s *service) EnforceOverdue(ctx context.Context, graceDays int) (SweepResult, error) {
	cfg := s.billing.Get()
	if graceDays <= 0 {
		graceDays = cfg.GracePeriodDays
	}
	cutoff := truncateDay(s.clock.Now()).AddDate(0, 0, -graceDays)
	result := SweepResult{Errors: []SweepError{}}

	var rows []enforceRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT i.id AS invoice_id, i.invoice_number, s.id AS subscription_id,
		        s.customer_id, s.status AS sub_status
		 FROM invoices i
		 JOIN subscriptions s ON s.id = i.subscription_id
		 WHERE i.status = ? AND i.due_date < ?
		 ORDER BY i.id`,
		invoicedomain.InvoiceStatusOverdue,
		cutoff,
	).Scan(&rows).Error
	if err != nil {
		return result, err
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++

		if row.SubStatus != subscriptiondomain.SubscriptionStatusActive {
			continue
		}

		reason := fmt.Sprintf("overdue invoice %s", row.InvoiceNumber)
		suspended, err := s.subscriptions.Suspend(ctx, row.SubscriptionID, reason)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{
				InvoiceID:      row.InvoiceID,
				SubscriptionID: row.SubscriptionID,
				CustomerID:     row.CustomerID,
				Reason:         err.Error(),
			})
			continue
		}
		if !suspended {
			// Another iteration or sweep got there first.
			continue
		}
		result.Suspended++
		metrics.Billing().IncSuspension()

		// Suspension is committed; the network call happens outside
		// any lock and its failure is reported, not rolled back.
		if err := s.net.Disable(ctx, row.CustomerID); err != nil {
			result.Errors = append(result.Errors, SweepError{
				InvoiceID:      row.InvoiceID,
				SubscriptionID: row.SubscriptionID,
				CustomerID:     row.CustomerID,
				Reason:         fmt.Sprintf("network disable failed: %v", err),
			})
		}
	}

	s.log.Info("dunning.enforce_overdue",
		zap.Int("processed", result.Processed),
		zap.Int("suspended", result.Suspended),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// reactivateRow is one suspended subscription with a recently paid
// invoice.
type reactivateRow struct {
	SubscriptionID snowflake.ID
	CustomerID     snowflake.ID
}

func (s *service) Reactivate(ctx context.Context) (SweepResult, error) {
	cfg := s.billing.Get()
	now := s.clock.Now()
	since := now.Add(-time.Duration(cfg.ReactivationWindowHrs) * time.Hour)
	result := SweepResult{Errors: []SweepError{}}

	var rows []reactivateRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT s.id AS subscription_id, s.customer_id
		 FROM invoices i
		 JOIN subscriptions s ON s.id = i.subscription_id
		 WHERE i.status = ? AND i.paid_date >= ? AND s.status = ?
		 ORDER BY s.id`,
		invoicedomain.InvoiceStatusPaid,
		since,
		subscriptiondomain.SubscriptionStatusSuspended,
	).Scan(&rows).Error
	if err != nil {
		return result, err
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++

		// The customer must owe nothing anywhere, not just on the
		// invoice that triggered this sweep.
		outstanding, err := s.invoices.OutstandingCount(ctx, row.CustomerID)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{
				SubscriptionID: row.SubscriptionID,
				CustomerID:     row.CustomerID,
				Reason:         err.Error(),
			})
			continue
		}
		if outstanding > 0 {
			continue
		}

		reactivated, err := s.subscriptions.Reactivate(ctx, row.SubscriptionID)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{
				SubscriptionID: row.SubscriptionID,
				CustomerID:     row.CustomerID,
				Reason:         err.Error(),
			})
			continue
		}
		if !reactivated {
			continue
		}
		result.Reactivated++
		metrics.Billing().IncReactivation()

		if err := s.net.Enable(ctx, row.CustomerID); err != nil {
			result.Errors = append(result.Errors, SweepError{
				SubscriptionID: row.SubscriptionID,
				CustomerID:     row.CustomerID,
				Reason:         fmt.Sprintf("network enable failed: %v", err),
			})
		}
	}

	s.log.Info("dunning.reactivate",
		zap.Int("processed", result.Processed),
		zap.Int("reactivated", result.Reactivated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *service) sendOverdueAsync(row overdueRow) {
	invoice := row.Invoice
	to := notifier.Recipient{Name: row.CustomerName, Email: row.CustomerEmail}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.SendOverdueNotice(ctx, invoice, to); err != nil {
			s.log.Warn("dunning.notify_failed",
				zap.String("invoice_number", invoice.InvoiceNumber),
				zap.Error(err),
			)
		}
	}()
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var Module = fx.Module("dunning.service",
	fx.Provide(NewService),
)
