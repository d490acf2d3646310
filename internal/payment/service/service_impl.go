package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/wireline/internal/clock"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	"github.com/smallbiznis/wireline/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/wireline/internal/payment/domain"
	"github.com/smallbiznis/wireline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Process(ctx context.Context, req paymentdomain.ProcessRequest) (paymentdomain.Payment, error) {
	if req.Amount.Sign() <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}
	if !req.Method.Valid() {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidMethod
	}

	now := s.clock.Now()
	var payment paymentdomain.Payment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.lockInvoice(ctx, tx, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if !invoice.Payable() {
			return paymentdomain.ErrInvoiceNotPayable
		}
		if req.Amount.GreaterThan(invoice.BalanceDue()) {
			return paymentdomain.ErrAmountExceedsBalance
		}

		number, err := s.nextNumber(ctx, tx)
		if err != nil {
			return err
		}

		txnID := req.TransactionID
		if txnID == "" {
			txnID = ulid.Make().String()
		}

		payment = paymentdomain.Payment{
			ID:            s.genID.Generate(),
			PaymentNumber: number,
			InvoiceID:     invoice.ID,
			CustomerID:    invoice.CustomerID,
			Amount:        req.Amount,
			Method:        req.Method,
			Status:        paymentdomain.PaymentStatusPending,
			TransactionID: txnID,
			Notes:         req.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrDuplicateTransaction
			}
			return err
		}

		if req.Method.Manual() {
			return s.completeLocked(ctx, tx, &payment, invoice, now)
		}
		return nil
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	if payment.Status == paymentdomain.PaymentStatusCompleted {
		metrics.Billing().IncPaymentApplied(string(payment.Method))
	}
	s.log.Info("payment.recorded",
		zap.String("payment_number", payment.PaymentNumber),
		zap.String("invoice_id", payment.InvoiceID.String()),
		zap.String("amount", payment.Amount.String()),
		zap.String("status", string(payment.Status)),
	)
	return payment, nil
}

func (s *Service) CompleteWebhook(ctx context.Context, req paymentdomain.WebhookRequest) (paymentdomain.WebhookResult, error) {
	if req.TransactionID == "" {
		return paymentdomain.WebhookResult{}, paymentdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	var result paymentdomain.WebhookResult
	var rejectErr error

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Invoice lock first so every webhook for the same invoice
		// serializes here, replay detection included.
		invoice, err := s.lockInvoice(ctx, tx, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		existing, err := s.findByTransaction(ctx, tx, req.InvoiceID, req.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != paymentdomain.PaymentStatusPending {
			result = paymentdomain.WebhookResult{Payment: *existing, Replay: true, CustomerID: invoice.CustomerID}
			return nil
		}

		payment := existing
		if payment == nil {
			if req.Amount.Sign() <= 0 {
				return paymentdomain.ErrInvalidAmount
			}
			method := req.Method
			if method == "" {
				method = paymentdomain.PaymentMethodOnline
			}
			number, err := s.nextNumber(ctx, tx)
			if err != nil {
				return err
			}
			payment = &paymentdomain.Payment{
				ID:            s.genID.Generate(),
				PaymentNumber: number,
				InvoiceID:     invoice.ID,
				CustomerID:    invoice.CustomerID,
				Amount:        req.Amount,
				Method:        method,
				Status:        paymentdomain.PaymentStatusPending,
				TransactionID: req.TransactionID,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.WithContext(ctx).Create(payment).Error; err != nil {
				if db.IsDuplicateKeyErr(err) {
					return paymentdomain.ErrDuplicateTransaction
				}
				return err
			}
		}

		if !req.Succeeded {
			if err := s.markPayment(ctx, tx, payment, paymentdomain.PaymentStatusFailed, nil, now); err != nil {
				return err
			}
			result = paymentdomain.WebhookResult{Payment: *payment, CustomerID: invoice.CustomerID}
			return nil
		}

		// Rejections commit so the failed record survives for replay
		// detection; the sentinel is surfaced after the transaction.
		if !invoice.Payable() {
			if err := s.markPayment(ctx, tx, payment, paymentdomain.PaymentStatusFailed, nil, now); err != nil {
				return err
			}
			result = paymentdomain.WebhookResult{Payment: *payment, CustomerID: invoice.CustomerID}
			rejectErr = paymentdomain.ErrInvoiceNotPayable
			return nil
		}
		if payment.Amount.GreaterThan(invoice.BalanceDue()) {
			// The losing side of two concurrent completions lands here
			// after the winner's credit is committed.
			if err := s.markPayment(ctx, tx, payment, paymentdomain.PaymentStatusFailed, nil, now); err != nil {
				return err
			}
			result = paymentdomain.WebhookResult{Payment: *payment, CustomerID: invoice.CustomerID}
			rejectErr = paymentdomain.ErrAmountExceedsBalance
			return nil
		}

		if err := s.completeLocked(ctx, tx, payment, invoice, now); err != nil {
			return err
		}
		result = paymentdomain.WebhookResult{
			Payment:     *payment,
			InvoicePaid: invoice.PaidAmount.Add(payment.Amount).GreaterThanOrEqual(invoice.TotalAmount),
			CustomerID:  invoice.CustomerID,
		}
		return nil
	})
	if err != nil {
		return paymentdomain.WebhookResult{}, err
	}
	if rejectErr != nil {
		s.log.Warn("payment.webhook_rejected",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.String("transaction_id", req.TransactionID),
			zap.Error(rejectErr),
		)
		return result, rejectErr
	}

	if !result.Replay {
		if result.Payment.Status == paymentdomain.PaymentStatusCompleted {
			metrics.Billing().IncPaymentApplied(string(result.Payment.Method))
		}
		s.log.Info("payment.webhook_applied",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.String("transaction_id", req.TransactionID),
			zap.String("status", string(result.Payment.Status)),
			zap.Bool("invoice_paid", result.InvoicePaid),
		)
	}
	return result, nil
}

func (s *Service) Refund(ctx context.Context, paymentID snowflake.ID, reason string) (paymentdomain.Payment, error) {
	now := s.clock.Now()
	var payment paymentdomain.Payment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM payments WHERE id = ?`,
			paymentID,
		).Scan(&payment).Error; err != nil {
			return err
		}
		if payment.ID == 0 {
			return paymentdomain.ErrPaymentNotFound
		}

		invoice, err := s.lockInvoice(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		// Re-read under the invoice lock; a concurrent refund of the
		// same payment serializes on it.
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM payments WHERE id = ?`,
			paymentID,
		).Scan(&payment).Error; err != nil {
			return err
		}
		if payment.Status != paymentdomain.PaymentStatusCompleted {
			return paymentdomain.ErrNotRefundable
		}
		if payment.Amount.GreaterThan(invoice.PaidAmount) {
			return paymentdomain.ErrRefundExceedsPaid
		}

		if err := s.markPayment(ctx, tx, &payment, paymentdomain.PaymentStatusRefunded, &reason, now); err != nil {
			return err
		}

		remaining := invoice.PaidAmount.Sub(payment.Amount)
		status := invoice.Status
		if invoice.Status == invoicedomain.InvoiceStatusPaid && remaining.LessThan(invoice.TotalAmount) {
			status = invoicedomain.InvoiceStatusPending
			if now.After(invoice.DueDate) {
				status = invoicedomain.InvoiceStatusOverdue
			}
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET paid_amount = ?, status = ?,
			     paid_date = CASE WHEN ? THEN paid_date ELSE NULL END,
			     updated_at = ?
			 WHERE id = ?`,
			remaining,
			status,
			status == invoicedomain.InvoiceStatusPaid,
			now,
			invoice.ID,
		).Error
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	metrics.Billing().IncRefund()
	s.log.Info("payment.refunded",
		zap.String("payment_number", payment.PaymentNumber),
		zap.String("invoice_id", payment.InvoiceID.String()),
		zap.String("amount", payment.Amount.String()),
	)
	return payment, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment.ID == 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	var payments []paymentdomain.Payment
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

// completeLocked credits a pending payment to its invoice. Caller
// holds the invoice row lock and has already checked the balance.
func (s *Service) completeLocked(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, invoice *invoicedomain.Invoice, now time.Time) error {
	if err := s.markPayment(ctx, tx, payment, paymentdomain.PaymentStatusCompleted, nil, now); err != nil {
		return err
	}

	newPaid := invoice.PaidAmount.Add(payment.Amount)
	status := invoice.Status
	var paidDate *time.Time
	if newPaid.GreaterThanOrEqual(invoice.TotalAmount) {
		status = invoicedomain.InvoiceStatusPaid
		paidDate = &now
	}
	res := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET paid_amount = ?, status = ?, paid_date = COALESCE(?, paid_date), updated_at = ?
		 WHERE id = ? AND paid_amount = ?`,
		newPaid,
		status,
		paidDate,
		now,
		invoice.ID,
		invoice.PaidAmount,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return paymentdomain.ErrAmountExceedsBalance
	}
	return nil
}

func (s *Service) markPayment(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, status paymentdomain.PaymentStatus, reason *string, now time.Time) error {
	var paidAt *time.Time
	if status == paymentdomain.PaymentStatusCompleted {
		paidAt = &now
	}
	notes := payment.Notes
	if reason != nil && *reason != "" {
		notes = *reason
	}
	err := tx.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, paid_at = COALESCE(?, paid_at), notes = ?, updated_at = ? WHERE id = ?`,
		status,
		paidAt,
		notes,
		now,
		payment.ID,
	).Error
	if err != nil {
		return err
	}
	payment.Status = status
	if paidAt != nil {
		payment.PaidAt = paidAt
	}
	payment.Notes = notes
	payment.UpdatedAt = now
	return nil
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

func (s *Service) findByTransaction(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, txnID string) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM payments WHERE invoice_id = ? AND transaction_id = ?`,
		invoiceID,
		txnID,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (s *Service) nextNumber(ctx context.Context, tx *gorm.DB) (string, error) {
	var last string
	err := tx.WithContext(ctx).Raw(
		`SELECT payment_number FROM payments ORDER BY payment_number DESC LIMIT 1` + db.LockClause(tx),
	).Scan(&last).Error
	if err != nil {
		return "", err
	}
	return invoicedomain.NextNumber(invoicedomain.PaymentPrefix, last, s.clock.Now()), nil
}
