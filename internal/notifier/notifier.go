package notifier

import (
	"context"
	"fmt"

	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	"github.com/smallbiznis/wireline/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Recipient struct {
	Name  string
	Email string
}

// Notifier delivers billing notices. Delivery is best effort: callers
// fire it after commit and a failure never rolls billing state back.
type Notifier interface {
	SendInvoice(ctx context.Context, invoice invoicedomain.Invoice, to Recipient) error
	SendOverdueNotice(ctx context.Context, invoice invoicedomain.Invoice, to Recipient) error
}

type Params struct {
	fx.In

	Provider email.Provider
	Log      *zap.Logger
}

type emailNotifier struct {
	provider email.Provider
	log      *zap.Logger
}

func NewNotifier(p Params) Notifier {
	return &emailNotifier{
		provider: p.Provider,
		log:      p.Log.Named("notifier"),
	}
}

func (n *emailNotifier) SendInvoice(ctx context.Context, invoice invoicedomain.Invoice, to Recipient) error {
	if to.Email == "" {
		n.log.Debug("notifier.skip_no_email", zap.String("invoice_number", invoice.InvoiceNumber))
		return nil
	}
	return n.provider.SendTemplate(ctx, []string{to.Email}, "invoice_new", map[string]interface{}{
		"subject":        fmt.Sprintf("Invoice %s", invoice.InvoiceNumber),
		"customer_name":  to.Name,
		"invoice_number": invoice.InvoiceNumber,
		"total_amount":   invoice.TotalAmount.StringFixed(2),
		"due_date":       invoice.DueDate.Format("2006-01-02"),
	})
}

func (n *emailNotifier) SendOverdueNotice(ctx context.Context, invoice invoicedomain.Invoice, to Recipient) error {
	if to.Email == "" {
		return nil
	}
	return n.provider.SendTemplate(ctx, []string{to.Email}, "invoice_overdue", map[string]interface{}{
		"subject":        fmt.Sprintf("Invoice %s is overdue", invoice.InvoiceNumber),
		"customer_name":  to.Name,
		"invoice_number": invoice.InvoiceNumber,
		"total_amount":   invoice.TotalAmount.StringFixed(2),
		"due_date":       invoice.DueDate.Format("2006-01-02"),
	})
}

var Module = fx.Module("notifier",
	fx.Provide(NewNotifier),
)
