package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics tracks the financial state transitions the engine
// performs.
type BillingMetrics struct {
	invoicesGenerated *prometheus.CounterVec
	paymentsApplied   *prometheus.CounterVec
	refunds           prometheus.Counter
	suspensions       prometheus.Counter
	reactivations     prometheus.Counter
}

var (
	billingOnce    sync.Once
	billingMetrics *BillingMetrics
)

func Billing() *BillingMetrics {
	billingOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer)
	})
	return billingMetrics
}

func newBillingMetrics(registerer prometheus.Registerer) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &BillingMetrics{
		invoicesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_invoices_generated_total",
			Help: "Invoices created, by type.",
		}, []string{"type"}),
		paymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_payments_applied_total",
			Help: "Payment completions, by method.",
		}, []string{"method"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wireline_refunds_total",
			Help: "Refunded payments.",
		}),
		suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wireline_suspensions_total",
			Help: "Subscriptions suspended for non-payment.",
		}),
		reactivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wireline_reactivations_total",
			Help: "Subscriptions reactivated after settlement.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.invoicesGenerated, m.paymentsApplied, m.refunds, m.suspensions, m.reactivations,
	} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	return m
}

func (m *BillingMetrics) IncInvoiceGenerated(invoiceType string) {
	m.invoicesGenerated.WithLabelValues(invoiceType).Inc()
}

func (m *BillingMetrics) IncPaymentApplied(method string) {
	m.paymentsApplied.WithLabelValues(method).Inc()
}

func (m *BillingMetrics) IncRefund()       { m.refunds.Inc() }
func (m *BillingMetrics) IncSuspension()   { m.suspensions.Inc() }
func (m *BillingMetrics) IncReactivation() { m.reactivations.Inc() }
