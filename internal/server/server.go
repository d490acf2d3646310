package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/wireline/internal/config"
	"github.com/smallbiznis/wireline/internal/dunning"
	"github.com/smallbiznis/wireline/internal/invoice"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	"github.com/smallbiznis/wireline/internal/notifier"
	"github.com/smallbiznis/wireline/internal/payment"
	paymentdomain "github.com/smallbiznis/wireline/internal/payment/domain"
	"github.com/smallbiznis/wireline/internal/providers/email"
	"github.com/smallbiznis/wireline/internal/scheduler"
	"github.com/smallbiznis/wireline/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	email.Module,
	notifier.Module,
	invoice.Module,
	payment.Module,
	subscription.Module,
	dunning.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http.request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	subscriptionSvc subscriptiondomain.Service
	dunningSvc      dunning.Service
	billing         *config.BillingConfigHolder
	sched           *scheduler.Scheduler
	log             *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Log             *zap.Logger
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	DunningSvc      dunning.Service
	Billing         *config.BillingConfigHolder
	Scheduler       *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		subscriptionSvc: p.SubscriptionSvc,
		dunningSvc:      p.DunningSvc,
		billing:         p.Billing,
		sched:           p.Scheduler,
		log:             p.Log.Named("server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/invoices/:id", s.GetInvoiceByID)
	v1.POST("/invoices/generate", s.GenerateInvoice)
	v1.POST("/invoices/bulk-generate", s.BulkGenerateInvoices)
	v1.POST("/invoices/adjustment", s.CreateAdjustmentInvoice)
	v1.POST("/invoices/:id/cancel", s.CancelInvoice)
	v1.GET("/invoices/:id/payments", s.ListInvoicePayments)
	v1.POST("/invoices/:id/payments", s.RecordPayment)

	v1.GET("/payments/:id", s.GetPaymentByID)
	v1.POST("/payments/:id/refund", s.RefundPayment)

	v1.POST("/subscriptions/:id/setup-fee", s.GenerateSetupFeeInvoice)
	v1.GET("/billing/proration-quote", s.ProrationQuote)

	v1.POST("/sweeps/mark-overdue", s.RunMarkOverdueSweep)
	v1.POST("/sweeps/enforce-overdue", s.RunEnforceOverdueSweep)
	v1.POST("/sweeps/reactivation", s.RunReactivationSweep)

	v1.POST("/webhooks/payment", s.PaymentWebhook)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
