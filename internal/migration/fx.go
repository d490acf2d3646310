package migration

import (
	billingcycledomain "github.com/smallbiznis/wireline/internal/billingcycle/domain"
	"github.com/smallbiznis/wireline/internal/config"
	customerdomain "github.com/smallbiznis/wireline/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/wireline/internal/payment/domain"
	plandomain "github.com/smallbiznis/wireline/internal/plan/domain"
	schedulerdomain "github.com/smallbiznis/wireline/internal/scheduler/domain"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Versioned SQL migrations target postgres; other dialects are
		// for development and tests and take the ORM schema directly.
		return AutoMigrate(conn)
	}),
)

func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&customerdomain.Customer{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&billingcycledomain.BillingCycle{},
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&schedulerdomain.Job{},
	)
}
