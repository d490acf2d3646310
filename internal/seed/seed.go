package seed

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/wireline/internal/config"
	plandomain "github.com/smallbiznis/wireline/internal/plan/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// EnsureDefaultPlans seeds a starter plan catalog so a fresh install
// has something to subscribe customers to. It is a no-op once any plan
// exists.
func EnsureDefaultPlans(conn *gorm.DB, genID *snowflake.Node) error {
	var count int64
	if err := conn.Model(&plandomain.Plan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now()
	plans := []plandomain.Plan{
		{
			ID:           genID.Generate(),
			Name:         "Fiber 100",
			Price:        decimal.NewFromFloat(29.99),
			SetupFee:     decimal.NewFromFloat(49.00),
			BillingCycle: plandomain.BillingCycleMonthly,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			ID:           genID.Generate(),
			Name:         "Fiber 500",
			Price:        decimal.NewFromFloat(49.99),
			SetupFee:     decimal.NewFromFloat(49.00),
			BillingCycle: plandomain.BillingCycleMonthly,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			ID:           genID.Generate(),
			Name:         "Fiber 1G Annual",
			Price:        decimal.NewFromFloat(799.00),
			SetupFee:     decimal.Zero,
			BillingCycle: plandomain.BillingCycleYearly,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
	return conn.Create(&plans).Error
}

var Module = fx.Module("seed",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, genID *snowflake.Node) error {
		if cfg.Environment != "development" {
			return nil
		}
		return EnsureDefaultPlans(conn, genID)
	}),
)
