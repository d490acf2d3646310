package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/wireline/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(StartScheduler),
)

// ProvideConfig snapshots the billing policy at startup; retry and
// delay knobs do not hot-reload.
func ProvideConfig(cfg config.Config, holder *config.BillingConfigHolder) Config {
	billing := holder.Get()
	return Config{
		MaxAttempts:     billing.MaxRetryAttempts,
		RetryBackoff:    time.Duration(billing.RetryBackoffSecs) * time.Second,
		BatchSize:       billing.SweepBatchSize,
		EnforceDelay:    time.Duration(billing.EnforceDelayHours) * time.Hour,
		ReactivateDelay: time.Duration(billing.ReactivateDelayS) * time.Second,
		EnabledJobs:     cfg.SchedulerEnabledJobs,
	}.withDefaults()
}

func StartScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(runCtx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
