package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wireline/internal/clock"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	"github.com/smallbiznis/wireline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&sub).Error
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub.ID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// Suspend holds the subscription row lock only for the state transition;
// the network-disable call happens after commit, in the caller.
func (s *Service) Suspend(ctx context.Context, id snowflake.ID, reason string) (bool, error) {
	now := s.clock.Now()
	updated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.lockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.Status == subscriptiondomain.SubscriptionStatusSuspended {
			return nil
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrNotActive
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE subscriptions
			 SET status = ?, suspended_at = ?, suspension_reason = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			subscriptiondomain.SubscriptionStatusSuspended,
			now,
			reason,
			now,
			id,
			subscriptiondomain.SubscriptionStatusActive,
		)
		if result.Error != nil {
			return result.Error
		}
		updated = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if updated {
		s.log.Info("subscription.suspended",
			zap.String("subscription_id", id.String()),
			zap.String("reason", reason),
		)
	}
	return updated, nil
}

func (s *Service) Reactivate(ctx context.Context, id snowflake.ID) (bool, error) {
	now := s.clock.Now()
	updated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.lockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.Status == subscriptiondomain.SubscriptionStatusActive {
			return nil
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusSuspended {
			return subscriptiondomain.ErrNotSuspended
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE subscriptions
			 SET status = ?, suspended_at = NULL, suspension_reason = '', updated_at = ?
			 WHERE id = ? AND status = ?`,
			subscriptiondomain.SubscriptionStatusActive,
			now,
			id,
			subscriptiondomain.SubscriptionStatusSuspended,
		)
		if result.Error != nil {
			return result.Error
		}
		updated = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if updated {
		s.log.Info("subscription.reactivated", zap.String("subscription_id", id.String()))
	}
	return updated, nil
}

func (s *Service) lockForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT id, customer_id, plan_id, status, monthly_fee, discount_percentage,
		        suspended_at, suspension_reason, created_at, updated_at
		 FROM subscriptions
		 WHERE id = ?`+db.LockClause(tx),
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}
