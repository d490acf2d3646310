package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/wireline/internal/clock"
	"github.com/smallbiznis/wireline/internal/migration"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*gorm.DB, *snowflake.Node, subscriptiondomain.Service) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})
	return conn, node, svc
}

func createSubscription(t *testing.T, conn *gorm.DB, node *snowflake.Node, status subscriptiondomain.SubscriptionStatus) subscriptiondomain.Subscription {
	t.Helper()
	sub := subscriptiondomain.Subscription{
		ID:         node.Generate(),
		CustomerID: node.Generate(),
		PlanID:     node.Generate(),
		Status:     status,
		MonthlyFee: decimal.NewFromFloat(49.99),
	}
	require.NoError(t, conn.Create(&sub).Error)
	return sub
}

func TestSuspendActiveSubscription(t *testing.T) {
	conn, node, svc := newTestService(t)
	sub := createSubscription(t, conn, node, subscriptiondomain.SubscriptionStatusActive)

	suspended, err := svc.Suspend(context.Background(), sub.ID, "overdue invoice INV-000001")
	require.NoError(t, err)
	require.True(t, suspended)

	got, err := svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, got.Status)
	require.Equal(t, "overdue invoice INV-000001", got.SuspensionReason)
	require.NotNil(t, got.SuspendedAt)
}

func TestSuspendIsIdempotent(t *testing.T) {
	conn, node, svc := newTestService(t)
	sub := createSubscription(t, conn, node, subscriptiondomain.SubscriptionStatusActive)

	suspended, err := svc.Suspend(context.Background(), sub.ID, "first")
	require.NoError(t, err)
	require.True(t, suspended)

	again, err := svc.Suspend(context.Background(), sub.ID, "second")
	require.NoError(t, err)
	require.False(t, again)

	got, err := svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, "first", got.SuspensionReason)
}

func TestSuspendRejectsOtherStates(t *testing.T) {
	conn, node, svc := newTestService(t)
	sub := createSubscription(t, conn, node, subscriptiondomain.SubscriptionStatusCancelled)

	_, err := svc.Suspend(context.Background(), sub.ID, "overdue")
	require.ErrorIs(t, err, subscriptiondomain.ErrNotActive)

	_, err = svc.Suspend(context.Background(), node.Generate(), "overdue")
	require.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestReactivateSuspendedSubscription(t *testing.T) {
	conn, node, svc := newTestService(t)
	sub := createSubscription(t, conn, node, subscriptiondomain.SubscriptionStatusActive)

	_, err := svc.Suspend(context.Background(), sub.ID, "overdue")
	require.NoError(t, err)

	reactivated, err := svc.Reactivate(context.Background(), sub.ID)
	require.NoError(t, err)
	require.True(t, reactivated)

	got, err := svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	require.Empty(t, got.SuspensionReason)
	require.Nil(t, got.SuspendedAt)

	// Already active: a second call reports nothing to do.
	again, err := svc.Reactivate(context.Background(), sub.ID)
	require.NoError(t, err)
	require.False(t, again)
}

func TestReactivateRejectsOtherStates(t *testing.T) {
	conn, node, svc := newTestService(t)
	sub := createSubscription(t, conn, node, subscriptiondomain.SubscriptionStatusCancelled)

	_, err := svc.Reactivate(context.Background(), sub.ID)
	require.ErrorIs(t, err, subscriptiondomain.ErrNotSuspended)
}
