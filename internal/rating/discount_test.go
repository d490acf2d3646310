package rating

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/wireline/internal/config"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
	"github.com/stretchr/testify/require"
)

func TestDiscountSubscriptionPercentage(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	sub := subscriptiondomain.View{DiscountPercentage: decimal.NewFromInt(10)}
	now := day(2026, 3, 1)

	// Customer signed up last week, no loyalty discount yet.
	got := Discount(cfg, decimal.NewFromFloat(50.00), sub, day(2026, 2, 22), now)
	require.True(t, got.Equal(decimal.NewFromFloat(5.00)), "got %s", got)
}

func TestDiscountLoyaltyWinsWhenLarger(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	sub := subscriptiondomain.View{DiscountPercentage: decimal.NewFromInt(2)}
	now := day(2026, 3, 1)

	// Two years of tenure: 5% loyalty beats the 2% subscription discount.
	got := Discount(cfg, decimal.NewFromFloat(100.00), sub, day(2024, 3, 1), now)
	require.True(t, got.Equal(decimal.NewFromFloat(5.00)), "got %s", got)
}

func TestDiscountTenureBoundary(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	sub := subscriptiondomain.View{DiscountPercentage: decimal.Zero}
	now := day(2026, 3, 1)

	// Exactly 12 months of tenure qualifies.
	got := Discount(cfg, decimal.NewFromFloat(100.00), sub, day(2025, 3, 1), now)
	require.True(t, got.Equal(decimal.NewFromFloat(5.00)), "got %s", got)

	// One day short does not.
	got = Discount(cfg, decimal.NewFromFloat(100.00), sub, day(2025, 3, 2), now)
	require.True(t, got.IsZero(), "got %s", got)
}

func TestDiscountClampedToSubtotal(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	sub := subscriptiondomain.View{DiscountPercentage: decimal.NewFromInt(150)}
	now := day(2026, 3, 1)

	subtotal := decimal.NewFromFloat(40.00)
	got := Discount(cfg, subtotal, sub, time.Time{}, now)
	require.True(t, got.Equal(subtotal), "got %s", got)
}

func TestDiscountNegativePercentageIsZero(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	sub := subscriptiondomain.View{DiscountPercentage: decimal.NewFromInt(-5)}
	now := day(2026, 3, 1)

	got := Discount(cfg, decimal.NewFromFloat(40.00), sub, time.Time{}, now)
	require.True(t, got.IsZero(), "got %s", got)
}
