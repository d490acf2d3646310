package rating

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/wireline/internal/config"
	subscriptiondomain "github.com/smallbiznis/wireline/internal/subscription/domain"
)

var oneHundred = decimal.NewFromInt(100)

// Discount returns the larger of the subscription's own discount and the
// loyalty discount earned by customer tenure. The result is clamped to
// the subtotal so a misconfigured discount percentage can never drive an
// invoice total negative.
func Discount(cfg config.BillingConfig, subtotal decimal.Decimal, sub subscriptiondomain.View, customerSince time.Time, now time.Time) decimal.Decimal {
	subscriptionDiscount := subtotal.Mul(sub.DiscountPercentage).Div(oneHundred)

	loyaltyDiscount := decimal.Zero
	tenureCutoff := now.AddDate(0, -cfg.LoyaltyTenureMonths, 0)
	if !customerSince.IsZero() && !customerSince.After(tenureCutoff) {
		loyaltyDiscount = subtotal.Mul(decimal.NewFromFloat(cfg.LoyaltyDiscountRate))
	}

	discount := decimal.Max(subscriptionDiscount, loyaltyDiscount).Round(2)
	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}
