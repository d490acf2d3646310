// Package tax computes the flat country-keyed tax applied on top of an
// invoice subtotal. Rates live in the billing policy config and reload
// without restart.
package tax

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/wireline/internal/config"
)

// Compute returns the tax amount for a subtotal and customer country.
// Rounding happens only here to keep stored values stable.
func Compute(cfg config.BillingConfig, subtotal decimal.Decimal, country string) decimal.Decimal {
	if subtotal.Sign() <= 0 {
		return decimal.Zero
	}
	rate := cfg.TaxRateFor(country)
	if rate <= 0 {
		return decimal.Zero
	}
	return subtotal.Mul(decimal.NewFromFloat(rate)).Round(2)
}
