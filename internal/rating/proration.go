// Package rating holds the pure billing calculators: proration and
// discount. All money math uses shopspring decimals rounded half-up to
// two places at the boundary, never inside intermediate steps.
package rating

import (
	"time"

	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/wireline/internal/plan/domain"
)

// Prorate computes a partial-period charge from a fixed daily rate.
// The day count is inclusive of both endpoints, and the period length is
// a fixed constant per cycle (30/90/365 days) rather than the calendar
// month - callers must not assume exact month lengths.
func Prorate(price decimal.Decimal, cycle plandomain.BillingCycleType, start, end time.Time) decimal.Decimal {
	if end.Before(start) {
		return decimal.Zero
	}

	days := daysInclusive(start, end)
	periodDays := decimal.NewFromInt(int64(cycle.PeriodDays()))
	dailyRate := price.Div(periodDays)

	// Round rounds half away from zero, which is half-up for the
	// non-negative amounts billing produces.
	return dailyRate.Mul(decimal.NewFromInt(int64(days))).Round(2)
}

func daysInclusive(start, end time.Time) int {
	start = truncateDay(start)
	end = truncateDay(end)
	return int(end.Sub(start).Hours()/24) + 1
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
