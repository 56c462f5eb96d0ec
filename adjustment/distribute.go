/*
Package adjustment spreads lump-sum budget adjustments over future months.

PURPOSE:
  An adjustment (excess, deficit or reallocation) is entered once as a single
  amount. Before it can sit in the matrix next to monthly allocations it has
  to become a per-month distribution. That distribution is computed once, at
  creation time, and stored with the adjustment.

METHODS:
  single_month:      the whole amount in the start month
  pro_rata_forward:  even split over N months starting at the start month;
                     months 1..N-1 get floor(amount/N) in cents and month N
                     absorbs the remainder

EXACT SUM:
  All arithmetic is decimal. The distribution always adds back to the amount
  exactly; there is no float rounding drift.

EXAMPLE:
  dist, _ := adjustment.Distribute(decimal.NewFromInt(1_000_000), budget.MustParseMonth("2025-11"), 3)
  // 2025-11: 333333.33
  // 2025-12: 333333.33
  // 2026-01: 333333.34

SEE ALSO:
  - budget/money.go: SplitEvenly
  - adjustment.go: building and converting adjustments
*/
package adjustment

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// Distribute is the pro_rata_forward method.
func Distribute(amount decimal.Decimal, start budget.Month, months int) ([]budget.MonthAmount, error) {
	if months < 1 {
		return nil, budget.InvalidArgument("Distribute", "months", "must be at least 1, got "+strconv.Itoa(months))
	}
	if start.IsZero() {
		return nil, budget.InvalidArgument("Distribute", "start", "missing")
	}

	parts := budget.SplitEvenly(amount, months)
	dist := make([]budget.MonthAmount, months)
	for i, m := range start.Sequence(months) {
		dist[i] = budget.MonthAmount{Month: m, Amount: parts[i]}
	}
	return dist, nil
}

// Plan computes the distribution for any method. months is ignored by
// single_month.
func Plan(method budget.DistributionMethod, amount decimal.Decimal, start budget.Month, months int) ([]budget.MonthAmount, error) {
	switch method {
	case budget.MethodSingleMonth:
		if start.IsZero() {
			return nil, budget.InvalidArgument("Plan", "start", "missing")
		}
		return []budget.MonthAmount{{Month: start, Amount: amount}}, nil
	case budget.MethodProRataForward:
		return Distribute(amount, start, months)
	default:
		return nil, budget.InvalidArgument("Plan", "method", "unknown distribution method "+strconv.Quote(string(method)))
	}
}

// DistributeLabel is Distribute for a "YYYY-MM" start label.
func DistributeLabel(amount decimal.Decimal, start string, months int) ([]budget.MonthAmount, error) {
	m, err := budget.ParseMonth(start)
	if err != nil {
		return nil, err
	}
	return Distribute(amount, m, months)
}
