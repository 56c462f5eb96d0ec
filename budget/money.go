package budget

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal helpers at currency precision (2 places)
// =============================================================================

const CurrencyPlaces int32 = 2

var cent = decimal.New(1, -CurrencyPlaces)

// RoundCents rounds half away from zero to the smallest currency unit.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// IsCents reports whether d has no precision below the smallest currency
// unit. "1.50" and "1.500" are cents, "1.005" is not.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(CurrencyPlaces))
}

// FloorCents rounds toward negative infinity at currency precision.
func FloorCents(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(CurrencyPlaces)
}

// ParseAmount parses a decimal amount. Malformed input is caller misuse.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", s, ErrInvalidArgument)
	}
	return d, nil
}

// MustParseDecimal panics on malformed input. Use in tests and fixtures.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SplitEvenly divides total into n parts. Parts 1..n-1 get the floor of
// total/n at cent precision and part n gets whatever is left, so the parts
// always add back to total exactly. Returns nil when n < 1.
func SplitEvenly(total decimal.Decimal, n int) []decimal.Decimal {
	if n < 1 {
		return nil
	}
	count := decimal.NewFromInt(int64(n))

	// QuoRem truncates toward zero; step down one cent when the remainder is
	// negative to get a true floor.
	base, rem := total.QuoRem(count, CurrencyPlaces)
	if rem.IsNegative() {
		base = base.Sub(cent)
	}

	parts := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		parts[i] = base
	}
	parts[n-1] = total.Sub(base.Mul(decimal.NewFromInt(int64(n - 1))))
	return parts
}

// Sum adds values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
