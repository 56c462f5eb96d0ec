package matrix

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// KPIs - portfolio-level scalars over a month window
// =============================================================================

var hundred = decimal.NewFromInt(100)

// KPIs summarizes a window of the matrix. JSON names follow the dashboard's
// vocabulary.
type KPIs struct {
	Budget      decimal.Decimal `json:"presupuesto"`
	Forecast    decimal.Decimal `json:"pronostico"`
	Actual      decimal.Decimal `json:"real"`
	Variance    decimal.Decimal `json:"varianza"`
	Consumption decimal.Decimal `json:"consumo"` // percent of budget spent
}

// DeriveKPIs sums months 1..months across rows.
func DeriveKPIs(rows []Row, months int) KPIs {
	return DeriveKPIsRange(rows, 1, months)
}

// DeriveKPIsRange sums months from..to (1-based, inclusive). Months outside a
// row count as zero; an empty or inverted range gives all zeros.
func DeriveKPIsRange(rows []Row, from, to int) KPIs {
	k := KPIs{
		Budget:   decimal.Zero,
		Forecast: decimal.Zero,
		Actual:   decimal.Zero,
	}
	if from < 1 {
		from = 1
	}

	for _, r := range rows {
		for n := from; n <= to; n++ {
			c := r.Month(n)
			k.Budget = k.Budget.Add(c.Planned)
			k.Forecast = k.Forecast.Add(c.Forecast)
			k.Actual = k.Actual.Add(c.Actual)
		}
	}

	k.Variance = k.Forecast.Sub(k.Budget)
	k.Consumption = consumption(k.Actual, k.Budget)
	return k
}

// consumption is actual/budget as a percentage, 0 when there is no budget.
func consumption(actual, budget decimal.Decimal) decimal.Decimal {
	if budget.IsZero() {
		return decimal.Zero
	}
	return actual.Div(budget).Mul(hundred).Round(2)
}
