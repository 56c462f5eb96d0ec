package factory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// GenerateForecast spreads line items into forecast cells. Planned and
// forecast start out equal; actuals are filled in later by reconciliation.
//
// A rubro repeated within one baseline (MOD-ING#BL-1#1, MOD-ING#BL-1#2)
// yields one cell per month carrying the sum of the repeats. Cells keep the
// order in which their (rubro, month) was first seen.
func GenerateForecast(items []budget.LineItem, now time.Time, updatedBy string) []budget.ForecastCell {
	type cellKey struct {
		key   string
		month int
	}

	var cells []budget.ForecastCell
	index := make(map[cellKey]int)

	for _, item := range items {
		rubro := item.Metadata.CanonicalCode
		if rubro == "" {
			rubro = item.ID
		}
		var baselineID budget.BaselineID
		if tag, ok := item.Tag().(budget.Tagged); ok {
			baselineID = tag.BaselineID
		}

		for _, mv := range item.MonthlyPlan() {
			amount := budget.RoundCents(mv.Amount)
			k := cellKey{key: item.CanonicalKey(), month: mv.Index}
			if i, ok := index[k]; ok {
				cells[i].Planned = cells[i].Planned.Add(amount)
				cells[i].Forecast = cells[i].Forecast.Add(amount)
				continue
			}
			index[k] = len(cells)
			cells = append(cells, budget.ForecastCell{
				LineItemID:  item.ID,
				BaselineID:  baselineID,
				RubroID:     rubro,
				CostType:    item.Category,
				Month:       mv.Index,
				Planned:     amount,
				Forecast:    amount,
				Actual:      decimal.Zero,
				Variance:    decimal.Zero,
				LastUpdated: now.UTC(),
				UpdatedBy:   updatedBy,
			})
		}
	}
	return cells
}
