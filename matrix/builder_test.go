package matrix_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/matrix"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal { return budget.MustParseDecimal(s) }

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, d(expected).String(), actual.String(), msgAndArgs...)
}

func project(id string) budget.Project {
	return budget.Project{ID: budget.ProjectID(id), Name: "Project " + id}
}

func cell(lineItem string, month int, planned, forecast, actual string) budget.ForecastCell {
	return budget.ForecastCell{
		LineItemID: lineItem,
		Month:      month,
		Planned:    d(planned),
		Forecast:   d(forecast),
		Actual:     d(actual),
	}
}

func build(t *testing.T, in matrix.Input) matrix.Result {
	t.Helper()
	res, err := matrix.Build(in)
	require.NoError(t, err)
	return res
}

// =============================================================================
// DEDUP BY CANONICAL KEY
// =============================================================================

func TestBuild_CaseInsensitiveDedup(t *testing.T) {
	// GIVEN: forecast cells for "labor_001" and "LABOR_001" on one project
	// WHEN: building the matrix
	// THEN: one row carries both months

	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		ForecastPayloads: []budget.ForecastPayload{{
			ProjectID: "P1",
			Cells: []budget.ForecastCell{
				cell("labor_001", 1, "1000", "1100", "0"),
				cell("LABOR_001", 2, "2000", "2100", "0"),
			},
		}},
		MonthsToShow: 3,
	})

	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Equal(t, "labor_001", row.CanonicalKey)
	assert.Equal(t, "labor_001", row.LineItemID, "first spelling is kept")
	assertDecimal(t, "1000", row.Month(1).Planned)
	assertDecimal(t, "2000", row.Month(2).Planned)
	assertDecimal(t, "2100", row.Month(2).Forecast)
}

func TestBuild_WhitespaceIsTrimmedInKey(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		ForecastPayloads: []budget.ForecastPayload{{
			ProjectID: "P1",
			Cells: []budget.ForecastCell{
				cell(" Labor_001 ", 1, "10", "0", "0"),
				cell("labor_001", 2, "20", "0", "0"),
			},
		}},
		MonthsToShow: 2,
	})
	require.Len(t, res.Rows, 1)
}

func TestBuild_SameKeyDifferentProjectsStaySeparate(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1"), project("P2")},
		ForecastPayloads: []budget.ForecastPayload{
			{ProjectID: "P1", Cells: []budget.ForecastCell{cell("LABOR_001", 1, "10", "0", "0")}},
			{ProjectID: "P2", Cells: []budget.ForecastCell{cell("LABOR_001", 1, "20", "0", "0")}},
		},
		MonthsToShow: 1,
	})
	assert.Len(t, res.Rows, 2)
}

func TestBuild_ZeroNeverClobbersNonZero(t *testing.T) {
	// GIVEN: a populated cell followed by a zero placeholder for the same month
	// WHEN: building
	// THEN: the populated value survives, and a later non-zero value still wins

	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		ForecastPayloads: []budget.ForecastPayload{{
			ProjectID: "P1",
			Cells: []budget.ForecastCell{
				cell("LABOR_001", 1, "500", "600", "0"),
				cell("labor_001", 1, "0", "0", "0"),
				cell("labor_001", 1, "0", "650", "0"),
			},
		}},
		MonthsToShow: 1,
	})

	require.Len(t, res.Rows, 1)
	c := res.Rows[0].Month(1)
	assertDecimal(t, "500", c.Planned)
	assertDecimal(t, "650", c.Forecast)
}

// =============================================================================
// ALLOCATION FALLBACK
// =============================================================================

func TestBuild_AllocationFallback(t *testing.T) {
	// GIVEN: no forecast cells and two allocations for labor_002
	// WHEN: building
	// THEN: one row with month_1=5000 and month_2=5500

	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		Allocations: []budget.Allocation{
			{ProjectID: "P1", RubroID: "labor_002", Month: "2024-01", Amount: d("5000")},
			{ProjectID: "P1", RubroID: "labor_002", Month: "2024-02", Amount: d("5500")},
		},
		MonthsToShow: 12,
	})

	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Equal(t, matrix.OriginAllocation, row.Source)
	assertDecimal(t, "5000", row.Month(1).Planned)
	assertDecimal(t, "5500", row.Month(2).Planned)
	assertDecimal(t, "0", row.Month(3).Planned)
}

func TestBuild_AllocationNeverOverwritesForecast(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		ForecastPayloads: []budget.ForecastPayload{{
			ProjectID: "P1",
			Cells:     []budget.ForecastCell{cell("LABOR_001", 1, "1000", "1000", "0")},
		}},
		Allocations: []budget.Allocation{
			{ProjectID: "P1", RubroID: "labor_001", Month: "1", Amount: d("9999")},
		},
		MonthsToShow: 2,
	})

	require.Len(t, res.Rows, 1)
	assertDecimal(t, "1000", res.Rows[0].Month(1).Planned)
	assert.Empty(t, res.Issues, "skipping an allocation for a forecast row is not an issue")
}

func TestBuild_AllocationsForSameCellAreSummed(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		Allocations: []budget.Allocation{
			{ProjectID: "P1", RubroID: "infra", Month: "2", Amount: d("100.10")},
			{ProjectID: "P1", RubroID: "INFRA", Month: "2", Amount: d("-20.05")},
		},
		MonthsToShow: 3,
	})

	require.Len(t, res.Rows, 1)
	assertDecimal(t, "80.05", res.Rows[0].Month(2).Planned)
}

func TestBuild_AllocationMonthRelativeToWindowStart(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		Allocations: []budget.Allocation{
			{ProjectID: "P1", RubroID: "infra", Month: "2025-01", Amount: d("300")},
		},
		MonthsToShow: 6,
		WindowStart:  budget.MustParseMonth("2024-11"),
	})

	require.Len(t, res.Rows, 1)
	assertDecimal(t, "300", res.Rows[0].Month(3).Planned, "Nov, Dec, Jan")
}

func TestBuild_AllocationMonthRelativeToProjectStart(t *testing.T) {
	p := project("P1")
	p.StartMonth = budget.MustParseMonth("2024-06")

	res := build(t, matrix.Input{
		Projects: []budget.Project{p},
		Allocations: []budget.Allocation{
			{ProjectID: "P1", RubroID: "infra", Month: "2024-08", Amount: d("300")},
		},
		MonthsToShow: 6,
	})

	require.Len(t, res.Rows, 1)
	assertDecimal(t, "300", res.Rows[0].Month(3).Planned)
}

func TestBuild_MalformedAllocationMonthSkipsCellKeepsRow(t *testing.T) {
	// GIVEN: one malformed and one valid allocation month for the same rubro
	// WHEN: building
	// THEN: the row exists with the valid month only and an issue is recorded

	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		Allocations: []budget.Allocation{
			{ProjectID: "P1", RubroID: "infra", Month: "2024/13", Amount: d("1")},
			{ProjectID: "P1", RubroID: "infra", Month: "2024-01", Amount: d("250")},
		},
		MonthsToShow: 3,
	})

	require.Len(t, res.Rows, 1)
	assertDecimal(t, "250", res.Rows[0].Month(1).Planned)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, matrix.IssueMalformedMonth, res.Issues[0].Kind)
}

func TestBuild_OnlyMalformedMonthsCreateNoRow(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		Allocations: []budget.Allocation{
			{ProjectID: "P1", RubroID: "infra", Month: "soon", Amount: d("1")},
		},
		MonthsToShow: 3,
	})

	assert.Empty(t, res.Rows)
	assert.Equal(t, 1, matrix.CountByKind(res.Issues)[matrix.IssueMalformedMonth])
}

// =============================================================================
// UNKNOWN PROJECTS
// =============================================================================

func TestBuild_UnknownProjectDropped(t *testing.T) {
	// GIVEN: allocations and actuals for a project that is not in Projects
	// WHEN: building
	// THEN: no orphan rows, only issues

	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		Allocations: []budget.Allocation{
			{ProjectID: "GHOST", RubroID: "infra", Month: "1", Amount: d("1")},
		},
		Actuals: []budget.ActualRecord{
			{ProjectID: "GHOST", LineItemID: "infra", Month: 1, Amount: d("1"), Status: budget.StatusMatched},
		},
		MonthsToShow: 1,
	})

	assert.Empty(t, res.Rows)
	assert.Equal(t, 2, matrix.CountByKind(res.Issues)[matrix.IssueUnknownProject])
}

// =============================================================================
// ACTUALS
// =============================================================================

func TestBuild_MatchedActualSupersedesForecastActual(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		ForecastPayloads: []budget.ForecastPayload{{
			ProjectID: "P1",
			Cells:     []budget.ForecastCell{cell("LABOR_001", 1, "1000", "1000", "700")},
		}},
		Actuals: []budget.ActualRecord{
			{ProjectID: "P1", LineItemID: "labor_001", Month: 1, Amount: d("950"), Status: "matched"},
			{ProjectID: "P1", LineItemID: "LABOR_001", Month: 1, Amount: d("50"), Status: budget.StatusMatched},
		},
		MonthsToShow: 1,
	})

	require.Len(t, res.Rows, 1)
	assertDecimal(t, "1000", res.Rows[0].Month(1).Actual, "first replaces 700, second adds")
}

func TestBuild_UnreconciledActualsIgnored(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		ForecastPayloads: []budget.ForecastPayload{{
			ProjectID: "P1",
			Cells:     []budget.ForecastCell{cell("LABOR_001", 1, "1000", "1000", "0")},
		}},
		Actuals: []budget.ActualRecord{
			{ProjectID: "P1", LineItemID: "LABOR_001", Month: 1, Amount: d("400"), Status: budget.StatusDisputed},
			{ProjectID: "P1", LineItemID: "LABOR_001", Month: 1, Amount: d("300"), Status: budget.StatusPending},
			{ProjectID: "P1", LineItemID: "UNKNOWN", Month: 1, Amount: d("10"), Status: budget.StatusMatched},
		},
		MonthsToShow: 1,
	})

	require.Len(t, res.Rows, 1, "actuals never create rows")
	assertDecimal(t, "0", res.Rows[0].Month(1).Actual)

	counts := matrix.CountByKind(res.Issues)
	assert.Equal(t, 2, counts[matrix.IssueUnreconciledActual])
	assert.Equal(t, 1, counts[matrix.IssueUnmatchedActual])
}

func TestBuild_PayrollActualWithoutStatusIsReconciled(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		Allocations: []budget.Allocation{
			{ProjectID: "P1", RubroID: "MOD-DEV", Month: "1", Amount: d("8000")},
		},
		Actuals: []budget.ActualRecord{
			{ProjectID: "P1", LineItemID: "mod-dev", Month: 1, Amount: d("7800"), Source: budget.ActualPayroll},
		},
		MonthsToShow: 1,
	})

	require.Len(t, res.Rows, 1)
	assertDecimal(t, "7800", res.Rows[0].Month(1).Actual)
}

// =============================================================================
// BASELINE LINE ITEMS
// =============================================================================

func TestBuild_LineItemsFillOnlyMissingRows(t *testing.T) {
	// GIVEN: a forecast row for LABOR_001 and baseline items LABOR_001, INFRA_001
	// WHEN: building
	// THEN: LABOR_001 keeps its forecast; INFRA_001 is planned from the baseline

	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		ForecastPayloads: []budget.ForecastPayload{{
			ProjectID: "P1",
			Cells:     []budget.ForecastCell{cell("LABOR_001", 1, "1000", "1000", "0")},
		}},
		LineItems: []budget.LineItem{
			{ID: "labor_001", ProjectID: "P1", TotalCost: d("99999")},
			{ID: "INFRA_001", ProjectID: "P1", TotalCost: d("300"), Recurring: true, StartMonth: 1, EndMonth: 3, Category: "infra"},
		},
		MonthsToShow: 3,
	})

	require.Len(t, res.Rows, 2)
	assertDecimal(t, "1000", res.Rows[0].Month(1).Planned)

	infra := res.Rows[1]
	assert.Equal(t, matrix.OriginBaseline, infra.Source)
	assert.Equal(t, "infra", infra.CostType)
	for n := 1; n <= 3; n++ {
		assertDecimal(t, "100", infra.Month(n).Planned)
	}
}

func TestBuild_RepeatedRubroInBaselineAddsUp(t *testing.T) {
	// GIVEN: two materialized MOD-ING items of one baseline (2000 + 6000)
	// WHEN: building without forecast or allocations
	// THEN: one baseline row plans the sum of both

	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1")},
		LineItems: []budget.LineItem{
			{ID: "MOD-ING", ProjectID: "P1", TotalCost: d("2000"), StorageKey: "MOD-ING#BL-1#1",
				Metadata: budget.LineItemMetadata{BaselineID: "BL-1"}},
			{ID: "mod-ing", ProjectID: "P1", TotalCost: d("6000"), StorageKey: "mod-ing#BL-1#2",
				Metadata: budget.LineItemMetadata{BaselineID: "BL-1"}},
		},
		MonthsToShow: 1,
	})

	require.Len(t, res.Rows, 1)
	assert.Equal(t, matrix.OriginBaseline, res.Rows[0].Source)
	assertDecimal(t, "8000", res.Rows[0].Month(1).Planned)
	assertDecimal(t, "8000", res.Totals.Overall.Planned)
}

// =============================================================================
// TOTALS
// =============================================================================

func TestBuild_TotalsEqualRowSums(t *testing.T) {
	// GIVEN: a mix of forecast and allocation rows with fractional amounts
	// WHEN: building
	// THEN: every byMonth total equals the sum of the displayed cells

	res := build(t, matrix.Input{
		Projects: []budget.Project{project("P1"), project("P2")},
		ForecastPayloads: []budget.ForecastPayload{
			{ProjectID: "P1", Cells: []budget.ForecastCell{
				cell("A", 1, "0.10", "0.20", "0.30"),
				cell("B", 2, "1000.555", "1", "0"),
			}},
			{ProjectID: "P2", Cells: []budget.ForecastCell{
				cell("A", 1, "0.20", "0.10", "0"),
				cell("A", 3, "33.33", "33.34", "0"),
			}},
		},
		Allocations: []budget.Allocation{
			{ProjectID: "P2", RubroID: "C", Month: "2", Amount: d("12.01")},
		},
		MonthsToShow: 3,
	})

	require.Len(t, res.Totals.ByMonth, 3)
	overall := decimal.Zero
	for m := 0; m < 3; m++ {
		planned, forecast, actual := decimal.Zero, decimal.Zero, decimal.Zero
		for _, r := range res.Rows {
			planned = planned.Add(r.Month(m + 1).Planned)
			forecast = forecast.Add(r.Month(m + 1).Forecast)
			actual = actual.Add(r.Month(m + 1).Actual)
		}
		assertDecimal(t, planned.String(), res.Totals.ByMonth[m].Planned, "month %d", m+1)
		assertDecimal(t, forecast.String(), res.Totals.ByMonth[m].Forecast, "month %d", m+1)
		assertDecimal(t, actual.String(), res.Totals.ByMonth[m].Actual, "month %d", m+1)
		overall = overall.Add(planned)
	}
	assertDecimal(t, overall.String(), res.Totals.Overall.Planned)
	assertDecimal(t, "0.30", res.Totals.ByMonth[0].Planned)
	assertDecimal(t, "1012.57", res.Totals.ByMonth[1].Planned, "1000.555 rounds to 1000.56")
}

func TestBuild_EmptyInputHasZeroTotals(t *testing.T) {
	res := build(t, matrix.Input{MonthsToShow: 2})

	assert.Empty(t, res.Rows)
	require.Len(t, res.Totals.ByMonth, 2)
	assertDecimal(t, "0", res.Totals.Overall.Planned)
}

// =============================================================================
// PROJECT INDEX, ERRORS, IDEMPOTENCE
// =============================================================================

func TestBuild_ProjectIndexUsesDisplayName(t *testing.T) {
	res := build(t, matrix.Input{
		Projects: []budget.Project{
			{ID: "P1", Name: "Migration"},
			{ID: "P2", Code: "PRJ-002"},
			{ID: "P3"},
		},
		MonthsToShow: 1,
	})

	assert.Equal(t, "Migration", res.ProjectIndex["P1"].Name)
	assert.Equal(t, "PRJ-002", res.ProjectIndex["P2"].Name)
	assert.Equal(t, "P3", res.ProjectIndex["P3"].Name)
}

func TestBuild_MonthsToShowMustBePositive(t *testing.T) {
	_, err := matrix.Build(matrix.Input{MonthsToShow: 0})

	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrInvalidArgument)
	assert.True(t, budget.IsCallerMisuse(err))
}

func TestBuild_MonthsToShowIsBounded(t *testing.T) {
	// GIVEN: a window far beyond the maximum
	// WHEN: building
	// THEN: the request is refused before anything is allocated

	_, err := matrix.Build(matrix.Input{MonthsToShow: 1 << 40})
	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrInvalidArgument)

	_, err = matrix.Build(matrix.Input{MonthsToShow: matrix.MaxMonthsToShow + 1})
	assert.ErrorIs(t, err, budget.ErrInvalidArgument)

	_, err = matrix.Build(matrix.Input{MonthsToShow: matrix.MaxMonthsToShow})
	assert.NoError(t, err)
}

func TestBuild_Idempotent(t *testing.T) {
	// GIVEN: the same input twice
	// WHEN: building twice
	// THEN: the results are identical

	in := matrix.Input{
		Projects: []budget.Project{project("P1"), project("P2")},
		ForecastPayloads: []budget.ForecastPayload{{
			ProjectID: "P1",
			Cells: []budget.ForecastCell{
				cell("labor_001", 1, "1000", "1100", "0"),
				cell("LABOR_001", 2, "2000", "2100", "0"),
			},
		}},
		Allocations: []budget.Allocation{
			{ProjectID: "P2", RubroID: "infra", Month: "2024-01", Amount: d("5000")},
			{ProjectID: "P2", RubroID: "infra", Month: "2024-02", Amount: d("5500")},
		},
		Actuals: []budget.ActualRecord{
			{ProjectID: "P1", LineItemID: "labor_001", Month: 1, Amount: d("900"), Status: budget.StatusMatched},
		},
		MonthsToShow: 4,
	}

	first := build(t, in)
	second := build(t, in)

	assert.Equal(t, first, second)
}
