/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates projects, hands off
	baselines, and adds forecasts, allocations, actuals or adjustments that
	demonstrate one behavior of the reconciliation engine.

AVAILABLE SCENARIOS:

	single-baseline:     One project, baseline hand-off + generated forecast
	baseline-amendment:  Two baselines on one project, only the active counts
	allocation-fallback: No forecast; allocations fill the planned column
	adjustments:         Excess spread across a year boundary + reallocation

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create projects
 3. Hand off baseline documents via the factory
 4. Add the sources the scenario is about

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "allocation-fallback"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to scenarioLoaders

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler type
  - factory/baseline.go: baseline document schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/budget-engine/adjustment"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-baseline",
		Name:        "Single Baseline",
		Description: "Baseline hand-off, generated forecast, one matched and one pending invoice",
	},
	{
		ID:          "baseline-amendment",
		Name:        "Baseline Amendment",
		Description: "Two baselines on the same project; only the active one reaches the matrix",
	},
	{
		ID:          "allocation-fallback",
		Name:        "Allocation Fallback",
		Description: "No forecast: monthly allocations fill the planned column, ids differ in casing",
	},
	{
		ID:          "adjustments",
		Name:        "Adjustments",
		Description: "Excess spread pro-rata across a year boundary, plus a reallocation",
	},
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"single-baseline":     h.loadSingleBaselineScenario,
		"baseline-amendment":  h.loadBaselineAmendmentScenario,
		"allocation-fallback": h.loadAllocationFallbackScenario,
		"adjustments":         h.loadAdjustmentsScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeServiceError(w, r, "Invalid scenario request", err)
		return
	}

	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeServiceError(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeServiceError(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeServiceError(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var scenarioClock = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

const singleBaselineYAML = `
baseline_id: BL-ATLAS-1
project_id: P-ATLAS
currency: USD
start_month: "2025-01"
duration_months: 12
created_by: pmo@example.com
labor_estimates:
  - rubro_id: MOD-ING
    role: Backend Engineer
    fte_count: 2
    monthly_rate: 8000
  - rubro_id: MOD-PM
    role: Project Manager
    fte_count: 0.5
    monthly_rate: 9000
non_labor_estimates:
  - rubro_id: GSV-INFRA
    category: infrastructure
    amount: 1500
    recurring: true
  - rubro_id: GSV-LIC
    category: licenses
    amount: 12000
    start_month: 1
`

func (h *Handler) loadSingleBaselineScenario(ctx context.Context) error {
	if err := h.Store.SaveProject(ctx, budget.Project{
		ID: "P-ATLAS", Code: "ATLAS", Name: "Atlas Migration", Client: "Acme",
		Currency: "USD", StartMonth: budget.MustParseMonth("2025-01"), DurationMonths: 12,
	}); err != nil {
		return err
	}

	items, err := h.handOffDocument(ctx, singleBaselineYAML, factory.FormatYAML, budget.BaselineAccepted)
	if err != nil {
		return err
	}

	if err := h.Store.SaveForecastCells(ctx, "P-ATLAS", factory.GenerateForecast(items, scenarioClock, "scenario")); err != nil {
		return err
	}

	return h.Store.SaveActuals(ctx, "P-ATLAS", []budget.ActualRecord{
		{ID: "INV-001", LineItemID: "mod-ing", Month: 1, Amount: budget.MustParseDecimal("15800"), Status: budget.StatusMatched, Currency: "USD", Source: budget.ActualInvoice},
		{ID: "INV-002", LineItemID: "GSV-LIC", Month: 1, Amount: budget.MustParseDecimal("12000"), Status: budget.StatusPending, Currency: "USD", Source: budget.ActualInvoice},
		{ID: "PAY-001", LineItemID: "MOD-PM", Month: 1, Amount: budget.MustParseDecimal("4500"), Currency: "USD", Source: budget.ActualPayroll},
	})
}

func (h *Handler) loadBaselineAmendmentScenario(ctx context.Context) error {
	if err := h.Store.SaveProject(ctx, budget.Project{
		ID: "P-ORION", Code: "ORION", Name: "Orion Platform",
		Currency: "USD", StartMonth: budget.MustParseMonth("2025-01"), DurationMonths: 6,
	}); err != nil {
		return err
	}

	original := `{
	  "baseline_id": "BL-ORION-1", "project_id": "P-ORION", "duration_months": 6,
	  "labor_estimates": [{"rubro_id": "MOD-ING", "fte_count": 3, "monthly_rate": 7000}],
	  "non_labor_estimates": [{"rubro_id": "GSV-CLOUD", "amount": 2000, "recurring": true}]
	}`
	amended := `{
	  "baseline_id": "BL-ORION-2", "project_id": "P-ORION", "duration_months": 6,
	  "labor_estimates": [{"rubro_id": "MOD-ING", "fte_count": 2, "monthly_rate": 7500}],
	  "non_labor_estimates": [{"rubro_id": "GSV-CLOUD", "amount": 2500, "recurring": true}]
	}`
	if _, err := h.handOffDocument(ctx, original, factory.FormatJSON, budget.BaselineAccepted); err != nil {
		return err
	}
	if _, err := h.handOffDocument(ctx, amended, factory.FormatJSON, budget.BaselineAccepted); err != nil {
		return err
	}

	// A second project still on the untagged catalog
	if err := h.Store.SaveProject(ctx, budget.Project{
		ID: "P-LEGACY", Name: "Legacy Support", StartMonth: budget.MustParseMonth("2025-01"),
	}); err != nil {
		return err
	}
	if err := h.Store.SaveProjectMetadata(ctx, budget.ProjectMetadata{
		ProjectID: "P-LEGACY", ActiveBaselineID: "BL-LEGACY-9", BaselineStatus: budget.BaselineAccepted,
	}); err != nil {
		return err
	}
	return h.Store.SaveLineItems(ctx, "P-LEGACY", []budget.LineItem{{
		ID: "MOD-SUP", Name: "Support engineer", Category: "labor",
		Quantity: budget.MustParseDecimal("1"), UnitCost: budget.MustParseDecimal("5000"),
		Recurring: true, StartMonth: 1, EndMonth: 6,
	}})
}

func (h *Handler) loadAllocationFallbackScenario(ctx context.Context) error {
	if err := h.Store.SaveProject(ctx, budget.Project{
		ID: "P-VEGA", Code: "VEGA", Name: "Vega Rollout",
		Currency: "USD", StartMonth: budget.MustParseMonth("2024-01"), DurationMonths: 12,
	}); err != nil {
		return err
	}

	// Forecast only for MOD-ING; allocations for "mod-ing " are ignored
	// because the forecast wins for that key.
	if err := h.Store.SaveForecastCells(ctx, "P-VEGA", []budget.ForecastCell{
		{LineItemID: "MOD-ING", RubroID: "MOD-ING", CostType: "labor", Month: 1, Planned: budget.MustParseDecimal("8000"), Forecast: budget.MustParseDecimal("8200")},
		{LineItemID: "mod-ing", RubroID: "MOD-ING", CostType: "labor", Month: 2, Planned: budget.MustParseDecimal("8000"), Forecast: budget.MustParseDecimal("0")},
	}); err != nil {
		return err
	}

	return h.Store.SaveAllocations(ctx, "P-VEGA", []budget.Allocation{
		{RubroID: "GSV-TRAVEL", RubroType: "travel", Month: "2024-01", Amount: budget.MustParseDecimal("5000"), Source: budget.AllocationSystem},
		{RubroID: "gsv-travel", RubroType: "travel", Month: "2024-02", Amount: budget.MustParseDecimal("5500"), Source: budget.AllocationSystem},
		{RubroID: "mod-ing ", Month: "2024-01", Amount: budget.MustParseDecimal("99999"), Source: budget.AllocationManual},
		{RubroID: "GSV-TRAVEL", Month: "2024-13", Amount: budget.MustParseDecimal("1"), Source: budget.AllocationManual},
	})
}

func (h *Handler) loadAdjustmentsScenario(ctx context.Context) error {
	if err := h.Store.SaveProject(ctx, budget.Project{
		ID: "P-LYRA", Code: "LYRA", Name: "Lyra Analytics",
		Currency: "USD", StartMonth: budget.MustParseMonth("2025-11"), DurationMonths: 6,
	}); err != nil {
		return err
	}

	doc := `{
	  "baseline_id": "BL-LYRA-1", "project_id": "P-LYRA", "duration_months": 6,
	  "labor_estimates": [{"rubro_id": "MOD-DATA", "fte_count": 1, "monthly_rate": 10000}],
	  "non_labor_estimates": [{"rubro_id": "GSV-TOOLS", "amount": 600, "recurring": true}]
	}`
	if _, err := h.handOffDocument(ctx, doc, factory.FormatJSON, budget.BaselineAccepted); err != nil {
		return err
	}

	requests := []adjustment.Request{
		{
			ProjectID: "P-LYRA", Type: budget.AdjustmentExcess, Amount: budget.MustParseDecimal("1000000"),
			StartPeriod: budget.MustParseMonth("2025-11"), Method: budget.MethodProRataForward, MonthsImpacted: 3,
			RubroID: "GSV-CONTINGENCY", Reason: "Scope extension", CreatedBy: "pmo@example.com",
		},
		{
			ProjectID: "P-LYRA", Type: budget.AdjustmentReallocation, Amount: budget.MustParseDecimal("300"),
			StartPeriod: budget.MustParseMonth("2026-01"), Method: budget.MethodSingleMonth,
			RubroID: "GSV-CONTINGENCY", TargetRubroID: "GSV-TRAINING", Reason: "Training from contingency",
		},
	}
	for _, req := range requests {
		adj, err := adjustment.New(req, scenarioClock)
		if err != nil {
			return err
		}
		if err := h.Store.SaveAdjustment(ctx, adj); err != nil {
			return err
		}
	}
	return nil
}

// handOffDocument materializes a baseline document and stores it as the
// active baseline of its project.
func (h *Handler) handOffDocument(ctx context.Context, data string, format factory.Format, status budget.BaselineStatus) ([]budget.LineItem, error) {
	doc, err := h.Factory.Parse([]byte(data), format)
	if err != nil {
		return nil, err
	}
	bl, items, err := h.Factory.Materialize(doc, scenarioClock)
	if err != nil {
		return nil, err
	}
	if err := h.Store.HandOff(ctx, bl, items, status); err != nil {
		return nil, err
	}
	return items, nil
}
