/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Project CRUD and validation errors
- Baseline hand-off (JSON/YAML) and active baseline switching
- Line item scoping per filter policy
- Forecast generation, allocations, actuals and adjustments
- Matrix flattening, KPI derivation and query validation
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/matrix"
	"github.com/warp/budget-engine/portfolio"
	"github.com/warp/budget-engine/store/sqlite"
)

var testNow = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, portfolio.Options{})
	h.Now = func() time.Time { return testNow }
	return h
}

func setupTestRouter(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	h := setupTestHandler(t)
	return h, NewRouter(h, RouterOptions{Logger: zerolog.Nop()})
}

func do(t *testing.T, router http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createProject(t *testing.T, router http.Handler, id, start string) {
	t.Helper()
	body := `{"id":"` + id + `","name":"Project ` + id + `","currency":"usd","start_month":"` + start + `","duration_months":12}`
	rec := do(t, router, http.MethodPost, "/api/projects", "application/json", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func assertDecimal(t *testing.T, want string, got any) {
	t.Helper()
	var d decimal.Decimal
	switch v := got.(type) {
	case string:
		d = budget.MustParseDecimal(v)
	case decimal.Decimal:
		d = v
	default:
		t.Fatalf("expected a decimal, got %T (%v)", got, got)
	}
	assert.True(t, budget.MustParseDecimal(want).Equal(d), "want %s, got %s", want, d)
}

const threeMonthBaseline = `{
  "baseline_id": "BL-1",
  "duration_months": 3,
  "labor_estimates": [{"rubro_id": "MOD-ING", "fte_count": 1, "monthly_rate": 1000}],
  "non_labor_estimates": [{"rubro_id": "GSV-LIC", "amount": 500}]
}`

// =============================================================================
// PROJECTS
// =============================================================================

func TestProjects_CreateGetList(t *testing.T) {
	// GIVEN: An empty store
	_, router := setupTestRouter(t)

	// WHEN: A project is created
	rec := do(t, router, http.MethodPost, "/api/projects", "application/json",
		`{"id":"P1","name":"Atlas","currency":"usd","start_month":"2025-01","duration_months":12}`)

	// THEN: It is returned normalized and can be read back
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[ProjectDTO](t, rec)
	assert.Equal(t, "USD", created.Currency)
	assert.Equal(t, "2025-01", created.StartMonth)

	rec = do(t, router, http.MethodGet, "/api/projects/P1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Atlas", decodeAs[ProjectDTO](t, rec).Name)

	rec = do(t, router, http.MethodGet, "/api/projects", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ProjectDTO](t, rec), 1)
}

func TestProjects_ValidationErrors(t *testing.T) {
	// GIVEN: A project request missing id and name
	_, router := setupTestRouter(t)

	// WHEN: It is posted
	rec := do(t, router, http.MethodPost, "/api/projects", "application/json", `{"currency":"dollars"}`)

	// THEN: 400 with one entry per failing field
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "validation", resp.Code)
	assert.Equal(t, "required", resp.Details["id"])
	assert.Equal(t, "required", resp.Details["name"])
	assert.Equal(t, "len", resp.Details["currency"])
}

func TestProjects_NotFound(t *testing.T) {
	// GIVEN: No projects
	_, router := setupTestRouter(t)

	// WHEN/THEN: Every project-scoped route answers 404
	for _, path := range []string{
		"/api/projects/NOPE",
		"/api/projects/NOPE/baseline",
		"/api/projects/NOPE/line-items",
		"/api/projects/NOPE/kpis",
	} {
		rec := do(t, router, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

// =============================================================================
// BASELINES
// =============================================================================

func TestHandOff_SecondBaselineBecomesActive(t *testing.T) {
	// GIVEN: A project with a YAML baseline handed off and accepted
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")

	yamlDoc := `
baseline_id: BL-A
duration_months: 2
labor_estimates:
  - rubro_id: MOD-ING
    fte_count: 2
    monthly_rate: 500
`
	rec := do(t, router, http.MethodPost, "/api/projects/P1/baselines?status=accepted", "application/x-yaml", yamlDoc)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeAs[HandOffResponse](t, rec)
	assert.Equal(t, "BL-A", first.BaselineID)
	assert.Equal(t, "accepted", first.Status)
	require.Len(t, first.LineItems, 1)
	assert.Equal(t, "MOD-ING#BL-A#1", first.LineItems[0].StorageKey)

	// WHEN: A JSON baseline is handed off afterwards
	rec = do(t, router, http.MethodPost, "/api/projects/P1/baselines", "application/json", threeMonthBaseline)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The new baseline is active and only its items are listed
	rec = do(t, router, http.MethodGet, "/api/projects/P1/baseline", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	active := decodeAs[ActiveBaselineDTO](t, rec)
	assert.Equal(t, "BL-1", active.BaselineID)
	assert.Equal(t, "handed_off", active.Status)

	rec = do(t, router, http.MethodGet, "/api/projects/P1/line-items", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeAs[LineItemsResponse](t, rec)
	require.Len(t, items.Items, 2)
	for _, item := range items.Items {
		assert.Equal(t, "BL-1", item.BaselineID)
	}

	rec = do(t, router, http.MethodGet, "/api/projects/P1/baselines", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]map[string]any](t, rec), 2)
}

func TestHandOff_Rejections(t *testing.T) {
	// GIVEN: A project
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"other project", "/api/projects/P1/baselines", `{"project_id":"P2","labor_estimates":[{"rubro_id":"X","fte_count":1,"monthly_rate":1}]}`, http.StatusBadRequest},
		{"bad status", "/api/projects/P1/baselines?status=approved", threeMonthBaseline, http.StatusBadRequest},
		{"no estimates", "/api/projects/P1/baselines", `{"baseline_id":"BL-X"}`, http.StatusBadRequest},
		{"not a document", "/api/projects/P1/baselines", `{"baseline_id": [`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// WHEN: The document is handed off
			rec := do(t, router, http.MethodPost, tt.path, "application/json", tt.body)

			// THEN: It is refused
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestHandOff_DuplicateBaselineID(t *testing.T) {
	// GIVEN: A baseline already handed off
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")
	rec := do(t, router, http.MethodPost, "/api/projects/P1/baselines", "application/json", threeMonthBaseline)
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: The same baseline id is handed off again
	rec = do(t, router, http.MethodPost, "/api/projects/P1/baselines", "application/json", threeMonthBaseline)

	// THEN: It is refused and the catalog is unchanged
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/projects/P1/line-items", "", "")
	assert.Len(t, decodeAs[LineItemsResponse](t, rec).Items, 2)
}

func TestLineItems_LegacyCatalogPerPolicy(t *testing.T) {
	// GIVEN: A project whose active baseline has only untagged items
	h, router := setupTestRouter(t)
	ctx := context.Background()
	createProject(t, router, "P-LEG", "2025-01")
	require.NoError(t, h.Store.SaveProjectMetadata(ctx, budget.ProjectMetadata{
		ProjectID: "P-LEG", ActiveBaselineID: "BL-9", BaselineStatus: budget.BaselineAccepted,
	}))
	require.NoError(t, h.Store.SaveLineItems(ctx, "P-LEG", []budget.LineItem{{
		ID: "MOD-SUP", Quantity: decimal.NewFromInt(1), UnitCost: decimal.NewFromInt(100), StartMonth: 1, EndMonth: 1,
	}}))

	// WHEN: The catalog is listed with each policy
	lenient := do(t, router, http.MethodGet, "/api/projects/P-LEG/line-items", "", "")
	strict := do(t, router, http.MethodGet, "/api/projects/P-LEG/line-items?policy=STRICT", "", "")
	bogus := do(t, router, http.MethodGet, "/api/projects/P-LEG/line-items?policy=loose", "", "")

	// THEN: Lenient falls back to the legacy items, strict returns nothing
	require.Equal(t, http.StatusOK, lenient.Code)
	resp := decodeAs[LineItemsResponse](t, lenient)
	assert.Equal(t, "lenient", resp.Policy)
	require.Len(t, resp.Items, 1)
	assert.True(t, resp.Items[0].Legacy)

	require.Equal(t, http.StatusOK, strict.Code)
	assert.Empty(t, decodeAs[LineItemsResponse](t, strict).Items)

	assert.Equal(t, http.StatusBadRequest, bogus.Code)
}

// =============================================================================
// SOURCES
// =============================================================================

func TestGenerateForecast(t *testing.T) {
	// GIVEN: A project with a three-month baseline
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")
	createProject(t, router, "P2", "2025-01")
	rec := do(t, router, http.MethodPost, "/api/projects/P1/baselines", "application/json", threeMonthBaseline)
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: The forecast is generated twice
	first := do(t, router, http.MethodPost, "/api/projects/P1/forecast/generate", "", "")
	second := do(t, router, http.MethodPost, "/api/projects/P1/forecast/generate", "", "")

	// THEN: Three labor cells and one license cell, then a conflict
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Equal(t, 4, decodeAs[BatchResponse](t, first).Stored)
	assert.Equal(t, http.StatusConflict, second.Code)

	// AND: A project without line items cannot generate one
	rec = do(t, router, http.MethodPost, "/api/projects/P2/forecast/generate", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateForecast_FollowsActiveBaseline(t *testing.T) {
	// GIVEN: A forecast generated from BL-OLD
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")
	rec := do(t, router, http.MethodPost, "/api/projects/P1/baselines", "application/json",
		`{"baseline_id":"BL-OLD","duration_months":1,"non_labor_estimates":[{"rubro_id":"OLD-ONLY","amount":9999}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, "/api/projects/P1/forecast/generate", "", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: BL-NEW replaces it and its forecast is generated
	rec = do(t, router, http.MethodPost, "/api/projects/P1/baselines", "application/json",
		`{"baseline_id":"BL-NEW","duration_months":1,"non_labor_estimates":[{"rubro_id":"NEW-ONLY","amount":100}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, "/api/projects/P1/forecast/generate", "", "")

	// THEN: Generation is allowed again for the new baseline
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeAs[BatchResponse](t, rec).Stored)

	// AND: Only BL-NEW reaches the matrix
	rec = do(t, router, http.MethodGet, "/api/matrix?project=P1&months=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAs[struct {
		Rows []map[string]any `json:"rows"`
	}](t, rec)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "new-only", resp.Rows[0]["canonical_key"])
	assert.Equal(t, string(matrix.OriginForecast), resp.Rows[0]["source"])
	assertDecimal(t, "100", resp.Rows[0]["month_1_planned"])
}

func TestAllocations_EnvelopesAndMatrix(t *testing.T) {
	// GIVEN: A project without forecast or baseline
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")

	// WHEN: Allocations arrive wrapped in different envelopes
	rec := do(t, router, http.MethodPost, "/api/projects/P1/allocations", "application/json",
		`{"data":[{"rubro_id":"GSV-TRAVEL","month":"2025-01","amount":5000},{"rubro_id":"gsv-travel","month":"2025-02","amount":"5500"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeAs[BatchResponse](t, rec).Stored)

	rec = do(t, router, http.MethodPost, "/api/projects/P1/allocations", "application/json",
		`[{"rubro_id":" GSV-Travel ","month":"2","amount":100}]`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: Unknown envelopes and invalid elements are refused
	rec = do(t, router, http.MethodPost, "/api/projects/P1/allocations", "application/json",
		`{"allocations":[{"rubro_id":"X","month":"1","amount":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/projects/P1/allocations", "application/json",
		`{"items":[{"month":"1","amount":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "rubro_id")

	// AND: The matrix merges casing variants into one summed row
	rec = do(t, router, http.MethodGet, "/api/matrix?project=P1&months=3", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAs[struct {
		Rows []map[string]any `json:"rows"`
	}](t, rec)
	require.Len(t, resp.Rows, 1)
	row := resp.Rows[0]
	assert.Equal(t, "gsv-travel", row["canonical_key"])
	assert.Equal(t, string(matrix.OriginAllocation), row["source"])
	assertDecimal(t, "5000", row["month_1_planned"])
	assertDecimal(t, "5600", row["month_2_planned"])
	assertDecimal(t, "0", row["month_3_planned"])
	_, hasFourth := row["month_4_planned"]
	assert.False(t, hasFourth)
}

func TestActuals_OnlyReconciledCount(t *testing.T) {
	// GIVEN: A project with a generated forecast
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")
	require.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/projects/P1/baselines", "application/json", threeMonthBaseline).Code)
	require.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/projects/P1/forecast/generate", "", "").Code)

	// WHEN: One matched and one pending invoice are posted
	rec := do(t, router, http.MethodPost, "/api/projects/P1/actuals", "application/json",
		`{"results":[
		  {"id":"INV-1","line_item_id":"mod-ing","month":1,"amount":400,"status":"Matched"},
		  {"id":"INV-2","line_item_id":"GSV-LIC","month":1,"amount":500,"status":"Pending"}
		]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: Only the matched one reaches the KPIs
	rec = do(t, router, http.MethodGet, "/api/projects/P1/kpis?months=3", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	kpis := decodeAs[matrix.KPIs](t, rec)
	assertDecimal(t, "3500", kpis.Budget)
	assertDecimal(t, "3500", kpis.Forecast)
	assertDecimal(t, "400", kpis.Actual)
	assertDecimal(t, "0", kpis.Variance)
	assertDecimal(t, "11.43", kpis.Consumption)

	// AND: The pending invoice is reported as an issue
	rec = do(t, router, http.MethodGet, "/api/matrix?project=P1&months=3", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAs[MatrixResponse](t, rec)
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, string(matrix.IssueUnreconciledActual), resp.Issues[0].Kind)
	assert.Equal(t, "GSV-LIC", resp.Issues[0].Ref)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestPreviewAdjustment_ExactSum(t *testing.T) {
	// GIVEN: One million spread over three months
	_, router := setupTestRouter(t)

	// WHEN: The distribution is previewed
	rec := do(t, router, http.MethodPost, "/api/adjustments/preview", "application/json",
		`{"monto":1000000,"fecha_inicio":"2025-11","metodo_distribucion":"pro_rata_forward","meses_impactados":3}`)

	// THEN: The last month takes the remainder and the parts add back up
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAs[struct {
		Distribution []MonthAmountDTO `json:"distribucion"`
		Total        decimal.Decimal  `json:"total"`
	}](t, rec)
	require.Len(t, resp.Distribution, 3)
	assert.Equal(t, "2025-11", resp.Distribution[0].Month)
	assert.Equal(t, "2026-01", resp.Distribution[2].Month)
	assertDecimal(t, "333333.33", resp.Distribution[0].Amount)
	assertDecimal(t, "333333.33", resp.Distribution[1].Amount)
	assertDecimal(t, "333333.34", resp.Distribution[2].Amount)
	assertDecimal(t, "1000000", resp.Total)
}

func TestPreviewAdjustment_Invalid(t *testing.T) {
	_, router := setupTestRouter(t)

	for name, body := range map[string]string{
		"zero months":    `{"monto":100,"fecha_inicio":"2025-01","meses_impactados":0}`,
		"bad month":      `{"monto":100,"fecha_inicio":"2025-13","meses_impactados":2}`,
		"missing start":  `{"monto":100,"meses_impactados":2}`,
		"unknown method": `{"monto":100,"fecha_inicio":"2025-01","metodo_distribucion":"weekly","meses_impactados":2}`,
		"sub-cent":       `{"monto":100.005,"fecha_inicio":"2025-01","meses_impactados":2}`,
	} {
		rec := do(t, router, http.MethodPost, "/api/adjustments/preview", "application/json", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestCreateAdjustment_FeedsMatrix(t *testing.T) {
	// GIVEN: A project starting in November
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-11")

	// WHEN: An excess adjustment is stored
	rec := do(t, router, http.MethodPost, "/api/projects/P1/adjustments", "application/json",
		`{"tipo":"excess","monto":900,"fecha_inicio":"2025-11","metodo_distribucion":"pro_rata_forward",
		  "meses_impactados":3,"rubro_id":"GSV-CONT","justificacion":"scope","solicitado_por":"pm"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[AdjustmentDTO](t, rec)
	assert.Equal(t, "excess", created.Type)
	assert.Len(t, created.Distribution, 3)
	assert.Equal(t, testNow.Format(time.RFC3339), created.CreatedAt)

	// THEN: It is listed and planned 300 per month
	rec = do(t, router, http.MethodGet, "/api/projects/P1/adjustments", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]AdjustmentDTO](t, rec), 1)

	rec = do(t, router, http.MethodGet, "/api/matrix?project=P1&months=3", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAs[struct {
		Rows []map[string]any `json:"rows"`
	}](t, rec)
	require.Len(t, resp.Rows, 1)
	for _, key := range []string{"month_1_planned", "month_2_planned", "month_3_planned"} {
		assertDecimal(t, "300", resp.Rows[0][key])
	}
}

func TestCreateAdjustment_Validation(t *testing.T) {
	// GIVEN: A project
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")

	// WHEN: A reallocation without target and with a zero amount is posted
	rec := do(t, router, http.MethodPost, "/api/projects/P1/adjustments", "application/json",
		`{"tipo":"reallocation","monto":0,"fecha_inicio":"2025-01","rubro_id":"A"}`)

	// THEN: Both fields are reported
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[struct {
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "gt", resp.Details["monto"])
	assert.Equal(t, "required_if", resp.Details["target_rubro_id"])

	// AND: Domain rules still apply after validation passes
	rec = do(t, router, http.MethodPost, "/api/projects/P1/adjustments", "application/json",
		`{"tipo":"reallocation","monto":10,"fecha_inicio":"2025-01","rubro_id":"A","target_rubro_id":" a "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// AND: Sub-cent amounts are refused instead of silently rounded
	rec = do(t, router, http.MethodPost, "/api/projects/P1/adjustments", "application/json",
		`{"tipo":"excess","monto":100.005,"fecha_inicio":"2025-01","meses_impactados":2,"rubro_id":"A"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodGet, "/api/projects/P1/adjustments", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]AdjustmentDTO](t, rec))
}

// =============================================================================
// MATRIX & KPIs
// =============================================================================

func TestMatrix_QueryValidation(t *testing.T) {
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")

	tests := map[string]int{
		"/api/matrix":                      http.StatusOK,
		"/api/matrix?months=0":             http.StatusBadRequest,
		"/api/matrix?months=-2":            http.StatusBadRequest,
		"/api/matrix?months=abc":           http.StatusBadRequest,
		"/api/matrix?start=2025-13":        http.StatusBadRequest,
		"/api/matrix?policy=loose":         http.StatusBadRequest,
		"/api/projects/P1/kpis?months=0":   http.StatusBadRequest,
		"/api/matrix?months=120":           http.StatusOK,
		"/api/matrix?months=121":           http.StatusBadRequest,
		"/api/matrix?months=1099511627776": http.StatusBadRequest,
		"/api/projects/P1/kpis?months=121": http.StatusBadRequest,
	}
	for path, code := range tests {
		rec := do(t, router, http.MethodGet, path, "", "")
		assert.Equal(t, code, rec.Code, path)
	}
}

func TestMatrix_DefaultWindowAndMultipleProjects(t *testing.T) {
	// GIVEN: Two projects with baselines
	_, router := setupTestRouter(t)
	createProject(t, router, "P1", "2025-01")
	createProject(t, router, "P2", "2025-01")
	require.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/projects/P1/baselines", "application/json", threeMonthBaseline).Code)
	require.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/projects/P2/baselines", "application/json",
			strings.Replace(threeMonthBaseline, "BL-1", "BL-2", 1)).Code)

	// WHEN: The matrix is requested with a comma list and no months
	rec := do(t, router, http.MethodGet, "/api/matrix?project=P1,P2", "", "")

	// THEN: Twelve months, both projects, totals across both
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAs[MatrixResponse](t, rec)
	assert.Equal(t, 12, resp.MonthsToShow)
	assert.Len(t, resp.Rows, 4)
	assert.Len(t, resp.Totals.ByMonth, 12)
	assertDecimal(t, "7000", resp.Totals.Overall.Planned)
	assertDecimal(t, "7000", resp.KPIs.Budget)
	assert.Equal(t, "BL-2", resp.Baselines["P2"].BaselineID)
	assert.Equal(t, "Project P1", resp.Projects["P1"])

	// AND: An unknown project is a 404
	rec = do(t, router, http.MethodGet, "/api/matrix?project=P1&project=NOPE", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	_, router := setupTestRouter(t)
	rec := do(t, router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
