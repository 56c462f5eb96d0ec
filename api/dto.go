/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Projects:    ProjectDTO, CreateProjectRequest, ActiveBaselineDTO
  Catalog:     LineItemDTO, LineItemsResponse
  Sources:     AllocationDTO, ActualDTO (accepted inside any envelope)
  Adjustments: CreateAdjustmentRequest, PreviewAdjustmentRequest, AdjustmentDTO
  Matrix:      MatrixResponse (rows flattened to month_{n}_* keys)
  Scenarios:   ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts are decimal.Decimal. They are accepted as JSON numbers or strings
  and always rendered as strings so no precision is lost in transit.

VALIDATION:
  Request types carry go-playground/validator tags, checked by
  validateRequest (validate.go) before any domain call.

SEE ALSO:
  - handlers.go: Uses these types
  - envelope.go: list payload shapes
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/baseline"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/matrix"
	"github.com/warp/budget-engine/portfolio"
)

// =============================================================================
// PROJECTS
// =============================================================================

type ProjectDTO struct {
	ID             string `json:"id"`
	Code           string `json:"code,omitempty"`
	Name           string `json:"name"`
	Client         string `json:"client,omitempty"`
	Currency       string `json:"currency,omitempty"`
	StartMonth     string `json:"start_month,omitempty"`
	DurationMonths int    `json:"duration_months,omitempty"`
}

type CreateProjectRequest struct {
	ID             string       `json:"id" validate:"required,max=64"`
	Code           string       `json:"code" validate:"max=64"`
	Name           string       `json:"name" validate:"required"`
	Client         string       `json:"client"`
	Currency       string       `json:"currency" validate:"omitempty,len=3"`
	StartMonth     budget.Month `json:"start_month"`
	DurationMonths int          `json:"duration_months" validate:"gte=0,lte=120"`
}

func toProjectDTO(p budget.Project) ProjectDTO {
	return ProjectDTO{
		ID:             string(p.ID),
		Code:           p.Code,
		Name:           p.Name,
		Client:         p.Client,
		Currency:       p.Currency,
		StartMonth:     p.StartMonth.String(),
		DurationMonths: p.DurationMonths,
	}
}

// ActiveBaselineDTO is the registry's answer. Both fields are empty when
// the project has no baseline.
type ActiveBaselineDTO struct {
	BaselineID string `json:"baseline_id"`
	Status     string `json:"baseline_status"`
}

func toActiveBaselineDTO(a baseline.ActiveBaseline) ActiveBaselineDTO {
	return ActiveBaselineDTO{BaselineID: string(a.ID), Status: string(a.Status)}
}

// HandOffResponse is returned after a baseline document is materialized.
type HandOffResponse struct {
	BaselineID string        `json:"baseline_id"`
	ProjectID  string        `json:"project_id"`
	Status     string        `json:"status"`
	LineItems  []LineItemDTO `json:"line_items"`
}

// =============================================================================
// LINE ITEMS
// =============================================================================

type LineItemDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Category   string          `json:"category,omitempty"`
	Quantity   decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Recurring  bool            `json:"recurring"`
	StartMonth int             `json:"start_month"`
	EndMonth   int             `json:"end_month"`
	BaselineID string          `json:"baseline_id,omitempty"`
	Legacy     bool            `json:"legacy,omitempty"`
	StorageKey string          `json:"storage_key,omitempty"`
}

func toLineItemDTO(li budget.LineItem) LineItemDTO {
	dto := LineItemDTO{
		ID:         li.ID,
		Name:       li.Name,
		Category:   li.Category,
		Quantity:   li.Quantity,
		UnitCost:   li.UnitCost,
		TotalCost:  li.EffectiveTotal(),
		Recurring:  li.Recurring,
		StartMonth: li.StartMonth,
		EndMonth:   li.EndMonth,
		StorageKey: li.StorageKey,
	}
	switch tag := li.Tag().(type) {
	case budget.Tagged:
		dto.BaselineID = string(tag.BaselineID)
	case budget.Legacy:
		dto.Legacy = true
	}
	return dto
}

func toLineItemDTOs(items []budget.LineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, len(items))
	for i, li := range items {
		dtos[i] = toLineItemDTO(li)
	}
	return dtos
}

type LineItemsResponse struct {
	ProjectID string            `json:"project_id"`
	Baseline  ActiveBaselineDTO `json:"baseline"`
	Policy    string            `json:"policy"`
	Items     []LineItemDTO     `json:"items"`
}

// =============================================================================
// ALLOCATIONS & ACTUALS
// =============================================================================

// AllocationDTO accepts the month either as "YYYY-MM" or a 1-based index.
type AllocationDTO struct {
	RubroID   string          `json:"rubro_id" validate:"required"`
	RubroType string          `json:"rubro_type"`
	Month     string          `json:"month" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source" validate:"omitempty,oneof=system manual adjustment"`
}

func (a AllocationDTO) toDomain(projectID budget.ProjectID) budget.Allocation {
	source := budget.AllocationSource(a.Source)
	if source == "" {
		source = budget.AllocationManual
	}
	return budget.Allocation{
		ProjectID: projectID,
		RubroID:   a.RubroID,
		RubroType: a.RubroType,
		Month:     a.Month,
		Amount:    a.Amount,
		Source:    source,
	}
}

type ActualDTO struct {
	ID         string          `json:"id"`
	LineItemID string          `json:"line_item_id" validate:"required"`
	Month      int             `json:"month" validate:"required,min=1"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	Currency   string          `json:"currency" validate:"omitempty,len=3"`
	Source     string          `json:"source" validate:"omitempty,oneof=invoice payroll"`
}

func (a ActualDTO) toDomain(projectID budget.ProjectID) budget.ActualRecord {
	source := budget.ActualSource(a.Source)
	if source == "" {
		source = budget.ActualInvoice
	}
	return budget.ActualRecord{
		ID:         a.ID,
		ProjectID:  projectID,
		LineItemID: a.LineItemID,
		Month:      a.Month,
		Amount:     a.Amount,
		Status:     budget.ActualStatus(a.Status),
		Currency:   a.Currency,
		Source:     source,
	}
}

// BatchResponse acknowledges a stored list.
type BatchResponse struct {
	ProjectID string `json:"project_id"`
	Stored    int    `json:"stored"`
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type CreateAdjustmentRequest struct {
	Type           string          `json:"tipo" validate:"required,oneof=excess deficit reallocation"`
	Amount         decimal.Decimal `json:"monto" validate:"gt=0"`
	StartPeriod    budget.Month    `json:"fecha_inicio"`
	Method         string          `json:"metodo_distribucion" validate:"omitempty,oneof=single_month pro_rata_forward"`
	MonthsImpacted int             `json:"meses_impactados" validate:"gte=0,lte=120"`
	RubroID        string          `json:"rubro_id"`
	TargetRubroID  string          `json:"target_rubro_id" validate:"required_if=Type reallocation"`
	Reason         string          `json:"justificacion"`
	CreatedBy      string          `json:"solicitado_por"`
}

type PreviewAdjustmentRequest struct {
	Amount         decimal.Decimal `json:"monto"`
	StartPeriod    string          `json:"fecha_inicio" validate:"required"`
	Method         string          `json:"metodo_distribucion" validate:"omitempty,oneof=single_month pro_rata_forward"`
	MonthsImpacted int             `json:"meses_impactados" validate:"gte=0,lte=120"`
}

type MonthAmountDTO struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"monto"`
}

func toMonthAmountDTOs(dist []budget.MonthAmount) []MonthAmountDTO {
	dtos := make([]MonthAmountDTO, len(dist))
	for i, e := range dist {
		dtos[i] = MonthAmountDTO{Month: e.Month.String(), Amount: e.Amount}
	}
	return dtos
}

type AdjustmentDTO struct {
	ID             string           `json:"id"`
	ProjectID      string           `json:"project_id"`
	Type           string           `json:"tipo"`
	Amount         decimal.Decimal  `json:"monto"`
	StartPeriod    string           `json:"fecha_inicio"`
	Method         string           `json:"metodo_distribucion"`
	MonthsImpacted int              `json:"meses_impactados"`
	Distribution   []MonthAmountDTO `json:"distribucion"`
	RubroID        string           `json:"rubro_id,omitempty"`
	TargetRubroID  string           `json:"target_rubro_id,omitempty"`
	Reason         string           `json:"justificacion,omitempty"`
	CreatedBy      string           `json:"solicitado_por,omitempty"`
	CreatedAt      string           `json:"created_at"`
}

func toAdjustmentDTO(adj budget.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:             string(adj.ID),
		ProjectID:      string(adj.ProjectID),
		Type:           string(adj.Type),
		Amount:         adj.Amount,
		StartPeriod:    adj.StartPeriod.String(),
		Method:         string(adj.Method),
		MonthsImpacted: adj.MonthsImpacted,
		Distribution:   toMonthAmountDTOs(adj.Distribution),
		RubroID:        adj.RubroID,
		TargetRubroID:  adj.TargetRubroID,
		Reason:         adj.Reason,
		CreatedBy:      adj.CreatedBy,
		CreatedAt:      adj.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// MATRIX
// =============================================================================

// MatrixRow is a flat object: identity fields plus month_{n}_planned,
// month_{n}_forecast and month_{n}_actual for every month of the window.
type MatrixRow map[string]any

func toMatrixRow(r matrix.Row, months int) MatrixRow {
	row := MatrixRow{
		"project_id":    string(r.ProjectID),
		"line_item_id":  r.LineItemID,
		"rubro_id":      r.RubroID,
		"cost_type":     r.CostType,
		"canonical_key": r.CanonicalKey,
		"source":        string(r.Source),
	}
	for n := 1; n <= months; n++ {
		c := r.Month(n)
		row[fmt.Sprintf("month_%d_planned", n)] = c.Planned
		row[fmt.Sprintf("month_%d_forecast", n)] = c.Forecast
		row[fmt.Sprintf("month_%d_actual", n)] = c.Actual
	}
	return row
}

type MonthTotalsDTO struct {
	Month    int             `json:"month,omitempty"`
	Planned  decimal.Decimal `json:"planned"`
	Forecast decimal.Decimal `json:"forecast"`
	Actual   decimal.Decimal `json:"actual"`
}

type TotalsDTO struct {
	ByMonth []MonthTotalsDTO `json:"by_month"`
	Overall MonthTotalsDTO   `json:"overall"`
}

type IssueDTO struct {
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	ProjectID string `json:"project_id"`
	Ref       string `json:"ref,omitempty"`
	Month     string `json:"month,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type MatrixResponse struct {
	MonthsToShow int                          `json:"months_to_show"`
	Rows         []MatrixRow                  `json:"rows"`
	Totals       TotalsDTO                    `json:"totals"`
	KPIs         matrix.KPIs                  `json:"kpis"`
	Projects     map[string]string            `json:"project_index"`
	Baselines    map[string]ActiveBaselineDTO `json:"baselines"`
	Issues       []IssueDTO                   `json:"issues"`
}

func toMatrixResponse(view portfolio.MatrixView) MatrixResponse {
	resp := MatrixResponse{
		MonthsToShow: view.MonthsToShow,
		Rows:         make([]MatrixRow, len(view.Rows)),
		KPIs:         view.KPIs,
		Projects:     make(map[string]string, len(view.ProjectIndex)),
		Baselines:    make(map[string]ActiveBaselineDTO, len(view.Baselines)),
		Issues:       make([]IssueDTO, len(view.Issues)),
	}
	for i, r := range view.Rows {
		resp.Rows[i] = toMatrixRow(r, view.MonthsToShow)
	}

	resp.Totals.ByMonth = make([]MonthTotalsDTO, len(view.Totals.ByMonth))
	for i, t := range view.Totals.ByMonth {
		resp.Totals.ByMonth[i] = MonthTotalsDTO{Month: i + 1, Planned: t.Planned, Forecast: t.Forecast, Actual: t.Actual}
	}
	o := view.Totals.Overall
	resp.Totals.Overall = MonthTotalsDTO{Planned: o.Planned, Forecast: o.Forecast, Actual: o.Actual}

	for id, label := range view.ProjectIndex {
		resp.Projects[string(id)] = label.Name
	}
	for id, bl := range view.Baselines {
		resp.Baselines[string(id)] = toActiveBaselineDTO(bl)
	}
	for i, is := range view.Issues {
		resp.Issues[i] = IssueDTO{
			Kind:      string(is.Kind),
			Source:    string(is.Source),
			ProjectID: string(is.ProjectID),
			Ref:       is.Ref,
			Month:     is.Month,
			Detail:    is.Detail,
		}
	}
	return resp
}

// =============================================================================
// KPI SNAPSHOTS
// =============================================================================

type KPISnapshotDTO struct {
	ID        string      `json:"id"`
	Scope     string      `json:"scope"`
	Months    int         `json:"months"`
	KPIs      matrix.KPIs `json:"kpis"`
	CreatedAt string      `json:"created_at"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
