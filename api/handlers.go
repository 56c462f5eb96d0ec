/*
handlers.go - HTTP API handlers for the budget reconciliation service

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the portfolio
  service and the pure engine packages.

ENDPOINTS:
  Projects:
    GET    /api/projects                       List projects
    POST   /api/projects                       Create project
    GET    /api/projects/{id}                  Get project
    GET    /api/projects/{id}/baseline         Active baseline (registry)
    GET    /api/projects/{id}/baselines        Baseline history
    POST   /api/projects/{id}/baselines        Hand off a baseline document

  Catalog & sources:
    GET    /api/projects/{id}/line-items       Catalog scoped to the active baseline
    POST   /api/projects/{id}/forecast/generate
    POST   /api/projects/{id}/allocations      Any recognized envelope
    POST   /api/projects/{id}/actuals          Any recognized envelope

  Adjustments:
    GET    /api/projects/{id}/adjustments
    POST   /api/projects/{id}/adjustments
    POST   /api/adjustments/preview            Distribution without storing

  Reporting:
    GET    /api/projects/{id}/kpis?months=N
    GET    /api/matrix?project=..&months=N&start=YYYY-MM&policy=..
    GET    /api/kpi-snapshots?scope=..&limit=N

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validate.go)
  3. Call service / engine
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed months, unknown envelopes
  - 404: Project not found
  - 409: Storage key conflicts, forecast already generated
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - envelope.go: list payload shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/adjustment"
	"github.com/warp/budget-engine/baseline"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/factory"
	"github.com/warp/budget-engine/matrix"
	"github.com/warp/budget-engine/portfolio"
	"github.com/warp/budget-engine/store/sqlite"
)

const maxBodyBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *portfolio.Service
	Factory *factory.BaselineFactory

	// Now is the clock used for created_at stamps.
	Now func() time.Time

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, opts portfolio.Options) *Handler {
	return &Handler{
		Store:   store,
		Service: portfolio.NewService(store, opts),
		Factory: factory.NewBaselineFactory(),
		Now:     time.Now,
	}
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects returns all projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		writeServiceError(w, r, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProject creates or replaces a project.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeServiceError(w, r, "Invalid project", err)
		return
	}

	p := budget.Project{
		ID:             budget.ProjectID(strings.TrimSpace(req.ID)),
		Code:           req.Code,
		Name:           req.Name,
		Client:         req.Client,
		Currency:       strings.ToUpper(req.Currency),
		StartMonth:     req.StartMonth,
		DurationMonths: req.DurationMonths,
	}
	if err := h.Store.SaveProject(r.Context(), p); err != nil {
		writeServiceError(w, r, "Failed to create project", err)
		return
	}

	writeJSON(w, http.StatusCreated, toProjectDTO(p))
}

// GetProject returns a single project.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(*p))
}

// requireProject loads the {id} project or writes a 404.
func (h *Handler) requireProject(w http.ResponseWriter, r *http.Request) (*budget.Project, bool) {
	id := budget.ProjectID(chi.URLParam(r, "id"))
	p, err := h.Store.GetProject(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "Failed to get project", err)
		return nil, false
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Project not found", fmt.Errorf("project %s: %w", id, budget.ErrProjectNotFound))
		return nil, false
	}
	return p, true
}

// =============================================================================
// BASELINE HANDLERS
// =============================================================================

// GetActiveBaseline answers which baseline is active. A project without one
// gets empty fields, not an error.
// GET /api/projects/{id}/baseline
func (h *Handler) GetActiveBaseline(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	active, err := h.Service.Registry().ActiveBaseline(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, r, "Failed to resolve baseline", err)
		return
	}
	writeJSON(w, http.StatusOK, toActiveBaselineDTO(active))
}

// ListBaselines returns the project's baseline history.
// GET /api/projects/{id}/baselines
func (h *Handler) ListBaselines(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	baselines, err := h.Store.ListBaselines(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, r, "Failed to list baselines", err)
		return
	}

	type baselineDTO struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		CreatedBy string `json:"created_by,omitempty"`
		CreatedAt string `json:"created_at"`
	}
	dtos := make([]baselineDTO, len(baselines))
	for i, bl := range baselines {
		dtos[i] = baselineDTO{
			ID:        string(bl.ID),
			Status:    string(bl.Status),
			CreatedBy: bl.CreatedBy,
			CreatedAt: bl.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// HandOffBaseline materializes a baseline document (JSON or YAML) into line
// items and makes it the active baseline.
// POST /api/projects/{id}/baselines?status=accepted
func (h *Handler) HandOffBaseline(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}

	status := budget.BaselineHandedOff
	if s := r.URL.Query().Get("status"); s != "" {
		status = budget.BaselineStatus(strings.ToLower(s))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid baseline status", fmt.Errorf("status %q", s))
			return
		}
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	doc, err := h.Factory.Parse(body, documentFormat(r.Header.Get("Content-Type")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid baseline document", err)
		return
	}
	if doc.ProjectID == "" {
		doc.ProjectID = string(p.ID)
	}
	if budget.ProjectID(doc.ProjectID) != p.ID {
		writeError(w, http.StatusBadRequest, "Baseline document belongs to another project",
			fmt.Errorf("document project %q, url project %q", doc.ProjectID, p.ID))
		return
	}

	bl, items, err := h.Factory.Materialize(doc, h.Now())
	if err != nil {
		writeServiceError(w, r, "Failed to materialize baseline", err)
		return
	}
	if err := h.Store.HandOff(r.Context(), bl, items, status); err != nil {
		writeServiceError(w, r, "Failed to hand off baseline", err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("project_id", string(p.ID)).
		Str("baseline_id", string(bl.ID)).
		Int("line_items", len(items)).
		Msg("baseline handed off")

	writeJSON(w, http.StatusCreated, HandOffResponse{
		BaselineID: string(bl.ID),
		ProjectID:  string(p.ID),
		Status:     string(status),
		LineItems:  toLineItemDTOs(items),
	})
}

func documentFormat(contentType string) factory.Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "yaml"):
		return factory.FormatYAML
	case strings.Contains(ct, "json"):
		return factory.FormatJSON
	}
	return ""
}

// =============================================================================
// CATALOG & SOURCES
// =============================================================================

// ListLineItems returns the catalog scoped to the active baseline.
// GET /api/projects/{id}/line-items?policy=strict|lenient
func (h *Handler) ListLineItems(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	policy, err := policyParam(r, h.Service.Policy())
	if err != nil {
		writeServiceError(w, r, "Invalid policy", err)
		return
	}

	items, active, err := h.Service.LineItems(r.Context(), p.ID, policy)
	if err != nil {
		writeServiceError(w, r, "Failed to list line items", err)
		return
	}

	writeJSON(w, http.StatusOK, LineItemsResponse{
		ProjectID: string(p.ID),
		Baseline:  toActiveBaselineDTO(active),
		Policy:    string(policy),
		Items:     toLineItemDTOs(items),
	})
}

// GenerateForecast spreads the active baseline's line items into forecast
// cells. Generation runs once per baseline: after a hand-off the new active
// baseline can be generated again, cells of the old one stay stored but no
// longer reach the matrix.
// POST /api/projects/{id}/forecast/generate
func (h *Handler) GenerateForecast(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	items, active, err := h.Service.LineItems(ctx, p.ID, "")
	if err != nil {
		writeServiceError(w, r, "Failed to list line items", err)
		return
	}

	existing, err := h.Store.ListForecastCells(ctx, p.ID)
	if err != nil {
		writeServiceError(w, r, "Failed to load forecast", err)
		return
	}
	if len(baseline.FilterForecast(existing, active.ID)) > 0 {
		writeError(w, http.StatusConflict, "Forecast already generated", nil)
		return
	}

	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "No line items for the active baseline", nil)
		return
	}

	cells := factory.GenerateForecast(items, h.Now(), "system")
	if err := h.Store.SaveForecastCells(ctx, p.ID, cells); err != nil {
		writeServiceError(w, r, "Failed to save forecast", err)
		return
	}
	writeJSON(w, http.StatusCreated, BatchResponse{ProjectID: string(p.ID), Stored: len(cells)})
}

// CreateAllocations stores a list of allocations.
// POST /api/projects/{id}/allocations
func (h *Handler) CreateAllocations(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	dtos, ok := decodeListBody[AllocationDTO](w, r)
	if !ok {
		return
	}

	allocations := make([]budget.Allocation, len(dtos))
	for i, dto := range dtos {
		allocations[i] = dto.toDomain(p.ID)
	}
	if err := h.Store.SaveAllocations(r.Context(), p.ID, allocations); err != nil {
		writeServiceError(w, r, "Failed to save allocations", err)
		return
	}
	writeJSON(w, http.StatusCreated, BatchResponse{ProjectID: string(p.ID), Stored: len(allocations)})
}

// CreateActuals stores a list of invoice or payroll actuals.
// POST /api/projects/{id}/actuals
func (h *Handler) CreateActuals(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	dtos, ok := decodeListBody[ActualDTO](w, r)
	if !ok {
		return
	}

	actuals := make([]budget.ActualRecord, len(dtos))
	for i, dto := range dtos {
		actuals[i] = dto.toDomain(p.ID)
	}
	if err := h.Store.SaveActuals(r.Context(), p.ID, actuals); err != nil {
		writeServiceError(w, r, "Failed to save actuals", err)
		return
	}
	writeJSON(w, http.StatusCreated, BatchResponse{ProjectID: string(p.ID), Stored: len(actuals)})
}

// decodeListBody unwraps the envelope, decodes the list and validates each
// element. It writes the error response itself.
func decodeListBody[T any](w http.ResponseWriter, r *http.Request) ([]T, bool) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	list, err := DecodeList[T](body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid list payload", err)
		return nil, false
	}
	for i := range list {
		if err := validateRequest(list[i]); err != nil {
			writeServiceError(w, r, fmt.Sprintf("Invalid element %d", i), err)
			return nil, false
		}
	}
	return list, true
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// ListAdjustments returns the project's adjustments.
// GET /api/projects/{id}/adjustments
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	adjs, err := h.Store.ListAdjustments(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, r, "Failed to list adjustments", err)
		return
	}
	dtos := make([]AdjustmentDTO, len(adjs))
	for i, adj := range adjs {
		dtos[i] = toAdjustmentDTO(adj)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment computes the distribution and stores the adjustment.
// Approval state lives elsewhere; a stored adjustment counts immediately.
// POST /api/projects/{id}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}

	var req CreateAdjustmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeServiceError(w, r, "Invalid adjustment", err)
		return
	}

	method := budget.DistributionMethod(req.Method)
	if method == "" {
		method = budget.MethodProRataForward
	}
	adj, err := adjustment.New(adjustment.Request{
		ProjectID:      p.ID,
		Type:           budget.AdjustmentType(req.Type),
		Amount:         req.Amount,
		StartPeriod:    req.StartPeriod,
		Method:         method,
		MonthsImpacted: req.MonthsImpacted,
		RubroID:        req.RubroID,
		TargetRubroID:  req.TargetRubroID,
		Reason:         req.Reason,
		CreatedBy:      req.CreatedBy,
	}, h.Now())
	if err != nil {
		writeServiceError(w, r, "Invalid adjustment", err)
		return
	}

	if err := h.Store.SaveAdjustment(r.Context(), adj); err != nil {
		writeServiceError(w, r, "Failed to save adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(adj))
}

// PreviewAdjustment returns the distribution an adjustment would get.
// POST /api/adjustments/preview
func (h *Handler) PreviewAdjustment(w http.ResponseWriter, r *http.Request) {
	var req PreviewAdjustmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeServiceError(w, r, "Invalid preview", err)
		return
	}

	start, err := budget.ParseMonth(req.StartPeriod)
	if err != nil {
		writeServiceError(w, r, "Invalid fecha_inicio", err)
		return
	}
	method := budget.DistributionMethod(req.Method)
	if method == "" {
		method = budget.MethodProRataForward
	}

	if !budget.IsCents(req.Amount) {
		writeServiceError(w, r, "Invalid preview",
			budget.InvalidArgument("adjustment.Preview", "monto", "more than 2 decimal places"))
		return
	}

	dist, err := adjustment.Plan(method, req.Amount, start, req.MonthsImpacted)
	if err != nil {
		writeServiceError(w, r, "Invalid preview", err)
		return
	}

	total := decimal.Zero
	for _, e := range dist {
		total = total.Add(e.Amount)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"distribucion": toMonthAmountDTOs(dist),
		"total":        total,
	})
}

// =============================================================================
// REPORTING
// =============================================================================

// GetProjectKPIs returns one project's KPIs over the first N months.
// GET /api/projects/{id}/kpis?months=N
func (h *Handler) GetProjectKPIs(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireProject(w, r)
	if !ok {
		return
	}
	months, err := monthsParam(r)
	if err != nil {
		writeServiceError(w, r, "Invalid months", err)
		return
	}

	kpis, err := h.Service.ProjectKPIs(r.Context(), p.ID, months)
	if err != nil {
		writeServiceError(w, r, "Failed to compute KPIs", err)
		return
	}
	writeJSON(w, http.StatusOK, kpis)
}

// GetMatrix builds the canonical matrix for one, several or all projects.
// GET /api/matrix?project=P1&project=P2&months=12&start=2025-01&policy=strict
func (h *Handler) GetMatrix(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var ids []budget.ProjectID
	for _, v := range q["project"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, budget.ProjectID(id))
			}
		}
	}

	months, err := monthsParam(r)
	if err != nil {
		writeServiceError(w, r, "Invalid months", err)
		return
	}

	var start budget.Month
	if s := q.Get("start"); s != "" {
		if start, err = budget.ParseMonth(s); err != nil {
			writeServiceError(w, r, "Invalid start", err)
			return
		}
	}

	policy, err := policyParam(r, h.Service.Policy())
	if err != nil {
		writeServiceError(w, r, "Invalid policy", err)
		return
	}

	view, err := h.Service.Matrix(r.Context(), portfolio.MatrixRequest{
		ProjectIDs:   ids,
		MonthsToShow: months,
		WindowStart:  start,
		Policy:       policy,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to build matrix", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatrixResponse(view))
}

// ListKPISnapshots returns scheduled KPI captures, newest first.
// GET /api/kpi-snapshots?scope=portfolio&limit=20
func (h *Handler) ListKPISnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeServiceError(w, r, "Invalid limit", err)
		return
	}

	snaps, err := h.Store.ListKPISnapshots(r.Context(), r.URL.Query().Get("scope"), limit)
	if err != nil {
		writeServiceError(w, r, "Failed to list KPI snapshots", err)
		return
	}

	dtos := make([]KPISnapshotDTO, 0, len(snaps))
	for _, s := range snaps {
		var kpis matrix.KPIs
		if err := json.Unmarshal([]byte(s.KPIsJSON), &kpis); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("snapshot_id", s.ID).Msg("skipping unreadable snapshot")
			continue
		}
		dtos = append(dtos, KPISnapshotDTO{
			ID:        s.ID,
			Scope:     s.Scope,
			Months:    s.Months,
			KPIs:      kpis,
			CreatedAt: s.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, budget.InvalidArgument("query", name, fmt.Sprintf("%q is not a number", s))
	}
	return n, nil
}

// monthsParam reads ?months=N. Absent means the configured default (0);
// anything outside 1..matrix.MaxMonthsToShow is misuse.
func monthsParam(r *http.Request) (int, error) {
	if r.URL.Query().Get("months") == "" {
		return 0, nil
	}
	n, err := intParam(r, "months", 0)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > matrix.MaxMonthsToShow {
		return 0, budget.InvalidArgument("query", "months",
			fmt.Sprintf("must be between 1 and %d", matrix.MaxMonthsToShow))
	}
	return n, nil
}

func policyParam(r *http.Request, def baseline.FilterPolicy) (baseline.FilterPolicy, error) {
	s := r.URL.Query().Get("policy")
	if s == "" {
		return def, nil
	}
	return baseline.ParsePolicy(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "validation", Details: verr.Fields})
		return
	}

	switch {
	case budget.IsCallerMisuse(err):
		writeError(w, http.StatusBadRequest, message, err)
	case budget.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case budget.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
