/*
Package matrix merges independent budget sources into one canonical matrix.

PURPOSE:
  Forecast cells, allocations, baseline line items and actuals arrive from
  different places and do not always agree on identifier casing. Build folds
  them into exactly one row per (project, canonical key) with one cell per
  month of the requested window, then totals the window.

SOURCE PRECEDENCE (planned column):
  1. Forecast cells             - always win for their line item
  2. Allocations                - only for line items with no forecast
  3. Baseline line items        - only when neither of the above exists;
                                  repeats of a rubro add up

MERGE RULES:
  - Forecast: a later non-zero value overwrites; a zero never clobbers an
    earlier value (placeholders are harmless).
  - Allocations: amounts for the same (row, month) add up.
  - Actuals: only reconciled records on existing rows. The first one for a
    (row, month) replaces the forecast's actual, later ones add to it.

DATA PROBLEMS:
  Records for unknown projects, malformed months, months outside the window
  and unreconciled actuals are skipped and reported as Issues. Only caller
  misuse (MonthsToShow outside 1..MaxMonthsToShow) fails the build.

EXAMPLE:
  res, err := matrix.Build(matrix.Input{
      Projects:         projects,
      ForecastPayloads: payloads,
      Allocations:      allocations,
      Actuals:          invoices,
      MonthsToShow:     12,
  })
  kpis := matrix.DeriveKPIs(res.Rows, 12)

SEE ALSO:
  - kpi.go: window KPIs
  - budget/canonical.go: CanonicalKey
*/
package matrix

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// TYPES
// =============================================================================

// Origin says which source created a row (or produced an issue).
type Origin string

const (
	OriginForecast   Origin = "forecast"
	OriginAllocation Origin = "allocation"
	OriginBaseline   Origin = "baseline"
	OriginActual     Origin = "actual"
)

// Cell holds the three values of one month.
type Cell struct {
	Planned  decimal.Decimal
	Forecast decimal.Decimal
	Actual   decimal.Decimal

	hasPlanned  bool
	hasForecast bool
	hasActual   bool
}

// Row is one line item of one project.
type Row struct {
	ProjectID    budget.ProjectID
	LineItemID   string // first spelling seen
	RubroID      string
	CostType     string
	CanonicalKey string
	Source       Origin
	Cells        []Cell // Cells[n-1] is month n
}

// Month returns the cell of 1-based month n, or an empty cell when n is
// outside the row.
func (r Row) Month(n int) Cell {
	if n < 1 || n > len(r.Cells) {
		return Cell{}
	}
	return r.Cells[n-1]
}

type MonthTotals struct {
	Planned  decimal.Decimal
	Forecast decimal.Decimal
	Actual   decimal.Decimal
}

func (t MonthTotals) add(c Cell) MonthTotals {
	return MonthTotals{
		Planned:  t.Planned.Add(c.Planned),
		Forecast: t.Forecast.Add(c.Forecast),
		Actual:   t.Actual.Add(c.Actual),
	}
}

type Totals struct {
	ByMonth []MonthTotals // ByMonth[m] is month m+1
	Overall MonthTotals
}

type ProjectLabel struct {
	Name string
}

type Input struct {
	Projects         []budget.Project
	ForecastPayloads []budget.ForecastPayload
	Allocations      []budget.Allocation
	Actuals          []budget.ActualRecord

	// LineItems must already be filtered to the active baseline.
	LineItems []budget.LineItem

	MonthsToShow int

	// WindowStart anchors "YYYY-MM" allocation months. When zero, each
	// project's StartMonth is used, then its earliest allocation month.
	WindowStart budget.Month
}

type Result struct {
	Rows         []Row
	Totals       Totals
	ProjectIndex map[budget.ProjectID]ProjectLabel
	Issues       []Issue
}

// =============================================================================
// BUILD
// =============================================================================

// MaxMonthsToShow bounds the window. Every row allocates one cell per month.
const MaxMonthsToShow = 120

type rowKey struct {
	project budget.ProjectID
	key     string
}

type cellKey struct {
	row   rowKey
	month int
}

type builder struct {
	months   int
	projects map[budget.ProjectID]budget.Project
	rows     []*Row
	index    map[rowKey]*Row
	actuals  map[cellKey]bool
	issues   []Issue
}

// Build merges the inputs. It has no side effects: identical inputs give
// identical results.
func Build(in Input) (Result, error) {
	if in.MonthsToShow < 1 {
		return Result{}, budget.InvalidArgument("matrix.Build", "MonthsToShow", "must be at least 1")
	}
	if in.MonthsToShow > MaxMonthsToShow {
		return Result{}, budget.InvalidArgument("matrix.Build", "MonthsToShow",
			"must be at most "+strconv.Itoa(MaxMonthsToShow))
	}

	b := &builder{
		months:   in.MonthsToShow,
		projects: make(map[budget.ProjectID]budget.Project, len(in.Projects)),
		index:    make(map[rowKey]*Row),
		actuals:  make(map[cellKey]bool),
	}

	projectIndex := make(map[budget.ProjectID]ProjectLabel, len(in.Projects))
	for _, p := range in.Projects {
		b.projects[p.ID] = p
		projectIndex[p.ID] = ProjectLabel{Name: displayName(p)}
	}

	for _, payload := range in.ForecastPayloads {
		b.addForecast(payload)
	}
	b.addAllocations(in.Allocations, in.WindowStart)
	b.addLineItems(in.LineItems)
	for _, a := range in.Actuals {
		b.addActual(a)
	}

	rows := make([]Row, len(b.rows))
	for i, r := range b.rows {
		rows[i] = *r
	}

	return Result{
		Rows:         rows,
		Totals:       computeTotals(rows, in.MonthsToShow),
		ProjectIndex: projectIndex,
		Issues:       b.issues,
	}, nil
}

func displayName(p budget.Project) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Code != "":
		return p.Code
	default:
		return string(p.ID)
	}
}

func (b *builder) issue(i Issue) {
	b.issues = append(b.issues, i)
}

func (b *builder) knownProject(id budget.ProjectID) bool {
	_, ok := b.projects[id]
	return ok
}

func (b *builder) inWindow(n int) bool {
	return n >= 1 && n <= b.months
}

func (b *builder) row(project budget.ProjectID, id string) (*Row, bool) {
	r, ok := b.index[rowKey{project: project, key: budget.CanonicalKey(id)}]
	return r, ok
}

func (b *builder) newRow(project budget.ProjectID, id string, source Origin) *Row {
	r := &Row{
		ProjectID:    project,
		LineItemID:   strings.TrimSpace(id),
		RubroID:      strings.TrimSpace(id),
		CanonicalKey: budget.CanonicalKey(id),
		Source:       source,
		Cells:        make([]Cell, b.months),
	}
	for i := range r.Cells {
		r.Cells[i] = Cell{Planned: decimal.Zero, Forecast: decimal.Zero, Actual: decimal.Zero}
	}
	b.index[rowKey{project: project, key: r.CanonicalKey}] = r
	b.rows = append(b.rows, r)
	return r
}

// =============================================================================
// SOURCE 1: FORECAST CELLS
// =============================================================================

func (b *builder) addForecast(payload budget.ForecastPayload) {
	if !b.knownProject(payload.ProjectID) {
		if len(payload.Cells) > 0 {
			b.issue(Issue{Kind: IssueUnknownProject, Source: OriginForecast, ProjectID: payload.ProjectID})
		}
		return
	}

	for _, cell := range payload.Cells {
		if budget.CanonicalKey(cell.LineItemID) == "" {
			b.issue(Issue{Kind: IssueMissingLineItemID, Source: OriginForecast, ProjectID: payload.ProjectID,
				Month: strconv.Itoa(cell.Month)})
			continue
		}

		r, ok := b.row(payload.ProjectID, cell.LineItemID)
		if !ok {
			r = b.newRow(payload.ProjectID, cell.LineItemID, OriginForecast)
		}
		if r.RubroID == r.LineItemID && cell.RubroID != "" {
			r.RubroID = cell.RubroID
		}
		if r.CostType == "" {
			r.CostType = cell.CostType
		}

		if !b.inWindow(cell.Month) {
			b.issue(Issue{Kind: IssueOutOfWindow, Source: OriginForecast, ProjectID: payload.ProjectID,
				Ref: cell.LineItemID, Month: strconv.Itoa(cell.Month)})
			continue
		}

		c := &r.Cells[cell.Month-1]
		mergeValue(&c.Planned, &c.hasPlanned, cell.Planned)
		mergeValue(&c.Forecast, &c.hasForecast, cell.Forecast)
		mergeValue(&c.Actual, &c.hasActual, cell.Actual)
	}
}

// mergeValue writes v unless it is zero and something is already there.
func mergeValue(dst *decimal.Decimal, has *bool, v decimal.Decimal) {
	v = budget.RoundCents(v)
	if !v.IsZero() || !*has {
		*dst = v
		*has = true
	}
}

// =============================================================================
// SOURCE 2: ALLOCATIONS
// =============================================================================

func (b *builder) addAllocations(allocations []budget.Allocation, windowStart budget.Month) {
	refs := b.referenceMonths(allocations, windowStart)

	for _, a := range allocations {
		if !b.knownProject(a.ProjectID) {
			b.issue(Issue{Kind: IssueUnknownProject, Source: OriginAllocation, ProjectID: a.ProjectID,
				Ref: a.RubroID, Month: a.Month})
			continue
		}
		if budget.CanonicalKey(a.RubroID) == "" {
			b.issue(Issue{Kind: IssueMissingLineItemID, Source: OriginAllocation, ProjectID: a.ProjectID,
				Month: a.Month})
			continue
		}

		r, exists := b.row(a.ProjectID, a.RubroID)
		if exists && r.Source == OriginForecast {
			continue
		}

		n, err := resolveMonth(a.Month, refs[a.ProjectID])
		if err != nil {
			b.issue(Issue{Kind: IssueMalformedMonth, Source: OriginAllocation, ProjectID: a.ProjectID,
				Ref: a.RubroID, Month: a.Month, Detail: err.Error()})
			continue
		}
		if !b.inWindow(n) {
			b.issue(Issue{Kind: IssueOutOfWindow, Source: OriginAllocation, ProjectID: a.ProjectID,
				Ref: a.RubroID, Month: a.Month})
			continue
		}

		if !exists {
			r = b.newRow(a.ProjectID, a.RubroID, OriginAllocation)
		}
		if r.CostType == "" {
			r.CostType = a.RubroType
		}

		c := &r.Cells[n-1]
		c.Planned = c.Planned.Add(budget.RoundCents(a.Amount))
		c.hasPlanned = true
	}
}

// referenceMonths picks, per project, the month that "YYYY-MM" labels are
// counted from.
func (b *builder) referenceMonths(allocations []budget.Allocation, windowStart budget.Month) map[budget.ProjectID]budget.Month {
	refs := make(map[budget.ProjectID]budget.Month)
	for id, p := range b.projects {
		switch {
		case !windowStart.IsZero():
			refs[id] = windowStart
		case !p.StartMonth.IsZero():
			refs[id] = p.StartMonth
		}
	}
	if !windowStart.IsZero() {
		return refs
	}

	// Projects without a start month count from their earliest allocation.
	earliest := make(map[budget.ProjectID]budget.Month)
	for _, a := range allocations {
		if _, fixed := refs[a.ProjectID]; fixed || isIndex(a.Month) {
			continue
		}
		m, err := budget.ParseMonth(a.Month)
		if err != nil {
			continue
		}
		if cur, ok := earliest[a.ProjectID]; !ok || m.Before(cur) {
			earliest[a.ProjectID] = m
		}
	}
	for id, m := range earliest {
		refs[id] = m
	}
	return refs
}

// resolveMonth turns "3" or "2024-03" into a 1-based offset.
func resolveMonth(s string, ref budget.Month) (int, error) {
	s = strings.TrimSpace(s)
	if isIndex(s) {
		return strconv.Atoi(s)
	}
	m, err := budget.ParseMonth(s)
	if err != nil {
		return 0, err
	}
	if ref.IsZero() {
		ref = m
	}
	return m.Offset(ref), nil
}

func isIndex(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// SOURCE 3: BASELINE LINE ITEMS
// =============================================================================

func (b *builder) addLineItems(items []budget.LineItem) {
	for _, item := range items {
		if !b.knownProject(item.ProjectID) {
			b.issue(Issue{Kind: IssueUnknownProject, Source: OriginBaseline, ProjectID: item.ProjectID, Ref: item.ID})
			continue
		}
		if item.CanonicalKey() == "" {
			b.issue(Issue{Kind: IssueMissingLineItemID, Source: OriginBaseline, ProjectID: item.ProjectID})
			continue
		}
		// Repeats of a rubro within the baseline add up; rows owned by a
		// forecast or an allocation are left alone.
		r, exists := b.row(item.ProjectID, item.ID)
		if exists && r.Source != OriginBaseline {
			continue
		}

		for _, mv := range item.MonthlyPlan() {
			if !b.inWindow(mv.Index) {
				continue
			}
			if r == nil {
				r = b.newRow(item.ProjectID, item.ID, OriginBaseline)
				r.CostType = item.Category
				if item.Metadata.CanonicalCode != "" {
					r.RubroID = item.Metadata.CanonicalCode
				}
			}
			c := &r.Cells[mv.Index-1]
			c.Planned = c.Planned.Add(budget.RoundCents(mv.Amount))
			c.hasPlanned = true
		}
	}
}

// =============================================================================
// SOURCE 4: ACTUALS
// =============================================================================

func (b *builder) addActual(a budget.ActualRecord) {
	month := strconv.Itoa(a.Month)
	if !b.knownProject(a.ProjectID) {
		b.issue(Issue{Kind: IssueUnknownProject, Source: OriginActual, ProjectID: a.ProjectID, Ref: a.LineItemID, Month: month})
		return
	}

	r, ok := b.row(a.ProjectID, a.LineItemID)
	if !ok {
		b.issue(Issue{Kind: IssueUnmatchedActual, Source: OriginActual, ProjectID: a.ProjectID, Ref: a.LineItemID, Month: month})
		return
	}
	if !a.Reconciled() {
		b.issue(Issue{Kind: IssueUnreconciledActual, Source: OriginActual, ProjectID: a.ProjectID, Ref: a.LineItemID,
			Month: month, Detail: string(a.Status)})
		return
	}
	if !b.inWindow(a.Month) {
		b.issue(Issue{Kind: IssueOutOfWindow, Source: OriginActual, ProjectID: a.ProjectID, Ref: a.LineItemID, Month: month})
		return
	}

	ck := cellKey{row: rowKey{project: r.ProjectID, key: r.CanonicalKey}, month: a.Month}
	c := &r.Cells[a.Month-1]
	amount := budget.RoundCents(a.Amount)
	if b.actuals[ck] {
		c.Actual = c.Actual.Add(amount)
	} else {
		c.Actual = amount
		b.actuals[ck] = true
	}
	c.hasActual = true
}

// =============================================================================
// TOTALS
// =============================================================================

// computeTotals walks every row once. Missing cells count as zero.
func computeTotals(rows []Row, months int) Totals {
	byMonth := make([]MonthTotals, months)
	for i := range byMonth {
		byMonth[i] = MonthTotals{Planned: decimal.Zero, Forecast: decimal.Zero, Actual: decimal.Zero}
	}

	for _, r := range rows {
		for m := 0; m < months && m < len(r.Cells); m++ {
			byMonth[m] = byMonth[m].add(r.Cells[m])
		}
	}

	overall := MonthTotals{Planned: decimal.Zero, Forecast: decimal.Zero, Actual: decimal.Zero}
	for _, t := range byMonth {
		overall = MonthTotals{
			Planned:  overall.Planned.Add(t.Planned),
			Forecast: overall.Forecast.Add(t.Forecast),
			Actual:   overall.Actual.Add(t.Actual),
		}
	}
	return Totals{ByMonth: byMonth, Overall: overall}
}
