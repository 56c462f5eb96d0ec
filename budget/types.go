/*
Package budget provides the shared data model of the reconciliation engine.

PURPOSE:
  This package contains the types every other package speaks: projects,
  baselines, budget line items ("rubros"), forecast cells, allocations,
  actuals and adjustments, plus the small numeric and key-normalization
  helpers the engine relies on for exact results.

KEY CONCEPTS IN THIS FILE (types.go):
  - Baseline: a committed version of a project's budget; exactly one is active
  - LineItem: one row of the budget catalog, tagged with the baseline it
    was materialized from (or Legacy when it predates baseline tagging)
  - ForecastCell / Allocation / ActualRecord: the three independent sources
    merged by the matrix builder
  - Adjustment: a lump-sum excess/deficit/reallocation and its distribution

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. No baseline leakage: the baseline tag is a closed variant (Tagged|Legacy)
  3. Read-only: the engine never mutates the records it is given
  4. Type Safety: distinct ID types for projects, baselines and line items

USAGE:
  item := budget.LineItem{
      ID:        "LABOR_001",
      ProjectID: "P-100",
      TotalCost: decimal.NewFromInt(12000),
      Recurring: true,
      StartMonth: 1, EndMonth: 12,
      Metadata:  budget.LineItemMetadata{BaselineID: "BL-1"},
  }
  switch tag := item.Tag().(type) {
  case budget.Tagged:
      fmt.Println("belongs to", tag.BaselineID)
  case budget.Legacy:
      fmt.Println("untagged legacy item")
  }

SEE ALSO:
  - money.go: cent rounding and exact splitting
  - month.go: YYYY-MM month labels
  - canonical.go: canonical keys and storage keys
  - store.go: read contracts consumed by the engine
*/
package budget

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type BaselineID string
type AdjustmentID string

// =============================================================================
// PROJECT & BASELINE
// =============================================================================

// Project is a read-only reference for the engine; only the id and display
// fields are ever used.
type Project struct {
	ID             ProjectID
	Code           string
	Name           string
	Client         string
	Currency       string
	StartMonth     Month // zero when unknown
	DurationMonths int
}

type BaselineStatus string

const (
	BaselinePending   BaselineStatus = "pending"
	BaselineHandedOff BaselineStatus = "handed_off"
	BaselineAccepted  BaselineStatus = "accepted"
	BaselineRejected  BaselineStatus = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s BaselineStatus) Valid() bool {
	switch s {
	case BaselinePending, BaselineHandedOff, BaselineAccepted, BaselineRejected:
		return true
	}
	return false
}

type Baseline struct {
	ID        BaselineID
	ProjectID ProjectID
	Status    BaselineStatus
	CreatedAt time.Time
	CreatedBy string
}

// ProjectMetadata is the single record the baseline registry reads to find
// the active baseline of a project.
type ProjectMetadata struct {
	ProjectID        ProjectID
	ActiveBaselineID BaselineID
	BaselineStatus   BaselineStatus
}

// =============================================================================
// LINE ITEM - one rubro of the budget catalog
// =============================================================================

// BaselineTag says which baseline a line item belongs to. It is a closed set:
// Tagged or Legacy.
type BaselineTag interface {
	isBaselineTag()
}

// Tagged marks an item materialized from a specific baseline.
type Tagged struct {
	BaselineID BaselineID
}

// Legacy marks an item created before baseline tagging existed.
type Legacy struct{}

func (Tagged) isBaselineTag() {}
func (Legacy) isBaselineTag() {}

type LineItemMetadata struct {
	BaselineID    BaselineID
	CanonicalCode string
}

type LineItem struct {
	ID         string // canonical category code, e.g. "LABOR_001"
	ProjectID  ProjectID
	Name       string
	Category   string
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	TotalCost  decimal.Decimal
	Recurring  bool
	StartMonth int // 1-based, inclusive
	EndMonth   int // 1-based, inclusive
	Metadata   LineItemMetadata

	// LegacyBaselineID is the top-level baselineId field older records carry.
	LegacyBaselineID BaselineID

	// StorageKey is unique per project: <rubro>#<baseline>#<ordinal>.
	StorageKey string
}

// Tag resolves the baseline variant of the item. The metadata block wins over
// the legacy top-level field.
func (li LineItem) Tag() BaselineTag {
	if id := BaselineID(strings.TrimSpace(string(li.Metadata.BaselineID))); id != "" {
		return Tagged{BaselineID: id}
	}
	if id := BaselineID(strings.TrimSpace(string(li.LegacyBaselineID))); id != "" {
		return Tagged{BaselineID: id}
	}
	return Legacy{}
}

// CanonicalKey is the dedup key of the item's rubro id.
func (li LineItem) CanonicalKey() string {
	return CanonicalKey(li.ID)
}

// ActiveMonths returns how many months the item spans. Items without a valid
// range count as a single month.
func (li LineItem) ActiveMonths() int {
	start := li.StartMonth
	if start < 1 {
		start = 1
	}
	if !li.Recurring || li.EndMonth < start {
		return 1
	}
	return li.EndMonth - start + 1
}

// EffectiveTotal is TotalCost, or Quantity x UnitCost (x months when
// recurring) when no total was stored.
func (li LineItem) EffectiveTotal() decimal.Decimal {
	if !li.TotalCost.IsZero() {
		return li.TotalCost
	}
	total := li.Quantity.Mul(li.UnitCost)
	if li.Recurring {
		total = total.Mul(decimal.NewFromInt(int64(li.ActiveMonths())))
	}
	return RoundCents(total)
}

// MonthValue is an amount at a 1-based month offset.
type MonthValue struct {
	Index  int
	Amount decimal.Decimal
}

// MonthlyPlan spreads the item over its active months. Recurring items are
// split evenly with the remainder in the last month; anything else lands
// entirely in the start month.
func (li LineItem) MonthlyPlan() []MonthValue {
	start := li.StartMonth
	if start < 1 {
		start = 1
	}
	total := li.EffectiveTotal()
	if !li.Recurring {
		return []MonthValue{{Index: start, Amount: total}}
	}

	parts := SplitEvenly(total, li.ActiveMonths())
	plan := make([]MonthValue, len(parts))
	for i, amount := range parts {
		plan[i] = MonthValue{Index: start + i, Amount: amount}
	}
	return plan
}

// =============================================================================
// FORECAST CELLS
// =============================================================================

type ForecastCell struct {
	LineItemID  string
	// BaselineID is the baseline the cell was generated from. Manually
	// entered cells leave it empty.
	BaselineID  BaselineID
	RubroID     string
	CostType    string
	Month       int // 1-based
	Planned     decimal.Decimal
	Forecast    decimal.Decimal
	Actual      decimal.Decimal
	Variance    decimal.Decimal
	LastUpdated time.Time
	UpdatedBy   string
}

// ForecastPayload is the forecast series of one project.
type ForecastPayload struct {
	ProjectID ProjectID
	Cells     []ForecastCell
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

type AllocationSource string

const (
	AllocationSystem     AllocationSource = "system"
	AllocationManual     AllocationSource = "manual"
	AllocationAdjustment AllocationSource = "adjustment"
)

// Allocation is a planned amount for one rubro in one month. Month is either
// "YYYY-MM" or a 1-based numeric index.
type Allocation struct {
	ProjectID    ProjectID
	RubroID      string
	RubroType    string
	Month        string
	Amount       decimal.Decimal
	Source       AllocationSource
	AdjustmentID AdjustmentID
}

// =============================================================================
// ACTUALS
// =============================================================================

type ActualSource string

const (
	ActualInvoice ActualSource = "invoice"
	ActualPayroll ActualSource = "payroll"
)

type ActualStatus string

const (
	StatusMatched   ActualStatus = "Matched"
	StatusPending   ActualStatus = "Pending"
	StatusDisputed  ActualStatus = "Disputed"
	StatusUnmatched ActualStatus = "Unmatched"
	StatusPosted    ActualStatus = "Posted"
)

type ActualRecord struct {
	ID         string
	ProjectID  ProjectID
	LineItemID string
	Month      int // 1-based
	Amount     decimal.Decimal
	Status     ActualStatus
	Currency   string
	Source     ActualSource
}

// Reconciled reports whether the record may feed the actual column. Invoices
// must be Matched; payroll actuals are reconciled unless flagged otherwise.
func (a ActualRecord) Reconciled() bool {
	status := strings.ToLower(strings.TrimSpace(string(a.Status)))
	if a.Source == ActualPayroll {
		return status == "" || status == "posted" || status == "matched"
	}
	return status == "matched"
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentType string

const (
	AdjustmentExcess       AdjustmentType = "excess"
	AdjustmentDeficit      AdjustmentType = "deficit"
	AdjustmentReallocation AdjustmentType = "reallocation"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentExcess, AdjustmentDeficit, AdjustmentReallocation:
		return true
	}
	return false
}

type DistributionMethod string

const (
	MethodSingleMonth    DistributionMethod = "single_month"
	MethodProRataForward DistributionMethod = "pro_rata_forward"
)

// MonthAmount is one entry of an adjustment distribution.
type MonthAmount struct {
	Month  Month           `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// Adjustment is immutable once created; the distribution is computed at
// creation time.
type Adjustment struct {
	ID             AdjustmentID
	ProjectID      ProjectID
	Type           AdjustmentType
	Amount         decimal.Decimal
	StartPeriod    Month
	Method         DistributionMethod
	MonthsImpacted int
	Distribution   []MonthAmount

	RubroID       string
	TargetRubroID string // reallocation only
	Reason        string
	CreatedBy     string
	CreatedAt     time.Time
}

// Total sums the distribution.
func (a Adjustment) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range a.Distribution {
		total = total.Add(e.Amount)
	}
	return total
}
