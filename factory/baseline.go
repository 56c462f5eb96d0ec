/*
Package factory turns baseline documents into line items and forecasts.

PURPOSE:
  A baseline is handed off from the estimator as a document: labor and
  non-labor estimates for a project. The factory materializes it into
  budget.LineItems, each tagged with the baseline it came from and given a
  storage key that is unique within the project, and can spread those items
  into forecast cells.

DOCUMENT SCHEMA (JSON or YAML):
  {
    "baseline_id": "BL-2025-001",
    "project_id": "P-100",
    "currency": "USD",
    "start_month": "2025-01",
    "duration_months": 12,
    "created_by": "pmo@example.com",
    "labor_estimates": [
      {"rubro_id": "MOD-ING", "role": "Engineer", "fte_count": 2,
       "monthly_rate": 8000, "start_month": 1, "end_month": 12}
    ],
    "non_labor_estimates": [
      {"rubro_id": "GSV-INFRA", "category": "infrastructure",
       "amount": 1500, "recurring": true, "start_month": 1, "end_month": 12},
      {"rubro_id": "GSV-LIC", "category": "licenses", "amount": 12000}
    ]
  }

MATERIALIZATION RULES:
  - labor: quantity = fte_count, unit cost = monthly_rate, recurring over
    start..end (defaults 1..duration_months)
  - non-labor: unit cost = amount per month when recurring, else the whole
    amount in start_month
  - every item carries metadata.baselineId and metadata.canonicalCode
  - storage key = <rubro>#<baseline>#<ordinal>, ordinal counting repeats of
    the same rubro (case-insensitive) within the document

USAGE:
  f := factory.NewBaselineFactory()
  doc, err := f.Parse(data, factory.FormatYAML)
  bl, items, err := f.Materialize(doc, time.Now())
  cells := factory.GenerateForecast(items, time.Now(), "system")

SEE ALSO:
  - budget/canonical.go: StorageKey
  - budget/types.go: LineItem.MonthlyPlan
  - validate.go: storage key uniqueness and baseline linkage
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// BaselineDocument is the handed-off estimate.
type BaselineDocument struct {
	BaselineID     string         `json:"baseline_id" yaml:"baseline_id"`
	ProjectID      string         `json:"project_id" yaml:"project_id"`
	Currency       string         `json:"currency,omitempty" yaml:"currency,omitempty"`
	StartMonth     budget.Month   `json:"start_month,omitempty" yaml:"start_month,omitempty"`
	DurationMonths int            `json:"duration_months" yaml:"duration_months"`
	CreatedBy      string         `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Labor          []LaborJSON    `json:"labor_estimates,omitempty" yaml:"labor_estimates,omitempty"`
	NonLabor       []NonLaborJSON `json:"non_labor_estimates,omitempty" yaml:"non_labor_estimates,omitempty"`
}

// LaborJSON is one staffing estimate.
type LaborJSON struct {
	RubroID     string          `json:"rubro_id" yaml:"rubro_id"`
	Role        string          `json:"role,omitempty" yaml:"role,omitempty"`
	FTECount    decimal.Decimal `json:"fte_count" yaml:"fte_count"`
	MonthlyRate decimal.Decimal `json:"monthly_rate" yaml:"monthly_rate"`
	StartMonth  int             `json:"start_month,omitempty" yaml:"start_month,omitempty"`
	EndMonth    int             `json:"end_month,omitempty" yaml:"end_month,omitempty"`
}

// NonLaborJSON is one non-staffing estimate (infrastructure, licenses...).
type NonLaborJSON struct {
	RubroID     string          `json:"rubro_id" yaml:"rubro_id"`
	Category    string          `json:"category,omitempty" yaml:"category,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount" yaml:"amount"`
	Recurring   bool            `json:"recurring,omitempty" yaml:"recurring,omitempty"`
	StartMonth  int             `json:"start_month,omitempty" yaml:"start_month,omitempty"`
	EndMonth    int             `json:"end_month,omitempty" yaml:"end_month,omitempty"`
}

// Format of a baseline document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const laborCategory = "labor"

// =============================================================================
// BASELINE FACTORY
// =============================================================================

// BaselineFactory converts baseline documents to line items.
type BaselineFactory struct{}

func NewBaselineFactory() *BaselineFactory {
	return &BaselineFactory{}
}

// Parse decodes a document in the given format. An empty format sniffs JSON
// by its leading brace and falls back to YAML.
func (f *BaselineFactory) Parse(data []byte, format Format) (BaselineDocument, error) {
	if format == "" {
		format = FormatYAML
		if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "{") {
			format = FormatJSON
		}
	}

	var doc BaselineDocument
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return BaselineDocument{}, fmt.Errorf("failed to parse baseline JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return BaselineDocument{}, fmt.Errorf("failed to parse baseline YAML: %w", err)
		}
	default:
		return BaselineDocument{}, budget.InvalidArgument("factory.Parse", "format", "unsupported format "+string(format))
	}
	return doc, nil
}

// Materialize validates doc and builds the baseline record and its line
// items. A missing baseline id gets a generated one.
func (f *BaselineFactory) Materialize(doc BaselineDocument, now time.Time) (budget.Baseline, []budget.LineItem, error) {
	const op = "factory.Materialize"

	projectID := budget.ProjectID(strings.TrimSpace(doc.ProjectID))
	if projectID == "" {
		return budget.Baseline{}, nil, budget.InvalidArgument(op, "project_id", "empty")
	}
	if len(doc.Labor) == 0 && len(doc.NonLabor) == 0 {
		return budget.Baseline{}, nil, budget.InvalidArgument(op, "estimates", "baseline has no estimates")
	}

	baselineID := budget.BaselineID(strings.TrimSpace(doc.BaselineID))
	if baselineID == "" {
		baselineID = budget.BaselineID("BL-" + uuid.NewString())
	}

	duration := doc.DurationMonths
	if duration < 1 {
		duration = 12
	}

	ordinals := make(map[string]int)
	nextKey := func(rubro string) string {
		key := budget.CanonicalKey(rubro)
		ordinals[key]++
		return budget.StorageKey(rubro, baselineID, ordinals[key])
	}

	items := make([]budget.LineItem, 0, len(doc.Labor)+len(doc.NonLabor))

	for i, l := range doc.Labor {
		rubro := strings.TrimSpace(l.RubroID)
		if rubro == "" {
			return budget.Baseline{}, nil, budget.InvalidArgument(op, fmt.Sprintf("labor_estimates[%d].rubro_id", i), "empty")
		}
		start, end, err := monthRange(l.StartMonth, l.EndMonth, duration)
		if err != nil {
			return budget.Baseline{}, nil, fmt.Errorf("labor_estimates[%d]: %w", i, err)
		}
		item := budget.LineItem{
			ID:         rubro,
			ProjectID:  projectID,
			Name:       firstNonEmpty(l.Role, rubro),
			Category:   laborCategory,
			Quantity:   l.FTECount,
			UnitCost:   l.MonthlyRate,
			Recurring:  true,
			StartMonth: start,
			EndMonth:   end,
			Metadata:   budget.LineItemMetadata{BaselineID: baselineID, CanonicalCode: rubro},
			StorageKey: nextKey(rubro),
		}
		item.TotalCost = item.EffectiveTotal()
		items = append(items, item)
	}

	for i, n := range doc.NonLabor {
		rubro := strings.TrimSpace(n.RubroID)
		if rubro == "" {
			return budget.Baseline{}, nil, budget.InvalidArgument(op, fmt.Sprintf("non_labor_estimates[%d].rubro_id", i), "empty")
		}
		start, end, err := monthRange(n.StartMonth, n.EndMonth, duration)
		if err != nil {
			return budget.Baseline{}, nil, fmt.Errorf("non_labor_estimates[%d]: %w", i, err)
		}
		if !n.Recurring {
			end = start
		}
		item := budget.LineItem{
			ID:         rubro,
			ProjectID:  projectID,
			Name:       firstNonEmpty(n.Description, rubro),
			Category:   firstNonEmpty(n.Category, "non_labor"),
			Quantity:   decimal.NewFromInt(1),
			UnitCost:   n.Amount,
			Recurring:  n.Recurring,
			StartMonth: start,
			EndMonth:   end,
			Metadata:   budget.LineItemMetadata{BaselineID: baselineID, CanonicalCode: rubro},
			StorageKey: nextKey(rubro),
		}
		item.TotalCost = item.EffectiveTotal()
		items = append(items, item)
	}

	bl := budget.Baseline{
		ID:        baselineID,
		ProjectID: projectID,
		Status:    budget.BaselineHandedOff,
		CreatedAt: now.UTC(),
		CreatedBy: doc.CreatedBy,
	}

	if err := ValidateStorageKeys(projectID, baselineID, items); err != nil {
		return budget.Baseline{}, nil, err
	}
	return bl, items, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// monthRange fills in defaults (1..duration) and checks the range.
func monthRange(start, end, duration int) (int, int, error) {
	if start == 0 {
		start = 1
	}
	if end == 0 {
		end = duration
	}
	if start < 1 || end < start {
		return 0, 0, budget.InvalidArgument("factory.Materialize", "months", fmt.Sprintf("bad range %d..%d", start, end))
	}
	return start, end, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
