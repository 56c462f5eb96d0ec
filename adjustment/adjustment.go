package adjustment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// CREATION
// =============================================================================

// Request is what a user submits. Amount is always entered positive; the
// adjustment type decides the sign.
type Request struct {
	ProjectID      budget.ProjectID
	Type           budget.AdjustmentType
	Amount         decimal.Decimal
	StartPeriod    budget.Month
	Method         budget.DistributionMethod
	MonthsImpacted int
	RubroID        string
	TargetRubroID  string
	Reason         string
	CreatedBy      string
}

// New validates req and computes its distribution. now stamps CreatedAt.
//
// Sign rules:
//   - excess:        +amount on RubroID
//   - deficit:       -amount on RubroID
//   - reallocation:  distribution is +amount; ToAllocations moves it from
//     RubroID to TargetRubroID
func New(req Request, now time.Time) (budget.Adjustment, error) {
	const op = "adjustment.New"

	if strings.TrimSpace(string(req.ProjectID)) == "" {
		return budget.Adjustment{}, budget.InvalidArgument(op, "projectId", "empty")
	}
	if !req.Type.Valid() {
		return budget.Adjustment{}, budget.InvalidArgument(op, "type", "unknown adjustment type "+string(req.Type))
	}
	if !req.Amount.IsPositive() {
		return budget.Adjustment{}, budget.InvalidArgument(op, "amount", "must be positive")
	}
	if !budget.IsCents(req.Amount) {
		return budget.Adjustment{}, budget.InvalidArgument(op, "amount", "more than 2 decimal places")
	}
	if req.Type == budget.AdjustmentReallocation {
		if budget.CanonicalKey(req.RubroID) == "" || budget.CanonicalKey(req.TargetRubroID) == "" {
			return budget.Adjustment{}, budget.InvalidArgument(op, "targetRubroId", "reallocation needs a source and a target rubro")
		}
		if budget.CanonicalKey(req.RubroID) == budget.CanonicalKey(req.TargetRubroID) {
			return budget.Adjustment{}, budget.InvalidArgument(op, "targetRubroId", "source and target are the same rubro")
		}
	}

	months := req.MonthsImpacted
	if req.Method == budget.MethodSingleMonth {
		months = 1
	}

	amount := req.Amount
	signed := amount
	if req.Type == budget.AdjustmentDeficit {
		signed = amount.Neg()
	}

	dist, err := Plan(req.Method, signed, req.StartPeriod, months)
	if err != nil {
		return budget.Adjustment{}, err
	}

	return budget.Adjustment{
		ID:             budget.AdjustmentID(uuid.NewString()),
		ProjectID:      req.ProjectID,
		Type:           req.Type,
		Amount:         signed,
		StartPeriod:    req.StartPeriod,
		Method:         req.Method,
		MonthsImpacted: months,
		Distribution:   dist,
		RubroID:        strings.TrimSpace(req.RubroID),
		TargetRubroID:  strings.TrimSpace(req.TargetRubroID),
		Reason:         req.Reason,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now.UTC(),
	}, nil
}

// =============================================================================
// MATRIX INGESTION
// =============================================================================

// ToAllocations turns a stored distribution into allocation records so the
// matrix builder can ingest it like any other planned source. Adjustments
// without a rubro are project-level and produce nothing.
func ToAllocations(adj budget.Adjustment) []budget.Allocation {
	if budget.CanonicalKey(adj.RubroID) == "" {
		return nil
	}

	out := make([]budget.Allocation, 0, len(adj.Distribution)*2)
	for _, e := range adj.Distribution {
		if adj.Type == budget.AdjustmentReallocation {
			out = append(out,
				allocation(adj, adj.RubroID, e.Month, e.Amount.Neg()),
				allocation(adj, adj.TargetRubroID, e.Month, e.Amount),
			)
			continue
		}
		out = append(out, allocation(adj, adj.RubroID, e.Month, e.Amount))
	}
	return out
}

func allocation(adj budget.Adjustment, rubro string, month budget.Month, amount decimal.Decimal) budget.Allocation {
	return budget.Allocation{
		ProjectID:    adj.ProjectID,
		RubroID:      rubro,
		Month:        month.String(),
		Amount:       amount,
		Source:       budget.AllocationAdjustment,
		AdjustmentID: adj.ID,
	}
}

// ToAllocationsAll flattens several adjustments.
func ToAllocationsAll(adjustments []budget.Adjustment) []budget.Allocation {
	var out []budget.Allocation
	for _, adj := range adjustments {
		out = append(out, ToAllocations(adj)...)
	}
	return out
}
