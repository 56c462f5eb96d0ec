package portfolio

import (
	"context"
	"fmt"

	"github.com/warp/budget-engine/baseline"
	"github.com/warp/budget-engine/budget"
)

// Snapshot is everything read for one project in one pass. LineItems holds
// every stored item, all baselines; filtering happens later.
type Snapshot struct {
	Project     budget.Project
	Baseline    baseline.ActiveBaseline
	LineItems   []budget.LineItem
	Forecast    []budget.ForecastCell
	Allocations []budget.Allocation
	Actuals     []budget.ActualRecord
	Adjustments []budget.Adjustment
}

// LoadSnapshot reads one project in a fixed order: the active baseline id
// first, then line items, forecast cells, allocations, actuals and
// adjustments. A project that does not exist is ErrProjectNotFound.
func LoadSnapshot(ctx context.Context, src budget.Source, registry *baseline.Registry, projectID budget.ProjectID) (Snapshot, error) {
	project, err := src.GetProject(ctx, projectID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load project %s: %w", projectID, err)
	}
	if project == nil {
		return Snapshot{}, fmt.Errorf("project %s: %w", projectID, budget.ErrProjectNotFound)
	}

	snap := Snapshot{Project: *project}

	if snap.Baseline, err = registry.ActiveBaseline(ctx, projectID); err != nil {
		return Snapshot{}, err
	}

	steps := []struct {
		name string
		load func() error
	}{
		{"line items", func() (err error) { snap.LineItems, err = src.ListLineItems(ctx, projectID); return }},
		{"forecast cells", func() (err error) { snap.Forecast, err = src.ListForecastCells(ctx, projectID); return }},
		{"allocations", func() (err error) { snap.Allocations, err = src.ListAllocations(ctx, projectID); return }},
		{"actuals", func() (err error) { snap.Actuals, err = src.ListActuals(ctx, projectID); return }},
		{"adjustments", func() (err error) { snap.Adjustments, err = src.ListAdjustments(ctx, projectID); return }},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		if err := step.load(); err != nil {
			return Snapshot{}, fmt.Errorf("load %s for %s: %w", step.name, projectID, err)
		}
	}

	return snap, nil
}

// ScopedLineItems applies the baseline filter to the snapshot's items.
func (s Snapshot) ScopedLineItems(policy baseline.FilterPolicy) []budget.LineItem {
	return baseline.Filter(s.LineItems, s.Baseline.ID, policy)
}

// ScopedForecast drops forecast cells of superseded baselines.
func (s Snapshot) ScopedForecast() []budget.ForecastCell {
	return baseline.FilterForecast(s.Forecast, s.Baseline.ID)
}
