/*
store.go - Read contracts between the engine and its surrounding service

PURPOSE:
  The engine never talks to a database. The service fetches raw records
  through these narrow interfaces and hands fully materialized slices to
  the pure engine functions. Pagination is the implementation's problem:
  every List method returns the complete set for the project.

KEY INTERFACES:
  ProjectStore:    project reference + metadata (active baseline)
  LineItemStore:   every stored line item of a project, all baselines
  ForecastStore:   forecast cells
  AllocationStore: monthly allocations
  ActualStore:     invoice / payroll actuals
  AdjustmentStore: stored adjustments and their distributions
  Source:          all of the above

NOT FOUND:
  GetProject and GetProjectMetadata return (nil, nil) when the record does
  not exist. Absence is a legitimate state, not an error.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - budget/store/memory.go: In-memory for testing

SEE ALSO:
  - baseline/registry.go: reads ProjectStore
  - portfolio/service.go: reads Source in a fixed order
*/
package budget

import "context"

type ProjectStore interface {
	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	GetProjectMetadata(ctx context.Context, id ProjectID) (*ProjectMetadata, error)
}

type LineItemStore interface {
	ListLineItems(ctx context.Context, projectID ProjectID) ([]LineItem, error)
}

type ForecastStore interface {
	ListForecastCells(ctx context.Context, projectID ProjectID) ([]ForecastCell, error)
}

type AllocationStore interface {
	ListAllocations(ctx context.Context, projectID ProjectID) ([]Allocation, error)
}

type ActualStore interface {
	ListActuals(ctx context.Context, projectID ProjectID) ([]ActualRecord, error)
}

type AdjustmentStore interface {
	ListAdjustments(ctx context.Context, projectID ProjectID) ([]Adjustment, error)
}

// Source is everything a matrix build reads.
type Source interface {
	ProjectStore
	LineItemStore
	ForecastStore
	AllocationStore
	ActualStore
	AdjustmentStore
}
