/*
Package portfolio is the service layer around the pure engine packages.

PURPOSE:
  The engine (baseline, matrix, adjustment) never touches storage. This
  package does the reading: it loads one consistent snapshot per project,
  scopes line items to the active baseline, turns stored adjustments into
  allocations, and hands everything to matrix.Build and matrix.DeriveKPIs.

READ ORDER (per project):
  project -> active baseline -> line items -> forecast -> allocations
  -> actuals -> adjustments

CONCURRENCY:
  Projects are loaded in parallel, one goroutine each. The first failure
  cancels the others and is the error returned.

LOGGING:
  Matrix issues are logged at warn level through the zerolog logger carried
  by the context (see api/middleware.go). Issues never fail a request.

SEE ALSO:
  - snapshot.go: LoadSnapshot
  - matrix/builder.go: Build
*/
package portfolio

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/warp/budget-engine/adjustment"
	"github.com/warp/budget-engine/baseline"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/matrix"
)

// Store is the read side the service needs.
type Store interface {
	budget.Source
	ListProjects(ctx context.Context) ([]budget.Project, error)
}

type Options struct {
	// Policy applied when no line item matches the active baseline.
	Policy baseline.FilterPolicy
	// DefaultMonths is used when a request leaves MonthsToShow at zero.
	DefaultMonths int
}

type Service struct {
	store    Store
	registry *baseline.Registry
	opts     Options
}

func NewService(store Store, opts Options) *Service {
	if opts.Policy == "" {
		opts.Policy = baseline.DefaultPolicy
	}
	if opts.DefaultMonths <= 0 {
		opts.DefaultMonths = 12
	}
	return &Service{
		store:    store,
		registry: baseline.NewRegistry(store),
		opts:     opts,
	}
}

// Registry exposes the baseline registry the service reads through.
func (s *Service) Registry() *baseline.Registry { return s.registry }

// Policy is the configured filter policy.
func (s *Service) Policy() baseline.FilterPolicy { return s.opts.Policy }

// =============================================================================
// SNAPSHOTS
// =============================================================================

// LoadSnapshots loads the given projects in parallel. An empty list means
// every stored project. Results keep the order of ids.
func (s *Service) LoadSnapshots(ctx context.Context, ids []budget.ProjectID) ([]Snapshot, error) {
	if len(ids) == 0 {
		projects, err := s.store.ListProjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		for _, p := range projects {
			ids = append(ids, p.ID)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	snaps := make([]Snapshot, len(ids))

	for i, id := range ids {
		wg.Add(1)
		go func(i int, id budget.ProjectID) {
			defer wg.Done()
			snap, err := LoadSnapshot(ctx, s.store, s.registry, id)
			if err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
				return
			}
			snaps[i] = snap
		}(i, id)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return snaps, nil
}

// =============================================================================
// MATRIX
// =============================================================================

type MatrixRequest struct {
	ProjectIDs   []budget.ProjectID // empty: all projects
	MonthsToShow int
	WindowStart  budget.Month
	Policy       baseline.FilterPolicy // empty: service default
}

// MatrixView is a built matrix plus the KPIs of its window and the baseline
// each project was scoped to.
type MatrixView struct {
	matrix.Result
	MonthsToShow int
	KPIs         matrix.KPIs
	Baselines    map[budget.ProjectID]baseline.ActiveBaseline
}

// Matrix loads the requested projects and builds the canonical matrix.
func (s *Service) Matrix(ctx context.Context, req MatrixRequest) (MatrixView, error) {
	months := req.MonthsToShow
	if months == 0 {
		months = s.opts.DefaultMonths
	}
	if months < 0 || months > matrix.MaxMonthsToShow {
		return MatrixView{}, budget.InvalidArgument("portfolio.Matrix", "MonthsToShow",
			fmt.Sprintf("must be between 1 and %d", matrix.MaxMonthsToShow))
	}
	policy := req.Policy
	if policy == "" {
		policy = s.opts.Policy
	}

	snaps, err := s.LoadSnapshots(ctx, req.ProjectIDs)
	if err != nil {
		return MatrixView{}, err
	}

	in := Assemble(snaps, policy)
	in.MonthsToShow = months
	in.WindowStart = req.WindowStart

	res, err := matrix.Build(in)
	if err != nil {
		return MatrixView{}, err
	}
	logIssues(ctx, res.Issues)

	view := MatrixView{
		Result:       res,
		MonthsToShow: months,
		KPIs:         matrix.DeriveKPIs(res.Rows, months),
		Baselines:    make(map[budget.ProjectID]baseline.ActiveBaseline, len(snaps)),
	}
	for _, snap := range snaps {
		view.Baselines[snap.Project.ID] = snap.Baseline
	}
	return view, nil
}

// ProjectKPIs builds one project's matrix and derives its KPIs.
func (s *Service) ProjectKPIs(ctx context.Context, projectID budget.ProjectID, months int) (matrix.KPIs, error) {
	if projectID == "" {
		return matrix.KPIs{}, budget.InvalidArgument("portfolio.ProjectKPIs", "projectID", "empty")
	}
	view, err := s.Matrix(ctx, MatrixRequest{ProjectIDs: []budget.ProjectID{projectID}, MonthsToShow: months})
	if err != nil {
		return matrix.KPIs{}, err
	}
	return view.KPIs, nil
}

// LineItems returns a project's catalog scoped to its active baseline.
func (s *Service) LineItems(ctx context.Context, projectID budget.ProjectID, policy baseline.FilterPolicy) ([]budget.LineItem, baseline.ActiveBaseline, error) {
	if policy == "" {
		policy = s.opts.Policy
	}
	active, err := s.registry.ActiveBaseline(ctx, projectID)
	if err != nil {
		return nil, baseline.ActiveBaseline{}, err
	}
	items, err := s.store.ListLineItems(ctx, projectID)
	if err != nil {
		return nil, baseline.ActiveBaseline{}, fmt.Errorf("load line items for %s: %w", projectID, err)
	}
	return baseline.Filter(items, active.ID, policy), active, nil
}

// Assemble turns snapshots into builder input. Line items and forecast cells
// are scoped to each project's active baseline and stored adjustments join
// the allocations.
func Assemble(snaps []Snapshot, policy baseline.FilterPolicy) matrix.Input {
	var in matrix.Input
	for _, snap := range snaps {
		in.Projects = append(in.Projects, snap.Project)
		if forecast := snap.ScopedForecast(); len(forecast) > 0 {
			in.ForecastPayloads = append(in.ForecastPayloads, budget.ForecastPayload{
				ProjectID: snap.Project.ID,
				Cells:     forecast,
			})
		}
		in.Allocations = append(in.Allocations, snap.Allocations...)
		in.Allocations = append(in.Allocations, adjustment.ToAllocationsAll(snap.Adjustments)...)
		in.Actuals = append(in.Actuals, snap.Actuals...)

		for _, item := range snap.ScopedLineItems(policy) {
			item.ProjectID = snap.Project.ID
			in.LineItems = append(in.LineItems, item)
		}
	}
	return in
}

func logIssues(ctx context.Context, issues []matrix.Issue) {
	if len(issues) == 0 {
		return
	}
	logger := zerolog.Ctx(ctx)
	for _, issue := range issues {
		logger.Warn().
			Str("project_id", string(issue.ProjectID)).
			Str("kind", string(issue.Kind)).
			Str("source", string(issue.Source)).
			Str("ref", issue.Ref).
			Str("month", issue.Month).
			Msg("matrix record skipped")
	}
}
