/*
scheduler.go - Scheduled KPI snapshots

PURPOSE:
  Periodically builds the portfolio matrix and stores the KPIs of the
  current window, once for the whole portfolio and once per project, so the
  dashboard can chart how budget, forecast and actuals moved over time.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field expression)
  - Each run builds one portfolio matrix and slices its rows per project
  - A failed run is logged and retried at the next tick

CONFIGURATION:
  - Schedule: cron expression (default: "0 6 * * *", daily at 06:00)
  - Timezone: IANA name, falls back to UTC when unknown
  - Months:   KPI window (0 = service default)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewKPISnapshotScheduler(store, service, logger)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListKPISnapshots endpoint
  - matrix/kpi.go: DeriveKPIs
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/matrix"
	"github.com/warp/budget-engine/portfolio"
	"github.com/warp/budget-engine/store/sqlite"
)

// PortfolioScope is the snapshot scope covering every project.
const PortfolioScope = "portfolio"

const defaultKPISchedule = "0 6 * * *"

// KPISnapshotScheduler captures KPI snapshots on a cron schedule.
type KPISnapshotScheduler struct {
	Store    *sqlite.Store
	Service  *portfolio.Service
	Schedule string
	Timezone string
	Months   int
	Enabled  bool
	Logger   zerolog.Logger

	// Now stamps snapshots; defaults to time.Now.
	Now func() time.Time

	cron *cron.Cron
	mu   sync.Mutex
}

// NewKPISnapshotScheduler creates a new scheduler.
func NewKPISnapshotScheduler(store *sqlite.Store, service *portfolio.Service, logger zerolog.Logger) *KPISnapshotScheduler {
	return &KPISnapshotScheduler{
		Store:    store,
		Service:  service,
		Schedule: defaultKPISchedule,
		Timezone: "UTC",
		Enabled:  true,
		Logger:   logger.With().Str("component", "kpi_scheduler").Logger(),
		Now:      time.Now,
	}
}

// Start registers the job and starts the cron runner. A disabled scheduler
// is a no-op.
func (s *KPISnapshotScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info().Msg("disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		s.Logger.Warn().Err(err).Str("timezone", s.Timezone).Msg("invalid timezone, falling back to UTC")
		loc = time.UTC
	}

	schedule := s.Schedule
	if schedule == "" {
		schedule = defaultKPISchedule
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.RunNow(s.Logger.WithContext(context.Background())); err != nil {
			s.Logger.Error().Err(err).Msg("kpi snapshot run failed")
		}
	}); err != nil {
		return fmt.Errorf("unable to schedule kpi snapshots: %w", err)
	}

	c.Start()
	s.cron = c
	s.Logger.Info().Str("schedule", schedule).Str("timezone", loc.String()).Msg("started")
	return nil
}

// Stop stops the runner and waits for a running job to finish.
func (s *KPISnapshotScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.Logger.Info().Msg("stopped")
}

// NextRun returns when the job fires next, zero when not started.
func (s *KPISnapshotScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow captures one round of snapshots immediately and returns them.
// Matrix issues are logged through the context logger, or through the
// scheduler's own logger when ctx carries none.
func (s *KPISnapshotScheduler) RunNow(ctx context.Context) ([]sqlite.KPISnapshot, error) {
	start := s.Now()
	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		ctx = s.Logger.WithContext(ctx)
	}

	view, err := s.Service.Matrix(ctx, portfolio.MatrixRequest{MonthsToShow: s.Months})
	if err != nil {
		return nil, fmt.Errorf("build portfolio matrix: %w", err)
	}

	byProject := make(map[budget.ProjectID][]matrix.Row)
	for _, row := range view.Rows {
		byProject[row.ProjectID] = append(byProject[row.ProjectID], row)
	}

	snaps := make([]sqlite.KPISnapshot, 0, len(view.Baselines)+1)
	add := func(scope string, kpis matrix.KPIs) error {
		data, err := json.Marshal(kpis)
		if err != nil {
			return fmt.Errorf("encode kpis for %s: %w", scope, err)
		}
		snap := sqlite.KPISnapshot{
			ID:        uuid.NewString(),
			Scope:     scope,
			Months:    view.MonthsToShow,
			KPIsJSON:  string(data),
			CreatedAt: start.UTC(),
		}
		if err := s.Store.SaveKPISnapshot(ctx, snap); err != nil {
			return err
		}
		snaps = append(snaps, snap)
		return nil
	}

	if err := add(PortfolioScope, view.KPIs); err != nil {
		return nil, err
	}
	ids := make([]budget.ProjectID, 0, len(view.Baselines))
	for id := range view.Baselines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := add(string(id), matrix.DeriveKPIs(byProject[id], view.MonthsToShow)); err != nil {
			return nil, err
		}
	}

	s.Logger.Info().
		Int("snapshots", len(snaps)).
		Int("issues", len(view.Issues)).
		Dur("duration", time.Since(start)).
		Msg("kpi snapshots captured")
	return snaps, nil
}
