/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements budget.Source (everything a matrix build reads) plus the write
  side the service needs: projects, baselines, materialized line items,
  forecast cells, allocations, actuals, adjustments and KPI snapshots.

INTERFACES IMPLEMENTED:
  budget.ProjectStore:    projects + project metadata (active baseline)
  budget.LineItemStore:   line items across all baselines
  budget.ForecastStore:   forecast cells
  budget.AllocationStore: monthly allocations
  budget.ActualStore:     invoice / payroll actuals
  budget.AdjustmentStore: adjustments with their stored distribution

KEY TABLES:
  projects, project_metadata, baselines
  line_items:     one row per materialized item, all baselines
  forecast_cells, allocations, actuals
  adjustments:    distribution kept as JSON, never recomputed
  kpi_snapshots:  scheduled KPI captures

MONEY:
  Amounts are stored as TEXT decimal strings, never REAL, so a value read
  back is exactly the value written.

INDEXES:
  - idx_line_items_storage_key: a storage key is unique within a project
  - idx_*_project: every list is per project

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The pool is capped at one
  connection so ":memory:" databases are shared by every query.

USAGE:
  store, err := sqlite.New("./data/budget.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := portfolio.NewService(store, portfolio.Options{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - budget/store.go: Interface definitions
  - budget/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ budget.Source = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already opened database and migrates it.
func NewWithDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		client TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		start_month TEXT NOT NULL DEFAULT '',
		duration_months INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- One record per project: which baseline is active
	CREATE TABLE IF NOT EXISTS project_metadata (
		project_id TEXT PRIMARY KEY,
		active_baseline_id TEXT NOT NULL DEFAULT '',
		baseline_status TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS baselines (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_baselines_project
		ON baselines(project_id);

	-- Line items of every baseline; seq keeps insertion order
	CREATE TABLE IF NOT EXISTS line_items (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL DEFAULT '0',
		unit_cost TEXT NOT NULL DEFAULT '0',
		total_cost TEXT NOT NULL DEFAULT '0',
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		start_month INTEGER NOT NULL DEFAULT 0,
		end_month INTEGER NOT NULL DEFAULT 0,
		baseline_id TEXT NOT NULL DEFAULT '',
		canonical_code TEXT NOT NULL DEFAULT '',
		legacy_baseline_id TEXT NOT NULL DEFAULT '',
		storage_key TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_project
		ON line_items(project_id);

	-- CRITICAL: a storage key identifies exactly one item per project
	CREATE UNIQUE INDEX IF NOT EXISTS idx_line_items_storage_key
		ON line_items(project_id, storage_key)
		WHERE storage_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS forecast_cells (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		line_item_id TEXT NOT NULL,
		baseline_id TEXT NOT NULL DEFAULT '',
		rubro_id TEXT NOT NULL DEFAULT '',
		cost_type TEXT NOT NULL DEFAULT '',
		month INTEGER NOT NULL,
		planned TEXT NOT NULL DEFAULT '0',
		forecast TEXT NOT NULL DEFAULT '0',
		actual TEXT NOT NULL DEFAULT '0',
		variance TEXT NOT NULL DEFAULT '0',
		last_updated TEXT NOT NULL DEFAULT '',
		updated_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_forecast_cells_project
		ON forecast_cells(project_id);

	CREATE TABLE IF NOT EXISTS allocations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		rubro_id TEXT NOT NULL,
		rubro_type TEXT NOT NULL DEFAULT '',
		month TEXT NOT NULL,
		amount TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		adjustment_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_project
		ON allocations(project_id);

	CREATE TABLE IF NOT EXISTS actuals (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		line_item_id TEXT NOT NULL,
		month INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_actuals_project
		ON actuals(project_id);

	-- Adjustments are immutable: no UPDATE path exists
	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		start_period TEXT NOT NULL,
		method TEXT NOT NULL,
		months_impacted INTEGER NOT NULL,
		distribution_json TEXT NOT NULL,
		rubro_id TEXT NOT NULL DEFAULT '',
		target_rubro_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_project
		ON adjustments(project_id);

	CREATE TABLE IF NOT EXISTS kpi_snapshots (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		months INTEGER NOT NULL,
		kpis_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kpi_snapshots_scope
		ON kpi_snapshots(scope, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// PROJECT STORE (budget.ProjectStore interface)
// =============================================================================

// SaveProject inserts or updates a project.
func (s *Store) SaveProject(ctx context.Context, p budget.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO projects (id, code, name, client, currency, start_month, duration_months, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			client = excluded.client,
			currency = excluded.currency,
			start_month = excluded.start_month,
			duration_months = excluded.duration_months
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Code, p.Name, p.Client, p.Currency, p.StartMonth.String(), p.DurationMonths,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID. Returns (nil, nil) when absent.
func (s *Store) GetProject(ctx context.Context, id budget.ProjectID) (*budget.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, code, name, client, currency, start_month, duration_months FROM projects WHERE id = ?",
		id,
	)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects ordered by id.
func (s *Store) ListProjects(ctx context.Context) ([]budget.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, name, client, currency, start_month, duration_months FROM projects ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []budget.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (budget.Project, error) {
	var (
		p          budget.Project
		startMonth string
	)
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Client, &p.Currency, &startMonth, &p.DurationMonths); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan project: %w", err)
	}
	if err := p.StartMonth.UnmarshalText([]byte(startMonth)); err != nil {
		return p, fmt.Errorf("project %s: %w", p.ID, err)
	}
	return p, nil
}

// SaveProjectMetadata sets the active baseline of a project.
func (s *Store) SaveProjectMetadata(ctx context.Context, md budget.ProjectMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveMetadata(ctx, s.db, md)
}

func (s *Store) saveMetadata(ctx context.Context, db execer, md budget.ProjectMetadata) error {
	query := `
		INSERT INTO project_metadata (project_id, active_baseline_id, baseline_status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			active_baseline_id = excluded.active_baseline_id,
			baseline_status = excluded.baseline_status,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		md.ProjectID, md.ActiveBaselineID, md.BaselineStatus,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save project metadata: %w", err)
	}
	return nil
}

// GetProjectMetadata returns (nil, nil) when the project has no record.
func (s *Store) GetProjectMetadata(ctx context.Context, id budget.ProjectID) (*budget.ProjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var md budget.ProjectMetadata
	err := s.db.QueryRowContext(ctx,
		"SELECT project_id, active_baseline_id, baseline_status FROM project_metadata WHERE project_id = ?",
		id,
	).Scan(&md.ProjectID, &md.ActiveBaselineID, &md.BaselineStatus)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project metadata: %w", err)
	}
	return &md, nil
}

// =============================================================================
// BASELINES
// =============================================================================

// HandOff stores a materialized baseline atomically: the baseline record,
// its line items and the project metadata pointing at it. If any storage
// key collides nothing is written.
func (s *Store) HandOff(ctx context.Context, bl budget.Baseline, items []budget.LineItem, status budget.BaselineStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx,
		"INSERT INTO baselines (id, project_id, status, created_by, created_at) VALUES (?, ?, ?, ?, ?)",
		bl.ID, bl.ProjectID, status, bl.CreatedBy, bl.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("baseline %s already exists: %w", bl.ID, budget.ErrInvalidArgument)
		}
		return fmt.Errorf("failed to save baseline: %w", err)
	}

	if err := s.insertLineItems(ctx, sqlTx, bl.ProjectID, items); err != nil {
		return err
	}

	md := budget.ProjectMetadata{ProjectID: bl.ProjectID, ActiveBaselineID: bl.ID, BaselineStatus: status}
	if err := s.saveMetadata(ctx, sqlTx, md); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// ListBaselines returns every baseline of a project, oldest first.
func (s *Store) ListBaselines(ctx context.Context, projectID budget.ProjectID) ([]budget.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, status, created_by, created_at FROM baselines WHERE project_id = ? ORDER BY created_at, id",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	var baselines []budget.Baseline
	for rows.Next() {
		var (
			bl        budget.Baseline
			createdAt string
		)
		if err := rows.Scan(&bl.ID, &bl.ProjectID, &bl.Status, &bl.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		bl.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		baselines = append(baselines, bl)
	}
	return baselines, rows.Err()
}

// =============================================================================
// LINE ITEM STORE (budget.LineItemStore interface)
// =============================================================================

// SaveLineItems appends items atomically. Duplicate storage keys, within the
// batch or against stored items, reject the whole batch.
func (s *Store) SaveLineItems(ctx context.Context, projectID budget.ProjectID, items []budget.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.insertLineItems(ctx, sqlTx, projectID, items); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) insertLineItems(ctx context.Context, db execer, projectID budget.ProjectID, items []budget.LineItem) error {
	// Check for duplicate keys within the batch first
	inBatch := make(map[string]bool, len(items))
	for _, item := range items {
		if item.StorageKey == "" {
			continue
		}
		if inBatch[item.StorageKey] {
			return &budget.StorageKeyError{ProjectID: projectID, StorageKey: item.StorageKey, Cause: budget.ErrDuplicateStorageKey}
		}
		inBatch[item.StorageKey] = true
	}

	query := `
		INSERT INTO line_items
		(id, project_id, name, category, quantity, unit_cost, total_cost, recurring,
		 start_month, end_month, baseline_id, canonical_code, legacy_baseline_id, storage_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, item := range items {
		_, err := db.ExecContext(ctx, query,
			item.ID, projectID, item.Name, item.Category,
			item.Quantity.String(), item.UnitCost.String(), item.TotalCost.String(), item.Recurring,
			item.StartMonth, item.EndMonth,
			item.Metadata.BaselineID, item.Metadata.CanonicalCode, item.LegacyBaselineID,
			nullString(item.StorageKey),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &budget.StorageKeyError{ProjectID: projectID, StorageKey: item.StorageKey, Cause: budget.ErrDuplicateStorageKey}
			}
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}
	return nil
}

// ListLineItems returns every stored item of the project, all baselines.
func (s *Store) ListLineItems(ctx context.Context, projectID budget.ProjectID) ([]budget.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, category, quantity, unit_cost, total_cost, recurring,
		       start_month, end_month, baseline_id, canonical_code, legacy_baseline_id, storage_key
		FROM line_items
		WHERE project_id = ?
		ORDER BY seq
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []budget.LineItem
	for rows.Next() {
		var (
			item                      budget.LineItem
			quantity, unitCost, total string
			storageKey                sql.NullString
		)
		err := rows.Scan(
			&item.ID, &item.ProjectID, &item.Name, &item.Category,
			&quantity, &unitCost, &total, &item.Recurring,
			&item.StartMonth, &item.EndMonth,
			&item.Metadata.BaselineID, &item.Metadata.CanonicalCode, &item.LegacyBaselineID,
			&storageKey,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		if item.Quantity, err = parseDecimal(quantity); err != nil {
			return nil, err
		}
		if item.UnitCost, err = parseDecimal(unitCost); err != nil {
			return nil, err
		}
		if item.TotalCost, err = parseDecimal(total); err != nil {
			return nil, err
		}
		item.StorageKey = storageKey.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// FORECAST STORE (budget.ForecastStore interface)
// =============================================================================

// SaveForecastCells appends cells atomically.
func (s *Store) SaveForecastCells(ctx context.Context, projectID budget.ProjectID, cells []budget.ForecastCell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO forecast_cells
		(project_id, line_item_id, baseline_id, rubro_id, cost_type, month, planned, forecast, actual, variance, last_updated, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, c := range cells {
		lastUpdated := ""
		if !c.LastUpdated.IsZero() {
			lastUpdated = c.LastUpdated.UTC().Format(time.RFC3339)
		}
		_, err := sqlTx.ExecContext(ctx, query,
			projectID, c.LineItemID, string(c.BaselineID), c.RubroID, c.CostType, c.Month,
			c.Planned.String(), c.Forecast.String(), c.Actual.String(), c.Variance.String(),
			lastUpdated, c.UpdatedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert forecast cell: %w", err)
		}
	}
	return sqlTx.Commit()
}

// ListForecastCells returns the project's cells in insertion order.
func (s *Store) ListForecastCells(ctx context.Context, projectID budget.ProjectID) ([]budget.ForecastCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT line_item_id, baseline_id, rubro_id, cost_type, month, planned, forecast, actual, variance, last_updated, updated_by
		FROM forecast_cells
		WHERE project_id = ?
		ORDER BY seq
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast cells: %w", err)
	}
	defer rows.Close()

	var cells []budget.ForecastCell
	for rows.Next() {
		var (
			c                                   budget.ForecastCell
			planned, forecast, actual, variance string
			lastUpdated, baselineID             string
		)
		err := rows.Scan(&c.LineItemID, &baselineID, &c.RubroID, &c.CostType, &c.Month,
			&planned, &forecast, &actual, &variance, &lastUpdated, &c.UpdatedBy)
		if err != nil {
			return nil, fmt.Errorf("failed to scan forecast cell: %w", err)
		}
		if c.Planned, err = parseDecimal(planned); err != nil {
			return nil, err
		}
		if c.Forecast, err = parseDecimal(forecast); err != nil {
			return nil, err
		}
		if c.Actual, err = parseDecimal(actual); err != nil {
			return nil, err
		}
		if c.Variance, err = parseDecimal(variance); err != nil {
			return nil, err
		}
		c.BaselineID = budget.BaselineID(baselineID)
		c.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// =============================================================================
// ALLOCATION STORE (budget.AllocationStore interface)
// =============================================================================

// SaveAllocations appends allocations atomically.
func (s *Store) SaveAllocations(ctx context.Context, projectID budget.ProjectID, allocations []budget.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO allocations (project_id, rubro_id, rubro_type, month, amount, source, adjustment_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, a := range allocations {
		_, err := sqlTx.ExecContext(ctx, query,
			projectID, a.RubroID, a.RubroType, a.Month, a.Amount.String(), a.Source, a.AdjustmentID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocation: %w", err)
		}
	}
	return sqlTx.Commit()
}

// ListAllocations returns the project's allocations in insertion order.
func (s *Store) ListAllocations(ctx context.Context, projectID budget.ProjectID) ([]budget.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, rubro_id, rubro_type, month, amount, source, adjustment_id
		FROM allocations
		WHERE project_id = ?
		ORDER BY seq
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []budget.Allocation
	for rows.Next() {
		var (
			a      budget.Allocation
			amount string
		)
		if err := rows.Scan(&a.ProjectID, &a.RubroID, &a.RubroType, &a.Month, &amount, &a.Source, &a.AdjustmentID); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if a.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// =============================================================================
// ACTUAL STORE (budget.ActualStore interface)
// =============================================================================

// SaveActuals appends actuals atomically. Records without an id get one.
func (s *Store) SaveActuals(ctx context.Context, projectID budget.ProjectID, actuals []budget.ActualRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO actuals (id, project_id, line_item_id, month, amount, status, currency, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, a := range actuals {
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := sqlTx.ExecContext(ctx, query,
			id, projectID, a.LineItemID, a.Month, a.Amount.String(), a.Status, a.Currency, a.Source,
		)
		if err != nil {
			return fmt.Errorf("failed to insert actual: %w", err)
		}
	}
	return sqlTx.Commit()
}

// ListActuals returns the project's actuals in insertion order.
func (s *Store) ListActuals(ctx context.Context, projectID budget.ProjectID) ([]budget.ActualRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, line_item_id, month, amount, status, currency, source
		FROM actuals
		WHERE project_id = ?
		ORDER BY seq
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actuals: %w", err)
	}
	defer rows.Close()

	var actuals []budget.ActualRecord
	for rows.Next() {
		var (
			a      budget.ActualRecord
			amount string
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.LineItemID, &a.Month, &amount, &a.Status, &a.Currency, &a.Source); err != nil {
			return nil, fmt.Errorf("failed to scan actual: %w", err)
		}
		if a.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		actuals = append(actuals, a)
	}
	return actuals, rows.Err()
}

// =============================================================================
// ADJUSTMENT STORE (budget.AdjustmentStore interface)
// =============================================================================

// SaveAdjustment stores an adjustment once. Saving the same id twice is a
// misuse: adjustments are immutable.
func (s *Store) SaveAdjustment(ctx context.Context, adj budget.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	distJSON, err := json.Marshal(adj.Distribution)
	if err != nil {
		return fmt.Errorf("failed to encode distribution: %w", err)
	}

	query := `
		INSERT INTO adjustments
		(id, project_id, type, amount, start_period, method, months_impacted, distribution_json,
		 rubro_id, target_rubro_id, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		adj.ID, adj.ProjectID, adj.Type, adj.Amount.String(), adj.StartPeriod.String(), adj.Method,
		adj.MonthsImpacted, string(distJSON),
		adj.RubroID, adj.TargetRubroID, adj.Reason, adj.CreatedBy,
		adj.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("adjustment %s already exists: %w", adj.ID, budget.ErrInvalidArgument)
		}
		return fmt.Errorf("failed to save adjustment: %w", err)
	}
	return nil
}

// ListAdjustments returns the project's adjustments, oldest first.
func (s *Store) ListAdjustments(ctx context.Context, projectID budget.ProjectID) ([]budget.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, type, amount, start_period, method, months_impacted, distribution_json,
		       rubro_id, target_rubro_id, reason, created_by, created_at
		FROM adjustments
		WHERE project_id = ?
		ORDER BY created_at, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []budget.Adjustment
	for rows.Next() {
		var (
			adj                         budget.Adjustment
			amount, start, distJSON, ts string
		)
		err := rows.Scan(&adj.ID, &adj.ProjectID, &adj.Type, &amount, &start, &adj.Method,
			&adj.MonthsImpacted, &distJSON,
			&adj.RubroID, &adj.TargetRubroID, &adj.Reason, &adj.CreatedBy, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		if adj.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if adj.StartPeriod, err = budget.ParseMonth(start); err != nil {
			return nil, fmt.Errorf("adjustment %s: %w", adj.ID, err)
		}
		if err := json.Unmarshal([]byte(distJSON), &adj.Distribution); err != nil {
			return nil, fmt.Errorf("adjustment %s: failed to decode distribution: %w", adj.ID, err)
		}
		adj.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

// =============================================================================
// KPI SNAPSHOTS
// =============================================================================

// KPISnapshot is a captured KPI set. Scope is a project id or "portfolio".
type KPISnapshot struct {
	ID        string
	Scope     string
	Months    int
	KPIsJSON  string
	CreatedAt time.Time
}

// SaveKPISnapshot stores a snapshot, assigning an id when missing.
func (s *Store) SaveKPISnapshot(ctx context.Context, snap KPISnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kpi_snapshots (id, scope, months, kpis_json, created_at) VALUES (?, ?, ?, ?, ?)",
		snap.ID, snap.Scope, snap.Months, snap.KPIsJSON, snap.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save kpi snapshot: %w", err)
	}
	return nil
}

// ListKPISnapshots returns the newest snapshots first. Empty scope lists all.
func (s *Store) ListKPISnapshots(ctx context.Context, scope string, limit int) ([]KPISnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, scope, months, kpis_json, created_at FROM kpi_snapshots"
	args := []any{}
	if scope != "" {
		query += " WHERE scope = ?"
		args = append(args, scope)
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query kpi snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []KPISnapshot
	for rows.Next() {
		var (
			snap      KPISnapshot
			createdAt string
		)
		if err := rows.Scan(&snap.ID, &snap.Scope, &snap.Months, &snap.KPIsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan kpi snapshot: %w", err)
		}
		snap.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"kpi_snapshots", "adjustments", "actuals", "allocations", "forecast_cells",
		"line_items", "baselines", "project_metadata", "projects",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse stored amount %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
