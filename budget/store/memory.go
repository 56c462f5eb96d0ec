// Package store provides Source implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	projects    map[budget.ProjectID]budget.Project
	metadata    map[budget.ProjectID]budget.ProjectMetadata
	lineItems   map[budget.ProjectID][]budget.LineItem
	storageKeys map[budget.ProjectID]map[string]bool
	forecast    map[budget.ProjectID][]budget.ForecastCell
	allocations map[budget.ProjectID][]budget.Allocation
	actuals     map[budget.ProjectID][]budget.ActualRecord
	adjustments map[budget.ProjectID][]budget.Adjustment
	baselines   map[budget.ProjectID][]budget.Baseline
}

var _ budget.Source = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		projects:    make(map[budget.ProjectID]budget.Project),
		metadata:    make(map[budget.ProjectID]budget.ProjectMetadata),
		lineItems:   make(map[budget.ProjectID][]budget.LineItem),
		storageKeys: make(map[budget.ProjectID]map[string]bool),
		forecast:    make(map[budget.ProjectID][]budget.ForecastCell),
		allocations: make(map[budget.ProjectID][]budget.Allocation),
		actuals:     make(map[budget.ProjectID][]budget.ActualRecord),
		adjustments: make(map[budget.ProjectID][]budget.Adjustment),
		baselines:   make(map[budget.ProjectID][]budget.Baseline),
	}
}

// =============================================================================
// WRITES
// =============================================================================

func (m *Memory) SaveProject(_ context.Context, p budget.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *Memory) SaveProjectMetadata(_ context.Context, md budget.ProjectMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[md.ProjectID] = md
	return nil
}

// SaveLineItems appends items atomically. The whole batch is rejected when any
// storage key is already taken or repeated within the batch.
func (m *Memory) SaveLineItems(_ context.Context, projectID budget.ProjectID, items []budget.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	taken := m.storageKeys[projectID]
	if taken == nil {
		taken = make(map[string]bool)
	}

	// Check all keys first (atomic check)
	inBatch := make(map[string]bool, len(items))
	for _, item := range items {
		if item.StorageKey == "" {
			continue
		}
		if taken[item.StorageKey] || inBatch[item.StorageKey] {
			return &budget.StorageKeyError{
				ProjectID:  projectID,
				StorageKey: item.StorageKey,
				Cause:      budget.ErrDuplicateStorageKey,
			}
		}
		inBatch[item.StorageKey] = true
	}

	for _, item := range items {
		item.ProjectID = projectID
		m.lineItems[projectID] = append(m.lineItems[projectID], item)
		if item.StorageKey != "" {
			taken[item.StorageKey] = true
		}
	}
	m.storageKeys[projectID] = taken
	return nil
}

// HandOff records a baseline, its line items and the metadata pointing at it.
// Nothing is written when a storage key collides.
func (m *Memory) HandOff(ctx context.Context, bl budget.Baseline, items []budget.LineItem, status budget.BaselineStatus) error {
	m.mu.RLock()
	for _, existing := range m.baselines[bl.ProjectID] {
		if existing.ID == bl.ID {
			m.mu.RUnlock()
			return fmt.Errorf("baseline %s already exists: %w", bl.ID, budget.ErrInvalidArgument)
		}
	}
	m.mu.RUnlock()

	if err := m.SaveLineItems(ctx, bl.ProjectID, items); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	bl.Status = status
	m.baselines[bl.ProjectID] = append(m.baselines[bl.ProjectID], bl)
	m.metadata[bl.ProjectID] = budget.ProjectMetadata{ProjectID: bl.ProjectID, ActiveBaselineID: bl.ID, BaselineStatus: status}
	return nil
}

func (m *Memory) ListBaselines(_ context.Context, projectID budget.ProjectID) ([]budget.Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]budget.Baseline(nil), m.baselines[projectID]...), nil
}

func (m *Memory) SaveForecastCells(_ context.Context, projectID budget.ProjectID, cells []budget.ForecastCell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecast[projectID] = append(m.forecast[projectID], cells...)
	return nil
}

func (m *Memory) SaveAllocations(_ context.Context, projectID budget.ProjectID, allocations []budget.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range allocations {
		a.ProjectID = projectID
		m.allocations[projectID] = append(m.allocations[projectID], a)
	}
	return nil
}

func (m *Memory) SaveActuals(_ context.Context, projectID budget.ProjectID, actuals []budget.ActualRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range actuals {
		a.ProjectID = projectID
		m.actuals[projectID] = append(m.actuals[projectID], a)
	}
	return nil
}

func (m *Memory) SaveAdjustment(_ context.Context, adj budget.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments[adj.ProjectID] = append(m.adjustments[adj.ProjectID], adj)
	return nil
}

// =============================================================================
// READS (budget.Source) - always copies
// =============================================================================

func (m *Memory) GetProject(_ context.Context, id budget.ProjectID) (*budget.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) GetProjectMetadata(_ context.Context, id budget.ProjectID) (*budget.ProjectMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.metadata[id]
	if !ok {
		return nil, nil
	}
	return &md, nil
}

func (m *Memory) ListProjects(_ context.Context) ([]budget.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]budget.Project, 0, len(m.projects))
	for _, p := range m.projects {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) ListLineItems(_ context.Context, projectID budget.ProjectID) ([]budget.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]budget.LineItem(nil), m.lineItems[projectID]...), nil
}

func (m *Memory) ListForecastCells(_ context.Context, projectID budget.ProjectID) ([]budget.ForecastCell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]budget.ForecastCell(nil), m.forecast[projectID]...), nil
}

func (m *Memory) ListAllocations(_ context.Context, projectID budget.ProjectID) ([]budget.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]budget.Allocation(nil), m.allocations[projectID]...), nil
}

func (m *Memory) ListActuals(_ context.Context, projectID budget.ProjectID) ([]budget.ActualRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]budget.ActualRecord(nil), m.actuals[projectID]...), nil
}

func (m *Memory) ListAdjustments(_ context.Context, projectID budget.ProjectID) ([]budget.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]budget.Adjustment, len(m.adjustments[projectID]))
	for i, adj := range m.adjustments[projectID] {
		adj.Distribution = append([]budget.MonthAmount(nil), adj.Distribution...)
		result[i] = adj
	}
	return result, nil
}
