package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/matrix"
)

func TestKPISnapshotScheduler_RunNow(t *testing.T) {
	// GIVEN: The single-baseline scenario and a one-month window
	h, router := setupTestRouter(t)
	ctx := context.Background()
	require.NoError(t, h.loadSingleBaselineScenario(ctx))

	s := NewKPISnapshotScheduler(h.Store, h.Service, zerolog.Nop())
	s.Months = 1
	s.Now = func() time.Time { return testNow }

	// WHEN: A run is triggered
	snaps, err := s.RunNow(ctx)

	// THEN: One portfolio and one project snapshot with identical KPIs
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, PortfolioScope, snaps[0].Scope)
	assert.Equal(t, "P-ATLAS", snaps[1].Scope)
	assert.Equal(t, snaps[0].KPIsJSON, snaps[1].KPIsJSON)

	var kpis matrix.KPIs
	require.NoError(t, json.Unmarshal([]byte(snaps[0].KPIsJSON), &kpis))
	assertDecimal(t, "34000", kpis.Budget)

	// AND: The snapshots are served by scope
	rec := do(t, router, http.MethodGet, "/api/kpi-snapshots?scope=portfolio", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dtos := decodeAs[[]KPISnapshotDTO](t, rec)
	require.Len(t, dtos, 1)
	assert.Equal(t, 1, dtos[0].Months)
	assert.Equal(t, testNow.Format(time.RFC3339), dtos[0].CreatedAt)

	rec = do(t, router, http.MethodGet, "/api/kpi-snapshots?limit=x", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKPISnapshotScheduler_RunLogsIssues(t *testing.T) {
	// GIVEN: A scenario with a malformed allocation month and a scheduler
	//        logging to a buffer
	h := setupTestHandler(t)
	require.NoError(t, h.loadAllocationFallbackScenario(context.Background()))

	var buf bytes.Buffer
	s := NewKPISnapshotScheduler(h.Store, h.Service, zerolog.New(&buf))
	s.Months = 2

	// WHEN: A run starts from a bare context, as the cron job does
	_, err := s.RunNow(context.Background())

	// THEN: The skipped record is logged by the scheduler's logger
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "matrix record skipped")
	assert.Contains(t, buf.String(), string(matrix.IssueMalformedMonth))
	assert.Contains(t, buf.String(), `"component":"kpi_scheduler"`)
}

func TestKPISnapshotScheduler_StartStop(t *testing.T) {
	h := setupTestHandler(t)

	t.Run("disabled", func(t *testing.T) {
		s := NewKPISnapshotScheduler(h.Store, h.Service, zerolog.Nop())
		s.Enabled = false
		require.NoError(t, s.Start())
		assert.True(t, s.NextRun().IsZero())
		s.Stop()
	})

	t.Run("invalid schedule", func(t *testing.T) {
		s := NewKPISnapshotScheduler(h.Store, h.Service, zerolog.Nop())
		s.Schedule = "every day"
		assert.Error(t, s.Start())
	})

	t.Run("unknown timezone falls back to UTC", func(t *testing.T) {
		s := NewKPISnapshotScheduler(h.Store, h.Service, zerolog.Nop())
		s.Timezone = "Mars/Olympus"
		s.Schedule = "0 6 * * *"
		require.NoError(t, s.Start())
		defer s.Stop()

		next := s.NextRun()
		require.False(t, next.IsZero())
		assert.Equal(t, time.UTC, next.Location())
		assert.Equal(t, 6, next.Hour())
	})
}
