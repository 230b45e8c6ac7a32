package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdiag/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

// sampleGridSession builds a completed grid session with touch points,
// marked cells, and one faulty area.
func sampleGridSession(startedAt time.Time) *models.DiagnosticSession {
	endedAt := startedAt.Add(2 * time.Minute)
	touchedAt := startedAt.Add(30 * time.Second)
	return &models.DiagnosticSession{
		Type:        models.SessionTypeGrid,
		Status:      models.SessionStatusCompleted,
		DeviceModel: "Pixel 7",
		ViewportW:   1080,
		ViewportH:   2340,
		GridRows:    2,
		GridCols:    2,
		Notes:       "left edge dead",
		StartedAt:   startedAt,
		EndedAt:     &endedAt,
		TouchPoints: []models.TouchPoint{
			{ID: "tp-1", X: 100, Y: 200, TimestampMS: 1000, Pressure: 0.8},
			{ID: "tp-2", X: 300, Y: 400, TimestampMS: 1100, IsGhost: true},
		},
		GridCells: []models.GridCell{
			{Row: 0, Col: 0, Status: models.CellStatusOK, TouchCount: 1, LastTouchedAt: &touchedAt},
			{Row: 0, Col: 1, Status: models.CellStatusFaulty, TouchCount: 2, LastTouchedAt: &touchedAt},
			{Row: 1, Col: 0, Status: models.CellStatusUntested},
			{Row: 1, Col: 1, Status: models.CellStatusGhost, TouchCount: 3, LastTouchedAt: &touchedAt},
		},
		FaultyAreas: []models.FaultyArea{
			{
				ID:            "fa-1",
				Label:         "Unresponsive cell (0,1)",
				XPercent:      50,
				YPercent:      0,
				WidthPercent:  50,
				HeightPercent: 50,
				Severity:      models.SeverityLow,
				HardwareZone:  "digitizer_top",
			},
		},
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Sessions ---

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	startedAt := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	sess := sampleGridSession(startedAt)
	require.NoError(t, s.SaveSession(ctx, sess))
	assert.NotEmpty(t, sess.ID)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, models.SessionTypeGrid, got.Type)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
	assert.Equal(t, "Pixel 7", got.DeviceModel)
	assert.InDelta(t, 1080, got.ViewportW, 0.001)
	assert.InDelta(t, 2340, got.ViewportH, 0.001)
	assert.Equal(t, 2, got.GridRows)
	assert.Equal(t, 2, got.GridCols)
	assert.Equal(t, "left edge dead", got.Notes)
	assert.WithinDuration(t, startedAt, got.StartedAt, time.Second)
	require.NotNil(t, got.EndedAt)
	assert.Nil(t, got.SyncedAt)
	assert.Empty(t, got.RemoteID)

	// Touch points come back in arrival order.
	require.Len(t, got.TouchPoints, 2)
	assert.Equal(t, "tp-1", got.TouchPoints[0].ID)
	assert.InDelta(t, 100, got.TouchPoints[0].X, 0.001)
	assert.InDelta(t, 0.8, got.TouchPoints[0].Pressure, 0.001)
	assert.False(t, got.TouchPoints[0].IsGhost)
	assert.Equal(t, "tp-2", got.TouchPoints[1].ID)
	assert.True(t, got.TouchPoints[1].IsGhost)
	assert.Equal(t, int64(1100), got.TouchPoints[1].TimestampMS)

	// Cells come back row-major, so CellAt keeps working on the reload.
	require.Len(t, got.GridCells, 4)
	cell := got.CellAt(0, 1)
	require.NotNil(t, cell)
	assert.Equal(t, models.CellStatusFaulty, cell.Status)
	assert.Equal(t, 2, cell.TouchCount)
	require.NotNil(t, cell.LastTouchedAt)
	assert.Nil(t, got.CellAt(1, 0).LastTouchedAt)

	require.Len(t, got.FaultyAreas, 1)
	area := got.FaultyAreas[0]
	assert.Equal(t, "fa-1", area.ID)
	assert.Equal(t, "Unresponsive cell (0,1)", area.Label)
	assert.InDelta(t, 50, area.XPercent, 0.001)
	assert.Equal(t, models.SeverityLow, area.Severity)
	assert.Equal(t, "digitizer_top", area.HardwareZone)
}

func TestSaveSession_AssignsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.DiagnosticSession{
		Type:   models.SessionTypeGhostMonitor,
		Status: models.SessionStatusActive,
	}
	require.NoError(t, s.SaveSession(ctx, sess))
	assert.NotEmpty(t, sess.ID)
	assert.False(t, sess.StartedAt.IsZero())
}

func TestSaveSession_ReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := sampleGridSession(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, s.SaveSession(ctx, sess))

	// Re-save with fewer touch points and new notes; the stored session is
	// replaced wholesale, not merged.
	sess.Notes = "retested after reseating cable"
	sess.TouchPoints = sess.TouchPoints[:1]
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "retested after reseating cable", got.Notes)
	assert.Len(t, got.TouchPoints, 1)

	summaries, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Contains(t, err.Error(), "not found")
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second).Add(-3 * time.Hour)

	oldest := sampleGridSession(base)
	require.NoError(t, s.SaveSession(ctx, oldest))

	monitor := &models.DiagnosticSession{
		Type:      models.SessionTypeGhostMonitor,
		Status:    models.SessionStatusCompleted,
		StartedAt: base.Add(time.Hour),
		TouchPoints: []models.TouchPoint{
			{ID: "g-1", X: 5, Y: 5, TimestampMS: 10, IsGhost: true},
		},
	}
	require.NoError(t, s.SaveSession(ctx, monitor))

	cancelled := &models.DiagnosticSession{
		Type:      models.SessionTypeMultiTouch,
		Status:    models.SessionStatusCancelled,
		StartedAt: base.Add(2 * time.Hour),
	}
	require.NoError(t, s.SaveSession(ctx, cancelled))

	// All, most recent first
	all, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, cancelled.ID, all[0].ID)
	assert.Equal(t, monitor.ID, all[1].ID)
	assert.Equal(t, oldest.ID, all[2].ID)

	// Child counts ride along on the summary
	assert.Equal(t, 2, all[2].TouchCount)
	assert.Equal(t, 1, all[2].FaultyAreaCount)
	assert.Equal(t, 1, all[1].TouchCount)
	assert.Zero(t, all[0].TouchCount)

	// Filter by type
	grids, err := s.ListSessions(ctx, SessionFilter{Type: models.SessionTypeGrid})
	require.NoError(t, err)
	require.Len(t, grids, 1)
	assert.Equal(t, oldest.ID, grids[0].ID)

	// Filter by status
	done, err := s.ListSessions(ctx, SessionFilter{Status: models.SessionStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, done, 2)

	// Limit
	limited, err := s.ListSessions(ctx, SessionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteSession_CascadesChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := sampleGridSession(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, s.SaveSession(ctx, sess))

	require.NoError(t, s.DeleteSession(ctx, sess.ID))

	_, err := s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Child rows go with the session
	for _, table := range []string{"touch_points", "grid_cells", "faulty_areas"} {
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table+" WHERE session_id = ?", sess.ID).Scan(&n)
		require.NoError(t, err)
		assert.Zero(t, n, "expected no %s rows after delete", table)
	}
}

func TestDeleteSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.DeleteSession(ctx, "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMarkSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := sampleGridSession(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, s.SaveSession(ctx, sess))

	syncedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.MarkSynced(ctx, sess.ID, "remote-42", syncedAt))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SyncedAt)
	assert.WithinDuration(t, syncedAt, *got.SyncedAt, time.Second)
	assert.Equal(t, "remote-42", got.RemoteID)

	summaries, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.NotNil(t, summaries[0].SyncedAt)
}

func TestMarkSynced_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.MarkSynced(ctx, "nonexistent", "remote-1", time.Now())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCountSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	counts, err := s.CountSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.SaveSession(ctx, sampleGridSession(base)))
	require.NoError(t, s.SaveSession(ctx, sampleGridSession(base.Add(time.Minute))))
	require.NoError(t, s.SaveSession(ctx, &models.DiagnosticSession{
		Type:      models.SessionTypeGhostMonitor,
		Status:    models.SessionStatusCancelled,
		StartedAt: base.Add(2 * time.Minute),
	}))

	counts, err = s.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 2, counts.ByType[models.SessionTypeGrid])
	assert.Equal(t, 1, counts.ByType[models.SessionTypeGhostMonitor])
	assert.Equal(t, 2, counts.ByStatus[models.SessionStatusCompleted])
	assert.Equal(t, 1, counts.ByStatus[models.SessionStatusCancelled])
}
