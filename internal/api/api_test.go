package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdiag/internal/diag"
	"tsdiag/internal/heatmap"
	"tsdiag/internal/models"
	"tsdiag/internal/store"
	"tsdiag/internal/zones"
)

func setupTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	catalog, err := zones.Load()
	require.NoError(t, err)
	manager := diag.NewManager(s, diag.Config{})
	srv := NewServer(s, manager, catalog)

	return srv, s
}

// seedCompletedSession stores a finished grid session with a few touch
// points and one faulty area attributed to the top digitizer.
func seedCompletedSession(t *testing.T, s store.Store, id string) *models.DiagnosticSession {
	t.Helper()
	started := time.Now().UTC().Add(-time.Minute)
	ended := started.Add(45 * time.Second)
	sess := &models.DiagnosticSession{
		ID:          id,
		Type:        models.SessionTypeGrid,
		Status:      models.SessionStatusCompleted,
		DeviceModel: "Pixel 7",
		ViewportW:   1080,
		ViewportH:   2340,
		GridRows:    2,
		GridCols:    2,
		TouchPoints: []models.TouchPoint{
			{ID: id + "-p1", X: 100, Y: 200, TimestampMS: 10},
			{ID: id + "-p2", X: 540, Y: 1170, TimestampMS: 250, IsGhost: true},
			{ID: id + "-p3", X: 900, Y: 2000, TimestampMS: 900},
		},
		GridCells: []models.GridCell{
			{Row: 0, Col: 0, Status: models.CellStatusOK, TouchCount: 1},
			{Row: 0, Col: 1, Status: models.CellStatusGhost, TouchCount: 2},
			{Row: 1, Col: 0, Status: models.CellStatusOK, TouchCount: 1},
			{Row: 1, Col: 1, Status: models.CellStatusUntested},
		},
		FaultyAreas: []models.FaultyArea{
			{ID: id + "-a1", Label: "Ghost cell (0,1)", XPercent: 50, WidthPercent: 50, HeightPercent: 50, Severity: models.SeverityLow, HardwareZone: "digitizer_top"},
		},
		StartedAt: started,
		EndedAt:   &ended,
	}
	require.NoError(t, s.SaveSession(context.Background(), sess))
	return sess
}

func TestListSessions_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var sessions []*models.SessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.NotNil(t, sessions, "empty list should encode as [], not null")
	assert.Empty(t, sessions)
}

func TestListSessions_Filters(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()

	seedCompletedSession(t, s, "01HSESSA")
	seedCompletedSession(t, s, "01HSESSB")
	monitor := seedCompletedSession(t, s, "01HSESSC")
	monitor.Type = models.SessionTypeGhostMonitor
	require.NoError(t, s.SaveSession(context.Background(), monitor))

	req := httptest.NewRequest("GET", "/api/v1/sessions?type=grid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var sessions []*models.SessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 2)

	req = httptest.NewRequest("GET", "/api/v1/sessions?type=ghost_monitor", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 1)
	assert.Equal(t, "01HSESSC", sessions[0].ID)

	req = httptest.NewRequest("GET", "/api/v1/sessions?limit=1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 1)

	req = httptest.NewRequest("GET", "/api/v1/sessions?limit=bogus", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSession_API(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()

	seeded := seedCompletedSession(t, s, "01HGETME")

	req := httptest.NewRequest("GET", "/api/v1/sessions/01HGETME", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.DiagnosticSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
	assert.Len(t, got.TouchPoints, 3)
	assert.Len(t, got.GridCells, 4)
	assert.Len(t, got.FaultyAreas, 1)
}

func TestGetSession_NotFound(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/sessions/NONEXISTENT", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutSession_Upsert(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	started := time.Now().UTC().Add(-2 * time.Minute)
	ended := started.Add(time.Minute)
	sess := &models.DiagnosticSession{
		ID:        "ignored-by-handler",
		Type:      models.SessionTypeGhostMonitor,
		Status:    models.SessionStatusCompleted,
		ViewportW: 1080,
		ViewportH: 2340,
		TouchPoints: []models.TouchPoint{
			{ID: "up-p1", X: 12, Y: 34, TimestampMS: 5, IsGhost: true},
		},
		StartedAt: started,
		EndedAt:   &ended,
	}
	body, err := json.Marshal(sess)
	require.NoError(t, err)

	req := httptest.NewRequest("PUT", "/api/v1/sessions/01HPUSHED", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var stored models.DiagnosticSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, "01HPUSHED", stored.ID, "path id wins over body id")

	fromDB, err := s.GetSession(ctx, "01HPUSHED")
	require.NoError(t, err)
	assert.Len(t, fromDB.TouchPoints, 1)
	assert.True(t, fromDB.TouchPoints[0].IsGhost)

	// Upsert again under the same id with changed notes
	sess.Notes = "second upload"
	body, err = json.Marshal(sess)
	require.NoError(t, err)
	req = httptest.NewRequest("PUT", "/api/v1/sessions/01HPUSHED", bytes.NewBuffer(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	fromDB, err = s.GetSession(ctx, "01HPUSHED")
	require.NoError(t, err)
	assert.Equal(t, "second upload", fromDB.Notes)
}

func TestPutSession_RequiresType(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("PUT", "/api/v1/sessions/01HNOPE", bytes.NewBufferString(`{"Notes":"no type"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteSession_API(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()

	seedCompletedSession(t, s, "01HDELME")

	req := httptest.NewRequest("DELETE", "/api/v1/sessions/01HDELME", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/sessions/01HDELME", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest("DELETE", "/api/v1/sessions/01HDELME", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHeatmap_API(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()

	seedCompletedSession(t, s, "01HHEAT")

	req := httptest.NewRequest("GET", "/api/v1/sessions/01HHEAT/heatmap", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var res heatmap.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, float64(40), res.CellSize, "default bin size")
	assert.NotEmpty(t, res.Cells)

	req = httptest.NewRequest("GET", "/api/v1/sessions/01HHEAT/heatmap?bin=540", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, float64(540), res.CellSize)
	assert.Equal(t, 2, res.Cols)

	req = httptest.NewRequest("GET", "/api/v1/sessions/01HHEAT/heatmap?bin=bogus", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/sessions/NONEXISTENT/heatmap", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionReport_API(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()

	seedCompletedSession(t, s, "01HREPORT")

	req := httptest.NewRequest("GET", "/api/v1/sessions/01HREPORT/report", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var rep map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	_, hasScore := rep["Score"]
	assert.True(t, hasScore, "should have score field")
	assert.NotEmpty(t, rep["Verdict"])

	findings, ok := rep["Findings"].([]any)
	require.True(t, ok)
	require.Len(t, findings, 1)
	finding := findings[0].(map[string]any)
	zone := finding["Zone"].(map[string]any)
	assert.Equal(t, "digitizer_top", zone["ID"], "finding should join the zone catalog entry")
	assert.NotEmpty(t, zone["RepairSteps"])
}

func TestZones_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/zones", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var zs []zones.Zone
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &zs))
	require.NotEmpty(t, zs)

	ids := make(map[zones.ID]bool)
	for _, z := range zs {
		ids[z.ID] = true
	}
	assert.True(t, ids[zones.DigitizerTop])
	assert.True(t, ids[zones.LCDConnector])

	req = httptest.NewRequest("GET", "/api/v1/zones/digitizer_top", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var z zones.Zone
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &z))
	assert.Equal(t, zones.DigitizerTop, z.ID)
	assert.NotEmpty(t, z.Label)
	assert.NotEmpty(t, z.RepairSteps)

	req = httptest.NewRequest("GET", "/api/v1/zones/warp_core", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusOverview_API(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()

	seedCompletedSession(t, s, "01HSTATUS")

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Sessions.Total)
	assert.Nil(t, resp.Active)

	// Start a run; the overview should pick it up
	body := `{"type":"ghost_monitor"}`
	req = httptest.NewRequest("POST", "/api/v1/runs", bytes.NewBufferString(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/status", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Active)
	assert.Equal(t, models.SessionTypeGhostMonitor, resp.Active.Type)
	assert.NotEmpty(t, resp.Active.ID)
}

func TestCORS(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("OPTIONS", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
