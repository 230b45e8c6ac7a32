// Package api exposes the session store and the live run lifecycle over
// HTTP. It backs serve mode: the embedded dashboard, remote sync uploads,
// and scripted capture drivers all speak this surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tsdiag/internal/diag"
	"tsdiag/internal/heatmap"
	"tsdiag/internal/models"
	"tsdiag/internal/report"
	"tsdiag/internal/store"
	"tsdiag/internal/zones"
)

// defaultHeatmapBin is the bin edge length used when a heatmap request does
// not pass ?bin=.
const defaultHeatmapBin = 40.0

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	manager *diag.Manager
	catalog *zones.Catalog

	mu   sync.Mutex
	rule diag.GhostRule // classification chosen when the current run started
}

// NewServer creates a new API server.
// The catalog may be nil; zone lookups then come back empty.
func NewServer(st store.Store, manager *diag.Manager, catalog *zones.Catalog) *Server {
	return &Server{
		store:   st,
		manager: manager,
		catalog: catalog,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("PUT /api/v1/sessions/{id}", s.putSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.deleteSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/heatmap", s.sessionHeatmap)
	mux.HandleFunc("GET /api/v1/sessions/{id}/report", s.sessionReport)

	mux.HandleFunc("POST /api/v1/runs", s.startRun)
	mux.HandleFunc("GET /api/v1/runs/active", s.activeRun)
	mux.HandleFunc("POST /api/v1/runs/active/touches", s.recordTouches)
	mux.HandleFunc("POST /api/v1/runs/active/cells", s.markCell)
	mux.HandleFunc("POST /api/v1/runs/active/end", s.endRun)
	mux.HandleFunc("DELETE /api/v1/runs/active", s.cancelRun)

	mux.HandleFunc("GET /api/v1/zones", s.listZones)
	mux.HandleFunc("GET /api/v1/zones/{id}", s.getZone)

	mux.HandleFunc("GET /api/v1/status", s.statusOverview)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the sentinel errors of the store and lifecycle
// layers onto HTTP statuses. Anything unrecognized is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, diag.ErrSessionActive), errors.Is(err, diag.ErrNoActiveSession):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, diag.ErrOutOfBounds), errors.Is(err, diag.ErrNotGridSession):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionFilter{
		Type:   models.SessionType(q.Get("type")),
		Status: models.SessionStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		filter.Limit = n
	}

	sessions, err := s.store.ListSessions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*models.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// putSession upserts a full session under the id in the path. Sync uploads
// land here, so the body carries the whole unit: touch points, grid cells,
// and faulty areas.
func (s *Server) putSession(w http.ResponseWriter, r *http.Request) {
	var sess models.DiagnosticSession
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sess.ID = r.PathValue("id")
	if sess.Type == "" {
		writeError(w, http.StatusBadRequest, "session type is required")
		return
	}

	if err := s.store.SaveSession(r.Context(), &sess); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionHeatmap(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	bin := defaultHeatmapBin
	if v := r.URL.Query().Get("bin"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, "invalid bin size: "+v)
			return
		}
		bin = f
	}

	res, err := heatmap.Build(sess.TouchPoints, heatmap.Options{
		Width:    sess.ViewportW,
		Height:   sess.ViewportH,
		CellSize: bin,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sessionReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Build(sess, s.catalog))
}

// --- Runs ---

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        string  `json:"type"`
		DeviceModel string  `json:"device_model"`
		ViewportW   float64 `json:"viewport_w"`
		ViewportH   float64 `json:"viewport_h"`
		Rows        int     `json:"rows"`
		Cols        int     `json:"cols"`
		GhostRule   string  `json:"ghost_rule"`
		Replace     bool    `json:"replace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rule, err := ghostRuleFor(req.GhostRule)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	active, err := s.manager.Start(diag.StartOptions{
		Type:        models.SessionType(req.Type),
		DeviceModel: req.DeviceModel,
		ViewportW:   req.ViewportW,
		ViewportH:   req.ViewportH,
		Rows:        req.Rows,
		Cols:        req.Cols,
		Replace:     req.Replace,
	})
	if err != nil {
		if errors.Is(err, diag.ErrSessionActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.rule = rule
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, active.Snapshot())
}

func (s *Server) activeRun(w http.ResponseWriter, r *http.Request) {
	active := s.manager.Active()
	if active == nil {
		writeDomainError(w, diag.ErrNoActiveSession)
		return
	}
	writeJSON(w, http.StatusOK, active.Snapshot())
}

func (s *Server) recordTouches(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points []struct {
			X           float64 `json:"x"`
			Y           float64 `json:"y"`
			TimestampMS int64   `json:"timestamp_ms"`
			Pressure    float64 `json:"pressure"`
			Slot        int     `json:"slot"`
			IsGhost     bool    `json:"is_ghost"`
		} `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	active := s.manager.Active()
	if active == nil {
		writeDomainError(w, diag.ErrNoActiveSession)
		return
	}

	s.mu.Lock()
	rule := s.rule
	s.mu.Unlock()

	recorded := 0
	for _, p := range req.Points {
		err := active.RecordTouch(models.TouchPoint{
			X:           p.X,
			Y:           p.Y,
			TimestampMS: p.TimestampMS,
			Pressure:    p.Pressure,
			Slot:        p.Slot,
			IsGhost:     p.IsGhost,
		}, rule)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		recorded++
	}
	writeJSON(w, http.StatusOK, map[string]int{"recorded": recorded})
}

func (s *Server) markCell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Row    int    `json:"row"`
		Col    int    `json:"col"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	status := models.CellStatus(req.Status)
	switch status {
	case models.CellStatusUntested, models.CellStatusOK, models.CellStatusFaulty, models.CellStatusGhost:
	default:
		writeError(w, http.StatusBadRequest, "unknown cell status: "+req.Status)
		return
	}

	active := s.manager.Active()
	if active == nil {
		writeDomainError(w, diag.ErrNoActiveSession)
		return
	}
	if err := active.MarkCell(req.Row, req.Col, status); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, active.Snapshot().CellAt(req.Row, req.Col))
}

func (s *Server) endRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	active := s.manager.Active()
	if active == nil {
		writeDomainError(w, diag.ErrNoActiveSession)
		return
	}
	sess, err := active.End(r.Context(), req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// cancelRun discards the active run. Cancelling when nothing is active is
// not an error; the slot is empty either way.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if active := s.manager.Active(); active != nil {
		active.Cancel()
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Zones ---

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	zs := []zones.Zone{}
	if s.catalog != nil {
		zs = s.catalog.All()
	}
	writeJSON(w, http.StatusOK, zs)
}

func (s *Server) getZone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.catalog != nil {
		if z, ok := s.catalog.Lookup(zones.ID(id)); ok {
			writeJSON(w, http.StatusOK, z)
			return
		}
	}
	writeError(w, http.StatusNotFound, "zone not found: "+id)
}

// --- Status ---

type activeRunInfo struct {
	ID        string             `json:"id"`
	Type      models.SessionType `json:"type"`
	StartedAt time.Time          `json:"started_at"`
	Touches   int                `json:"touches"`
}

type statusResponse struct {
	Sessions store.SessionCounts `json:"sessions"`
	Active   *activeRunInfo      `json:"active"`
}

func (s *Server) statusOverview(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountSessions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := statusResponse{Sessions: counts}
	if active := s.manager.Active(); active != nil {
		snap := active.Snapshot()
		resp.Active = &activeRunInfo{
			ID:        snap.ID,
			Type:      snap.Type,
			StartedAt: snap.StartedAt,
			Touches:   len(snap.TouchPoints),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ghostRuleFor maps a wire-level rule name to a classification strategy. The
// empty name keeps whatever per-point flags the client sent.
func ghostRuleFor(name string) (diag.GhostRule, error) {
	switch name {
	case "":
		return nil, nil
	case "all":
		return diag.GhostAll, nil
	case "none":
		return diag.GhostNone, nil
	default:
		return nil, fmt.Errorf("unknown ghost rule: %q", name)
	}
}
