package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"tsdiag/internal/heatmap"
	"tsdiag/internal/models"
	"tsdiag/internal/report"
	"tsdiag/internal/store"
	"tsdiag/internal/zones"
)

// Server wraps the tsdiag data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	catalog *zones.Catalog
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, catalog *zones.Catalog) *Server {
	return &Server{
		store:   s,
		catalog: catalog,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tsdiag", "1.0.0", server.WithToolCapabilities(true))

	// Register all tools
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.getSessionTool())
	srv.AddTool(s.sessionReportTool())
	srv.AddTool(s.heatmapTool())
	srv.AddTool(s.listZonesTool())
	srv.AddTool(s.zoneInfoTool())
	srv.AddTool(s.deleteSessionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// tsdiag_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tsdiag_list_sessions",
		mcp.WithDescription("List recorded diagnostic sessions, newest first. Returns a JSON array with id, type (grid/ghost_monitor/multi_touch), status (active/completed/cancelled), device model, timestamps, and touch/faulty-area counts."),
		mcp.WithString("type", mcp.Description("Filter by session type: grid, ghost_monitor, multi_touch")),
		mcp.WithString("status", mcp.Description("Filter by status: active, completed, cancelled")),
		mcp.WithString("limit", mcp.Description("Maximum number of sessions to return")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionFilter{
		Type:   models.SessionType(request.GetString("type", "")),
		Status: models.SessionStatus(request.GetString("status", "")),
	}
	if limit := request.GetString("limit", ""); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid limit: %s", limit)), nil
		}
		filter.Limit = n
	}

	summaries, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		Status          string `json:"status"`
		DeviceModel     string `json:"device_model,omitempty"`
		StartedAt       string `json:"started_at"`
		EndedAt         string `json:"ended_at,omitempty"`
		TouchCount      int    `json:"touch_count"`
		FaultyAreaCount int    `json:"faulty_area_count"`
		SyncedAt        string `json:"synced_at,omitempty"`
	}

	out := make([]sessionOut, len(summaries))
	for i, sum := range summaries {
		out[i] = sessionOut{
			ID:              sum.ID,
			Type:            string(sum.Type),
			Status:          string(sum.Status),
			DeviceModel:     sum.DeviceModel,
			StartedAt:       sum.StartedAt.Format(time.RFC3339),
			TouchCount:      sum.TouchCount,
			FaultyAreaCount: sum.FaultyAreaCount,
		}
		if sum.EndedAt != nil {
			out[i].EndedAt = sum.EndedAt.Format(time.RFC3339)
		}
		if sum.SyncedAt != nil {
			out[i].SyncedAt = sum.SyncedAt.Format(time.RFC3339)
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tsdiag_get_session
func (s *Server) getSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tsdiag_get_session",
		mcp.WithDescription("Get one diagnostic session: device info, grid cell states, faulty areas with hardware zone attribution, and touch counts. Raw touch points are summarized, not returned; use tsdiag_heatmap for spatial detail."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID (full ULID or unique prefix)")),
	)
	return tool, s.handleGetSession
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.findSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ghosts := 0
	for _, p := range sess.TouchPoints {
		if p.IsGhost {
			ghosts++
		}
	}

	type cellOut struct {
		Row        int    `json:"row"`
		Col        int    `json:"col"`
		Status     string `json:"status"`
		TouchCount int    `json:"touch_count"`
	}
	type areaOut struct {
		ID            string  `json:"id"`
		Label         string  `json:"label"`
		XPercent      float64 `json:"x_percent"`
		YPercent      float64 `json:"y_percent"`
		WidthPercent  float64 `json:"width_percent"`
		HeightPercent float64 `json:"height_percent"`
		Severity      string  `json:"severity"`
		HardwareZone  string  `json:"hardware_zone,omitempty"`
	}

	cells := make([]cellOut, len(sess.GridCells))
	for i, c := range sess.GridCells {
		cells[i] = cellOut{Row: c.Row, Col: c.Col, Status: string(c.Status), TouchCount: c.TouchCount}
	}
	areas := make([]areaOut, len(sess.FaultyAreas))
	for i, a := range sess.FaultyAreas {
		areas[i] = areaOut{
			ID:            a.ID,
			Label:         a.Label,
			XPercent:      a.XPercent,
			YPercent:      a.YPercent,
			WidthPercent:  a.WidthPercent,
			HeightPercent: a.HeightPercent,
			Severity:      string(a.Severity),
			HardwareZone:  a.HardwareZone,
		}
	}

	result := map[string]any{
		"id":           sess.ID,
		"type":         string(sess.Type),
		"status":       string(sess.Status),
		"device_model": sess.DeviceModel,
		"viewport_w":   sess.ViewportW,
		"viewport_h":   sess.ViewportH,
		"grid_rows":    sess.GridRows,
		"grid_cols":    sess.GridCols,
		"notes":        sess.Notes,
		"started_at":   sess.StartedAt.Format(time.RFC3339),
		"touch_count":  len(sess.TouchPoints),
		"ghost_count":  ghosts,
		"grid_cells":   cells,
		"faulty_areas": areas,
	}
	if sess.EndedAt != nil {
		result["ended_at"] = sess.EndedAt.Format(time.RFC3339)
	}
	if sess.SyncedAt != nil {
		result["synced_at"] = sess.SyncedAt.Format(time.RFC3339)
		result["remote_id"] = sess.RemoteID
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tsdiag_session_report
func (s *Server) sessionReportTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tsdiag_session_report",
		mcp.WithDescription("Build the diagnostic report for a session: 0-100 screen health score with component breakdown, verdict (healthy/suspect/defective), and per-zone findings joined with repair steps from the hardware catalog."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID (full ULID or unique prefix)")),
	)
	return tool, s.handleSessionReport
}

func (s *Server) handleSessionReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.findSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rep := report.Build(sess, s.catalog)

	type findingOut struct {
		ZoneID      string   `json:"zone_id"`
		ZoneLabel   string   `json:"zone_label"`
		Description string   `json:"description,omitempty"`
		Count       int      `json:"count"`
		Worst       string   `json:"worst_severity"`
		Labels      []string `json:"labels"`
		RepairSteps []string `json:"repair_steps,omitempty"`
	}

	findings := make([]findingOut, len(rep.Findings))
	for i, f := range rep.Findings {
		findings[i] = findingOut{
			ZoneID:      string(f.Zone.ID),
			ZoneLabel:   f.Zone.Label,
			Description: f.Zone.Description,
			Count:       f.Count,
			Worst:       string(f.Worst),
			Labels:      f.Labels,
			RepairSteps: f.Zone.RepairSteps,
		}
	}

	result := map[string]any{
		"session_id": sess.ID,
		"type":       string(sess.Type),
		"verdict":    string(rep.Verdict),
		"score": map[string]any{
			"total":          rep.Score.Total,
			"coverage":       rep.Score.Coverage,
			"cell_health":    rep.Score.CellHealth,
			"ghost_activity": rep.Score.GhostActivity,
			"area_impact":    rep.Score.AreaImpact,
		},
		"findings":     findings,
		"generated_at": rep.GeneratedAt.Format(time.RFC3339),
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tsdiag_heatmap
func (s *Server) heatmapTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tsdiag_heatmap",
		mcp.WithDescription("Aggregate a session's touch points into a spatial density grid. Returns bin dimensions and the non-empty cells with counts and normalized intensity. Useful for locating where on the screen ghost activity concentrates."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID (full ULID or unique prefix)")),
		mcp.WithString("bin", mcp.Description("Bin edge length in viewport units (default 40)")),
	)
	return tool, s.handleHeatmap
}

func (s *Server) handleHeatmap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.findSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	bin := 40.0
	if v := request.GetString("bin", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid bin size: %s", v)), nil
		}
		bin = f
	}

	res, err := heatmap.Build(sess.TouchPoints, heatmap.Options{
		Width:    sess.ViewportW,
		Height:   sess.ViewportH,
		CellSize: bin,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build heatmap: %v", err)), nil
	}

	type binOut struct {
		Row       int     `json:"row"`
		Col       int     `json:"col"`
		Count     int     `json:"count"`
		Intensity float64 `json:"intensity"`
	}

	bins := make([]binOut, len(res.Cells))
	for i, c := range res.Cells {
		bins[i] = binOut{Row: c.Row, Col: c.Col, Count: c.Count, Intensity: c.Intensity}
	}

	result := map[string]any{
		"session_id": sess.ID,
		"rows":       res.Rows,
		"cols":       res.Cols,
		"cell_size":  res.CellSize,
		"max_count":  res.MaxCount,
		"cells":      bins,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal heatmap: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tsdiag_list_zones
func (s *Server) listZonesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tsdiag_list_zones",
		mcp.WithDescription("List the hardware zone catalog: the physical screen regions and components faulty areas are attributed to, each with typical severity and repair steps."),
	)
	return tool, s.handleListZones
}

func (s *Server) handleListZones(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type zoneOut struct {
		ID          string   `json:"id"`
		Label       string   `json:"label"`
		Description string   `json:"description"`
		Severity    string   `json:"severity"`
		RepairSteps []string `json:"repair_steps"`
	}

	var out []zoneOut
	if s.catalog != nil {
		all := s.catalog.All()
		out = make([]zoneOut, len(all))
		for i, z := range all {
			out[i] = zoneOut{
				ID:          string(z.ID),
				Label:       z.Label,
				Description: z.Description,
				Severity:    z.Severity,
				RepairSteps: z.RepairSteps,
			}
		}
	}
	if out == nil {
		out = []zoneOut{}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal zones: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tsdiag_zone_info
func (s *Server) zoneInfoTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tsdiag_zone_info",
		mcp.WithDescription("Get one hardware zone from the catalog by id, including its repair steps."),
		mcp.WithString("zone", mcp.Required(), mcp.Description("Zone id, e.g. digitizer_top or lcd_connector")),
	)
	return tool, s.handleZoneInfo
}

func (s *Server) handleZoneInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	zoneID, err := request.RequireString("zone")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: zone"), nil
	}

	if s.catalog == nil {
		return mcp.NewToolResultError(fmt.Sprintf("zone not found: %s", zoneID)), nil
	}
	z, ok := s.catalog.Lookup(zones.ID(zoneID))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("zone not found: %s", zoneID)), nil
	}

	result := map[string]any{
		"id":           string(z.ID),
		"label":        z.Label,
		"description":  z.Description,
		"severity":     z.Severity,
		"repair_steps": z.RepairSteps,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal zone: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tsdiag_delete_session
func (s *Server) deleteSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tsdiag_delete_session",
		mcp.WithDescription("Delete a diagnostic session and all its touch points, grid cells, and faulty areas. This cannot be undone."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID (full ULID or unique prefix)")),
	)
	return tool, s.handleDeleteSession
}

func (s *Server) handleDeleteSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.findSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete session: %v", err)), nil
	}

	result := map[string]any{
		"deleted": sess.ID,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// findSession finds a session by full ID or unique prefix.
func (s *Server) findSession(ctx context.Context, id string) (*models.DiagnosticSession, error) {
	// Try exact match first
	if sess, err := s.store.GetSession(ctx, id); err == nil {
		return sess, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	summaries, err := s.store.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, sum := range summaries {
		if strings.HasPrefix(sum.ID, upper) {
			matches = append(matches, sum.ID)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("session not found: %s", id)
	case 1:
		// Re-fetch to get points and cells loaded
		return s.store.GetSession(ctx, matches[0])
	default:
		return nil, fmt.Errorf("ambiguous session ID %s: matches %d sessions", id, len(matches))
	}
}
