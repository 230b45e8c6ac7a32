package models

import "time"

// SessionType represents the diagnostic mode a session was run in.
type SessionType string

const (
	SessionTypeGrid         SessionType = "grid"
	SessionTypeGhostMonitor SessionType = "ghost_monitor"
	SessionTypeMultiTouch   SessionType = "multi_touch"
)

// SessionStatus represents the lifecycle state of a diagnostic session.
// The only transitions are active → completed and active → cancelled; both
// are terminal.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// DiagnosticSession represents one bounded diagnostic run: the touch data it
// collected, the grid state (grid sessions only), and the faulty areas
// derived at finalize time. Completed sessions are immutable.
type DiagnosticSession struct {
	ID          string
	Type        SessionType
	Status      SessionStatus
	DeviceModel string
	ViewportW   float64 // container dimensions the coordinates are relative to
	ViewportH   float64
	GridRows    int // 0 for non-grid sessions
	GridCols    int
	Notes       string
	TouchPoints []TouchPoint // arrival order
	GridCells   []GridCell   // exactly GridRows×GridCols entries for grid sessions
	FaultyAreas []FaultyArea
	StartedAt   time.Time
	EndedAt     *time.Time
	SyncedAt    *time.Time // last successful remote upload
	RemoteID    string     // id assigned by the remote endpoint, if any
}

// SessionSummary is the list-view projection of a session: touch points and
// grid cells are omitted and replaced by counts.
type SessionSummary struct {
	ID              string
	Type            SessionType
	Status          SessionStatus
	DeviceModel     string
	StartedAt       time.Time
	EndedAt         *time.Time
	TouchCount      int
	FaultyAreaCount int
	SyncedAt        *time.Time
}

// CellAt returns a pointer to the grid cell at (row, col), or nil when the
// session has no such cell.
func (s *DiagnosticSession) CellAt(row, col int) *GridCell {
	if row < 0 || col < 0 || row >= s.GridRows || col >= s.GridCols {
		return nil
	}
	idx := row*s.GridCols + col
	if idx >= len(s.GridCells) {
		return nil
	}
	return &s.GridCells[idx]
}

// Duration returns the session length, using the current time for sessions
// that have not ended yet.
func (s *DiagnosticSession) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
