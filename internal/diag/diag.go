// Package diag owns the diagnostic session lifecycle: starting a run,
// recording touches and cell marks against it, and finalizing or discarding
// it. At most one session is active per Manager at any time.
package diag

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"tsdiag/internal/grid"
	"tsdiag/internal/models"
)

var (
	// ErrNoActiveSession is returned by lifecycle operations that require an
	// active session when none is.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionActive is returned by Start when a session is already active
	// and replacement was not requested.
	ErrSessionActive = errors.New("a session is already active")

	// ErrOutOfBounds is returned by MarkCell for coordinates outside the grid.
	ErrOutOfBounds = errors.New("cell out of bounds")

	// ErrNotGridSession is returned by MarkCell on non-grid sessions.
	ErrNotGridSession = errors.New("not a grid session")
)

// GhostRule decides whether a touch is classified as a ghost at record time.
// The rule is an explicit strategy chosen by the caller per test mode, never
// inferred from the session type here.
type GhostRule func(p models.TouchPoint) bool

// GhostAll marks every touch as ghost. Monitor mode runs with no physical
// contact, so any registration is a ghost by definition.
func GhostAll(models.TouchPoint) bool { return true }

// GhostNone marks no touches as ghost; grid and multi-touch flows record
// raw contact.
func GhostNone(models.TouchPoint) bool { return false }

// Config carries the startup constants the lifecycle consumes. Values are
// fixed for the life of the Manager.
type Config struct {
	GridRows  int
	GridCols  int
	ViewportW float64
	ViewportH float64
	GhostGap  time.Duration // max gap between touches within one ghost burst
}

// Defaults applied by NewManager for unset Config fields.
const (
	DefaultGridRows  = 6
	DefaultGridCols  = 4
	DefaultViewportW = 1080
	DefaultViewportH = 2340
	DefaultGhostGap  = 150 * time.Millisecond
)

// SessionStore is the subset of the store needed to finalize sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, sess *models.DiagnosticSession) error
}

// Manager owns the single active session slot and the in-process history of
// completed runs. Methods are safe for concurrent use so the HTTP API can
// drive live runs; CLI use stays single-threaded.
type Manager struct {
	store SessionStore
	cfg   Config

	mu      sync.Mutex
	active  *ActiveSession
	history []*models.DiagnosticSession
}

// NewManager creates a lifecycle manager. The store may be nil for purely
// in-memory use; End then skips persistence.
func NewManager(s SessionStore, cfg Config) *Manager {
	if cfg.GridRows <= 0 {
		cfg.GridRows = DefaultGridRows
	}
	if cfg.GridCols <= 0 {
		cfg.GridCols = DefaultGridCols
	}
	if cfg.ViewportW <= 0 {
		cfg.ViewportW = DefaultViewportW
	}
	if cfg.ViewportH <= 0 {
		cfg.ViewportH = DefaultViewportH
	}
	if cfg.GhostGap <= 0 {
		cfg.GhostGap = DefaultGhostGap
	}
	return &Manager{store: s, cfg: cfg}
}

// StartOptions configures a new session. Zero viewport or grid dimensions
// fall back to the Manager's config.
type StartOptions struct {
	Type        models.SessionType
	DeviceModel string
	ViewportW   float64
	ViewportH   float64
	Rows        int // grid sessions only
	Cols        int
	Replace     bool // cancel a currently active session instead of failing
}

// ActiveSession is the handle for the one in-flight session. It is returned
// by Start and threaded through all subsequent lifecycle calls; once ended
// or cancelled, every mutation fails with ErrNoActiveSession.
type ActiveSession struct {
	m      *Manager
	sess   *models.DiagnosticSession
	closed bool
}

// Start begins a new diagnostic session and returns its handle. It fails
// with ErrSessionActive while another session is active, unless
// opts.Replace is set, in which case the current session is cancelled
// (discarded, not persisted) first. Grid sessions get their full untested
// cell matrix allocated here.
func (m *Manager) Start(opts StartOptions) (*ActiveSession, error) {
	switch opts.Type {
	case models.SessionTypeGrid, models.SessionTypeGhostMonitor, models.SessionTypeMultiTouch:
	default:
		return nil, fmt.Errorf("unknown session type: %q", opts.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if !opts.Replace {
			return nil, fmt.Errorf("start %s session: %w", opts.Type, ErrSessionActive)
		}
		m.active.discardLocked()
	}

	w, h := opts.ViewportW, opts.ViewportH
	if w <= 0 {
		w = m.cfg.ViewportW
	}
	if h <= 0 {
		h = m.cfg.ViewportH
	}

	sess := &models.DiagnosticSession{
		ID:          newULID(),
		Type:        opts.Type,
		Status:      models.SessionStatusActive,
		DeviceModel: opts.DeviceModel,
		ViewportW:   w,
		ViewportH:   h,
		StartedAt:   time.Now().UTC(),
	}

	if opts.Type == models.SessionTypeGrid {
		rows, cols := opts.Rows, opts.Cols
		if rows <= 0 {
			rows = m.cfg.GridRows
		}
		if cols <= 0 {
			cols = m.cfg.GridCols
		}
		if rows <= 0 || cols <= 0 {
			return nil, fmt.Errorf("grid session needs positive dimensions, got %dx%d", rows, cols)
		}
		sess.GridRows = rows
		sess.GridCols = cols
		sess.GridCells = grid.NewCells(rows, cols)
	}

	a := &ActiveSession{m: m, sess: sess}
	m.active = a
	return a, nil
}

// Active returns the current session handle, or nil when none is active.
func (m *Manager) Active() *ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// History returns completed sessions from this process, most recent first.
func (m *Manager) History() []*models.DiagnosticSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.DiagnosticSession, len(m.history))
	copy(out, m.history)
	return out
}

// Session exposes the underlying session. The recorder owns it until End;
// callers must treat it as read-only.
func (a *ActiveSession) Session() *models.DiagnosticSession {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	return a.sess
}

// Snapshot returns a copy of the session that is safe to read while
// recording continues on other goroutines.
func (a *ActiveSession) Snapshot() *models.DiagnosticSession {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	cp := *a.sess
	cp.TouchPoints = append([]models.TouchPoint(nil), a.sess.TouchPoints...)
	cp.GridCells = append([]models.GridCell(nil), a.sess.GridCells...)
	cp.FaultyAreas = append([]models.FaultyArea(nil), a.sess.FaultyAreas...)
	return &cp
}

// ID returns the session id.
func (a *ActiveSession) ID() string {
	return a.Session().ID
}

// RecordTouch appends a touch point in arrival order. The rule classifies
// the point's ghost flag; a nil rule keeps the flag the caller set. Points
// get an id assigned when they arrive without one.
func (a *ActiveSession) RecordTouch(p models.TouchPoint, rule GhostRule) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	if a.closed {
		return fmt.Errorf("record touch: %w", ErrNoActiveSession)
	}
	if p.ID == "" {
		p.ID = newULID()
	}
	if rule != nil {
		p.IsGhost = rule(p)
	}
	a.sess.TouchPoints = append(a.sess.TouchPoints, p)
	return nil
}

// MarkCell sets a grid cell's status, increments its touch count, and stamps
// the touch time. Repeated calls keep incrementing the count and always end
// at the given status. Coordinates outside the grid fail with ErrOutOfBounds
// and leave all cells unchanged.
func (a *ActiveSession) MarkCell(row, col int, status models.CellStatus) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	if a.closed {
		return fmt.Errorf("mark cell: %w", ErrNoActiveSession)
	}
	if a.sess.Type != models.SessionTypeGrid {
		return fmt.Errorf("mark cell on %s session: %w", a.sess.Type, ErrNotGridSession)
	}
	if row < 0 || row >= a.sess.GridRows || col < 0 || col >= a.sess.GridCols {
		return fmt.Errorf("mark cell (%d,%d) in %dx%d grid: %w",
			row, col, a.sess.GridRows, a.sess.GridCols, ErrOutOfBounds)
	}

	cell := a.sess.CellAt(row, col)
	now := time.Now().UTC()
	cell.Status = status
	cell.TouchCount++
	cell.LastTouchedAt = &now
	return nil
}

// AddFaultyArea appends a caller-supplied faulty area. Areas added here are
// kept alongside the ones derived at finalize.
func (a *ActiveSession) AddFaultyArea(area models.FaultyArea) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	if a.closed {
		return fmt.Errorf("add faulty area: %w", ErrNoActiveSession)
	}
	if area.ID == "" {
		area.ID = newULID()
	}
	a.sess.FaultyAreas = append(a.sess.FaultyAreas, area)
	return nil
}

// End finalizes the session: derives faulty areas from the collected cells
// and ghost touches, stamps the end time, attaches notes, persists the whole
// session as one unit, records it in the manager history, and clears the
// active slot. On a persistence failure the session is still finalized
// locally and returned alongside the wrapped error so the caller can retry
// the save.
func (a *ActiveSession) End(ctx context.Context, notes string) (*models.DiagnosticSession, error) {
	a.m.mu.Lock()

	if a.closed {
		a.m.mu.Unlock()
		return nil, fmt.Errorf("end session: %w", ErrNoActiveSession)
	}

	sess := a.sess
	now := time.Now().UTC()
	sess.Status = models.SessionStatusCompleted
	sess.EndedAt = &now
	sess.Notes = notes
	sess.FaultyAreas = append(sess.FaultyAreas, a.m.deriveAreas(sess)...)

	a.closed = true
	a.m.active = nil
	a.m.history = append([]*models.DiagnosticSession{sess}, a.m.history...)
	store := a.m.store
	a.m.mu.Unlock()

	if store != nil {
		if err := store.SaveSession(ctx, sess); err != nil {
			return sess, fmt.Errorf("persist session %s: %w", sess.ID, err)
		}
	}
	return sess, nil
}

// Cancel discards the session without persisting anything and clears the
// active slot. It is idempotent and safe to call after End.
func (a *ActiveSession) Cancel() {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.discardLocked()
}

// discardLocked marks the handle closed and releases the active slot.
// Callers must hold m.mu.
func (a *ActiveSession) discardLocked() {
	if a.closed {
		return
	}
	now := time.Now().UTC()
	a.sess.Status = models.SessionStatusCancelled
	a.sess.EndedAt = &now
	a.closed = true
	if a.m.active == a {
		a.m.active = nil
	}
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}
