package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"tsdiag/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

// SaveSession writes the session and all of its touch points, grid cells,
// and faulty areas in a single transaction. Saving an existing id replaces
// the stored session wholesale.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *models.DiagnosticSession) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Replace wholesale; the cascade clears previous child rows.
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sess.ID); err != nil {
		return fmt.Errorf("clear session %s: %w", sess.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, type, status, device_model, viewport_w, viewport_h, grid_rows, grid_cols, notes, started_at, ended_at, synced_at, remote_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Type), string(sess.Status), sess.DeviceModel,
		sess.ViewportW, sess.ViewportH, sess.GridRows, sess.GridCols, sess.Notes,
		sess.StartedAt, sess.EndedAt, sess.SyncedAt, sess.RemoteID,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	for i, p := range sess.TouchPoints {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO touch_points (session_id, seq, point_id, x, y, timestamp_ms, pressure, slot, is_ghost)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, i, p.ID, p.X, p.Y, p.TimestampMS, p.Pressure, p.Slot, boolToInt(p.IsGhost),
		); err != nil {
			return fmt.Errorf("save touch point %d: %w", i, err)
		}
	}

	for _, c := range sess.GridCells {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO grid_cells (session_id, row_idx, col_idx, status, touch_count, last_touched_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, c.Row, c.Col, string(c.Status), c.TouchCount, c.LastTouchedAt,
		); err != nil {
			return fmt.Errorf("save grid cell (%d,%d): %w", c.Row, c.Col, err)
		}
	}

	for i := range sess.FaultyAreas {
		a := &sess.FaultyAreas[i]
		if a.ID == "" {
			a.ID = newULID()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO faulty_areas (session_id, id, seq, label, x_percent, y_percent, width_percent, height_percent, severity, hardware_zone)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, a.ID, i, a.Label, a.XPercent, a.YPercent, a.WidthPercent, a.HeightPercent,
			string(a.Severity), a.HardwareZone,
		); err != nil {
			return fmt.Errorf("save faulty area %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetSession loads a session with all of its touch points, grid cells, and
// faulty areas.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.DiagnosticSession, error) {
	sess := &models.DiagnosticSession{}
	var sessType, status string
	var endedAt, syncedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, status, device_model, viewport_w, viewport_h, grid_rows, grid_cols, notes, started_at, ended_at, synced_at, remote_id
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sessType, &status, &sess.DeviceModel, &sess.ViewportW, &sess.ViewportH,
		&sess.GridRows, &sess.GridCols, &sess.Notes, &sess.StartedAt, &endedAt, &syncedAt, &sess.RemoteID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.Type = models.SessionType(sessType)
	sess.Status = models.SessionStatus(status)
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	if syncedAt.Valid {
		sess.SyncedAt = &syncedAt.Time
	}

	if sess.TouchPoints, err = s.loadTouchPoints(ctx, id); err != nil {
		return nil, err
	}
	if sess.GridCells, err = s.loadGridCells(ctx, id); err != nil {
		return nil, err
	}
	if sess.FaultyAreas, err = s.loadFaultyAreas(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) loadTouchPoints(ctx context.Context, sessionID string) ([]models.TouchPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT point_id, x, y, timestamp_ms, pressure, slot, is_ghost
		FROM touch_points WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load touch points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []models.TouchPoint
	for rows.Next() {
		var p models.TouchPoint
		if err := rows.Scan(&p.ID, &p.X, &p.Y, &p.TimestampMS, &p.Pressure, &p.Slot, &p.IsGhost); err != nil {
			return nil, fmt.Errorf("scan touch point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *SQLiteStore) loadGridCells(ctx context.Context, sessionID string) ([]models.GridCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_idx, col_idx, status, touch_count, last_touched_at
		FROM grid_cells WHERE session_id = ? ORDER BY row_idx, col_idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load grid cells: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cells []models.GridCell
	for rows.Next() {
		var c models.GridCell
		var status string
		var touchedAt sql.NullTime
		if err := rows.Scan(&c.Row, &c.Col, &status, &c.TouchCount, &touchedAt); err != nil {
			return nil, fmt.Errorf("scan grid cell: %w", err)
		}
		c.Status = models.CellStatus(status)
		if touchedAt.Valid {
			c.LastTouchedAt = &touchedAt.Time
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

func (s *SQLiteStore) loadFaultyAreas(ctx context.Context, sessionID string) ([]models.FaultyArea, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, x_percent, y_percent, width_percent, height_percent, severity, hardware_zone
		FROM faulty_areas WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load faulty areas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var areas []models.FaultyArea
	for rows.Next() {
		var a models.FaultyArea
		var severity string
		if err := rows.Scan(&a.ID, &a.Label, &a.XPercent, &a.YPercent, &a.WidthPercent, &a.HeightPercent, &severity, &a.HardwareZone); err != nil {
			return nil, fmt.Errorf("scan faulty area: %w", err)
		}
		a.Severity = models.Severity(severity)
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

// ListSessions returns session summaries, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.SessionSummary, error) {
	query := `SELECT s.id, s.type, s.status, s.device_model, s.started_at, s.ended_at, s.synced_at,
		(SELECT COUNT(*) FROM touch_points tp WHERE tp.session_id = s.id),
		(SELECT COUNT(*) FROM faulty_areas fa WHERE fa.session_id = s.id)
		FROM sessions s`
	var conditions []string
	var args []any

	if filter.Type != "" {
		conditions = append(conditions, "s.type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		conditions = append(conditions, "s.status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY s.started_at DESC, s.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*models.SessionSummary
	for rows.Next() {
		sum := &models.SessionSummary{}
		var sessType, status string
		var endedAt, syncedAt sql.NullTime

		if err := rows.Scan(&sum.ID, &sessType, &status, &sum.DeviceModel, &sum.StartedAt,
			&endedAt, &syncedAt, &sum.TouchCount, &sum.FaultyAreaCount); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}

		sum.Type = models.SessionType(sessType)
		sum.Status = models.SessionStatus(status)
		if endedAt.Valid {
			sum.EndedAt = &endedAt.Time
		}
		if syncedAt.Valid {
			sum.SyncedAt = &syncedAt.Time
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// DeleteSession removes a session and all of its child rows.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// MarkSynced records a successful remote upload for a session.
func (s *SQLiteStore) MarkSynced(ctx context.Context, id, remoteID string, syncedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET synced_at = ?, remote_id = ? WHERE id = ?",
		syncedAt.UTC(), remoteID, id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// CountSessions tallies stored sessions by type and status.
func (s *SQLiteStore) CountSessions(ctx context.Context) (SessionCounts, error) {
	counts := SessionCounts{
		ByType:   make(map[models.SessionType]int),
		ByStatus: make(map[models.SessionStatus]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&counts.Total); err != nil {
		return counts, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM sessions GROUP BY type")
	if err != nil {
		return counts, fmt.Errorf("count sessions by type: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var sessType string
		var n int
		if err := rows.Scan(&sessType, &n); err != nil {
			return counts, fmt.Errorf("scan type count: %w", err)
		}
		counts.ByType[models.SessionType(sessType)] = n
	}
	if err := rows.Err(); err != nil {
		return counts, err
	}

	rows, err = s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM sessions GROUP BY status")
	if err != nil {
		return counts, fmt.Errorf("count sessions by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan status count: %w", err)
		}
		counts.ByStatus[models.SessionStatus(status)] = n
	}
	return counts, rows.Err()
}
