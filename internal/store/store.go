package store

import (
	"context"
	"errors"
	"time"

	"tsdiag/internal/models"
)

// ErrSessionNotFound is returned when a session id matches nothing.
var ErrSessionNotFound = errors.New("session not found")

// SessionFilter specifies filters for listing sessions.
type SessionFilter struct {
	Type   models.SessionType
	Status models.SessionStatus
	Limit  int
}

// SessionCounts summarizes the stored sessions for status output.
type SessionCounts struct {
	Total    int
	ByType   map[models.SessionType]int
	ByStatus map[models.SessionStatus]int
}

// Store defines the persistence interface for tsdiag. Sessions are saved
// and loaded whole: touch points, grid cells, and faulty areas travel with
// their session as one unit.
type Store interface {
	SaveSession(ctx context.Context, sess *models.DiagnosticSession) error
	GetSession(ctx context.Context, id string) (*models.DiagnosticSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.SessionSummary, error)
	DeleteSession(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, id, remoteID string, syncedAt time.Time) error
	CountSessions(ctx context.Context) (SessionCounts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
