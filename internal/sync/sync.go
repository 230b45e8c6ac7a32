// Package sync pushes finished diagnostic sessions to a remote endpoint
// and pulls them back down on other machines. The remote speaks the same
// REST API that `tsdiag serve` exposes locally, so any serve instance can
// act as a fleet hub.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tsdiag/internal/models"
	"tsdiag/internal/store"
)

// ErrNotConfigured is returned when no remote endpoint is set.
var ErrNotConfigured = errors.New("sync endpoint not configured")

// Config holds the remote endpoint settings.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// Client talks to a remote session endpoint.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a sync client. The endpoint may be empty; calls on an
// unconfigured client fail with ErrNotConfigured.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.Endpoint, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a remote endpoint is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Upload sends one session to the remote and returns the id the remote
// stored it under.
func (c *Client) Upload(ctx context.Context, sess *models.DiagnosticSession) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/v1/sessions/"+sess.ID, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload session %s: %w", sess.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload session %s: HTTP %d", sess.ID, resp.StatusCode)
	}

	var stored models.DiagnosticSession
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if stored.ID == "" {
		return sess.ID, nil
	}
	return stored.ID, nil
}

// List fetches the remote's session summaries.
func (c *Client) List(ctx context.Context) ([]*models.SessionSummary, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list remote sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list remote sessions: HTTP %d", resp.StatusCode)
	}

	var summaries []*models.SessionSummary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		return nil, fmt.Errorf("decode session list: %w", err)
	}
	return summaries, nil
}

// Pull fetches one full session from the remote.
func (c *Client) Pull(ctx context.Context, id string) (*models.DiagnosticSession, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/sessions/"+id, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull session %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("pull session %s: %w", id, store.ErrSessionNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull session %s: HTTP %d", id, resp.StatusCode)
	}

	var sess models.DiagnosticSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// PushResult summarizes one push run.
type PushResult struct {
	Uploaded int
	Skipped  int
	Failed   []PushFailure
}

// PushFailure records a session that could not be uploaded.
type PushFailure struct {
	SessionID string
	Err       error
}

// Push uploads every completed session that has not been synced yet and
// records the remote id and sync time in the local store. Per-session
// failures are collected rather than aborting the run.
func (c *Client) Push(ctx context.Context, st store.Store) (*PushResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	summaries, err := st.ListSessions(ctx, store.SessionFilter{Status: models.SessionStatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	result := &PushResult{}
	for _, sum := range summaries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if sum.SyncedAt != nil {
			result.Skipped++
			continue
		}

		sess, err := st.GetSession(ctx, sum.ID)
		if err != nil {
			result.Failed = append(result.Failed, PushFailure{SessionID: sum.ID, Err: err})
			continue
		}
		remoteID, err := c.Upload(ctx, sess)
		if err != nil {
			result.Failed = append(result.Failed, PushFailure{SessionID: sum.ID, Err: err})
			continue
		}
		if err := st.MarkSynced(ctx, sum.ID, remoteID, time.Now().UTC()); err != nil {
			result.Failed = append(result.Failed, PushFailure{SessionID: sum.ID, Err: err})
			continue
		}
		result.Uploaded++
	}
	return result, nil
}
