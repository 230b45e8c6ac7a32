package diag

import (
	"context"
	"errors"
	"time"

	"tsdiag/internal/models"
)

// Countdown runs the session for the given duration and then finalizes it
// via End. The tick callback, when non-nil, fires once per second with the
// remaining time so callers can render progress. If the session is cancelled
// from elsewhere while the clock runs, Countdown returns (nil, nil). Context
// cancellation returns the context error with the session left active, so
// the caller chooses whether to finalize early or discard.
func (a *ActiveSession) Countdown(ctx context.Context, d time.Duration, notes string, tick func(remaining time.Duration)) (*models.DiagnosticSession, error) {
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for d > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				d = 0
				continue
			}
			if tick != nil {
				tick(remaining.Round(time.Second))
			}
		}
	}

	sess, err := a.End(ctx, notes)
	if errors.Is(err, ErrNoActiveSession) {
		return nil, nil
	}
	return sess, err
}
