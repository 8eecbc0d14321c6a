package session

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// RefreshExpiringSessions walks the session store and refreshes token
// material that is about to expire, so credentials stay fresh without user
// interaction. Individual failures are logged and skipped; a stale session
// is kept rather than dropped.
func (m *Manager) RefreshExpiringSessions(ctx context.Context) error {
	sessions, err := m.sessions.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	for _, s := range sessions {
		if !m.shouldRefresh(s) {
			continue
		}

		if _, err := m.RefreshSession(ctx, s.DID); err != nil {
			slogctx.Warn(ctx, "Could not refresh session", "did", s.DID, "error", err)
			continue
		}

		slogctx.Info(ctx, "Refreshed session tokens", "did", s.DID)
	}

	return nil
}

func (m *Manager) shouldRefresh(s Session) bool {
	return time.Until(s.Tokens.Expiry) < m.expiryWindow
}
