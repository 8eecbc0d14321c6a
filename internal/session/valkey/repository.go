package sessionvalkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/hypercerts-org/sessiond/internal/serviceerr"
	"github.com/hypercerts-org/sessiond/internal/session"
)

const (
	objectTypeState   = "oauth-state"
	objectTypeSession = "session"
)

// Repository implements session.Repository on top of valkey. Handshake
// states carry a TTL so abandoned sign-in attempts expire on their own;
// sessions are stored without one.
type Repository struct {
	store    *store
	stateTTL time.Duration
}

var _ session.Repository = &Repository{}

func NewRepository(valkeyClient valkey.Client, prefix string, stateTTL time.Duration) *Repository {
	return &Repository{
		store:    newStore(valkeyClient, prefix),
		stateTTL: stateTTL,
	}
}

func (r *Repository) StoreState(ctx context.Context, state session.HandshakeState) error {
	if err := r.store.Set(ctx, objectTypeState, state.Nonce, state, r.stateTTL); err != nil {
		return fmt.Errorf("storing handshake state: %w", err)
	}

	return nil
}

func (r *Repository) LoadState(ctx context.Context, nonce string) (session.HandshakeState, error) {
	var state session.HandshakeState
	if err := r.store.Get(ctx, objectTypeState, nonce, &state); err != nil {
		return session.HandshakeState{}, fmt.Errorf("loading handshake state: %w", err)
	}

	if state.Version != session.SchemaVersion {
		return session.HandshakeState{}, fmt.Errorf("%w: state schema version %d", serviceerr.ErrMalformedRecord, state.Version)
	}

	return state, nil
}

func (r *Repository) DeleteState(ctx context.Context, nonce string) error {
	if err := r.store.Destroy(ctx, objectTypeState, nonce); err != nil {
		return fmt.Errorf("deleting handshake state: %w", err)
	}

	return nil
}

func (r *Repository) StoreSession(ctx context.Context, sess session.Session) error {
	if err := r.store.Set(ctx, objectTypeSession, sess.DID, sess, 0); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	return nil
}

func (r *Repository) LoadSession(ctx context.Context, did string) (session.Session, error) {
	var sess session.Session
	if err := r.store.Get(ctx, objectTypeSession, did, &sess); err != nil {
		return session.Session{}, fmt.Errorf("loading session: %w", err)
	}

	if sess.Version != session.SchemaVersion {
		return session.Session{}, fmt.Errorf("%w: session schema version %d", serviceerr.ErrMalformedRecord, sess.Version)
	}

	return sess, nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session
	if err := getStoreObjects(ctx, r.store, objectTypeSession, &sessions); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	return sessions, nil
}

func (r *Repository) DeleteSession(ctx context.Context, did string) error {
	if err := r.store.Destroy(ctx, objectTypeSession, did); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}
