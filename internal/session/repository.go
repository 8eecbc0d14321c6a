package session

import "context"

// StateStore is the ephemeral store for in-flight handshakes. Entries
// expire on their own after the store's fixed TTL; an expired or absent
// nonce is serviceerr.ErrNotFound, never a transport error. Store
// unavailability is a hard failure of the enclosing sign-in attempt; there
// is deliberately no in-memory fallback since handshake state must survive
// across processes.
type StateStore interface {
	// StoreState persists the handshake under its nonce, overwriting any
	// prior value.
	StoreState(ctx context.Context, state HandshakeState) error
	// LoadState returns serviceerr.ErrNotFound for missing or expired nonces.
	LoadState(ctx context.Context, nonce string) (HandshakeState, error)
	// DeleteState is idempotent; deleting an absent nonce succeeds.
	DeleteState(ctx context.Context, nonce string) error
}

// SessionStore is the durable store for completed sessions, keyed by DID.
// No TTL; entries disappear only through DeleteSession.
type SessionStore interface {
	// StoreSession performs a full upsert of the session for its DID.
	StoreSession(ctx context.Context, sess Session) error
	// LoadSession returns serviceerr.ErrNotFound when no session exists.
	LoadSession(ctx context.Context, did string) (Session, error)
	// ListSessions returns every stored session, for the refresher job.
	ListSessions(ctx context.Context) ([]Session, error)
	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, did string) error
}

type Repository interface {
	StateStore
	SessionStore
}
