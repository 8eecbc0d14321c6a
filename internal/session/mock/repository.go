package sessionmock

import (
	"context"
	"sync"

	"github.com/hypercerts-org/sessiond/internal/serviceerr"
	"github.com/hypercerts-org/sessiond/internal/session"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory session.Repository for tests.
type Repository struct {
	mu       sync.Mutex
	states   map[string]session.HandshakeState
	sessions map[string]session.Session

	loadStateErr, storeStateErr, deleteStateErr       error
	loadSessionErr, storeSessionErr, deleteSessionErr error
	listSessionsErr                                   error
}

func WithState(state session.HandshakeState) RepositoryOption {
	return func(r *Repository) { r.states[state.Nonce] = state }
}
func WithSession(sess session.Session) RepositoryOption {
	return func(r *Repository) { r.sessions[sess.DID] = sess }
}
func WithLoadStateError(err error) RepositoryOption {
	return func(r *Repository) { r.loadStateErr = err }
}
func WithStoreStateError(err error) RepositoryOption {
	return func(r *Repository) { r.storeStateErr = err }
}
func WithDeleteStateError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteStateErr = err }
}
func WithLoadSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.loadSessionErr = err }
}
func WithStoreSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.storeSessionErr = err }
}
func WithDeleteSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteSessionErr = err }
}
func WithListSessionsError(err error) RepositoryOption {
	return func(r *Repository) { r.listSessionsErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		states:   make(map[string]session.HandshakeState),
		sessions: make(map[string]session.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) StoreState(_ context.Context, state session.HandshakeState) error {
	if r.storeStateErr != nil {
		return r.storeStateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.Nonce] = state
	return nil
}

func (r *Repository) LoadState(_ context.Context, nonce string) (session.HandshakeState, error) {
	if r.loadStateErr != nil {
		return session.HandshakeState{}, r.loadStateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[nonce]; ok {
		return state, nil
	}
	return session.HandshakeState{}, serviceerr.ErrNotFound
}

func (r *Repository) DeleteState(_ context.Context, nonce string) error {
	if r.deleteStateErr != nil {
		return r.deleteStateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, nonce)
	return nil
}

func (r *Repository) StoreSession(_ context.Context, sess session.Session) error {
	if r.storeSessionErr != nil {
		return r.storeSessionErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.DID] = sess
	return nil
}

func (r *Repository) LoadSession(_ context.Context, did string) (session.Session, error) {
	if r.loadSessionErr != nil {
		return session.Session{}, r.loadSessionErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[did]; ok {
		return s, nil
	}
	return session.Session{}, serviceerr.ErrNotFound
}

func (r *Repository) ListSessions(_ context.Context) ([]session.Session, error) {
	if r.listSessionsErr != nil {
		return nil, r.listSessionsErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *Repository) DeleteSession(_ context.Context, did string) error {
	if r.deleteSessionErr != nil {
		return r.deleteSessionErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, did)
	return nil
}

// States returns a copy of the stored handshake states.
func (r *Repository) States() map[string]session.HandshakeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make(map[string]session.HandshakeState, len(r.states))
	for k, v := range r.states {
		states[k] = v
	}
	return states
}

// Sessions returns a copy of the stored sessions.
func (r *Repository) Sessions() map[string]session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make(map[string]session.Session, len(r.sessions))
	for k, v := range r.sessions {
		sessions[k] = v
	}
	return sessions
}
