// Package sessionctl keeps a single identity's session alive on the
// client side. A Controller wraps the lifecycle operations behind a small
// state machine and serializes every transition, so callers can poke it
// from any goroutine without racing the background refresh.
package sessionctl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/hypercerts-org/sessiond/internal/serviceerr"
	"github.com/hypercerts-org/sessiond/internal/session"
)

// State is the controller's position in the session lifecycle.
type State int

const (
	// StateUninitialized means Restore has not run yet.
	StateUninitialized State = iota
	// StateRestoring is the transient state while a stored session is
	// being looked up.
	StateRestoring
	// StateSignedOut means no session is held.
	StateSignedOut
	// StateSignedIn means a session is held and kept fresh.
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRestoring:
		return "restoring"
	case StateSignedOut:
		return "signed-out"
	case StateSignedIn:
		return "signed-in"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SessionDeleted announces that a session was removed from the store,
// e.g. revoked from another device.
type SessionDeleted struct {
	SubjectID string
}

// Lifecycle is the subset of session operations the controller drives.
type Lifecycle interface {
	Authorize(ctx context.Context, hint, returnTo string) (string, error)
	Callback(ctx context.Context, params url.Values) (session.Session, string, error)
	RestoreSession(ctx context.Context, did string) (session.Session, error)
	RefreshSession(ctx context.Context, did string) (session.Session, error)
	RevokeSession(ctx context.Context, did string) error
}

type Option func(*Controller)

// WithRefreshInterval overrides how often a held session's tokens are
// refreshed in the background.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Controller) { c.refreshEvery = d }
}

// Controller owns the client-side view of one session. All state lives on
// a single event loop; exported methods post commands to it and wait, so
// transitions run to completion one at a time.
type Controller struct {
	lifecycle    Lifecycle
	refreshEvery time.Duration

	cmds   chan func()
	closed chan struct{}

	// loop-owned, never touched from outside the event loop
	state           State
	current         session.Session
	restored        bool
	refreshInFlight bool
	refreshTicker   *time.Ticker
}

func NewController(lifecycle Lifecycle, opts ...Option) *Controller {
	c := &Controller{
		lifecycle:    lifecycle,
		refreshEvery: 10 * time.Minute,
		cmds:         make(chan func()),
		closed:       make(chan struct{}),
		state:        StateUninitialized,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	// the ticker only runs while a session is held
	c.refreshTicker = time.NewTicker(c.refreshEvery)
	c.refreshTicker.Stop()

	go c.run()

	return c
}

// Close stops the event loop and the background refresh. The controller
// must not be used afterwards.
func (c *Controller) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

func (c *Controller) run() {
	defer c.refreshTicker.Stop()

	for {
		select {
		case cmd := <-c.cmds:
			cmd()
		case <-c.refreshTicker.C:
			c.kickRefresh(context.Background())
		case <-c.closed:
			return
		}
	}
}

// setState moves the state machine and starts or stops the refresh ticker
// with it, so no timer keeps firing while signed out. Must be called from
// the event loop.
func (c *Controller) setState(s State) {
	switch {
	case s == StateSignedIn && c.state != StateSignedIn:
		c.refreshTicker.Reset(c.refreshEvery)
	case s != StateSignedIn && c.state == StateSignedIn:
		c.refreshTicker.Stop()
	}

	c.state = s
}

// do runs fn on the event loop and waits for it to finish.
func (c *Controller) do(fn func()) {
	done := make(chan struct{})

	select {
	case c.cmds <- func() {
		defer close(done)
		fn()
	}:
		<-done
	case <-c.closed:
	}
}

// post schedules fn on the event loop without waiting.
func (c *Controller) post(fn func()) {
	go func() {
		select {
		case c.cmds <- fn:
		case <-c.closed:
		}
	}()
}

// Current returns a snapshot of the controller's state and, when signed
// in, the held session.
func (c *Controller) Current() (session.Session, State) {
	var sess session.Session
	state := StateUninitialized

	c.do(func() {
		sess = c.current
		state = c.state
	})

	return sess, state
}

// Restore loads the stored session for the subject, if any. It runs at
// most once; later calls return the already-established state. Token
// material is taken as-is, so a restore succeeds even while the identity
// provider is unreachable; a background refresh is kicked off right after.
func (c *Controller) Restore(ctx context.Context, subjectID string) (State, error) {
	var (
		state State
		err   error
	)

	c.do(func() {
		if c.restored {
			state = c.state
			return
		}
		c.restored = true

		if subjectID == "" {
			c.setState(StateSignedOut)
			state = c.state
			return
		}

		c.setState(StateRestoring)

		sess, restoreErr := c.lifecycle.RestoreSession(ctx, subjectID)
		if restoreErr != nil {
			c.setState(StateSignedOut)
			state = c.state
			if !errors.Is(restoreErr, serviceerr.ErrNotFound) {
				err = fmt.Errorf("restoring session: %w", restoreErr)
			}
			return
		}

		c.current = sess
		c.setState(StateSignedIn)
		state = c.state

		c.kickRefresh(ctx)
	})

	return state, err
}

// SignIn starts a sign-in and returns the authorization URL to redirect
// to. A resume is always attempted first: when a session for the subject
// already exists, e.g. established from another tab, no redirect is needed
// and the returned URL is empty.
func (c *Controller) SignIn(ctx context.Context, subjectID, hint, returnTo string) (string, error) {
	var (
		authURL string
		err     error
	)

	c.do(func() {
		if c.state == StateSignedIn {
			return
		}

		if subjectID != "" {
			c.restored = true
			c.setState(StateRestoring)

			sess, restoreErr := c.lifecycle.RestoreSession(ctx, subjectID)
			if restoreErr == nil {
				c.current = sess
				c.setState(StateSignedIn)
				return
			}

			c.setState(StateSignedOut)
		}

		authURL, err = c.lifecycle.Authorize(ctx, hint, returnTo)
	})

	return authURL, err
}

// CompleteSignIn consumes the provider's callback parameters and, on
// success, moves the controller to signed-in. The second return value is
// the validated path the user wanted to land on.
func (c *Controller) CompleteSignIn(ctx context.Context, params url.Values) (session.Session, string, error) {
	var (
		sess     session.Session
		returnTo string
		err      error
	)

	c.do(func() {
		sess, returnTo, err = c.lifecycle.Callback(ctx, params)
		if err != nil {
			return
		}

		c.current = sess
		c.setState(StateSignedIn)
		c.restored = true
	})

	return sess, session.ValidateReturnTo(returnTo), err
}

// SignOut revokes the held session. Local state is cleared no matter what
// the revocation does; a dead network must not pin a user to a session.
func (c *Controller) SignOut(ctx context.Context) error {
	var err error

	c.do(func() {
		did := c.current.DID

		c.current = session.Session{}
		c.setState(StateSignedOut)

		if did == "" {
			return
		}

		if revokeErr := c.lifecycle.RevokeSession(ctx, did); revokeErr != nil {
			err = fmt.Errorf("revoking session: %w", revokeErr)
		}
	})

	return err
}

// NotifySessionDeleted reacts to a session deletion announced elsewhere.
// Events for other subjects are ignored.
func (c *Controller) NotifySessionDeleted(ctx context.Context, event SessionDeleted) {
	c.do(func() {
		if c.state != StateSignedIn || c.current.DID != event.SubjectID {
			return
		}

		slogctx.Info(ctx, "Held session was deleted remotely; signing out", "did", event.SubjectID)

		c.current = session.Session{}
		c.setState(StateSignedOut)
	})
}

// kickRefresh starts a background token refresh for the held session. It
// runs off the event loop and posts its result back; a failure only logs,
// the session is kept as-is. Must be called from the event loop.
func (c *Controller) kickRefresh(ctx context.Context) {
	if c.state != StateSignedIn || c.refreshInFlight {
		return
	}

	c.refreshInFlight = true
	did := c.current.DID

	go func() {
		sess, err := c.lifecycle.RefreshSession(context.WithoutCancel(ctx), did)

		c.post(func() {
			c.refreshInFlight = false

			if err != nil {
				slogctx.Warn(ctx, "Background refresh failed; keeping the session", "did", did, "error", err)
				return
			}

			// the session may have been signed out or replaced meanwhile
			if c.state != StateSignedIn || c.current.DID != did {
				return
			}

			c.current = sess
		})
	}()
}
