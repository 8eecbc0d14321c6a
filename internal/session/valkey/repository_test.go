package sessionvalkey_test

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"

	"github.com/hypercerts-org/sessiond/internal/dbtest/valkeytest"
	"github.com/hypercerts-org/sessiond/internal/serviceerr"
	"github.com/hypercerts-org/sessiond/internal/session"
	sessionvalkey "github.com/hypercerts-org/sessiond/internal/session/valkey"
)

var client valkey.Client
var testTime time.Time

func init() {
	testTime = time.Now().Add(30 * 24 * time.Hour)

	// There's a little inconsistency with the timezone when RFC3339 is parsed
	// from a JSON object. So we do a workaround here
	b, _ := testTime.MarshalJSON()
	_ = testTime.UnmarshalJSON(b)
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	valkeyClient, _, terminate := valkeytest.Start(ctx)
	client = valkeyClient

	code := m.Run()
	terminate(ctx)

	os.Exit(code)
}

func prepareState(t *testing.T, prefix string, state session.HandshakeState) {
	t.Helper()

	key := fmt.Sprintf("%s:oauth-state:%s", prefix, state.Nonce)
	err := client.Do(t.Context(), client.B().Set().Key(key).Value(valkey.JSON(state)).Build()).Error()
	require.NoError(t, err, "inserting handshake state")
}

func prepareSession(t *testing.T, prefix string, s session.Session) {
	t.Helper()

	key := fmt.Sprintf("%s:session:%s", prefix, s.DID)
	err := client.Do(t.Context(), client.B().Set().Key(key).Value(valkey.JSON(s)).Build()).Error()
	require.NoError(t, err, "inserting session")
}

func testState(nonce string) session.HandshakeState {
	return session.HandshakeState{
		Version:       session.SchemaVersion,
		Nonce:         nonce,
		Handle:        "alice.pds.example",
		DID:           "did:plc:abc123",
		Issuer:        "https://pds.example",
		PDSURL:        "https://pds.example",
		TokenEndpoint: "https://pds.example/oauth/token",
		PKCEVerifier:  "verifier-one",
		Scope:         "atproto transition:generic",
		ReturnTo:      "/dashboard",
	}
}

func testSession(did string) session.Session {
	return session.Session{
		Version: session.SchemaVersion,
		DID:     did,
		Handle:  "alice.pds.example",
		Issuer:  "https://pds.example",
		PDSURL:  "https://pds.example",
		Tokens: session.TokenMaterial{
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
			Expiry:       testTime,
			Scope:        "atproto transition:generic",
		},
		CreatedAt: testTime,
	}
}

func TestRepository_StoreState(t *testing.T) {
	const prefix = "sessiond-store-state-test"

	r := sessionvalkey.NewRepository(client, prefix, 600*time.Second)

	state := testState("nonce-one")
	require.NoError(t, r.StoreState(t.Context(), state))

	got, err := r.LoadState(t.Context(), "nonce-one")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	// states must expire on their own
	ttl, err := client.Do(t.Context(), client.B().Ttl().Key(prefix+":oauth-state:nonce-one").Build()).AsInt64()
	require.NoError(t, err)
	assert.Greater(t, ttl, int64(0))
	assert.LessOrEqual(t, ttl, int64(600))
}

func TestRepository_LoadState(t *testing.T) {
	const prefix = "sessiond-load-state-test"

	prepareState(t, prefix, testState("nonce-one"))
	prepareState(t, prefix, session.HandshakeState{Version: 99, Nonce: "nonce-bad-version"})

	tests := []struct {
		name      string
		nonce     string
		wantState session.HandshakeState
		assertErr assert.ErrorAssertionFunc
	}{
		{
			name:      "Select existing state",
			nonce:     "nonce-one",
			wantState: testState("nonce-one"),
			assertErr: assert.NoError,
		},
		{
			name:  "Error does not exist",
			nonce: "does-not-exist",
			assertErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrNotFound)
			},
		},
		{
			name:  "Error schema version mismatch",
			nonce: "nonce-bad-version",
			assertErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, serviceerr.ErrMalformedRecord)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sessionvalkey.NewRepository(client, prefix, 600*time.Second)

			gotState, err := r.LoadState(t.Context(), tt.nonce)
			if !tt.assertErr(t, err, fmt.Sprintf("Repository.LoadState() error %v", err)) || err != nil {
				return
			}

			assert.Equal(t, tt.wantState, gotState, "Repository.LoadState()")
		})
	}
}

func TestRepository_DeleteState(t *testing.T) {
	const prefix = "sessiond-delete-state-test"

	prepareState(t, prefix, testState("nonce-one"))

	r := sessionvalkey.NewRepository(client, prefix, 600*time.Second)

	require.NoError(t, r.DeleteState(t.Context(), "nonce-one"))

	_, err := r.LoadState(t.Context(), "nonce-one")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)

	// deleting an absent state is a no-op
	assert.NoError(t, r.DeleteState(t.Context(), "nonce-one"))
}

func TestRepository_StoreSession(t *testing.T) {
	const prefix = "sessiond-store-session-test"

	r := sessionvalkey.NewRepository(client, prefix, 600*time.Second)

	sess := testSession("did:plc:abc123")
	require.NoError(t, r.StoreSession(t.Context(), sess))

	got, err := r.LoadSession(t.Context(), "did:plc:abc123")
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	// sessions never expire on their own
	ttl, err := client.Do(t.Context(), client.B().Ttl().Key(prefix+":session:did:plc:abc123").Build()).AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), ttl)

	// storing again replaces the whole record
	sess.Tokens.AccessToken = "rotated-access-token"
	require.NoError(t, r.StoreSession(t.Context(), sess))

	got, err = r.LoadSession(t.Context(), "did:plc:abc123")
	require.NoError(t, err)
	assert.Equal(t, "rotated-access-token", got.Tokens.AccessToken)
}

func TestRepository_LoadSession(t *testing.T) {
	const prefix = "sessiond-load-session-test"

	prepareSession(t, prefix, testSession("did:plc:abc123"))
	prepareSession(t, prefix, session.Session{Version: 99, DID: "did:plc:badversion"})

	r := sessionvalkey.NewRepository(client, prefix, 600*time.Second)

	got, err := r.LoadSession(t.Context(), "did:plc:abc123")
	require.NoError(t, err)
	assert.Equal(t, testSession("did:plc:abc123"), got)

	_, err = r.LoadSession(t.Context(), "does-not-exist")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)

	_, err = r.LoadSession(t.Context(), "did:plc:badversion")
	assert.ErrorIs(t, err, serviceerr.ErrMalformedRecord)
}

func TestRepository_ListSessions(t *testing.T) {
	const prefix = "sessiond-list-sessions-test"

	prepareSession(t, prefix, testSession("did:plc:one"))
	prepareSession(t, prefix, testSession("did:plc:two"))
	// a session under a different prefix must not leak into the listing
	prepareSession(t, "sessiond-other-prefix", testSession("did:plc:other"))

	r := sessionvalkey.NewRepository(client, prefix, 600*time.Second)

	sessions, err := r.ListSessions(t.Context())
	require.NoError(t, err)

	dids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		dids = append(dids, s.DID)
	}
	sort.Strings(dids)

	assert.Equal(t, []string{"did:plc:one", "did:plc:two"}, dids)
}

func TestRepository_DeleteSession(t *testing.T) {
	const prefix = "sessiond-delete-session-test"

	prepareSession(t, prefix, testSession("did:plc:abc123"))

	r := sessionvalkey.NewRepository(client, prefix, 600*time.Second)

	require.NoError(t, r.DeleteSession(t.Context(), "did:plc:abc123"))

	_, err := r.LoadSession(t.Context(), "did:plc:abc123")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)

	assert.NoError(t, r.DeleteSession(t.Context(), "did:plc:abc123"))
}
