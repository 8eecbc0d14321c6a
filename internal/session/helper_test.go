package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/hypercerts-org/sessiond/internal/config"
	"github.com/hypercerts-org/sessiond/internal/identity"
)

const (
	testClientID    = "https://app.example.com/client-metadata.json"
	testRedirectURI = "https://app.example.com/api/auth/callback"
	testDID         = "did:plc:abc123"
	testHandle      = "alice.pds.example"
	testPDSURL      = "https://pds.example"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		OAuth: config.OAuth{
			ProviderURL:  testPDSURL,
			HandleSuffix: "pds.example",
			ClientID:     testClientID,
			RedirectURI:  testRedirectURI,
			Scope:        "atproto transition:generic",
			StateTTL:     600 * time.Second,
		},
		Refresher: config.Refresher{
			Interval:     5 * time.Minute,
			ExpiryWindow: 5 * time.Minute,
		},
		SessionCookie: config.CookieTemplate{
			Name:     "user-did",
			Path:     "/",
			MaxAge:   604800,
			HTTPOnly: true,
			SameSite: config.CookieSameSiteLax,
		},
		ProfileCookie: config.CookieTemplate{
			Name:     "active-did",
			Path:     "/",
			MaxAge:   604800,
			HTTPOnly: true,
			SameSite: config.CookieSameSiteLax,
		},
	}
}

type fakeDirectory struct {
	account    identity.Account
	resolveErr error
	meta       identity.AuthServerMeta
	metaErr    error
}

func (d *fakeDirectory) ResolveHandle(_ context.Context, _ string) (identity.Account, error) {
	if d.resolveErr != nil {
		return identity.Account{}, d.resolveErr
	}
	return d.account, nil
}

func (d *fakeDirectory) AuthServerMeta(_ context.Context, _ string) (identity.AuthServerMeta, error) {
	if d.metaErr != nil {
		return identity.AuthServerMeta{}, d.metaErr
	}
	return d.meta, nil
}

type fakeSigner struct {
	proofErr error
}

func (s *fakeSigner) Proof(_, _, nonce string) (string, error) {
	if s.proofErr != nil {
		return "", s.proofErr
	}
	return "test-proof." + nonce, nil
}

func (s *fakeSigner) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{KeyID: "test-key"}
}

type tokenServerConfig struct {
	subject      string
	scope        string
	expiresIn    int
	demandNonce  bool
	failStatus   int
	wantGrant    string
	recordedForm map[string]string
}

// startTokenServer fakes the authorization server's token and revocation
// endpoints, including the one-shot DPoP nonce dance.
func startTokenServer(t *testing.T, cfg *tokenServerConfig) *httptest.Server {
	t.Helper()

	nonceServed := false

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.NotEmpty(t, r.Header.Get("DPoP"))

		if cfg.wantGrant != "" {
			require.Equal(t, cfg.wantGrant, r.PostForm.Get("grant_type"))
		}
		if cfg.recordedForm != nil {
			for k := range r.PostForm {
				cfg.recordedForm[k] = r.PostForm.Get(k)
			}
		}

		if cfg.demandNonce && !nonceServed {
			nonceServed = true
			w.Header().Set("DPoP-Nonce", "server-nonce")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "use_dpop_nonce"})
			return
		}
		if cfg.demandNonce && nonceServed {
			require.Equal(t, "test-proof.server-nonce", r.Header.Get("DPoP"))
		}

		if cfg.failStatus != 0 {
			w.WriteHeader(cfg.failStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}

		expiresIn := cfg.expiresIn
		if expiresIn == 0 {
			expiresIn = 3600
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-token",
			"refresh_token": "refresh-token",
			"token_type":    "DPoP",
			"expires_in":    expiresIn,
			"scope":         cfg.scope,
			"sub":           cfg.subject,
		})
	}))
}
