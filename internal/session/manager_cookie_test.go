package session_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hypercerts-org/sessiond/internal/session"
	sessionmock "github.com/hypercerts-org/sessiond/internal/session/mock"
)

func TestManager_MakeSessionCookie(t *testing.T) {
	mgr := session.NewManager(testConfig(), sessionmock.NewInMemRepository(), &fakeDirectory{}, &fakeSigner{}, nil)

	c := mgr.MakeSessionCookie(context.Background(), testDID)

	assert.Equal(t, "user-did", c.Name)
	assert.Equal(t, testDID, c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 604800, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.False(t, c.Secure, "development config leaves Secure off")
}

func TestManager_MakeSessionCookie_Production(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "production"
	cfg.SessionCookie.Secure = true

	mgr := session.NewManager(cfg, sessionmock.NewInMemRepository(), &fakeDirectory{}, &fakeSigner{}, nil)

	c := mgr.MakeSessionCookie(context.Background(), testDID)
	assert.True(t, c.Secure)
}

func TestManager_ClearSessionCookie(t *testing.T) {
	mgr := session.NewManager(testConfig(), sessionmock.NewInMemRepository(), &fakeDirectory{}, &fakeSigner{}, nil)

	c := mgr.ClearSessionCookie()

	assert.Equal(t, "user-did", c.Name)
	assert.Empty(t, c.Value)
	assert.Equal(t, -1, c.MaxAge)
}

func TestManager_MakeProfileCookie(t *testing.T) {
	mgr := session.NewManager(testConfig(), sessionmock.NewInMemRepository(), &fakeDirectory{}, &fakeSigner{}, nil)

	c := mgr.MakeProfileCookie("did:plc:other")

	assert.Equal(t, "active-did", c.Name)
	assert.Equal(t, "did:plc:other", c.Value)
}

func TestManager_ClientMetadata(t *testing.T) {
	mgr := session.NewManager(testConfig(), sessionmock.NewInMemRepository(), &fakeDirectory{}, &fakeSigner{}, nil)

	md := mgr.ClientMetadata()

	assert.Equal(t, testClientID, md.ClientID)
	assert.Equal(t, "web", md.ApplicationType)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, md.GrantTypes)
	assert.Equal(t, []string{"code"}, md.ResponseTypes)
	assert.Equal(t, []string{testRedirectURI}, md.RedirectURIs)
	assert.Equal(t, "none", md.TokenEndpointAuthMethod)
	assert.True(t, md.DPoPBoundAccessTokens)
	assert.Len(t, md.JWKS.Keys, 1)
}
