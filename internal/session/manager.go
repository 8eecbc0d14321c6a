package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	slogctx "github.com/veqryn/slog-context"

	"github.com/hypercerts-org/sessiond/internal/config"
	"github.com/hypercerts-org/sessiond/internal/identity"
	"github.com/hypercerts-org/sessiond/internal/pkce"
	"github.com/hypercerts-org/sessiond/internal/serviceerr"
)

// Directory resolves handles and authorization-server metadata.
type Directory interface {
	ResolveHandle(ctx context.Context, handle string) (identity.Account, error)
	AuthServerMeta(ctx context.Context, host string) (identity.AuthServerMeta, error)
}

// ProofSigner signs DPoP proofs for requests to the authorization server.
type ProofSigner interface {
	Proof(method, uri, nonce string) (string, error)
	PublicJWK() jose.JSONWebKey
}

// Manager drives the session lifecycle: it initiates authorization
// attempts, exchanges callback codes for token material, and restores,
// refreshes and revokes stored sessions. It holds no per-user state of its
// own; the two stores are the source of truth.
type Manager struct {
	states    StateStore
	sessions  SessionStore
	directory Directory
	signer    ProofSigner
	pkce      pkce.Source
	client    *http.Client

	clientID     string
	redirectURI  string
	scope        string
	providerURL  string
	handleSuffix string
	expiryWindow time.Duration

	sessionCookieTemplate config.CookieTemplate
	profileCookieTemplate config.CookieTemplate
}

func NewManager(
	cfg *config.Config,
	repo Repository,
	directory Directory,
	signer ProofSigner,
	httpClient *http.Client,
) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		states:                repo,
		sessions:              repo,
		directory:             directory,
		signer:                signer,
		client:                httpClient,
		clientID:              cfg.OAuth.ClientID,
		redirectURI:           cfg.OAuth.RedirectURI,
		scope:                 cfg.OAuth.Scope,
		providerURL:           cfg.OAuth.ProviderURL,
		handleSuffix:          cfg.OAuth.HandleSuffix,
		expiryWindow:          cfg.Refresher.ExpiryWindow,
		sessionCookieTemplate: cfg.SessionCookie,
		profileCookieTemplate: cfg.ProfileCookie,
	}
}

// Authorize starts a sign-in attempt for the given handle hint and returns
// the authorization URL to redirect the browser to. An empty hint targets
// the configured provider entry point, which supports new-account creation.
// No handshake state is created unless the hint resolves.
func (m *Manager) Authorize(ctx context.Context, hint, returnTo string) (string, error) {
	var account identity.Account

	handle := identity.NormalizeHandle(hint, m.handleSuffix)
	if handle != "" {
		var err error
		account, err = m.directory.ResolveHandle(ctx, handle)
		if err != nil {
			return "", fmt.Errorf("resolving handle: %w", err)
		}
	}

	host := account.PDSURL
	if host == "" {
		host = m.providerURL
	}

	meta, err := m.directory.AuthServerMeta(ctx, host)
	if err != nil {
		return "", fmt.Errorf("discovering authorization server: %w", err)
	}

	nonce := m.pkce.Nonce()
	challenge := m.pkce.PKCE()

	state := HandshakeState{
		Version:       SchemaVersion,
		Nonce:         nonce,
		Handle:        account.Handle,
		DID:           account.DID,
		Issuer:        meta.Issuer,
		PDSURL:        host,
		TokenEndpoint: meta.TokenEndpoint,
		PKCEVerifier:  challenge.Verifier,
		Scope:         m.scope,
		ReturnTo:      returnTo,
	}

	if err := m.states.StoreState(ctx, state); err != nil {
		return "", fmt.Errorf("storing handshake state: %w", err)
	}

	u, err := m.authURL(meta, state, challenge)
	if err != nil {
		return "", fmt.Errorf("generating authorization url: %w", err)
	}

	slogctx.Info(ctx, "Started authorization attempt", "handle", account.Handle, "issuer", meta.Issuer)

	return u, nil
}

func (m *Manager) authURL(meta identity.AuthServerMeta, state HandshakeState, challenge pkce.PKCE) (string, error) {
	u, err := url.Parse(meta.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing authorization endpoint url: %w", err)
	}

	q := u.Query()
	q.Set("client_id", m.clientID)
	q.Set("response_type", "code")
	q.Set("scope", state.Scope)
	q.Set("state", state.Nonce)
	q.Set("code_challenge", challenge.Challenge)
	q.Set("code_challenge_method", challenge.Method)
	q.Set("redirect_uri", m.redirectURI)
	if state.Handle != "" {
		q.Set("login_hint", state.Handle)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Callback consumes the provider's redirect parameters, exchanges the code
// for token material and persists the resulting session. It also returns
// the return-to hint recorded when the attempt started, unvalidated; the
// HTTP layer decides where a browser may be sent. The handshake state is
// deleted before the exchange, so a replayed nonce always fails. All
// failure modes surface as serviceerr.ErrAuthenticationFailed.
func (m *Manager) Callback(ctx context.Context, params url.Values) (Session, string, error) {
	if errCode := params.Get("error"); errCode != "" {
		slogctx.Warn(ctx, "Provider returned an authorization error",
			"code", errCode, "description", params.Get("error_description"))
		return Session{}, "", serviceerr.ErrAuthenticationFailed
	}

	nonce := params.Get("state")
	code := params.Get("code")
	if nonce == "" || code == "" {
		return Session{}, "", fmt.Errorf("%w: missing callback parameters", serviceerr.ErrAuthenticationFailed)
	}

	state, err := m.states.LoadState(ctx, nonce)
	if err != nil {
		// missing, expired and replayed all look the same from here
		return Session{}, "", fmt.Errorf("%w: loading handshake state: %w", serviceerr.ErrAuthenticationFailed, err)
	}

	if err := m.states.DeleteState(ctx, nonce); err != nil {
		return Session{}, "", fmt.Errorf("%w: consuming handshake state: %w", serviceerr.ErrAuthenticationFailed, err)
	}

	if iss := params.Get("iss"); iss != "" && iss != state.Issuer {
		slogctx.Warn(ctx, "Issuer mismatch on callback", "expected", state.Issuer, "got", iss)
		return Session{}, "", serviceerr.ErrAuthenticationFailed
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", state.PKCEVerifier)
	form.Set("redirect_uri", m.redirectURI)
	form.Set("client_id", m.clientID)

	tokens, err := m.postTokenForm(ctx, state.TokenEndpoint, form)
	if err != nil {
		return Session{}, "", fmt.Errorf("%w: exchanging code for tokens: %w", serviceerr.ErrAuthenticationFailed, err)
	}

	did := tokens.Subject
	if did == "" {
		did = state.DID
	}
	if did == "" {
		return Session{}, "", fmt.Errorf("%w: token response names no subject", serviceerr.ErrAuthenticationFailed)
	}
	if state.DID != "" && did != state.DID {
		slogctx.Warn(ctx, "Subject mismatch on callback", "expected", state.DID, "got", did)
		return Session{}, "", serviceerr.ErrAuthenticationFailed
	}

	sess := Session{
		Version:   SchemaVersion,
		DID:       did,
		Handle:    state.Handle,
		Issuer:    state.Issuer,
		PDSURL:    state.PDSURL,
		Tokens:    tokens.material(state.Scope),
		CreatedAt: time.Now(),
	}

	if err := m.sessions.StoreSession(ctx, sess); err != nil {
		return Session{}, "", fmt.Errorf("%w: storing session: %w", serviceerr.ErrAuthenticationFailed, err)
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens", "did", did)

	return sess, state.ReturnTo, nil
}

// RestoreSession returns the stored session for a DID without forcing a
// token refresh, so restores keep working while the provider is
// unreachable.
func (m *Manager) RestoreSession(ctx context.Context, did string) (Session, error) {
	sess, err := m.sessions.LoadSession(ctx, did)
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	return sess, nil
}

// RefreshSession exchanges the stored refresh token for fresh token
// material and replaces it in the store. The stored session is left intact
// on any failure; stale credentials beat forced sign-out.
func (m *Manager) RefreshSession(ctx context.Context, did string) (Session, error) {
	sess, err := m.sessions.LoadSession(ctx, did)
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	meta, err := m.directory.AuthServerMeta(ctx, sess.PDSURL)
	if err != nil {
		return Session{}, fmt.Errorf("discovering authorization server: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", sess.Tokens.RefreshToken)
	form.Set("client_id", m.clientID)

	tokens, err := m.postTokenForm(ctx, meta.TokenEndpoint, form)
	if err != nil {
		return Session{}, fmt.Errorf("refreshing tokens: %w", err)
	}

	sess.Tokens = tokens.material(sess.Tokens.Scope)

	if err := m.sessions.StoreSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("storing refreshed session: %w", err)
	}

	return sess, nil
}

// RevokeSession signs the identity out. Remote revocation is best effort;
// the local session reference is removed regardless.
func (m *Manager) RevokeSession(ctx context.Context, did string) error {
	sess, err := m.sessions.LoadSession(ctx, did)
	if errors.Is(err, serviceerr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	if err := m.revokeRemote(ctx, sess); err != nil {
		slogctx.Warn(ctx, "Remote revocation failed; clearing local session anyway", "did", did, "error", err)
	}

	if err := m.sessions.DeleteSession(ctx, did); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	slogctx.Info(ctx, "Revoked session", "did", did)

	return nil
}

func (m *Manager) revokeRemote(ctx context.Context, sess Session) error {
	meta, err := m.directory.AuthServerMeta(ctx, sess.PDSURL)
	if err != nil {
		return fmt.Errorf("discovering authorization server: %w", err)
	}
	if meta.RevocationEndpoint == "" {
		return errors.New("authorization server advertises no revocation endpoint")
	}

	form := url.Values{}
	form.Set("token", sess.Tokens.RefreshToken)
	form.Set("client_id", m.clientID)

	if _, err := m.postForm(ctx, meta.RevocationEndpoint, form); err != nil {
		return err
	}

	return nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Subject      string `json:"sub"`
}

func (t tokenResponse) material(fallbackScope string) TokenMaterial {
	scope := t.Scope
	if scope == "" {
		scope = fallbackScope
	}

	return TokenMaterial{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(t.ExpiresIn) * time.Second),
		Scope:        scope,
	}
}

func (m *Manager) postTokenForm(ctx context.Context, endpoint string, form url.Values) (tokenResponse, error) {
	body, err := m.postForm(ctx, endpoint, form)
	if err != nil {
		return tokenResponse{}, err
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return tokenResponse{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return tokenResponse{}, errors.New("token response carries no access token")
	}

	return tokens, nil
}

// postForm POSTs a DPoP-bound form request. The authorization server may
// demand a fresh server nonce with use_dpop_nonce; the request is retried
// once with the served value.
func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	var nonce string

	for attempt := range 2 {
		proof, err := m.signer.Proof(http.MethodPost, endpoint, nonce)
		if err != nil {
			return nil, fmt.Errorf("signing request proof: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("DPoP", proof)

		resp, err := m.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}

		body, readErr := readBody(resp)
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		if attempt == 0 && wantsNonce(resp, body) {
			nonce = resp.Header.Get("DPoP-Nonce")
			continue
		}

		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	return nil, errors.New("authorization server kept demanding a new nonce")
}

func wantsNonce(resp *http.Response, body []byte) bool {
	if resp.Header.Get("DPoP-Nonce") == "" {
		return false
	}
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		return false
	}

	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	return payload.Error == "use_dpop_nonce"
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return body, nil
}

// MakeSessionCookie builds the client-visible session pointer. The value is
// the subject DID only, never token material.
func (m *Manager) MakeSessionCookie(ctx context.Context, did string) *http.Cookie {
	c := m.sessionCookieTemplate.ToCookie(did)

	if !c.HttpOnly {
		slogctx.Warn(ctx, "Session cookie is not marked as HttpOnly; this is not recommended in production environments")
	}
	if !c.Secure {
		slogctx.Warn(ctx, "Session cookie is not marked as Secure; this is not recommended in production environments")
	}

	return c
}

func (m *Manager) ClearSessionCookie() *http.Cookie {
	return m.sessionCookieTemplate.ToExpiredCookie()
}

// MakeProfileCookie records the advisory acting-as profile reference.
func (m *Manager) MakeProfileCookie(did string) *http.Cookie {
	return m.profileCookieTemplate.ToCookie(did)
}

func (m *Manager) ClearProfileCookie() *http.Cookie {
	return m.profileCookieTemplate.ToExpiredCookie()
}

// ClientMetadata is the OAuth client metadata document served under the
// client_id URL so the identity network can resolve this client.
type ClientMetadata struct {
	ClientID                string              `json:"client_id"`
	ApplicationType         string              `json:"application_type"`
	GrantTypes              []string            `json:"grant_types"`
	ResponseTypes           []string            `json:"response_types"`
	RedirectURIs            []string            `json:"redirect_uris"`
	Scope                   string              `json:"scope"`
	TokenEndpointAuthMethod string              `json:"token_endpoint_auth_method"`
	DPoPBoundAccessTokens   bool                `json:"dpop_bound_access_tokens"`
	JWKS                    *jose.JSONWebKeySet `json:"jwks,omitempty"`
}

func (m *Manager) ClientMetadata() ClientMetadata {
	return ClientMetadata{
		ClientID:                m.clientID,
		ApplicationType:         "web",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		RedirectURIs:            []string{m.redirectURI},
		Scope:                   m.scope,
		TokenEndpointAuthMethod: "none",
		DPoPBoundAccessTokens:   true,
		JWKS: &jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{m.signer.PublicJWK()},
		},
	}
}
