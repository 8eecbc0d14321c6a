// Package identity resolves user-facing names to accounts on the
// decentralized identity network: handle to DID and hosting PDS, and PDS to
// the authorization-server metadata needed for the OAuth code flow.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	atidentity "github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/patrickmn/go-cache"

	"github.com/hypercerts-org/sessiond/internal/serviceerr"
)

const (
	cacheTTL      = 5 * time.Minute
	cacheCleanup  = 10 * time.Minute
	metaKeyPrefix = "meta:"
)

// Account is the resolved identity behind a handle.
type Account struct {
	DID    string
	Handle string
	PDSURL string
}

// AuthServerMeta is the subset of the authorization server's metadata
// document the session flows need.
type AuthServerMeta struct {
	Issuer                        string   `json:"issuer,omitempty"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                 string   `json:"token_endpoint,omitempty"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	DPoPSigningAlgValuesSupported []string `json:"dpop_signing_alg_values_supported,omitempty"`
}

type protectedResourceMeta struct {
	AuthorizationServers []string `json:"authorization_servers,omitempty"`
}

type Resolver struct {
	dir    atidentity.Directory
	client *http.Client
	cache  *cache.Cache
}

func NewResolver(httpClient *http.Client) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Resolver{
		dir:    atidentity.DefaultDirectory(),
		client: httpClient,
		cache:  cache.New(cacheTTL, cacheCleanup),
	}
}

// ResolveHandle looks up the DID and PDS host behind a canonical handle.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (Account, error) {
	if cached, ok := r.cache.Get(handle); ok {
		return cached.(Account), nil
	}

	h, err := syntax.ParseHandle(handle)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %q: %w", serviceerr.ErrInvalidHandle, handle, err)
	}

	ident, err := r.dir.LookupHandle(ctx, h)
	if err != nil {
		return Account{}, fmt.Errorf("%w: looking up %q: %w", serviceerr.ErrInvalidHandle, handle, err)
	}

	pds := ident.PDSEndpoint()
	if pds == "" {
		return Account{}, fmt.Errorf("%w: %q has no PDS endpoint", serviceerr.ErrInvalidHandle, handle)
	}

	account := Account{
		DID:    ident.DID.String(),
		Handle: ident.Handle.String(),
		PDSURL: pds,
	}
	r.cache.Set(handle, account, cache.DefaultExpiration)

	return account, nil
}

// AuthServerMeta discovers the authorization server responsible for the
// given resource host and fetches its metadata document. Results are cached.
func (r *Resolver) AuthServerMeta(ctx context.Context, host string) (AuthServerMeta, error) {
	if cached, ok := r.cache.Get(metaKeyPrefix + host); ok {
		return cached.(AuthServerMeta), nil
	}

	issuer, err := r.authServerForResource(ctx, host)
	if err != nil {
		return AuthServerMeta{}, err
	}

	var meta AuthServerMeta
	if err := r.getJSON(ctx, issuer+"/.well-known/oauth-authorization-server", &meta); err != nil {
		return AuthServerMeta{}, fmt.Errorf("fetching authorization server metadata: %w", err)
	}
	if meta.Issuer == "" || meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return AuthServerMeta{}, errors.New("authorization server metadata is incomplete")
	}

	r.cache.Set(metaKeyPrefix+host, meta, cache.DefaultExpiration)

	return meta, nil
}

// authServerForResource reads the protected-resource document of the host.
// Hosts that act as their own authorization server don't serve one; they are
// used as issuer directly.
func (r *Resolver) authServerForResource(ctx context.Context, host string) (string, error) {
	if _, err := url.Parse(host); err != nil {
		return "", fmt.Errorf("parsing resource host: %w", err)
	}

	var prm protectedResourceMeta
	err := r.getJSON(ctx, host+"/.well-known/oauth-protected-resource", &prm)
	if err != nil || len(prm.AuthorizationServers) == 0 {
		return host, nil
	}

	return prm.AuthorizationServers[0], nil
}

func (r *Resolver) getJSON(ctx context.Context, uri string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, uri)
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
