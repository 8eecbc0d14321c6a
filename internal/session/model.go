package session

import "time"

// SchemaVersion tags every stored record. Entries written by incompatible
// releases are rejected on read instead of being misinterpreted.
const SchemaVersion = 1

// TokenMaterial is the credential set proving an authenticated identity.
// It never leaves the server side of the service.
type TokenMaterial struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope"`
}

// HandshakeState is one outstanding authorization attempt, keyed by its
// nonce. It lives in the ephemeral store for at most the configured TTL and
// is consumed exactly once by the callback.
type HandshakeState struct {
	Version       int    `json:"version"`
	Nonce         string `json:"nonce"`
	Handle        string `json:"handle,omitempty"`
	DID           string `json:"did,omitempty"`
	Issuer        string `json:"issuer"`
	PDSURL        string `json:"pds_url"`
	TokenEndpoint string `json:"token_endpoint"`
	PKCEVerifier  string `json:"pkce_verifier"`
	Scope         string `json:"scope"`
	ReturnTo      string `json:"return_to,omitempty"`
}

// Session is one authenticated identity's live credential set, keyed by
// DID. At most one exists per DID; writes are full replacements. It has no
// TTL and survives until explicit revocation.
type Session struct {
	Version   int           `json:"version"`
	DID       string        `json:"did"`
	Handle    string        `json:"handle,omitempty"`
	Issuer    string        `json:"issuer"`
	PDSURL    string        `json:"pds_url"`
	Tokens    TokenMaterial `json:"tokens"`
	CreatedAt time.Time     `json:"created_at"`
}
