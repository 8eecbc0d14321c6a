// Package dpop signs DPoP proof JWTs for requests to the identity network's
// authorization server. The proof binds token requests to the client's
// signing key; the key itself is supplied as configuration and its absence
// is a startup error.
package dpop

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

const defaultAlgorithm = string(jose.ES256)

type Signer struct {
	key jose.JSONWebKey
	alg jose.SignatureAlgorithm
}

// NewSigner parses the configured signing key, a JSON-encoded private JWK.
func NewSigner(keyJSON []byte) (*Signer, error) {
	if len(keyJSON) == 0 {
		return nil, errors.New("signing key material is required")
	}

	var key jose.JSONWebKey
	if err := json.Unmarshal(keyJSON, &key); err != nil {
		return nil, fmt.Errorf("parsing signing key JWK: %w", err)
	}
	if !key.Valid() {
		return nil, errors.New("signing key JWK is not valid")
	}
	if key.IsPublic() {
		return nil, errors.New("signing key JWK must be a private key")
	}

	alg := key.Algorithm
	if alg == "" {
		alg = defaultAlgorithm
	}

	return &Signer{key: key, alg: jose.SignatureAlgorithm(alg)}, nil
}

type proofClaims struct {
	ID       string `json:"jti"`
	Method   string `json:"htm"`
	URI      string `json:"htu"`
	IssuedAt int64  `json:"iat"`
	Nonce    string `json:"nonce,omitempty"`
}

// Proof returns a signed proof JWT for one HTTP request. The nonce is the
// most recent value served by the authorization server and may be empty on
// the first request.
func (s *Signer) Proof(method, uri, nonce string) (string, error) {
	opts := (&jose.SignerOptions{EmbedJWK: true}).WithType("dpop+jwt")
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: s.alg, Key: s.key.Key}, opts)
	if err != nil {
		return "", fmt.Errorf("creating proof signer: %w", err)
	}

	claims := proofClaims{
		ID:       uuid.NewString(),
		Method:   method,
		URI:      uri,
		IssuedAt: time.Now().Unix(),
		Nonce:    nonce,
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing proof: %w", err)
	}

	return proof, nil
}

// PublicJWK exposes the public half for publication in the client metadata
// document.
func (s *Signer) PublicJWK() jose.JSONWebKey {
	return s.key.Public()
}
