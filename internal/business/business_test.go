package business

import (
	"context"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"

	"github.com/hypercerts-org/sessiond/internal/config"
	"github.com/hypercerts-org/sessiond/internal/identity"
	"github.com/hypercerts-org/sessiond/internal/session"
	sessionmock "github.com/hypercerts-org/sessiond/internal/session/mock"
)

type fakeDirectory struct{}

func (fakeDirectory) ResolveHandle(_ context.Context, _ string) (identity.Account, error) {
	return identity.Account{}, nil
}

func (fakeDirectory) AuthServerMeta(_ context.Context, _ string) (identity.AuthServerMeta, error) {
	return identity.AuthServerMeta{}, nil
}

type fakeSigner struct{}

func (fakeSigner) Proof(_, _, _ string) (string, error) { return "test-proof", nil }
func (fakeSigner) PublicJWK() jose.JSONWebKey           { return jose.JSONWebKey{} }

func TestStartRefresher_StopsOnContextCancellation(t *testing.T) {
	cfg := &config.Config{
		OAuth:     config.OAuth{ClientID: "client-id", RedirectURI: "https://app.example.com/cb"},
		Refresher: config.Refresher{Interval: 10 * time.Millisecond, ExpiryWindow: 5 * time.Minute},
	}

	manager := session.NewManager(cfg, sessionmock.NewInMemRepository(), fakeDirectory{}, fakeSigner{}, nil)

	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() {
		done <- startRefresher(ctx, manager, cfg)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop after context cancellation")
	}
}

func TestInitSessionManager_UnreachableStore(t *testing.T) {
	cfg := &config.Config{
		ValKey: config.ValKey{Host: "localhost", Port: "1"},
		OAuth:  config.OAuth{SigningKey: "{}"},
	}

	_, _, err := initSessionManager(t.Context(), cfg)
	assert.Error(t, err)
}
