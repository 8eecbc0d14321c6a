package business

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/hypercerts-org/sessiond/internal/business/server"
	"github.com/hypercerts-org/sessiond/internal/config"
	"github.com/hypercerts-org/sessiond/internal/dpop"
	"github.com/hypercerts-org/sessiond/internal/identity"
	"github.com/hypercerts-org/sessiond/internal/session"
	sessionvalkey "github.com/hypercerts-org/sessiond/internal/session/valkey"
)

// Main starts the public HTTP API server.
func Main(ctx context.Context, cfg *config.Config) error {
	sessionManager, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, sessionManager)
}

// RefresherMain runs the background job that keeps stored token material
// fresh.
func RefresherMain(ctx context.Context, cfg *config.Config) error {
	sessionManager, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	defer closeFn()

	slogctx.Info(ctx, "Starting token refresh job")

	return startRefresher(ctx, sessionManager, cfg)
}

func startRefresher(ctx context.Context, sessionManager *session.Manager, cfg *config.Config) error {
	c := time.Tick(cfg.Refresher.Interval)
	for {
		slogctx.Info(ctx, "Triggering tokens refresh")
		if err := sessionManager.RefreshExpiringSessions(ctx); err != nil {
			slogctx.Error(ctx, "Failed to refresh tokens", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

func initSessionManager(_ context.Context, cfg *config.Config) (_ *session.Manager, closeFn func(), _ error) {
	valkeyClient, err := valkey.NewClient(cfg.ValKey.ClientOption())
	if err != nil {
		return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	repo := sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix, cfg.OAuth.StateTTL)

	signer, err := dpop.NewSigner([]byte(cfg.OAuth.SigningKey))
	if err != nil {
		valkeyClient.Close()
		return nil, nil, fmt.Errorf("loading the proof signing key: %w", err)
	}

	resolver := identity.NewResolver(http.DefaultClient)

	sessManager := session.NewManager(cfg, repo, resolver, signer, http.DefaultClient)

	return sessManager, valkeyClient.Close, nil
}
