// Package cmdutils holds the shared bootstrap for the service's commands:
// configuration loading, logger setup and the cobra glue.
package cmdutils

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/hypercerts-org/sessiond/internal/config"
)

// CobraCommand wraps a business entry point into a cobra command that
// loads the configuration and initialises logging before handing over.
func CobraCommand(
	use, short, long string,
	businessFunc func(context.Context, *config.Config) error,
) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := run(cmd.Context(), businessFunc, cfg); err != nil {
				return fmt.Errorf("running %s: %w", use, err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")

	return cmd
}

func run(ctx context.Context, fn func(context.Context, *config.Config) error, cfg *config.Config) error {
	InitLogger(cfg)

	slogctx.Debug(ctx, "Starting the application", slog.String("environment", cfg.Environment))

	if err := fn(ctx, cfg); err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to start the main business application")
	}

	return nil
}

// InitLogger installs the process-wide structured logger. Log records pass
// through slogctx so request-scoped attributes travel with the context.
func InitLogger(cfg *config.Config) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLogLevel(cfg.LogLevel),
	})

	slog.SetDefault(slog.New(slogctx.NewHandler(handler, nil)))
}

func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
