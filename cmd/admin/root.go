package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/matcha/internal/config"
	"github.com/sakif/matcha/internal/service"
	"github.com/sakif/matcha/internal/storage"
)

// loadConfig is replaced in tests.
var loadConfig = config.Load

// NewRootCmd creates the root command for the admin CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "matcha account administration",
		Long: `Operator tools for the matcha user store. Changes take effect on the
user's next request: a suspended, banned or deleted account loses its
sessions immediately.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newVerifyEmailCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// env is what every subcommand needs: an open store and the account service
// on top of it.
type env struct {
	store    storage.Backend
	accounts *service.AccountService
}

// openEnv loads the configuration and opens storage. The caller must call
// the returned close function.
func openEnv(ctx context.Context, cmd *cobra.Command) (*env, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	e := &env{
		store:    store,
		accounts: service.NewAccountService(store, logger),
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", slog.String("error", err.Error()))
		}
	}
	return e, closeFn, nil
}
