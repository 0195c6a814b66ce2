package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/linechat-server/internal/app"
	"github.com/vovakirdan/linechat-server/internal/config"
	"github.com/vovakirdan/linechat-server/internal/log"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	root := &cobra.Command{
		Use:           "linechat-server",
		Short:         "Line-protocol chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(configPath, overrides)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize")
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting linechat server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")
	root.PersistentFlags().StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&overrides.Database.Driver, "db-driver", "", "database driver: sqlite or postgres")
	root.PersistentFlags().StringVar(&overrides.Database.DSN, "dsn", "", "database file or connection string")
	root.Flags().StringVar(&overrides.Addr, "addr", "", "chat TCP listen address")
	root.Flags().StringVar(&overrides.AdminHTTP.Addr, "admin-addr", "", "admin HTTP listen address")
	root.Flags().DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	root.AddCommand(newMigrateCmd(&configPath, &overrides))
	return root
}

func newMigrateCmd(configPath *string, overrides *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath, *overrides)
			if err != nil {
				return err
			}

			st, err := app.OpenStore(cmd.Context(), cfg.Database)
			if err != nil {
				logger.Error().Err(err).Msg("migration failed")
				return err
			}
			logger.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
			return st.Close()
		},
	}
}

// loadConfig resolves configuration and builds the process logger from it.
func loadConfig(path string, overrides config.Config) (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New("info", "console", os.Stderr)

	cfg, resolved, err := config.Load(bootstrap, path)
	if err != nil {
		bootstrap.Error().Err(err).Str("path", resolved).Msg("failed to load config")
		return cfg, nil, err
	}
	cfg.UpdateFrom(overrides)
	if err := cfg.Validate(); err != nil {
		bootstrap.Error().Err(err).Msg("invalid configuration")
		return cfg, nil, err
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Debug().Str("config", resolved).Msg("configuration loaded")
	return cfg, logger, nil
}
