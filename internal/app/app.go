package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/linechat-server/internal/attachments"
	"github.com/vovakirdan/linechat-server/internal/auth"
	"github.com/vovakirdan/linechat-server/internal/config"
	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/history"
	"github.com/vovakirdan/linechat-server/internal/session"
	"github.com/vovakirdan/linechat-server/internal/store"
	"github.com/vovakirdan/linechat-server/internal/store/postgres"
	"github.com/vovakirdan/linechat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/linechat-server/internal/transport/http"
	"github.com/vovakirdan/linechat-server/internal/transport/tcp"
)

// App wires together core and transport layers.
type App struct {
	listeners       []*tcp.Server
	admin           *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
	}

	st, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	blobs, err := openBlobs(ctx, cfg.Attachments.S3)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.AdminHTTP.JWTSecret),
		Issuer:   cfg.AdminHTTP.JWTIssuer,
		Audience: cfg.AdminHTTP.JWTAudience,
		TTL:      cfg.AdminHTTP.TokenTTL,
	}
	authService := auth.NewService(st, jwtConfig, cfg.AdminUsername)

	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		created, err := authService.EnsureUser(ctx, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("bootstrap admin account: %w", err)
		}
		if created {
			logger.Info().Str("user", cfg.AdminUsername).Msg("admin account created")
		}
	}

	registry := core.NewRegistry(logger)
	hist := history.NewService(st, cfg.HistoryLimit, logger)
	files := attachments.NewService(st, blobs, cfg.Attachments.MaxBytes, logger)

	handler := session.NewHandler(session.Deps{
		Auth:        authService,
		History:     hist,
		Attachments: files,
		Registry:    registry,
	}, session.Config{
		IdleTimeout:    cfg.IdleTimeout,
		MaxLineBytes:   cfg.MaxLineBytes,
		OutboundBuffer: cfg.OutboundBuffer,
		RateBurst:      cfg.RateLimit.Burst,
		RateInterval:   cfg.RateLimit.Interval,
		Location:       loc,
	}, logger)

	listeners, err := newListeners(cfg, handler, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{
		listeners:       listeners,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		store:           st,
		log:             logger,
	}

	if cfg.AdminHTTP.Addr != "" {
		a.admin = transporthttp.NewServer(transporthttp.Deps{
			Auth:     authService,
			History:  hist,
			Registry: registry,
			Sessions: handler,
		}, cfg.AdminHTTP, cfg.MaxLineBytes, logger)
	}

	return a, nil
}

// newListeners builds the chat listeners: plain on addr, TLS on tls.addr, or
// TLS on addr when no separate TLS address is set.
func newListeners(cfg *config.Config, handler tcp.ConnHandler, logger *zerolog.Logger) ([]*tcp.Server, error) {
	plain := tcp.NewServer(cfg.Addr, handler, logger)
	if !cfg.TLS.Enabled() {
		return []*tcp.Server{plain}, nil
	}

	tlsConfig, err := tcp.LoadTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	if cfg.TLS.Addr == "" {
		return []*tcp.Server{plain.WithTLS(tlsConfig)}, nil
	}
	secure := tcp.NewServer(cfg.TLS.Addr, handler, logger).WithTLS(tlsConfig)
	return []*tcp.Server{plain, secure}, nil
}

// OpenStore opens the configured database and applies pending migrations.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return st, nil
	case "postgres":
		st, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openBlobs(ctx context.Context, cfg config.S3Config) (attachments.BlobStore, error) {
	if cfg.Bucket == "" {
		return attachments.NewMemoryStore(), nil
	}
	blobs, err := attachments.NewS3Store(ctx, attachments.S3Config{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init attachment bucket: %w", err)
	}
	return blobs, nil
}

// Run serves the chat listener and the admin API until ctx is canceled or
// either fails, then shuts both down within the configured grace period.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	for _, ln := range a.listeners {
		g.Go(func() error {
			err := ln.ListenAndServe(gctx)
			if errors.Is(err, tcp.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	if a.admin != nil {
		a.admin.BaseContext = func(net.Listener) context.Context { return gctx }
		g.Go(func() error {
			a.log.Info().Str("addr", a.admin.Addr).Msg("admin http listening")
			if err := a.admin.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	a.log.Info().Msg("shutting down")
	for _, ln := range a.listeners {
		if err := ln.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("forcing close of remaining connections")
		}
	}
	a.registry.CloseAll()

	if a.admin != nil {
		if err := a.admin.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("admin http shutdown")
		}
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
