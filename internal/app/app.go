package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/msgroom-server/internal/auth"
	"github.com/vovakirdan/msgroom-server/internal/config"
	"github.com/vovakirdan/msgroom-server/internal/core"
	"github.com/vovakirdan/msgroom-server/internal/log"
	"github.com/vovakirdan/msgroom-server/internal/metrics"
	"github.com/vovakirdan/msgroom-server/internal/store"
	"github.com/vovakirdan/msgroom-server/internal/store/file"
	"github.com/vovakirdan/msgroom-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/msgroom-server/internal/transport/http"
)

// ServerName is reported in serverinfo.
const ServerName = "msgroom"

// App wires together core and transport layers.
type App struct {
	cfg             config.Config
	shutdownTimeout time.Duration
	hub             *core.Hub
	mod             *store.Moderation
	metrics         *metrics.Metrics
	auth            *auth.Service
	log             *zerolog.Logger
}

// HubSettings maps configuration onto relay settings.
func HubSettings(cfg config.Config) core.Settings {
	return core.Settings{
		RandomIDs:        cfg.RandomIDs,
		ChannelsEnabled:  cfg.ChannelsEnabled,
		DefaultChannel:   cfg.DefaultChannel,
		UserLimit:        cfg.UserLimit,
		RequireLoginKey:  cfg.RequireLoginKey,
		RateLimit:        cfg.RateLimit,
		RateInterval:     cfg.RateInterval,
		NickRateLimit:    cfg.NickRateLimit,
		MaxMessageLength: cfg.MaxMessageLength,
		WelcomeMessage:   cfg.WelcomeMessage,
		ServerName:       ServerName,
		ServerVersion:    cfg.ServerVersion,
	}
}

// OpenBackend returns the moderation backend selected by cfg.StoreDriver.
func OpenBackend(cfg config.Config) (store.Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverFile:
		return file.New(cfg.DBPath), nil
	case config.DriverSQLite:
		st, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.DriverMemory:
		return store.NewMemoryBackend(nil), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	mod, err := store.Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("load moderation record: %w", err)
	}
	logger.Info().Str("driver", cfg.StoreDriver).Str("db_path", cfg.DBPath).Msg("moderation record loaded")

	m := metrics.New()
	mod.ObserveFlush(m.ObserveFlush)

	hub := core.NewHub(mod, HubSettings(cfg),
		core.WithLogger(log.Component(logger, "hub")),
		core.WithMetrics(m),
	)

	if cfg.AdminSecret == "" {
		logger.Warn().Msg("admin_secret is empty, control plane mutations are disabled")
	}

	return &App{
		cfg:             cfg,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		mod:             mod,
		metrics:         m,
		auth:            auth.NewService(cfg.AdminSecret, cfg.TokenTTL),
		log:             logger,
	}, nil
}

// Hub exposes the relay for embedding and tests.
func (a *App) Hub() *core.Hub { return a.hub }

// Run starts the hub and the HTTP server and blocks until ctx is cancelled,
// POST /server/stop is called, or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server, err := transporthttp.NewServer(ctx, transporthttp.Deps{
		Hub:     a.hub,
		Auth:    a.auth,
		Metrics: a.metrics,
		Config:  a.cfg,
		Logger:  log.Component(a.log, "http"),
		Stop:    cancel,
	})
	if err != nil {
		a.cleanup()
		return fmt.Errorf("build http server: %w", err)
	}

	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		a.log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		cancel()
		<-a.hub.Done()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancelShutdown()

		// The hub closes every client with a going-away status before the
		// listener stops accepting.
		select {
		case <-a.hub.Done():
		case <-shutdownCtx.Done():
		}

		a.log.Info().Msg("shutting down http server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the moderation store.
func (a *App) cleanup() {
	if a.mod == nil {
		return
	}
	if err := a.mod.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
