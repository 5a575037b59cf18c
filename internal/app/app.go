package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/auth"
	"github.com/vovakirdan/spacerelay/internal/backend/journal"
	"github.com/vovakirdan/spacerelay/internal/backend/redislink"
	"github.com/vovakirdan/spacerelay/internal/backend/wslink"
	"github.com/vovakirdan/spacerelay/internal/config"
	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/spacerelay/internal/transport/http"
)

// link is the upstream connection as seen by the app.
type link interface {
	core.BackendConnection
	Bind(core.RemoteApplier)
	Close() error
}

// runner is implemented by links that pump messages in the background.
type runner interface {
	Run(ctx context.Context)
	Errors() <-chan error
}

// App wires together core, backend and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	link            link
	instanceID      string
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	instanceID := uuid.NewString()

	l, err := newLink(ctx, cfg, instanceID, logger)
	if err != nil {
		return nil, fmt.Errorf("init backend %s: %w", cfg.Backend.Kind, err)
	}

	var backend core.BackendConnection = core.DiscardBackend{}
	if l != nil {
		backend = l
	}
	hub := core.NewHub(core.HubConfig{
		Shards:            cfg.Shards,
		BackID:            cfg.BackID,
		KeepWatchedSpaces: cfg.KeepWatchedSpaces,
	}, backend, logger)
	if l != nil {
		l.Bind(hub)
	}

	logger.Info().
		Str("instance", instanceID).
		Str("backend", cfg.Backend.Kind).
		Int("shards", cfg.Shards).
		Msg("relay initialized")

	var history transporthttp.JournalReader
	if r, ok := l.(transporthttp.JournalReader); ok {
		history = r
	}

	return &App{
		server:          transporthttp.NewServer(hub, cfg, history, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		link:            l,
		instanceID:      instanceID,
		log:             logger,
	}, nil
}

func newLink(ctx context.Context, cfg *config.Config, instanceID string, logger *zerolog.Logger) (link, error) {
	b := cfg.Backend
	switch b.Kind {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendJournal:
		st, err := sqlite.New(b.JournalPath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", b.JournalPath).Msg("journal opened")
		return journal.New(st, instanceID, logger), nil
	case config.BackendWS:
		var jwtCfg *auth.JWTConfig
		if b.TokenSecret != "" {
			jwtCfg = &auth.JWTConfig{Secret: []byte(b.TokenSecret), Issuer: b.TokenIssuer, TTL: b.TokenTTL}
		}
		return wslink.Dial(ctx, wslink.Config{
			URL:          b.URL,
			InstanceID:   instanceID,
			BackID:       cfg.BackID,
			JWT:          jwtCfg,
			MaxReadBytes: cfg.MaxMessageBytes,
		}, logger)
	case config.BackendRedis:
		return redislink.New(ctx, redislink.Config{
			URL:        b.RedisURL,
			Prefix:     b.RedisChannel,
			InstanceID: instanceID,
			BackID:     cfg.BackID,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", b.Kind)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	var linkErr <-chan error
	if r, ok := a.link.(runner); ok {
		go r.Run(ctx)
		linkErr = r.Errors()
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	var runErr error
	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case err := <-linkErr:
		runErr = fmt.Errorf("backend link: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer shutdownCancel()

	a.log.Info().Msg("shutting down http server")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.cleanup()
		return errors.Join(runErr, err)
	}

	a.cleanup()
	return errors.Join(runErr, <-serverErr)
}

// cleanup closes the backend link.
func (a *App) cleanup() {
	if a.link == nil {
		return
	}
	if err := a.link.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close backend link")
	} else {
		a.log.Info().Msg("backend link closed")
	}
}
