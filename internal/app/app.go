package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Comcenn/jamgenguessr/internal/broker"
	"github.com/Comcenn/jamgenguessr/internal/broker/memory"
	"github.com/Comcenn/jamgenguessr/internal/broker/redis"
	"github.com/Comcenn/jamgenguessr/internal/config"
	"github.com/Comcenn/jamgenguessr/internal/core"
	transporthttp "github.com/Comcenn/jamgenguessr/internal/transport/http"
)

// App wires together broker, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	manager         *core.Manager
	broker          broker.Broker
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	b, err := newBroker(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	manager := core.NewManager(b, core.Options{
		RejoinGrace: cfg.RejoinGrace,
		SyncTimeout: cfg.SyncTimeout,
	}, logger)
	server := transporthttp.NewServer(manager, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		manager:         manager,
		broker:          b,
		log:             logger,
	}, nil
}

func newBroker(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (broker.Broker, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		b := redis.New(redis.Options{
			Addr:           cfg.RedisAddr,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			MinBackoff:     cfg.ReconnectMinBackoff,
			MaxBackoff:     cfg.ReconnectMaxBackoff,
			PublishRetries: cfg.PublishRetries,
		}, logger)
		if err := b.Ping(ctx); err != nil {
			// The server still starts; publishes are rejected until redis is back.
			logger.Warn().Err(err).Str("redis_addr", cfg.RedisAddr).Msg("redis unreachable at startup")
		} else {
			logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("redis broker connected")
		}
		return b, nil
	case config.BrokerMemory, "":
		logger.Info().Msg("using in-process broker")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

// Run starts the HTTP server and the game manager and blocks until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.manager.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// cleanup closes the broker once nothing uses it any more.
func (a *App) cleanup() {
	a.log.Info().Strs("games", a.manager.ActiveGames()).Msg("closing game manager")
	a.manager.Close()
	if err := a.broker.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close broker")
	} else {
		a.log.Info().Msg("broker closed")
	}
}
