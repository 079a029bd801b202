// Package app wires configuration, the relay registry, the TCP transport,
// the heartbeat notifier, and the stats API into one runnable server.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"rigrelay/internal/auth"
	"rigrelay/internal/config"
	"rigrelay/internal/heartbeat"
	"rigrelay/internal/journal"
	"rigrelay/internal/metrics"
	"rigrelay/internal/relay"
	"rigrelay/internal/statsapi"
	"rigrelay/internal/transport/tcp"
)

// App owns every long-lived component of the server.
type App struct {
	cfg      config.Config
	log      *zerolog.Logger
	registry *relay.Registry
	listener *tcp.Listener
	stats    *statsapi.Server
	notifier *heartbeat.Notifier
	journal  *journal.Journal
}

// New constructs the application. The password hash is produced here, once;
// a hash failure aborts startup.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	passwordHash := ""
	if cfg.Protected() {
		hash, err := auth.HashPassword(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("hash server password: %w", err)
		}
		passwordHash = hash
		logger.Info().Msg("server is password protected")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	relayMetrics := metrics.NewRelay(promReg)

	var sink relay.EventSink
	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		var err error
		jnl, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open session journal: %w", err)
		}
		sink = jnl
		logger.Info().Str("path", cfg.JournalPath).Msg("session journal enabled")
	}

	registry, err := relay.New(cfg.MaxClients, logger, relay.Deps{
		NewOutbound: func() relay.Outbound { return tcp.NewBroadcaster(logger) },
		NewInbound:  func(r *relay.Registry) relay.Inbound { return tcp.NewReceiver(logger, r) },
		Sink:        sink,
		Metrics:     relayMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	listener, err := tcp.NewListener(cfg.ListenPort, passwordHash, registry, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:      cfg,
		log:      logger,
		registry: registry,
		listener: listener,
		stats:    statsapi.New(cfg.StatsAddr, registry, promReg, logger),
		journal:  jnl,
	}

	if cfg.Mode != config.ModeLocal {
		app.notifier = heartbeat.New(cfg.HeartbeatURL, cfg.HeartbeatInterval, heartbeat.Registration{
			Name:       cfg.ServerName,
			Terrain:    cfg.TerrainName,
			Host:       cfg.PublicHost,
			Port:       cfg.ListenPort,
			MaxClients: cfg.MaxClients,
			Protected:  cfg.Protected(),
		}, registry, logger)
	}

	return app, nil
}

// Run starts every component and blocks until ctx cancellation or a fatal
// listener error. Shutdown order: stop accepting, tear down every occupied
// slot through the kill queue, then stop the ancillary services.
func (a *App) Run(ctx context.Context) error {
	if a.notifier != nil {
		if err := a.notifier.Register(ctx); err != nil {
			if a.cfg.Mode == config.ModeInet {
				return fmt.Errorf("master server registration: %w", err)
			}
			// auto mode degrades to a local server
			a.log.Warn().Err(err).Msg("master server unreachable, running unadvertised")
			a.notifier = nil
		}
	}

	a.registry.Start()

	errCh := make(chan error, 2)
	go func() { errCh <- a.listener.Run(ctx) }()
	go func() { errCh <- a.stats.Run() }()
	if a.notifier != nil {
		go a.notifier.Run(ctx)
	}

	a.log.Info().
		Str("name", a.cfg.ServerName).
		Str("terrain", a.cfg.TerrainName).
		Int("max_clients", a.cfg.MaxClients).
		Str("mode", a.cfg.Mode).
		Msg("server running")

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	a.shutdown(shutdownCtx)
	return runErr
}

func (a *App) shutdown(ctx context.Context) {
	a.log.Info().Msg("shutting down")

	if err := a.listener.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close listener")
	}
	if err := a.registry.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("registry shutdown incomplete")
	}
	if err := a.stats.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("stats api shutdown")
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close session journal")
		}
	}
	a.log.Info().Msg("server stopped")
}

// Registry exposes the slot table for operator tooling.
func (a *App) Registry() *relay.Registry {
	return a.registry
}
