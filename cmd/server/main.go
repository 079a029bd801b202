package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rigrelay/internal/app"
	"rigrelay/internal/config"
	"rigrelay/internal/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath        string
		publicHost        string
		listenPort        int
		maxClients        int
		serverName        string
		terrainName       string
		mode              string
		password          string
		statsAddr         string
		journalPath       string
		logLevel          string
		heartbeatURL      string
		heartbeatInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rigrelay",
		Short: "Dedicated multiplayer relay server",
		Long: "rigrelay accepts game clients over TCP and relays their per-tick\n" +
			"vehicle and state messages to every other participant in the session.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(logLevel)

			cfg, path, err := config.Load(logger, configPath)
			if err != nil {
				return err
			}
			logger.Info().Str("path", path).Msg("configuration loaded")

			// Explicit flags win over file and environment values.
			flags := cmd.Flags()
			if flags.Changed("public-host") {
				cfg.PublicHost = publicHost
			}
			if flags.Changed("port") {
				cfg.ListenPort = listenPort
			}
			if flags.Changed("max-clients") {
				cfg.MaxClients = maxClients
			}
			if flags.Changed("name") {
				cfg.ServerName = serverName
			}
			if flags.Changed("terrain") {
				cfg.TerrainName = terrainName
			}
			if flags.Changed("mode") {
				cfg.Mode = mode
			}
			if flags.Changed("password") {
				cfg.Password = password
			}
			if flags.Changed("stats-addr") {
				cfg.StatsAddr = statsAddr
			}
			if flags.Changed("journal") {
				cfg.JournalPath = journalPath
			}
			if flags.Changed("heartbeat-url") {
				cfg.HeartbeatURL = heartbeatURL
			}
			if flags.Changed("heartbeat-interval") {
				cfg.HeartbeatInterval = heartbeatInterval
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
				logger = log.New(logLevel)
			}

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return application.Run(ctx)
		},
	}

	defaults := config.Default()
	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	flags.StringVar(&publicHost, "public-host", defaults.PublicHost, "public IP or hostname reported to the master server")
	flags.IntVarP(&listenPort, "port", "p", defaults.ListenPort, "TCP listen port")
	flags.IntVar(&maxClients, "max-clients", defaults.MaxClients, "slot table capacity")
	flags.StringVar(&serverName, "name", defaults.ServerName, "server name shown in listings")
	flags.StringVar(&terrainName, "terrain", defaults.TerrainName, "terrain clients must load")
	flags.StringVar(&mode, "mode", defaults.Mode, "server mode: local, inet or auto")
	flags.StringVar(&password, "password", "", "optional join password")
	flags.StringVar(&statsAddr, "stats-addr", defaults.StatsAddr, "HTTP address for /stats and /metrics")
	flags.StringVar(&journalPath, "journal", "", "sqlite session journal path (empty disables)")
	flags.StringVar(&logLevel, "log-level", defaults.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&heartbeatURL, "heartbeat-url", defaults.HeartbeatURL, "master server base URL")
	flags.DurationVar(&heartbeatInterval, "heartbeat-interval", defaults.HeartbeatInterval, "interval between heartbeats")

	return cmd
}
