package config

import (
	"fmt"
	"time"
)

// Server modes. Local servers stay private; inet servers register with the
// master server and fail hard when they cannot; auto tries and falls back.
const (
	ModeLocal = "local"
	ModeInet  = "inet"
	ModeAuto  = "auto"
)

// Config holds server configuration values.
type Config struct {
	PublicHost        string        `mapstructure:"public_host" yaml:"public_host"`
	ListenPort        int           `mapstructure:"listen_port" yaml:"listen_port"`
	MaxClients        int           `mapstructure:"max_clients" yaml:"max_clients"`
	ServerName        string        `mapstructure:"server_name" yaml:"server_name"`
	TerrainName       string        `mapstructure:"terrain_name" yaml:"terrain_name"`
	Mode              string        `mapstructure:"mode" yaml:"mode"`
	Password          string        `mapstructure:"password" yaml:"password"`
	HeartbeatURL      string        `mapstructure:"heartbeat_url" yaml:"heartbeat_url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	StatsAddr         string        `mapstructure:"stats_addr" yaml:"stats_addr"`
	JournalPath       string        `mapstructure:"journal_path" yaml:"journal_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ListenPort:        12000,
		MaxClients:        16,
		ServerName:        "rigrelay server",
		TerrainName:       "any",
		Mode:              ModeLocal,
		HeartbeatURL:      "http://master.rigrelay.example/api",
		HeartbeatInterval: 60 * time.Second,
		StatsAddr:         ":8080",
		LogLevel:          "info",
		ShutdownTimeout:   10 * time.Second,
	}
}

// Protected reports whether clients must present a password.
func (c Config) Protected() bool {
	return c.Password != ""
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1, got %d", c.MaxClients)
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port out of range: %d", c.ListenPort)
	}
	switch c.Mode {
	case ModeLocal, ModeInet, ModeAuto:
	default:
		return fmt.Errorf("unknown mode %q (want local, inet or auto)", c.Mode)
	}
	if c.Mode != ModeLocal && c.PublicHost == "" {
		return fmt.Errorf("mode %q requires public_host", c.Mode)
	}
	return nil
}
