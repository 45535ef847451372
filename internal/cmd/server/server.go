// Package server parses poker server flags and composes the transport
// entrypoint.
package server

import (
	"context"
	"flag"
	"fmt"
	"time"

	app "github.com/ybrake1950/planning-poker/internal/app/server"
	entrypoint "github.com/ybrake1950/planning-poker/internal/platform/cmd"
)

// Config holds poker server command configuration.
type Config struct {
	HTTPAddr      string        `env:"PLANNING_POKER_HTTP_ADDR"      envDefault:":8080"`
	HealthAddr    string        `env:"PLANNING_POKER_HEALTH_ADDR"    envDefault:":8081"`
	StorageDriver string        `env:"PLANNING_POKER_STORAGE_DRIVER" envDefault:"memory"`
	SQLitePath    string        `env:"PLANNING_POKER_SQLITE_PATH"    envDefault:"poker.db"`
	SessionIdle   time.Duration `env:"PLANNING_POKER_SESSION_IDLE"`
	EmptyGrace    time.Duration `env:"PLANNING_POKER_EMPTY_GRACE"`
	Shutdown      time.Duration `env:"PLANNING_POKER_SHUTDOWN_TIMEOUT"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "poker HTTP listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address")
	fs.StringVar(&cfg.StorageDriver, "storage-driver", cfg.StorageDriver, "session storage driver (memory or sqlite)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "sqlite database path when the sqlite driver is selected")
	fs.DurationVar(&cfg.SessionIdle, "session-idle", cfg.SessionIdle, "idle window before a session is evicted")
	fs.DurationVar(&cfg.EmptyGrace, "empty-grace", cfg.EmptyGrace, "grace window before an empty session is evicted")
	fs.DurationVar(&cfg.Shutdown, "shutdown-timeout", cfg.Shutdown, "graceful shutdown timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the poker app and starts the realtime transport.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:        cfg.HTTPAddr,
			HealthAddr:      cfg.HealthAddr,
			StorageDriver:   cfg.StorageDriver,
			SQLitePath:      cfg.SQLitePath,
			SessionIdle:     cfg.SessionIdle,
			EmptyGrace:      cfg.EmptyGrace,
			ShutdownTimeout: cfg.Shutdown,
		}); err != nil {
			return fmt.Errorf("serve poker: %w", err)
		}
		return nil
	})
}
