// Package healthcheck probes the poker server's gRPC health endpoint. It is
// the container liveness command.
package healthcheck

import (
	"context"
	"flag"
	"fmt"
	"log"

	entrypoint "github.com/ybrake1950/planning-poker/internal/platform/cmd"
	platformgrpc "github.com/ybrake1950/planning-poker/internal/platform/grpc"
	"github.com/ybrake1950/planning-poker/internal/platform/timeouts"
)

// Config holds healthcheck command configuration.
type Config struct {
	HealthAddr string `env:"PLANNING_POKER_HEALTH_ADDR" envDefault:"localhost:8081"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "poker server gRPC health address")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run dials the server's health endpoint and returns an error when it is not
// serving.
func Run(ctx context.Context, cfg Config) error {
	logf := func(format string, args ...any) {
		log.Printf("health %s", fmt.Sprintf(format, args...))
	}

	conn, err := platformgrpc.DialWithHealth(
		ctx,
		nil,
		cfg.HealthAddr,
		timeouts.GRPCDial,
		logf,
		platformgrpc.DefaultClientDialOptions()...,
	)
	if err != nil {
		return fmt.Errorf("health probe %s: %w", cfg.HealthAddr, err)
	}
	return conn.Close()
}
