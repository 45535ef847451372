// Package main probes the poker server health endpoint and exits non-zero
// when it is not serving.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	healthcheckcmd "github.com/ybrake1950/planning-poker/internal/cmd/healthcheck"
)

func main() {
	cfg, err := healthcheckcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[HEALTHCHECK] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := healthcheckcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("health check failed: %v", err)
	}
}
