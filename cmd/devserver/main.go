// This command is only used for local testing: it serves an in-memory fake
// of the loyalty API that the CLI can be pointed at.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/perkline/perkline/internal/config"
	"github.com/perkline/perkline/internal/devserver"
	"github.com/perkline/perkline/internal/observe"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configureLogging()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("dev server failed")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a missing .env file is expected
	_ = godotenv.Load()

	cfg, err := config.LoadDevServer(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	observeCfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	shutdownTelemetry, err := observe.Configure(ctx, observeCfg.Observe, os.Stderr)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn().Err(err).Msg("telemetry: shutdown failed")
		}
	}()

	backend := devserver.NewBackend(cfg.TokenTTL, devserver.WithItems(
		devserver.Item{ID: "espresso", Name: "Espresso", Points: 8},
		devserver.Item{ID: "flat-white", Name: "Flat white", Points: 12},
		devserver.Item{ID: "croissant", Name: "Croissant", Points: 10},
	))

	log.Info().
		Dur("latency", cfg.Latency).
		Float64("failure_rate", cfg.FailureRate).
		Bool("deny_issuance", cfg.DenyIssuance).
		Dur("token_ttl", cfg.TokenTTL).
		Msg("dev server configured")

	return devserver.Serve(ctx, cfg, devserver.Routes(cfg, backend))
}

func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.DebugLevel)
	zerolog.DefaultContextLogger = &log.Logger
}
