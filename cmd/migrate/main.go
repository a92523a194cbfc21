// migrate applies the embedded schema migrations: go run ./cmd/migrate -direction up|down.
package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"account-lifecycle/internal/config"
	"account-lifecycle/internal/db/migrate"
	"account-lifecycle/internal/platform/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env, os.Stderr)
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		logger.Fatal().Err(err).Str("direction", *direction).Msg("migrate")
	}
	logger.Info().Str("direction", *direction).Msg("migrations applied")
}
