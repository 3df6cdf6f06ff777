package main

import (
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/CYCLOP5/vis-diff-trackshift/config"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/api"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/container"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	// Собираем сервисы приложения
	c, err := container.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build services")
	}

	server := api.NewServer(c.Pipeline, c.Jobs.Root, log)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("orchestrator is running")
	if err := http.ListenAndServe(cfg.HTTPAddr, server.Handler()); err != nil {
		log.Fatal().Err(err).Msg("http server error")
	}
}
