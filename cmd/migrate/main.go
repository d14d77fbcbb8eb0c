package main

import (
	"context"
	"flag"
	"time"

	"github.com/fiora/chat-app/internal/config"
	"github.com/fiora/chat-app/internal/logging"
	"github.com/fiora/chat-app/internal/store"
	"github.com/fiora/chat-app/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	seed := flag.Bool("seed", true, "create the default group when missing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer db.Close()

	if err := postgres.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("schema up to date")

	if !*seed {
		return
	}
	g, created, err := store.EnsureDefaultGroup(ctx, postgres.New(db), cfg.Chat.DefaultGroupName, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed default group")
	}
	log.Info().Str("group", g.ID).Str("name", g.Name).Bool("created", created).Msg("default group ready")
}
