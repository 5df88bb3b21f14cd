package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"whattoeat/config"
	"whattoeat/planner-svc/internal/catalog"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/gateway/postgres"
	"whattoeat/planner-svc/internal/gateway/rest"
	"whattoeat/planner-svc/internal/kv"
)

const batchSize = 100

var errNoRemote = errors.New("no remote backend configured")

func main() {
	logger := zap.Must(zap.NewProduction()).Sugar()
	defer logger.Sync()

	cfg := config.Load()
	file := flag.String("file", cfg.SeedFile, "seed CSV file")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, *file, logger); err != nil {
		logger.Errorw("seeding failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, file string, logger *zap.SugaredLogger) error {
	seed, err := catalog.LoadSeedFile(file)
	if err != nil {
		return err
	}

	tables, closeTables, err := remoteTables(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTables()

	inserted, err := catalog.SeedRemote(ctx, tables, seed, batchSize)
	if err != nil {
		return err
	}
	logger.Infow("seeding finished", "file", file, "rows", len(seed), "inserted", inserted)
	return nil
}

func remoteTables(cfg config.Config, logger *zap.SugaredLogger) (gateway.Tables, func(), error) {
	retry := gateway.RetryPolicy{Attempts: cfg.Retry.Attempts, Delay: cfg.Retry.Delay}

	switch cfg.Backend.Mode() {
	case config.ModeHosted:
		client := rest.New(rest.Config{
			URL:     cfg.Backend.URL,
			Key:     cfg.Backend.Key,
			Timeout: cfg.Backend.Timeout,
			Retry:   retry,
		}, &http.Client{}, kv.NewMemory(), logger)
		return client, func() {}, nil
	case config.ModePostgres:
		db, err := config.InitPostgres(cfg.Backend.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		g := postgres.New(db, postgres.Config{Timeout: cfg.Backend.Timeout, Retry: retry}, nil, kv.NewMemory(), logger)
		return g, func() { db.Close() }, nil
	}
	return nil, nil, errNoRemote
}
