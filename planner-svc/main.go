package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"whattoeat/config"
	httpapi "whattoeat/planner-svc/internal/api/http"
	"whattoeat/planner-svc/internal/catalog"
	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/events"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/gateway/postgres"
	"whattoeat/planner-svc/internal/gateway/rest"
	"whattoeat/planner-svc/internal/kv"
	"whattoeat/planner-svc/internal/planner"
	"whattoeat/planner-svc/internal/reconcile"
	"whattoeat/planner-svc/internal/storage"
)

func main() {
	logger := zap.Must(zap.NewProduction()).Sugar()
	defer logger.Sync()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeKV, err := openKV(cfg, logger)
	if err != nil {
		logger.Fatalw("local store unavailable", "error", err)
	}
	defer closeKV()

	gw, opts, closeGW, err := openGateway(ctx, cfg, store, logger)
	if err != nil {
		logger.Fatalw("no backend available", "error", err)
	}
	defer closeGW()
	logger.Infow("backend selected", "kind", gw.Kind())

	publisher, closePub := newPublisher(cfg, logger)
	defer closePub()

	tasks := &reconcile.Tasks{}
	status := reconcile.NewStatus()
	deps := reconcile.Deps{Gateway: gw, KV: store, Status: status, Tasks: tasks, Logger: logger}
	custom := reconcile.NewCustomDishes(deps)
	seed := func() ([]domain.Dish, error) { return catalog.LoadSeedFile(cfg.SeedFile) }

	p := planner.New(planner.Deps{
		Gateway:      gw,
		Catalog:      catalog.NewLoader(gw, seed, custom, logger, opts...),
		Selection:    reconcile.NewSelection(deps),
		Cart:         reconcile.NewCart(deps),
		History:      reconcile.NewHistory(deps),
		CustomDishes: custom,
		Status:       status,
		Tasks:        tasks,
		Events:       publisher,
		Logger:       logger,
	}, planner.Config{Bucket: cfg.Backend.Bucket})
	defer p.Close()

	if err := p.Restore(ctx); err != nil {
		logger.Warnw("session restore failed", "error", err)
	}

	handler := httpapi.NewHandler(p, httpapi.DefaultQRGenerator{}, logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("planner service starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("shutdown failed", "error", err)
	}
	tasks.Wait()
}

func openKV(cfg config.Config, logger *zap.SugaredLogger) (kv.Store, func(), error) {
	if cfg.RedisAddr != "" {
		client, err := config.InitRedis(cfg.RedisAddr)
		if err == nil {
			return kv.NewRedis(client, "planner:"), func() { client.Close() }, nil
		}
		logger.Warnw("redis unreachable, using files", "addr", cfg.RedisAddr, "error", err)
	}
	store, err := kv.NewFile(cfg.LocalStoreDir)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

// openGateway picks the backend once: hosted when credentials validate,
// direct Postgres when reachable, else the local store.
func openGateway(ctx context.Context, cfg config.Config, store kv.Store, logger *zap.SugaredLogger) (gateway.Gateway, []catalog.LoaderOption, func(), error) {
	retry := gateway.RetryPolicy{Attempts: cfg.Retry.Attempts, Delay: cfg.Retry.Delay}

	switch cfg.Backend.Mode() {
	case config.ModeHosted:
		client := rest.New(rest.Config{
			URL:     cfg.Backend.URL,
			Key:     cfg.Backend.Key,
			Timeout: cfg.Backend.Timeout,
			Retry:   retry,
		}, &http.Client{}, store, logger)
		return client, nil, func() {}, nil

	case config.ModePostgres:
		db, err := config.InitPostgres(cfg.Backend.DatabaseURL)
		if err != nil {
			logger.Warnw("postgres unreachable, using local store", "error", err)
			break
		}
		var objects gateway.Objects
		if cfg.S3.Bucket != "" {
			s3Objects, err := postgres.LoadS3Objects(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.PublicURL)
			if err != nil {
				logger.Warnw("object storage unavailable, images will be inlined", "error", err)
			} else {
				objects = s3Objects
			}
		}
		g := postgres.New(db, postgres.Config{Timeout: cfg.Backend.Timeout, Retry: retry}, objects, store, logger)
		return g, nil, func() { db.Close() }, nil
	}

	local, err := storage.NewLocalStore(ctx, store, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return local, []catalog.LoaderOption{catalog.WithSeedImport()}, func() {}, nil
}

func newPublisher(cfg config.Config, logger *zap.SugaredLogger) (events.Publisher, func()) {
	if cfg.KafkaBroker == "" {
		return events.Noop{}, func() {}
	}
	p := events.NewKafkaPublisher(config.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaTopic))
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warnw("closing kafka writer", "error", err)
		}
	}
}
