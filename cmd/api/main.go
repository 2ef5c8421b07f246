package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"mission-dispatch/internal/api"
	"mission-dispatch/internal/billing"
	"mission-dispatch/internal/config"
	"mission-dispatch/internal/lifecycle"
	"mission-dispatch/internal/match"
	"mission-dispatch/internal/notify"
	"mission-dispatch/internal/pricing"
	"mission-dispatch/internal/ratelimit"
	"mission-dispatch/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	notifier := notify.NewRedis(cfg)
	controller := lifecycle.New(st, match.NewEngine(st),
		pricing.NewPolicy(cfg.BaseFee, cfg.PerMinuteRate), notifier, cfg.MinDurationMinutes)

	archiver, err := billing.NewArchiver(ctx, cfg)
	if err != nil {
		log.Fatalf("init billing archiver: %v", err)
	}
	controller.UseArchiver(archiver)

	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, controller, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("api listening on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("api: %v", err)
	}
}

// openStore picks the store driver and runs migrations for Postgres.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.RunMigrations(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
