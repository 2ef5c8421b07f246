package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"mission-dispatch/internal/billing"
	"mission-dispatch/internal/config"
	"mission-dispatch/internal/lifecycle"
	"mission-dispatch/internal/match"
	"mission-dispatch/internal/notify"
	"mission-dispatch/internal/pricing"
	"mission-dispatch/internal/store"
	"mission-dispatch/internal/telemetry"
	"mission-dispatch/internal/watchdog"
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

	var st store.Store
	if cfg.StoreDriver == "memory" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		st = pg
	}

	notifier := notify.NewRedis(cfg)
	controller := lifecycle.New(st, match.NewEngine(st),
		pricing.NewPolicy(cfg.BaseFee, cfg.PerMinuteRate), notifier, cfg.MinDurationMinutes)

	archiver, err := billing.NewArchiver(ctx, cfg)
	if err != nil {
		log.Fatalf("init billing archiver: %v", err)
	}
	controller.UseArchiver(archiver)

	w := watchdog.New(cfg, st, controller)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("watchdog started, poll interval %s", cfg.WatchdogPollInterval)
		return w.Run(gctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("watchdog stopped: %v", err)
	}
}
