package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"time"
	"hotelwatch-backend/lib/chrono"
	"hotelwatch-backend/lib/configutil"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/serviceutil"
	"hotelwatch-backend/lib/telemetry"
	"hotelwatch-backend/services/hotelwatch"
	"hotelwatch-backend/services/hotelwatch/config"
	"hotelwatch-backend/services/hotelwatch/db"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the config file.")
	flag.Parse()

	ctx := serviceutil.SignalContext()
	InitTelemetry(ctx, *verbose)
	defer telemetry.Shutdown(context.Background())

	cfg, err := configutil.ReadConfigWithDefaults(*configPath, config.Default)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	r, err := cfg.Stay.Range()
	if err != nil {
		serviceutil.Fatal("invalid stay", err)
	}
	mode, err := cfg.ScrapeMode()
	if err != nil {
		serviceutil.Fatal("invalid mode", err)
	}

	database, err := cfg.Database.OpenDB(db.Schema)
	if err != nil {
		serviceutil.Fatal("open db", err)
	}
	defer database.Close()

	client, err := passkey.NewClient(cfg.Portal.Options())
	if err != nil {
		serviceutil.Fatal("create portal client", err)
	}

	service := hotelwatch.NewService(database, client, cfg.Notify.Notifier(), hotelwatch.Options{
		Stay:              r,
		Mode:              mode,
		NotifyConcurrency: cfg.Notify.Concurrency,
	})
	defer service.Wait()

	if len(cfg.PlaceholderHotels) > 0 {
		created, err := service.Engine().Hotels().SeedPlaceholders(ctx, cfg.PlaceholderHotels, r.Year())
		if err != nil {
			serviceutil.Fatal("seed placeholder hotels", err)
		}
		slog.Info("seeded placeholder hotels", "created", created)
	}

	runOnce := func() {
		_, err := service.RunOnce(ctx)
		if errors.Is(err, hotelwatch.ErrScraperDisabled) {
			slog.Debug("scraper disabled, skipping run")
			return
		}
		if errors.Is(err, hotelwatch.ErrAlreadyRunning) {
			slog.Info("previous run still in progress, skipping tick")
			return
		}
		if err != nil {
			slog.Error("scrape run failed", "err", err)
		}
	}

	cron := chrono.NewStandardCron()
	defer cron.Stop()
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	err = cron.Cron(chrono.Every(interval), runOnce)
	if err != nil {
		serviceutil.Fatal("schedule scraper", err)
	}
	slog.Info("scheduled scraper",
		"interval", interval,
		"stay", r.String(),
		"mode", mode,
	)
	go runOnce()

	serviceutil.StartHttpServer(ctx, cfg.Port, hotelwatch.NewHandler(service, cfg.ApiKey))
}
