package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"

	"github.com/mikolaj2268/review-radar/internal/adapters/observability"
	"github.com/mikolaj2268/review-radar/internal/app"
	"github.com/mikolaj2268/review-radar/internal/bootstrap"
	"github.com/mikolaj2268/review-radar/internal/retry"
	"github.com/mikolaj2268/review-radar/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)
	observability.SetLevel(cfg.LogLevel)
	observability.RegisterDefault()
	observability.Serve()

	log.Info().
		Str("base", cfg.UpstreamBase).
		Int("workers", cfg.Workers).
		Int("lookback_days", cfg.LookbackDays).
		Str("watchlist", cfg.Watchlist).
		Msg("ingestor starting")

	deps, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer deps.Close()

	var watch []app.RefreshTarget
	if cfg.Watchlist != "" {
		apps, err := shared.LoadWatchlist(cfg.Watchlist)
		if err != nil {
			log.Fatal().Err(err).Msg("watchlist load failed")
		}
		for _, a := range apps {
			watch = append(watch, app.RefreshTarget{Name: a.Name, AppID: a.AppID})
		}
	}

	ref := app.NewRefresher(deps.Sync, deps.Store, deps.Resolver)
	ref.Page = deps.PageOptions()
	ref.Workers = cfg.Workers
	ref.LookbackDays = cfg.LookbackDays
	opts := retry.DefaultOptions()
	opts.MaxAttempts = cfg.SyncRetries + 1
	ref.Retry = opts

	targets, err := ref.Targets(ctx, watch)
	if err != nil {
		log.Fatal().Err(err).Msg("no refresh targets")
	}
	if len(targets) == 0 {
		log.Info().Msg("nothing to refresh: empty watchlist and store")
		return
	}

	results := ref.Run(ctx, targets)
	inserted := 0
	for _, r := range results {
		if r.Err != nil {
			log.Warn().Str("app", r.Target.Name).Int("attempts", r.Attempts).Err(r.Err).Msg("refresh failed")
			continue
		}
		inserted += r.Report.Inserted
		log.Info().
			Str("app", r.Target.Name).
			Str("status", string(r.Report.Status)).
			Int("inserted", r.Report.Inserted).
			Msg("refresh ok")
	}

	failed := app.Failed(results)
	log.Info().Int("apps", len(results)).Int("failed", failed).Int("inserted", inserted).Msg("ingestion completed")
	if failed > 0 {
		deps.Close()
		os.Exit(1)
	}
}
