// Package bootstrap wires configuration into the services shared by the
// api, ingestor and reviewctl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	kafkaad "github.com/mikolaj2268/review-radar/internal/adapters/kafka"
	"github.com/mikolaj2268/review-radar/internal/adapters/playstore"
	redisad "github.com/mikolaj2268/review-radar/internal/adapters/redis"
	"github.com/mikolaj2268/review-radar/internal/analysis"
	"github.com/mikolaj2268/review-radar/internal/app"
	"github.com/mikolaj2268/review-radar/internal/domain"
	"github.com/mikolaj2268/review-radar/internal/shared"
	"github.com/mikolaj2268/review-radar/internal/storage"
)

type Deps struct {
	Config   shared.Config
	Store    storage.Store
	Cache    domain.Cache
	Source   *playstore.Client
	Fetch    *app.FetchClient
	Sync     *app.SyncService
	Query    *app.QueryService
	Resolver *app.Resolver
	// LLM is nil without OPENAI_API_KEY.
	LLM analysis.Scorer

	closers []func() error
}

// Build opens every backend named by cfg. Redis and Kafka are optional.
func Build(ctx context.Context, cfg shared.Config) (*Deps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	d := &Deps{Config: cfg}

	st, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.Store = st
	d.closers = append(d.closers, st.Close)

	var locks domain.SyncLock
	if cfg.RedisAddr != "" {
		rc := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		d.closers = append(d.closers, rc.Close)
		if err := rc.Ping(ctx).Err(); err != nil {
			// the cache is an optimisation; run without it
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, cache disabled")
		} else {
			d.Cache = redisad.NewFromClient(rc)
			if cfg.RedisLocks {
				locks = app.ChainLocks{app.NewLocalLocks(), redisad.NewLocker(rc, time.Minute)}
			}
		}
	}

	var events domain.SyncEvents = kafkaad.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		p := kafkaad.NewPublisher(kafkaad.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		d.closers = append(d.closers, p.Close)
		events = p
	}

	src, err := playstore.New(cfg.UpstreamBase, cfg.UpstreamKey, cfg.UpstreamRPS)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Source = src

	d.Fetch = app.NewFetchClient(src)
	d.Fetch.PageCap = cfg.PageCap
	d.Fetch.PageTimeout = cfg.PageTimeout
	d.Fetch.MalformedRetries = cfg.MalformedRetries

	d.Sync = app.NewSyncService(d.Fetch, st, locks, d.Cache, events)
	d.Sync.PageDelay = cfg.PageDelay
	d.Query = app.NewQueryService(st, d.Cache, cfg.CacheTTL)

	d.Resolver = app.NewResolver(src, d.Cache, cfg.CacheTTL)
	d.Resolver.Lang, d.Resolver.Country, d.Resolver.MaxHits = cfg.Lang, cfg.Country, cfg.SearchHits

	if cfg.OpenAIKey != "" {
		llm, err := analysis.NewLLMScorer(cfg.OpenAIKey, cfg.OpenAIModel)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.LLM = llm
	}
	return d, nil
}

// PageOptions are the configured defaults for sync requests.
func (d *Deps) PageOptions() domain.PageOptions {
	return domain.PageOptions{
		Lang:     d.Config.Lang,
		Country:  d.Config.Country,
		Sort:     domain.SortNewest,
		PageSize: d.Config.PageSize,
	}
}

// Close releases backends in reverse order of opening.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
