package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/mikolaj2268/review-radar/internal/domain"
	"github.com/mikolaj2268/review-radar/internal/retry"
)

// RefreshTarget is one app to bring up to date. An empty AppID is resolved
// from Name through the catalog search.
type RefreshTarget struct {
	Name  string
	AppID string
}

// RefreshResult pairs a target with the report of its last sync attempt.
type RefreshResult struct {
	Target   RefreshTarget
	Report   domain.SyncReport
	Attempts int
	Err      error
}

// Refresher syncs many apps from their newest stored day up to today.
type Refresher struct {
	sync     *SyncService
	store    domain.ReviewStore
	resolver *Resolver

	Page         domain.PageOptions
	Workers      int
	LookbackDays int
	Retry        retry.Options
	now          func() time.Time
}

func NewRefresher(s *SyncService, store domain.ReviewStore, r *Resolver) *Refresher {
	return &Refresher{
		sync:         s,
		store:        store,
		resolver:     r,
		Workers:      4,
		LookbackDays: 30,
		Retry:        retry.DefaultOptions(),
		now:          time.Now,
	}
}

// Targets returns watch when it is non-empty and every stored app name
// otherwise.
func (r *Refresher) Targets(ctx context.Context, watch []RefreshTarget) ([]RefreshTarget, error) {
	if len(watch) > 0 {
		return watch, nil
	}
	names, err := r.store.AppNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored apps: %w", err)
	}
	out := make([]RefreshTarget, 0, len(names))
	for _, n := range names {
		out = append(out, RefreshTarget{Name: n})
	}
	return out, nil
}

// Run refreshes every target, at most Workers at a time. Results keep the
// order of targets.
func (r *Refresher) Run(ctx context.Context, targets []RefreshTarget) []RefreshResult {
	results := make([]RefreshResult, len(targets))
	sem := semaphore.NewWeighted(int64(max(r.Workers, 1)))
	var wg sync.WaitGroup

	for i, t := range targets {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(targets); j++ {
				results[j] = RefreshResult{Target: targets[j], Err: err}
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = r.refreshOne(ctx, t)
		}()
	}
	wg.Wait()
	return results
}

func (r *Refresher) refreshOne(ctx context.Context, t RefreshTarget) RefreshResult {
	res := RefreshResult{Target: t}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	logger := log.With().Str("app", t.Name).Logger()

	if t.AppID == "" {
		c, ok, err := r.resolver.First(ctx, t.Name)
		if err != nil {
			res.Err = fmt.Errorf("resolve %q: %w", t.Name, err)
			logger.Warn().Err(err).Msg("app resolution failed")
			return res
		}
		if !ok {
			res.Err = fmt.Errorf("resolve %q: %w", t.Name, domain.ErrNotFound)
			logger.Warn().Msg("no catalog match, skipping")
			return res
		}
		t.AppID = c.AppID
		res.Target = t
	}

	req, err := r.request(ctx, t)
	if err != nil {
		res.Err = err
		return res
	}

	res.Err = retry.Do(ctx, r.Retry, func(attempt int) error {
		res.Attempts = attempt
		rep, err := r.sync.Sync(ctx, req, nil, nil)
		if err != nil {
			return err
		}
		res.Report = rep
		if rep.Status == domain.StatusFailed {
			if attempt < r.Retry.MaxAttempts {
				logger.Warn().Err(rep.Cause).Int("attempt", attempt).Msg("sync failed")
			}
			return rep.Cause
		}
		return nil
	})
	return res
}

// request builds the window [latest stored day, today]. The latest day is
// re-checked since it was probably fetched while still filling up.
func (r *Refresher) request(ctx context.Context, t RefreshTarget) (domain.SyncRequest, error) {
	today := domain.DateOf(r.now())
	latest, err := r.store.LatestReviewTime(ctx, t.Name)
	if err != nil {
		return domain.SyncRequest{}, fmt.Errorf("latest review of %q: %w", t.Name, err)
	}

	req := domain.SyncRequest{AppID: t.AppID, AppName: t.Name, Page: r.Page}
	if latest == nil {
		req.Window = domain.DateRange{Start: today.AddDays(-max(r.LookbackDays, 0)), End: today}
		return req, nil
	}
	start := domain.DateOf(*latest)
	if start.After(today) {
		start = today
	}
	req.Window = domain.DateRange{Start: start, End: today}
	req.RecheckFrom = &start
	return req, nil
}

// Failed counts results that ended without a usable report.
func Failed(results []RefreshResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, domain.ErrNotFound) {
			n++
		}
	}
	return n
}
