package app

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/mikolaj2268/review-radar/internal/coverage"
	"github.com/mikolaj2268/review-radar/internal/domain"
)

const (
	DefaultReviewLimit = 100
	MaxReviewLimit     = 1000
)

// cachedLimits are the only listing sizes kept in the cache. A sync that
// inserts rows clears all of them.
var cachedLimits = []int{50, 100, 200}

type QueryService struct {
	store    domain.ReviewStore
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(s domain.ReviewStore, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{store: s, cache: c, cacheTTL: ttl}
}

func reviewsCacheKey(app string, limit int) string {
	return fmt.Sprintf("reviews:%s:%d", app, limit)
}

// ListReviews returns stored reviews newest first. Only unfiltered listings
// of a size in cachedLimits are cached; anything else reads through.
func (s *QueryService) ListReviews(ctx context.Context, app string, f domain.ReviewFilter) ([]domain.ReviewRecord, error) {
	f.Limit = clampLimit(f.Limit)
	cacheable := s.cache != nil && f.From == nil && f.To == nil && slices.Contains(cachedLimits, f.Limit)
	key := reviewsCacheKey(app, f.Limit)

	var out []domain.ReviewRecord
	if cacheable {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}

	rs, err := s.store.GetReviews(ctx, app, f)
	if err != nil {
		return nil, err
	}

	// copy slice to avoid aliasing the store's backing array
	out = make([]domain.ReviewRecord, len(rs))
	copy(out, rs)

	if cacheable {
		// optional size guard
		if b, _ := json.Marshal(out); len(b) < 1_000_000 {
			_ = s.cache.Set(ctx, key, out, int(s.cacheTTL.Seconds()))
		}
	}
	return out, nil
}

// Coverage reports which days of window already have stored reviews.
func (s *QueryService) Coverage(ctx context.Context, app string, window domain.DateRange) (coverage.Result, error) {
	if window.Start.After(window.End) {
		return coverage.Result{}, domain.ErrInvalidRange
	}
	dates, err := s.store.DistinctReviewDates(ctx, app)
	if err != nil {
		return coverage.Result{}, err
	}
	return coverage.Compute(dates, window.Start, window.End)
}

func (s *QueryService) Apps(ctx context.Context) ([]string, error) {
	return s.store.AppNames(ctx)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultReviewLimit
	case n > MaxReviewLimit:
		return MaxReviewLimit
	}
	return n
}

func invalidateReviews(ctx context.Context, c domain.Cache, app string) {
	for _, lim := range cachedLimits {
		_ = c.Del(ctx, reviewsCacheKey(app, lim))
	}
}
