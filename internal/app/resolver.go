package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// Resolution is the outcome of a catalog search. An empty candidate list is
// a normal result.
type Resolution struct {
	Query      string                `json:"query"`
	Candidates []domain.AppCandidate `json:"candidates"`
}

func (r Resolution) Found() bool { return len(r.Candidates) > 0 }

// Resolver turns a free-text app name into store identifiers.
type Resolver struct {
	src      domain.AppSearcher
	cache    domain.Cache
	cacheTTL time.Duration
	sf       singleflight.Group

	Lang    string
	Country string
	MaxHits int
}

func NewResolver(src domain.AppSearcher, cache domain.Cache, ttl time.Duration) *Resolver {
	return &Resolver{
		src:      src,
		cache:    cache,
		cacheTTL: ttl,
		Lang:     domain.DefaultLanguage,
		Country:  domain.DefaultCountry,
		MaxHits:  domain.DefaultSearchHits,
	}
}

func (r *Resolver) Resolve(ctx context.Context, query string) (Resolution, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Resolution{Query: q}, nil
	}
	maxHits := r.MaxHits
	if maxHits <= 0 {
		maxHits = domain.DefaultSearchHits
	}
	key := fmt.Sprintf("search:%s:%s:%s", r.Lang, r.Country, strings.ToLower(q))

	if r.cache != nil {
		var cached Resolution
		if ok, _ := r.cache.Get(ctx, key, &cached); ok {
			return cached, nil
		}
	}

	v, err, _ := r.sf.Do(key, func() (any, error) {
		hits, err := r.src.SearchApps(ctx, domain.SearchRequest{
			Query:   q,
			Lang:    r.Lang,
			Country: r.Country,
			MaxHits: maxHits,
		})
		if err != nil {
			return nil, domain.NewTransportError("search", 0, err)
		}
		res := Resolution{Query: q, Candidates: mapCandidates(hits, maxHits)}
		if r.cache != nil {
			_ = r.cache.Set(ctx, key, res, int(r.cacheTTL.Seconds()))
		}
		return res, nil
	})
	if err != nil {
		return Resolution{Query: q}, err
	}
	return v.(Resolution), nil
}

// First returns the best match for query.
func (r *Resolver) First(ctx context.Context, query string) (domain.AppCandidate, bool, error) {
	res, err := r.Resolve(ctx, query)
	if err != nil || !res.Found() {
		return domain.AppCandidate{}, false, err
	}
	return res.Candidates[0], true, nil
}
