package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikolaj2268/review-radar/internal/app"
	"github.com/mikolaj2268/review-radar/internal/domain"
)

// ---- fakes ----

type fakeStore struct {
	rs    []domain.ReviewRecord
	dates []domain.Date
	gets  int
}

func (f *fakeStore) UpsertReviews(ctx context.Context, app string, rs []domain.ReviewRecord) (int, error) {
	return 0, nil
}
func (f *fakeStore) RecordSyncRun(ctx context.Context, r domain.SyncReport) error { return nil }
func (f *fakeStore) DistinctReviewDates(ctx context.Context, app string) ([]domain.Date, error) {
	return f.dates, nil
}
func (f *fakeStore) GetReviews(ctx context.Context, app string, rf domain.ReviewFilter) ([]domain.ReviewRecord, error) {
	f.gets++
	return f.rs, nil
}
func (f *fakeStore) AppNames(ctx context.Context) ([]string, error) { return []string{"A"}, nil }
func (f *fakeStore) LatestReviewTime(ctx context.Context, app string) (*time.Time, error) {
	return nil, nil
}

type fakeCache struct {
	store map[string]any
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	switch d := dst.(type) {
	case *[]domain.ReviewRecord:
		*d = v.([]domain.ReviewRecord)
	case *app.Resolution:
		*d = v.(app.Resolution)
	}
	return true, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.store, key)
	return nil
}

// ---- tests ----

func TestListReviews_CacheMissThenHit(t *testing.T) {
	store := &fakeStore{rs: []domain.ReviewRecord{{ReviewID: "1", AuthorName: "Ana", Score: 5}}}
	cache := &fakeCache{}
	q := app.NewQueryService(store, cache, 10*time.Minute)

	out, err := q.ListReviews(context.Background(), "A", domain.ReviewFilter{Limit: 50})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(out) != 1 || out[0].AuthorName != "Ana" {
		t.Fatalf("unexpected reviews: %+v", out)
	}

	// Change store, call again -> should come from cache
	store.rs[0].AuthorName = "Changed"
	out2, _ := q.ListReviews(context.Background(), "A", domain.ReviewFilter{Limit: 50})
	if out2[0].AuthorName != "Ana" {
		t.Fatalf("expected cached author Ana, got %s", out2[0].AuthorName)
	}
	if store.gets != 1 {
		t.Fatalf("store reads = %d", store.gets)
	}
}

func TestListReviews_FilteredBypassesCache(t *testing.T) {
	store := &fakeStore{rs: []domain.ReviewRecord{{ReviewID: "1"}}}
	cache := &fakeCache{}
	q := app.NewQueryService(store, cache, time.Minute)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for range 2 {
		if _, err := q.ListReviews(context.Background(), "A", domain.ReviewFilter{From: &from}); err != nil {
			t.Fatal(err)
		}
	}
	if store.gets != 2 || len(cache.store) != 0 {
		t.Fatalf("gets=%d cached=%d", store.gets, len(cache.store))
	}
}

func TestCoverage(t *testing.T) {
	store := &fakeStore{dates: []domain.Date{domain.MustDate("2024-01-01"), domain.MustDate("2024-01-02"), domain.MustDate("2024-01-05")}}
	q := app.NewQueryService(store, nil, time.Minute)

	res, err := q.Coverage(context.Background(), "A", domain.DateRange{Start: domain.MustDate("2024-01-01"), End: domain.MustDate("2024-01-06")})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Missing) != 2 || len(res.Available) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := q.Coverage(context.Background(), "A", domain.DateRange{Start: domain.MustDate("2024-01-06"), End: domain.MustDate("2024-01-01")}); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("err = %v", err)
	}
}

// ---- resolver ----

type fakeSearcher struct {
	hits  []map[string]any
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeSearcher) SearchApps(ctx context.Context, req domain.SearchRequest) ([]map[string]any, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.hits, f.err
}

func TestResolver_EmptyQueryMakesNoCall(t *testing.T) {
	src := &fakeSearcher{}
	r := app.NewResolver(src, nil, time.Minute)
	res, err := r.Resolve(context.Background(), "   ")
	if err != nil || res.Found() || src.calls.Load() != 0 {
		t.Fatalf("res=%+v err=%v calls=%d", res, err, src.calls.Load())
	}
}

func TestResolver_CapsHitsAndCaches(t *testing.T) {
	var hits []map[string]any
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		hits = append(hits, map[string]any{"title": id, "appId": "com." + id})
	}
	src := &fakeSearcher{hits: hits}
	r := app.NewResolver(src, &fakeCache{}, time.Minute)

	res, err := r.Resolve(context.Background(), " Spotify ")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Candidates) != domain.DefaultSearchHits || res.Query != "Spotify" {
		t.Fatalf("res = %+v", res)
	}
	if _, err := r.Resolve(context.Background(), "spotify"); err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("calls = %d", src.calls.Load())
	}

	best, ok, err := r.First(context.Background(), "spotify")
	if err != nil || !ok || best.AppID != "com.a" {
		t.Fatalf("first = %+v %v %v", best, ok, err)
	}
}

func TestResolver_ZeroHitsIsNotAnError(t *testing.T) {
	r := app.NewResolver(&fakeSearcher{}, nil, time.Minute)
	_, ok, err := r.First(context.Background(), "nothing")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestResolver_TransportFailure(t *testing.T) {
	r := app.NewResolver(&fakeSearcher{err: errors.New("timeout")}, nil, time.Minute)
	_, err := r.Resolve(context.Background(), "x")
	if !domain.IsTransport(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolver_CoalescesConcurrentQueries(t *testing.T) {
	src := &fakeSearcher{hits: []map[string]any{{"title": "A", "appId": "com.a"}}, delay: 50 * time.Millisecond}
	r := app.NewResolver(src, nil, time.Minute)

	done := make(chan struct{})
	for range 5 {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = r.Resolve(context.Background(), "a")
		}()
	}
	for range 5 {
		<-done
	}
	if n := src.calls.Load(); n >= 5 {
		t.Fatalf("calls = %d, expected coalescing", n)
	}
}
