package app

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// memStore is an in-memory ReviewStore with insert-or-ignore semantics.
type memStore struct {
	mu        sync.Mutex
	rows      map[string]domain.ReviewRecord
	runs      []domain.SyncReport
	upsertErr error
	upserts   int
}

func newMemStore() *memStore { return &memStore{rows: map[string]domain.ReviewRecord{}} }

func (m *memStore) UpsertReviews(_ context.Context, _ string, rs []domain.ReviewRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	n := 0
	for _, r := range rs {
		if r.SubmittedAt.IsZero() {
			continue
		}
		if _, ok := m.rows[r.ReviewID]; ok {
			continue
		}
		m.rows[r.ReviewID] = r
		n++
	}
	return n, nil
}

func (m *memStore) RecordSyncRun(_ context.Context, r domain.SyncReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) DistinctReviewDates(_ context.Context, app string) ([]domain.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[domain.Date]struct{}{}
	for _, r := range m.rows {
		if r.AppName == app {
			seen[domain.DateOf(r.SubmittedAt)] = struct{}{}
		}
	}
	out := make([]domain.Date, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.SortFunc(out, domain.Date.Compare)
	return out, nil
}

func (m *memStore) GetReviews(_ context.Context, app string, f domain.ReviewFilter) ([]domain.ReviewRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReviewRecord
	for _, r := range m.rows {
		if r.AppName != app {
			continue
		}
		if f.From != nil && r.SubmittedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && r.SubmittedAt.After(*f.To) {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b domain.ReviewRecord) int { return b.SubmittedAt.Compare(a.SubmittedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) AppNames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for _, r := range m.rows {
		set[r.AppName] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	slices.Sort(out)
	return out, nil
}

func (m *memStore) LatestReviewTime(_ context.Context, app string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, r := range m.rows {
		if r.AppName == app && (latest == nil || r.SubmittedAt.After(*latest)) {
			t := r.SubmittedAt
			latest = &t
		}
	}
	return latest, nil
}

func (m *memStore) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok
}

// feedSource serves a fixed newest-first feed with offset tokens.
type feedSource struct {
	mu      sync.Mutex
	entries []map[string]any
	calls   int
	err     error
	// gate, when set, blocks every call until closed; entered is signalled first.
	gate    chan struct{}
	entered chan struct{}
}

func (f *feedSource) ListReviews(ctx context.Context, req domain.ListRequest) (domain.ReviewPage, error) {
	if f.gate != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.ReviewPage{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.ReviewPage{}, f.err
	}
	off := 0
	if req.Token != nil {
		off, _ = strconv.Atoi(*req.Token)
	}
	end := min(off+req.Count, len(f.entries))
	page := domain.ReviewPage{Entries: f.entries[off:end]}
	if end < len(f.entries) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *feedSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// dailyFeed has one entry per day from newest down to oldest, newest first.
func dailyFeed(newest, oldest int) []map[string]any {
	var days []int
	for d := newest; d >= oldest; d-- {
		days = append(days, d)
	}
	return entriesAt("r", days...)
}

func dayOf(n int) domain.Date { return domain.DateOf(day0.AddDate(0, 0, n)) }

func storedDay(app string, n int) domain.ReviewRecord {
	return domain.ReviewRecord{
		ReviewID:    "stored-" + strconv.Itoa(n),
		AppName:     app,
		Content:     "old",
		Score:       3,
		SubmittedAt: day0.AddDate(0, 0, n),
	}
}

type memEvents struct {
	mu      sync.Mutex
	reports []domain.SyncReport
}

func (e *memEvents) SyncFinished(_ context.Context, r domain.SyncReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, r)
	return nil
}

type memCache struct {
	mu   sync.Mutex
	dels []string
}

func (c *memCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (c *memCache) Set(context.Context, string, any, int) error    { return nil }
func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dels = append(c.dels, key)
	return nil
}

// jsonCache stores values the way the redis cache does, as JSON.
type jsonCache struct {
	mu   sync.Mutex
	vals map[string][]byte
}

func newJSONCache() *jsonCache { return &jsonCache{vals: map[string][]byte{}} }

func (c *jsonCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.vals[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *jsonCache) Set(_ context.Context, key string, v any, _ int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[key] = b
	return nil
}

func (c *jsonCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vals, key)
	return nil
}
