package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikolaj2268/review-radar/internal/domain"
	"github.com/mikolaj2268/review-radar/internal/retry"
)

type catalogSearcher map[string]string

func (c catalogSearcher) SearchApps(_ context.Context, req domain.SearchRequest) ([]map[string]any, error) {
	id, ok := c[req.Query]
	if !ok {
		return nil, nil
	}
	return []map[string]any{{"title": req.Query, "appId": id}}, nil
}

func newTestRefresher(src domain.ReviewSource, store *memStore, catalog catalogSearcher) *Refresher {
	r := NewRefresher(NewSyncService(newTestClient(src), store, nil, nil, nil), store, NewResolver(catalog, nil, time.Minute))
	r.now = func() time.Time { return day0.AddDate(0, 0, 5) }
	r.Retry = retry.Options{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, Classifier: retry.Transient}
	return r
}

func TestRefresher_RechecksLatestStoredDay(t *testing.T) {
	store := newMemStore()
	_, _ = store.UpsertReviews(context.Background(), "Demo", []domain.ReviewRecord{storedDay("Demo", 3)})
	r := newTestRefresher(&feedSource{entries: dailyFeed(5, 0)}, store, nil)

	targets, err := r.Targets(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []RefreshTarget{{Name: "Demo"}}, targets)
	targets[0].AppID = "com.demo"

	res := r.Run(context.Background(), targets)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	rep := res[0].Report
	assert.Equal(t, domain.StatusCompleted, rep.Status)
	assert.Equal(t, domain.DateRange{Start: dayOf(3), End: dayOf(5)}, rep.Window)
	assert.Equal(t, 3, rep.Inserted)
	assert.True(t, store.has("r-3"))
	assert.False(t, store.has("r-2"))
}

func TestRefresher_ResolvesAndLooksBack(t *testing.T) {
	store := newMemStore()
	r := newTestRefresher(&feedSource{entries: dailyFeed(5, 0)}, store, catalogSearcher{"Fresh": "com.fresh"})
	r.LookbackDays = 2

	res := r.Run(context.Background(), []RefreshTarget{{Name: "Fresh"}, {Name: "Ghost"}})
	require.Len(t, res, 2)

	require.NoError(t, res[0].Err)
	assert.Equal(t, "com.fresh", res[0].Target.AppID)
	assert.Equal(t, domain.DateRange{Start: dayOf(3), End: dayOf(5)}, res[0].Report.Window)
	assert.Equal(t, 3, res[0].Report.Inserted)

	assert.ErrorIs(t, res[1].Err, domain.ErrNotFound)
	assert.Equal(t, 0, Failed(res))
}

func TestRefresher_RetriesTransportFailures(t *testing.T) {
	store := newMemStore()
	src := &feedSource{err: &domain.FetchFailure{Kind: domain.TransportError, Op: "list_reviews", Status: 503, Err: errors.New("unavailable")}}
	r := newTestRefresher(src, store, nil)

	res := r.Run(context.Background(), []RefreshTarget{{Name: "Down", AppID: "com.down"}})
	require.Len(t, res, 1)
	assert.Equal(t, 2, res[0].Attempts)
	assert.True(t, domain.IsTransport(res[0].Err))
	assert.Equal(t, domain.StatusFailed, res[0].Report.Status)
	assert.Equal(t, 2, src.callCount())
	assert.Equal(t, 1, Failed(res))
}

func TestRefresher_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestRefresher(&feedSource{}, newMemStore(), nil)
	r.Workers = 1

	res := r.Run(ctx, []RefreshTarget{{Name: "A", AppID: "a"}, {Name: "B", AppID: "b"}})
	require.Len(t, res, 2)
	for _, x := range res {
		assert.Error(t, x.Err)
	}
}
