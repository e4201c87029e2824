package domain

import (
	"context"
	"time"
)

type ReviewStore interface {
	// Write paths
	UpsertReviews(ctx context.Context, appName string, rs []ReviewRecord) (inserted int, err error)
	RecordSyncRun(ctx context.Context, r SyncReport) error

	// Read paths
	DistinctReviewDates(ctx context.Context, appName string) ([]Date, error)
	GetReviews(ctx context.Context, appName string, f ReviewFilter) ([]ReviewRecord, error)
	AppNames(ctx context.Context) ([]string, error)
	LatestReviewTime(ctx context.Context, appName string) (*time.Time, error)
}

// ListRequest is one call of the upstream review-listing protocol.
type ListRequest struct {
	AppID   string
	Lang    string
	Country string
	Sort    SortOrder
	Count   int
	Score   *int
	Device  *int
	Token   *string
}

// ReviewPage is the raw upstream answer. NextToken keeps whatever JSON shape
// the upstream sent; interpreting it is the fetch client's job.
type ReviewPage struct {
	Entries   []map[string]any
	NextToken any
}

type ReviewSource interface {
	ListReviews(ctx context.Context, req ListRequest) (ReviewPage, error)
}

type SearchRequest struct {
	Query   string
	Lang    string
	Country string
	MaxHits int
}

type AppSearcher interface {
	SearchApps(ctx context.Context, req SearchRequest) ([]map[string]any, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// SyncLock serialises syncs per key. Acquire fails fast with
// ErrSyncInProgress instead of waiting.
type SyncLock interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held sync lock. Lost is closed when the lock is taken away
// before Release, e.g. an expired TTL; it is nil for locks that cannot be
// lost. Release is safe to call more than once.
type Lease struct {
	Release func()
	Lost    <-chan struct{}
}

// SyncEvents receives every terminal sync report.
type SyncEvents interface {
	SyncFinished(ctx context.Context, r SyncReport) error
}
