package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mikolaj2268/review-radar/internal/adapters/observability"
	"github.com/mikolaj2268/review-radar/internal/domain"
	"github.com/mikolaj2268/review-radar/internal/retry"
)

const (
	DefaultPageSize         = 199
	MaxPageCap              = 999
	DefaultPageTimeout      = 30 * time.Second
	DefaultMalformedRetries = 3
	// maxEmptyPages ends FetchAll when the upstream keeps handing out tokens
	// for pages without entries.
	maxEmptyPages = 3
)

// Cursor carries all continuation state of one fetch loop. The zero Token
// of a fresh cursor means "first page"; after a fetch a nil Token means the
// feed is exhausted.
type Cursor struct {
	Token    *string
	Lang     string
	Country  string
	Sort     domain.SortOrder
	PageSize int
	Score    *int
	Device   *int
	// Stalled is set when a page stayed malformed after retries. Token then
	// still holds the token of that page.
	Stalled bool

	started bool
}

func NewCursor(opts domain.PageOptions) Cursor {
	opts = opts.WithDefaults(DefaultPageSize)
	return Cursor{
		Lang:     opts.Lang,
		Country:  opts.Country,
		Sort:     opts.Sort,
		PageSize: opts.PageSize,
		Score:    opts.Score,
		Device:   opts.Device,
	}
}

// Exhausted reports whether another FetchPage would be pointless.
func (c Cursor) Exhausted() bool {
	return c.started && (c.Token == nil || c.Stalled)
}

// FetchClient drives the upstream continuation-token protocol.
type FetchClient struct {
	src domain.ReviewSource

	PageCap          int
	PageTimeout      time.Duration
	MalformedRetries int
	RetryBackoff     time.Duration
}

func NewFetchClient(src domain.ReviewSource) *FetchClient {
	return &FetchClient{
		src:              src,
		PageCap:          DefaultPageSize,
		PageTimeout:      DefaultPageTimeout,
		MalformedRetries: DefaultMalformedRetries,
		RetryBackoff:     500 * time.Millisecond,
	}
}

// FetchPage fetches one logical page. Upstream calls are capped at PageCap
// entries, so a bigger PageSize loops internally on the returned token.
//
// A malformed page is retried with the same token; if it stays malformed
// the entries gathered so far are returned with a stalled cursor and no
// error. Only transport failures and context cancellation are errors.
func (c *FetchClient) FetchPage(ctx context.Context, appID string, cur Cursor) ([]domain.RawReview, Cursor, error) {
	if cur.Exhausted() {
		return nil, cur, nil
	}
	if cur.PageSize <= 0 {
		cur.PageSize = DefaultPageSize
	}
	pageCap := c.PageCap
	if pageCap <= 0 {
		pageCap = DefaultPageSize
	}
	pageCap = min(pageCap, MaxPageCap)

	var out []domain.RawReview
	remaining := cur.PageSize
	for remaining > 0 {
		page, err := c.listWithRetry(ctx, appID, cur, min(remaining, pageCap))
		if errors.Is(err, domain.ErrMalformedPage) {
			observability.ObserveAnomaly("malformed_page")
			observability.ObservePage("stalled")
			log.Warn().Str("app_id", appID).Int("collected", len(out)).
				Msg("review page stayed malformed; stopping this fetch loop")
			cur.started = true
			cur.Stalled = true
			return out, cur, nil
		}
		if err != nil {
			observability.ObservePage("error")
			return out, cur, err
		}

		entries := mapReviews(page.Entries)
		out = append(out, entries...)
		cur.started = true
		cur.Token = c.nextToken(appID, page.NextToken)
		remaining -= len(entries)

		if len(entries) == 0 || cur.Token == nil {
			break
		}
	}
	observability.ObservePage("ok")
	return out, cur, nil
}

func (c *FetchClient) listWithRetry(ctx context.Context, appID string, cur Cursor, count int) (domain.ReviewPage, error) {
	req := domain.ListRequest{
		AppID:   appID,
		Lang:    cur.Lang,
		Country: cur.Country,
		Sort:    cur.Sort,
		Count:   count,
		Score:   cur.Score,
		Device:  cur.Device,
		Token:   cur.Token,
	}

	opts := retry.DefaultOptions()
	opts.MaxAttempts = max(c.MalformedRetries, 1)
	opts.InitialInterval = c.RetryBackoff
	opts.Classifier = func(err error) bool { return errors.Is(err, domain.ErrMalformedPage) }

	var page domain.ReviewPage
	err := retry.Do(ctx, opts, func(attempt int) error {
		if attempt > 1 {
			log.Debug().Str("app_id", appID).Int("attempt", attempt).Msg("retrying malformed review page")
		}
		p, err := c.listOnce(ctx, req)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

func (c *FetchClient) listOnce(ctx context.Context, req domain.ListRequest) (domain.ReviewPage, error) {
	callCtx := ctx
	if c.PageTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.PageTimeout)
		defer cancel()
	}
	page, err := c.src.ListReviews(callCtx, req)
	switch {
	case err == nil:
		return page, nil
	case errors.Is(err, domain.ErrMalformedPage):
		return domain.ReviewPage{}, err
	case ctx.Err() != nil:
		return domain.ReviewPage{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ReviewPage{}, domain.NewTransportError("list_reviews", 0,
			fmt.Errorf("page timed out after %s: %w", c.PageTimeout, err))
	}
	return domain.ReviewPage{}, domain.NewTransportError("list_reviews", 0, err)
}

// nextToken reads the upstream continuation value. Anything that is not a
// string ends the loop as if the feed were exhausted.
func (c *FetchClient) nextToken(appID string, v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return &t
	case *string:
		if t == nil || *t == "" {
			return nil
		}
		s := *t
		return &s
	}
	observability.ObserveAnomaly("token_shape")
	log.Warn().Str("app_id", appID).Str("token_type", fmt.Sprintf("%T", v)).
		Msg("unexpected continuation token shape; treating feed as exhausted")
	return nil
}

// FetchAll lazily walks the whole feed newest-page first. Every range over
// the sequence restarts from the first page; breaking out stops fetching.
func (c *FetchClient) FetchAll(ctx context.Context, appID string, opts domain.PageOptions, interPageDelay time.Duration) iter.Seq2[domain.RawReview, error] {
	return func(yield func(domain.RawReview, error) bool) {
		cur := NewCursor(opts)
		empty := 0
		for !cur.Exhausted() {
			if cur.started && interPageDelay > 0 {
				if err := sleepCtx(ctx, interPageDelay); err != nil {
					yield(domain.RawReview{}, err)
					return
				}
			}
			rs, next, err := c.FetchPage(ctx, appID, cur)
			if err != nil {
				yield(domain.RawReview{}, err)
				return
			}
			cur = next

			if len(rs) == 0 {
				empty++
				if empty >= maxEmptyPages {
					observability.ObserveAnomaly("empty_pages")
					return
				}
				continue
			}
			empty = 0
			for _, r := range rs {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

// WindowPage is one fetched page reduced to a date window.
type WindowPage struct {
	// Entries inside the window plus entries without a timestamp.
	Entries      []domain.RawReview
	Unresolvable int
	// Raw is the number of entries the page had before filtering.
	Raw int
	// Oldest is the oldest resolvable timestamp on the raw page.
	Oldest *time.Time
	// Last is set when no further page will be requested for this window.
	Last bool
}

// FetchWindow walks the newest-first feed and hands every page, filtered to
// window, to fn. It stops once a page reaches back to the window start, on
// an empty page or an exhausted cursor, or when fn returns an error (which
// is returned as is).
func (c *FetchClient) FetchWindow(ctx context.Context, appID string, opts domain.PageOptions, window domain.DateRange, fn func(WindowPage) error) error {
	opts.Sort = domain.SortNewest
	from, to := window.Bounds()
	cur := NewCursor(opts)

	for !cur.Exhausted() {
		rs, next, err := c.FetchPage(ctx, appID, cur)
		if err != nil {
			return err
		}
		cur = next

		wp := filterWindow(rs, from, to)
		wp.Last = wp.Raw == 0 || cur.Exhausted() || (wp.Oldest != nil && !wp.Oldest.After(from))
		if err := fn(wp); err != nil {
			return err
		}
		if wp.Last {
			return nil
		}
	}
	return nil
}

func filterWindow(rs []domain.RawReview, from, to time.Time) WindowPage {
	wp := WindowPage{Raw: len(rs)}
	for _, r := range rs {
		if r.SubmittedAt == nil || r.SubmittedAt.IsZero() {
			wp.Unresolvable++
			wp.Entries = append(wp.Entries, r)
			continue
		}
		ts := *r.SubmittedAt
		if wp.Oldest == nil || ts.Before(*wp.Oldest) {
			wp.Oldest = &ts
		}
		if !ts.Before(from) && !ts.After(to) {
			wp.Entries = append(wp.Entries, r)
		}
	}
	return wp
}

// sleepCtx waits for d or returns ctx.Err() if ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
