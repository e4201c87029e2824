package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

type scriptStep struct {
	page domain.ReviewPage
	err  error
}

// scriptedSource replays steps in order and records every request.
type scriptedSource struct {
	mu    sync.Mutex
	steps []scriptStep
	reqs  []domain.ListRequest
}

func (s *scriptedSource) ListReviews(ctx context.Context, req domain.ListRequest) (domain.ReviewPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if len(s.steps) == 0 {
		return domain.ReviewPage{}, nil
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.page, st.err
}

func (s *scriptedSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

var day0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// entriesAt builds one entry per day offset, noon UTC, in the given order.
func entriesAt(prefix string, days ...int) []map[string]any {
	out := make([]map[string]any, 0, len(days))
	for _, d := range days {
		out = append(out, map[string]any{
			"reviewId": fmt.Sprintf("%s-%d", prefix, d),
			"content":  "x",
			"score":    float64(4),
			"at":       day0.AddDate(0, 0, d).Format(time.RFC3339),
		})
	}
	return out
}

func newTestClient(src domain.ReviewSource) *FetchClient {
	c := NewFetchClient(src)
	c.RetryBackoff = time.Millisecond
	return c
}

func TestFetchWindow_EarlyStopAfterSecondPage(t *testing.T) {
	// Days count up from day0: the first page is newest.
	src := &scriptedSource{steps: []scriptStep{
		{page: domain.ReviewPage{Entries: entriesAt("p1", 9, 8, 7, 6, 5), NextToken: "t1"}},
		{page: domain.ReviewPage{Entries: entriesAt("p2", 4, 3, 2, 1, 0), NextToken: "t2"}},
		{page: domain.ReviewPage{Entries: entriesAt("p3", -1, -2), NextToken: "t3"}},
	}}
	c := newTestClient(src)

	window := domain.DateRange{Start: domain.DateOf(day0.AddDate(0, 0, 2)), End: domain.DateOf(day0.AddDate(0, 0, 9))}
	opts := domain.PageOptions{PageSize: 5}

	var got []string
	pages := 0
	err := c.FetchWindow(context.Background(), "com.app", opts, window, func(wp WindowPage) error {
		pages++
		for _, r := range wp.Entries {
			got = append(got, r.ReviewID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FetchWindow: %v", err)
	}
	if src.calls() != 2 || pages != 2 {
		t.Fatalf("calls=%d pages=%d, want 2/2", src.calls(), pages)
	}
	if len(got) != 8 {
		t.Fatalf("in-window entries = %v", got)
	}
	for _, id := range got {
		if id == "p2-1" || id == "p2-0" {
			t.Fatalf("out-of-window entry %s kept", id)
		}
	}
	if src.reqs[1].Token == nil || *src.reqs[1].Token != "t1" {
		t.Fatalf("second request token = %v", src.reqs[1].Token)
	}
	if src.reqs[0].Sort != domain.SortNewest {
		t.Fatalf("sort = %q", src.reqs[0].Sort)
	}
}

func TestFetchWindow_EmptyFilteredPageKeepsWalking(t *testing.T) {
	// The first page is entirely newer than the window; it must not end the walk.
	src := &scriptedSource{steps: []scriptStep{
		{page: domain.ReviewPage{Entries: entriesAt("p1", 20, 19), NextToken: "t1"}},
		{page: domain.ReviewPage{Entries: entriesAt("p2", 5, 4), NextToken: "t2"}},
		{page: domain.ReviewPage{Entries: entriesAt("p3", 3, 1), NextToken: "t3"}},
	}}
	c := newTestClient(src)
	window := domain.DateRange{Start: domain.DateOf(day0.AddDate(0, 0, 2)), End: domain.DateOf(day0.AddDate(0, 0, 5))}

	var got []string
	err := c.FetchWindow(context.Background(), "a", domain.PageOptions{PageSize: 2}, window, func(wp WindowPage) error {
		for _, r := range wp.Entries {
			got = append(got, r.ReviewID)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if src.calls() != 3 {
		t.Fatalf("calls = %d", src.calls())
	}
	want := []string{"p2-5", "p2-4", "p3-3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFetchWindow_UnresolvableEntriesPassThrough(t *testing.T) {
	entries := entriesAt("p", 3)
	entries = append(entries, map[string]any{"reviewId": "bad", "at": "??"})
	src := &scriptedSource{steps: []scriptStep{{page: domain.ReviewPage{Entries: entries}}}}
	c := newTestClient(src)
	window := domain.DateRange{Start: domain.DateOf(day0), End: domain.DateOf(day0.AddDate(0, 0, 5))}

	var wp WindowPage
	if err := c.FetchWindow(context.Background(), "a", domain.PageOptions{}, window, func(p WindowPage) error {
		wp = p
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if wp.Unresolvable != 1 || len(wp.Entries) != 2 || wp.Raw != 2 {
		t.Fatalf("page = %+v", wp)
	}
}

func TestFetchWindow_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	src := &scriptedSource{steps: []scriptStep{
		{page: domain.ReviewPage{Entries: entriesAt("p1", 9), NextToken: "t1"}},
		{page: domain.ReviewPage{Entries: entriesAt("p2", 8), NextToken: "t2"}},
	}}
	c := newTestClient(src)
	window := domain.DateRange{Start: domain.DateOf(day0), End: domain.DateOf(day0.AddDate(0, 0, 9))}
	err := c.FetchWindow(context.Background(), "a", domain.PageOptions{PageSize: 1}, window, func(WindowPage) error { return stop })
	if !errors.Is(err, stop) || src.calls() != 1 {
		t.Fatalf("err=%v calls=%d", err, src.calls())
	}
}

func TestFetchAll_MalformedTokenOnSecondCall(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{page: domain.ReviewPage{Entries: entriesAt("a", 5, 4), NextToken: "t1"}},
		{page: domain.ReviewPage{Entries: entriesAt("b", 3, 2), NextToken: []any{"x", float64(1)}}},
		{page: domain.ReviewPage{Entries: entriesAt("c", 1)}},
	}}
	c := newTestClient(src)

	var got []string
	for r, err := range c.FetchAll(context.Background(), "a", domain.PageOptions{PageSize: 2}, 0) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, r.ReviewID)
	}
	if len(got) != 4 || src.calls() != 2 {
		t.Fatalf("got %v after %d calls", got, src.calls())
	}
}

func TestFetchPage_LoopsOverPageCap(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{page: domain.ReviewPage{Entries: entriesAt("a", 9, 8, 7), NextToken: "t1"}},
		{page: domain.ReviewPage{Entries: entriesAt("b", 6, 5, 4), NextToken: "t2"}},
		{page: domain.ReviewPage{Entries: entriesAt("c", 3), NextToken: "t3"}},
	}}
	c := newTestClient(src)
	c.PageCap = 3

	rs, cur, err := c.FetchPage(context.Background(), "a", NewCursor(domain.PageOptions{PageSize: 7}))
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 7 || src.calls() != 3 {
		t.Fatalf("entries=%d calls=%d", len(rs), src.calls())
	}
	if counts := []int{src.reqs[0].Count, src.reqs[1].Count, src.reqs[2].Count}; fmt.Sprint(counts) != "[3 3 1]" {
		t.Fatalf("request counts = %v", counts)
	}
	if cur.Token == nil || *cur.Token != "t3" || cur.Exhausted() {
		t.Fatalf("cursor = %+v", cur)
	}
}

func TestFetchPage_MalformedPageStalls(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{page: domain.ReviewPage{Entries: entriesAt("a", 9), NextToken: "t1"}},
		{err: domain.ErrMalformedPage},
		{err: domain.ErrMalformedPage},
		{err: domain.ErrMalformedPage},
	}}
	c := newTestClient(src)

	rs, cur, err := c.FetchPage(context.Background(), "a", NewCursor(domain.PageOptions{PageSize: 5}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs) != 1 || !cur.Stalled || !cur.Exhausted() {
		t.Fatalf("entries=%d cursor=%+v", len(rs), cur)
	}
	if cur.Token == nil || *cur.Token != "t1" {
		t.Fatalf("stalled cursor must keep the prior token, got %v", cur.Token)
	}
	// one good call plus three attempts on the same token
	if src.calls() != 4 {
		t.Fatalf("calls = %d", src.calls())
	}
	for _, r := range src.reqs[1:] {
		if r.Token == nil || *r.Token != "t1" {
			t.Fatalf("retry used token %v", r.Token)
		}
	}
}

func TestFetchPage_MalformedPageRecovers(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{err: domain.ErrMalformedPage},
		{page: domain.ReviewPage{Entries: entriesAt("a", 9, 8)}},
	}}
	c := newTestClient(src)
	rs, cur, err := c.FetchPage(context.Background(), "a", NewCursor(domain.PageOptions{PageSize: 5}))
	if err != nil || len(rs) != 2 || cur.Stalled || !cur.Exhausted() {
		t.Fatalf("err=%v entries=%d cursor=%+v", err, len(rs), cur)
	}
}

func TestFetchPage_TransportFailureNotRetried(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{err: errors.New("connection reset")},
		{page: domain.ReviewPage{Entries: entriesAt("a", 1)}},
	}}
	c := newTestClient(src)
	_, _, err := c.FetchPage(context.Background(), "a", NewCursor(domain.PageOptions{}))
	if !domain.IsTransport(err) {
		t.Fatalf("want transport failure, got %v", err)
	}
	if src.calls() != 1 {
		t.Fatalf("calls = %d", src.calls())
	}
}

type slowSource struct{}

func (slowSource) ListReviews(ctx context.Context, _ domain.ListRequest) (domain.ReviewPage, error) {
	<-ctx.Done()
	return domain.ReviewPage{}, ctx.Err()
}

func TestFetchPage_TimeoutIsTransportFailure(t *testing.T) {
	c := newTestClient(slowSource{})
	c.PageTimeout = 10 * time.Millisecond
	_, _, err := c.FetchPage(context.Background(), "a", NewCursor(domain.PageOptions{}))
	var ff *domain.FetchFailure
	if !errors.As(err, &ff) || ff.Status != 0 {
		t.Fatalf("want transport failure, got %v", err)
	}
}

func TestFetchAll_EarlyBreak(t *testing.T) {
	src := &scriptedSource{steps: []scriptStep{
		{page: domain.ReviewPage{Entries: entriesAt("a", 9, 8), NextToken: "t1"}},
		{page: domain.ReviewPage{Entries: entriesAt("b", 7, 6), NextToken: "t2"}},
	}}
	c := newTestClient(src)
	n := 0
	for _, err := range c.FetchAll(context.Background(), "a", domain.PageOptions{PageSize: 2}, time.Millisecond) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if n == 1 {
			break
		}
	}
	if src.calls() != 1 {
		t.Fatalf("calls = %d", src.calls())
	}
}

func TestFetchAll_StopsOnRepeatedEmptyPages(t *testing.T) {
	steps := make([]scriptStep, 0, 10)
	for i := range 10 {
		steps = append(steps, scriptStep{page: domain.ReviewPage{NextToken: fmt.Sprintf("t%d", i)}})
	}
	src := &scriptedSource{steps: steps}
	c := newTestClient(src)
	for _, err := range c.FetchAll(context.Background(), "a", domain.PageOptions{}, 0) {
		if err != nil {
			t.Fatal(err)
		}
	}
	if src.calls() != maxEmptyPages {
		t.Fatalf("calls = %d", src.calls())
	}
}
