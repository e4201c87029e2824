// internal/adapters/playstore/client.go
package playstore

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/mikolaj2268/review-radar/internal/adapters/observability"
	"github.com/mikolaj2268/review-radar/internal/domain"
)

const (
	service      = "playstore"
	maxBodyBytes = 8 << 20
)

var (
	ErrUnauthorized = errors.New("playstore: unauthorized")
	ErrForbidden    = errors.New("playstore: forbidden")
)

type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

// New builds a client for the review feed at base. The API key is optional;
// rps bounds outbound calls.
func New(base, key string, rps int) (*Client, error) {
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 45 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- Public API ----

// ListReviews performs exactly one listing call. A body whose envelope
// cannot be navigated yields domain.ErrMalformedPage; every other failure
// is a *domain.FetchFailure.
func (c *Client) ListReviews(ctx context.Context, req domain.ListRequest) (domain.ReviewPage, error) {
	q := url.Values{}
	q.Set("lang", req.Lang)
	q.Set("country", req.Country)
	q.Set("sort", string(req.Sort))
	q.Set("count", strconv.Itoa(req.Count))
	if req.Score != nil {
		q.Set("score", strconv.Itoa(*req.Score))
	}
	if req.Device != nil {
		q.Set("device", strconv.Itoa(*req.Device))
	}
	if req.Token != nil {
		q.Set("token", *req.Token)
	}
	u := fmt.Sprintf("%s/apps/%s/reviews?%s", c.base, url.PathEscape(req.AppID), q.Encode())

	body, err := c.get(ctx, "list_reviews", u, 1)
	if err != nil {
		return domain.ReviewPage{}, err
	}
	return decodeReviewPage(body)
}

// SearchApps queries the catalog. Unlike listing, throttling and 5xx answers
// are retried here with backoff.
func (c *Client) SearchApps(ctx context.Context, req domain.SearchRequest) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("lang", req.Lang)
	q.Set("country", req.Country)
	q.Set("n", strconv.Itoa(req.MaxHits))
	u := fmt.Sprintf("%s/search?%s", c.base, q.Encode())

	body, err := c.get(ctx, "search", u, 4)
	if err != nil {
		return nil, err
	}
	return decodeSearch(body)
}

// ---- Decoding ----

func decodeReviewPage(body []byte) (domain.ReviewPage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.ReviewPage{}, fmt.Errorf("%w: %v", domain.ErrMalformedPage, err)
	}
	rawEntries, ok := env["entries"]
	if !ok {
		rawEntries, ok = env["reviews"]
	}
	if !ok {
		return domain.ReviewPage{}, fmt.Errorf("%w: no entries field", domain.ErrMalformedPage)
	}

	var page domain.ReviewPage
	if !isNull(rawEntries) {
		if err := json.Unmarshal(rawEntries, &page.Entries); err != nil {
			return domain.ReviewPage{}, fmt.Errorf("%w: entries: %v", domain.ErrMalformedPage, err)
		}
	}
	if rawTok, ok := env["nextToken"]; ok {
		// any shape is passed through; the fetch client judges it
		if err := json.Unmarshal(rawTok, &page.NextToken); err != nil {
			return domain.ReviewPage{}, fmt.Errorf("%w: token: %v", domain.ErrMalformedPage, err)
		}
	}
	return page, nil
}

func decodeSearch(body []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var hits []map[string]any
		if err := json.Unmarshal(trimmed, &hits); err != nil {
			return nil, domain.NewTransportError("search", http.StatusOK, err)
		}
		return hits, nil
	}
	var env struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, domain.NewTransportError("search", http.StatusOK, err)
	}
	return env.Results, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// ---- Internals ----

// get performs a GET with client-side rate limiting and returns the body of
// a 2xx answer. With attempts > 1, 429 and transient 5xx are retried,
// honoring Retry-After when provided.
func (c *Client) get(ctx context.Context, op, u string, attempts int) ([]byte, error) {
	// client-side rate limiting
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		body, err := c.do(ctx, op, u)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		var ff *domain.FetchFailure
		if !errors.As(err, &ff) || !retryable(ff.Status) || i == attempts-1 {
			break
		}
		wait := ff.RetryAfter
		if wait == 0 {
			wait = backoff(i)
		}
		if !sleepCtx(ctx, wait) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, op, u string) ([]byte, error) {
	// build a fresh request each attempt
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "review-radar/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal(service, op, 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransportError(op, 0, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal(service, op, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, domain.NewTransportError(op, resp.StatusCode, err)
		}
		return body, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, &domain.FetchFailure{Kind: domain.TransportError, Op: op, Status: resp.StatusCode, Err: domain.ErrNotFound}

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &domain.FetchFailure{Kind: domain.TransportError, Op: op, Status: resp.StatusCode, Err: ErrUnauthorized}

	case resp.StatusCode == http.StatusForbidden:
		return nil, &domain.FetchFailure{Kind: domain.TransportError, Op: op, Status: resp.StatusCode, Err: ErrForbidden}
	}

	// read a small error body for diagnostics
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, &domain.FetchFailure{
		Kind:       domain.TransportError,
		Op:         op,
		Status:     resp.StatusCode,
		RetryAfter: retryAfter(resp),
		Err:        fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))),
	}
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	// seconds form
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	// HTTP-date form
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential delay with up to +50% jitter.
// i = retry attempt (0,1,2,...): 200ms, 400ms, 800ms...
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
