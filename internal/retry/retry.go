package retry

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// Classifier reports whether err is worth another attempt.
type Classifier func(error) bool

type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Classifier      Classifier
}

// DefaultOptions retries transient upstream failures a few times.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Classifier:      Transient,
	}
}

// Do runs fn until it succeeds, the classifier rejects the error, attempts
// run out or ctx is done. The last error is returned.
func Do(ctx context.Context, opts Options, fn func(attempt int) error) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if opts.Classifier != nil && !opts.Classifier(err) {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		wait := Backoff(attempt, opts)
		var ff *domain.FetchFailure
		if errors.As(err, &ff) && ff.RetryAfter > wait {
			wait = ff.RetryAfter
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

// Backoff is the wait after the given attempt (1-based).
func Backoff(attempt int, opts Options) time.Duration {
	if attempt <= 1 {
		return min(opts.InitialInterval, opts.MaxInterval)
	}
	interval := float64(opts.InitialInterval) * math.Pow(opts.Multiplier, float64(attempt-1))
	if interval > float64(opts.MaxInterval) {
		return opts.MaxInterval
	}
	return time.Duration(interval)
}

// Transient accepts malformed pages and transport failures that a later
// attempt can plausibly fix: no response, 408, 429 and 5xx.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, domain.ErrMalformedPage) {
		return true
	}
	var ff *domain.FetchFailure
	if !errors.As(err, &ff) {
		return false
	}
	switch {
	case ff.Status == 0,
		ff.Status == http.StatusRequestTimeout,
		ff.Status == http.StatusTooManyRequests,
		ff.Status >= 500:
		return true
	}
	return false
}
