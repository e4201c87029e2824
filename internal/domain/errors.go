package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRange   = errors.New("invalid date range")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrLockLost       = errors.New("sync lock lost")
	// ErrMalformedPage marks an upstream page whose envelope could not be
	// navigated. The fetch client absorbs it; callers never see it.
	ErrMalformedPage = errors.New("malformed review page")
)

type FailureKind string

const TransportError FailureKind = "transport"

// FetchFailure is a failed upstream call during fetch or search.
type FetchFailure struct {
	Kind       FailureKind
	Op         string // list_reviews | search
	Status     int    // HTTP status, 0 when the request never completed
	RetryAfter time.Duration
	Err        error
}

func (f *FetchFailure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", f.Op, f.Kind, f.Status, f.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", f.Op, f.Kind, f.Err)
}

func (f *FetchFailure) Unwrap() error { return f.Err }

// NewTransportError wraps err unless it already is a FetchFailure.
func NewTransportError(op string, status int, err error) error {
	var ff *FetchFailure
	if errors.As(err, &ff) {
		return err
	}
	return &FetchFailure{Kind: TransportError, Op: op, Status: status, Err: err}
}

// IsTransport reports whether err is (or wraps) a transport failure.
func IsTransport(err error) bool {
	var ff *FetchFailure
	return errors.As(err, &ff) && ff.Kind == TransportError
}
