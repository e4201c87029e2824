package domain

import "time"

type SortOrder string

const (
	SortNewest        SortOrder = "newest"
	SortMostRelevant  SortOrder = "most_relevant"
	SortRating        SortOrder = "rating"
	DefaultLanguage             = "en"
	DefaultCountry              = "us"
	DefaultSearchHits           = 5
)

// PageOptions are the request parameters echoed in every continuation cursor.
type PageOptions struct {
	Lang     string    `json:"lang"`
	Country  string    `json:"country"`
	Sort     SortOrder `json:"sort"`
	PageSize int       `json:"page_size"`
	Score    *int      `json:"score,omitempty"`
	Device   *int      `json:"device,omitempty"`
}

// WithDefaults fills empty locale, sort and size.
func (o PageOptions) WithDefaults(pageSize int) PageOptions {
	if o.Lang == "" {
		o.Lang = DefaultLanguage
	}
	if o.Country == "" {
		o.Country = DefaultCountry
	}
	if o.Sort == "" {
		o.Sort = SortNewest
	}
	if o.PageSize <= 0 {
		o.PageSize = pageSize
	}
	return o
}

// SyncRequest asks for reviews of one app over a window of days.
type SyncRequest struct {
	AppID   string
	AppName string
	Window  DateRange
	Page    PageOptions
	// RecheckFrom marks stored days on or after it as missing so a partially
	// fetched day is fetched again. Nil disables it.
	RecheckFrom *Date
}

type SyncStatus string

const (
	StatusIdle          SyncStatus = "idle"
	StatusComputingGaps SyncStatus = "computing_gaps"
	StatusFetchingRange SyncStatus = "fetching_range"
	StatusPersisting    SyncStatus = "persisting_batch"
	StatusNoGapsFound   SyncStatus = "no_gaps_found"
	StatusCompleted     SyncStatus = "completed"
	StatusCancelled     SyncStatus = "cancelled"
	StatusFailed        SyncStatus = "failed"
)

func (s SyncStatus) Terminal() bool {
	switch s {
	case StatusNoGapsFound, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// SyncReport summarises one sync invocation, including partial ones.
type SyncReport struct {
	RunID           string      `json:"run_id"`
	AppID           string      `json:"app_id"`
	AppName         string      `json:"app_name"`
	Window          DateRange   `json:"window"`
	Status          SyncStatus  `json:"status"`
	Fetched         int         `json:"fetched"`
	Inserted        int         `json:"inserted"`
	Unresolvable    int         `json:"unresolvable"`
	Pages           int         `json:"pages"`
	RangesProcessed int         `json:"ranges_processed"`
	RangesSkipped   int         `json:"ranges_skipped"`
	Missing         []DateRange `json:"missing"`
	Available       []DateRange `json:"available"`
	Cause           error       `json:"-"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
}

// CauseText is the failure cause for logs and wire formats.
func (r SyncReport) CauseText() string {
	if r.Cause == nil {
		return ""
	}
	return r.Cause.Error()
}

// Progress is reported at least once per fetched page.
type Progress struct {
	Fetched  int       `json:"fetched"`
	Fraction float64   `json:"fraction"`
	Range    DateRange `json:"range"`
}
