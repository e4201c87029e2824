package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mikolaj2268/review-radar/internal/adapters/observability"
	"github.com/mikolaj2268/review-radar/internal/coverage"
	"github.com/mikolaj2268/review-radar/internal/domain"
)

var errSyncCancelled = errors.New("sync cancelled")

// storeError marks a persistence failure raised from inside a page callback.
type storeError struct{ err error }

func (e storeError) Error() string { return "store: " + e.err.Error() }
func (e storeError) Unwrap() error { return e.err }

// SyncSnapshot is the live view of one app's sync, for status endpoints.
type SyncSnapshot struct {
	AppName  string             `json:"app_name"`
	RunID    string             `json:"run_id,omitempty"`
	State    domain.SyncStatus  `json:"state"`
	Running  bool               `json:"running"`
	Progress domain.Progress    `json:"progress"`
	Last     *domain.SyncReport `json:"last,omitempty"`
	Cause    string             `json:"cause,omitempty"`
}

type syncRun struct {
	req    domain.SyncRequest
	report domain.SyncReport
	cancel *CancelToken
	done   chan struct{}
	// lease is the per-app lock, held until execute returns.
	lease domain.Lease
}

type SyncService struct {
	fetch  *FetchClient
	store  domain.ReviewStore
	locks  domain.SyncLock
	cache  domain.Cache
	events domain.SyncEvents

	// PageDelay throttles consecutive page requests within a range.
	PageDelay time.Duration
	now       func() time.Time

	mu    sync.Mutex
	snaps map[string]*SyncSnapshot
	runs  map[string]*syncRun
}

// NewSyncService wires the orchestrator. locks defaults to in-process
// locks; cache and events may be nil.
func NewSyncService(f *FetchClient, store domain.ReviewStore, locks domain.SyncLock, cache domain.Cache, events domain.SyncEvents) *SyncService {
	if locks == nil {
		locks = NewLocalLocks()
	}
	return &SyncService{
		fetch:  f,
		store:  store,
		locks:  locks,
		cache:  cache,
		events: events,
		now:    time.Now,
		snaps:  make(map[string]*SyncSnapshot),
		runs:   make(map[string]*syncRun),
	}
}

// Sync fills the gaps of req.Window for one app and blocks until a terminal
// status. The error is non-nil only for ErrInvalidRange and
// ErrSyncInProgress; every other outcome is reported in the SyncReport.
func (s *SyncService) Sync(ctx context.Context, req domain.SyncRequest, cancel *CancelToken, progress ProgressFunc) (domain.SyncReport, error) {
	run, err := s.begin(ctx, req, cancel)
	if err != nil {
		return domain.SyncReport{}, err
	}
	return s.execute(ctx, run, progress), nil
}

// Start runs the sync in the background, detached from ctx's cancellation,
// and returns the run id. Cancel stops it.
func (s *SyncService) Start(ctx context.Context, req domain.SyncRequest) (string, error) {
	run, err := s.begin(ctx, req, nil)
	if err != nil {
		return "", err
	}
	go s.execute(context.WithoutCancel(ctx), run, nil)
	return run.report.RunID, nil
}

// Cancel signals the in-flight sync of appName, if any.
func (s *SyncService) Cancel(appName string) bool {
	s.mu.Lock()
	run, ok := s.runs[appName]
	s.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel.Cancel()
	return true
}

// Status returns the latest snapshot for appName.
func (s *SyncService) Status(appName string) (SyncSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[appName]
	if !ok {
		return SyncSnapshot{AppName: appName, State: domain.StatusIdle}, false
	}
	out := *snap
	if snap.Last != nil {
		last := *snap.Last
		out.Last = &last
	}
	return out, true
}

// Wait blocks until the in-flight sync of appName finishes or ctx is done.
func (s *SyncService) Wait(ctx context.Context, appName string) error {
	s.mu.Lock()
	run, ok := s.runs[appName]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SyncService) begin(ctx context.Context, req domain.SyncRequest, cancel *CancelToken) (*syncRun, error) {
	if req.Window.Start.IsZero() || req.Window.End.IsZero() || req.Window.Start.After(req.Window.End) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidRange, req.Window)
	}
	if req.AppName == "" {
		req.AppName = req.AppID
	}
	req.Page = req.Page.WithDefaults(DefaultPageSize)

	lease, err := s.locks.Acquire(ctx, req.AppName)
	if errors.Is(err, domain.ErrSyncInProgress) {
		return nil, err
	}
	if cancel == nil {
		cancel = NewCancelToken()
	}
	run := &syncRun{
		req:    req,
		cancel: cancel,
		done:   make(chan struct{}),
		report: domain.SyncReport{
			RunID:     uuid.NewString(),
			AppID:     req.AppID,
			AppName:   req.AppName,
			Window:    req.Window,
			Status:    domain.StatusIdle,
			StartedAt: s.now().UTC(),
		},
		lease: lease,
	}
	if err != nil {
		// lock backend down: nothing runs, the failure is still reported
		run.report.Status = domain.StatusFailed
		run.report.Cause = fmt.Errorf("acquire sync lock: %w", err)
		run.lease = domain.Lease{Release: func() {}}
	}

	s.mu.Lock()
	s.runs[req.AppName] = run
	s.snaps[req.AppName] = &SyncSnapshot{
		AppName: req.AppName,
		RunID:   run.report.RunID,
		State:   run.report.Status,
		Running: true,
		Last:    s.lastReportLocked(req.AppName),
	}
	s.mu.Unlock()
	return run, nil
}

func (s *SyncService) lastReportLocked(appName string) *domain.SyncReport {
	if prev, ok := s.snaps[appName]; ok {
		return prev.Last
	}
	return nil
}

func (s *SyncService) execute(ctx context.Context, run *syncRun, progress ProgressFunc) domain.SyncReport {
	defer close(run.done)
	defer run.lease.Release()

	if run.lease.Lost != nil {
		var stop context.CancelCauseFunc
		ctx, stop = context.WithCancelCause(ctx)
		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-run.lease.Lost:
				stop(domain.ErrLockLost)
			case <-finished:
				stop(nil)
			}
		}()
	}

	rep := &run.report
	logger := log.With().Str("app", rep.AppName).Str("app_id", rep.AppID).Str("run_id", rep.RunID).Logger()

	if rep.Status != domain.StatusFailed {
		s.reconcile(ctx, run, progress)
	}

	rep.FinishedAt = s.now().UTC()
	s.finish(ctx, run)

	ev := logger.Info()
	if rep.Status == domain.StatusFailed {
		ev = logger.Error().Err(rep.Cause)
	}
	ev.Str("status", string(rep.Status)).
		Str("window", rep.Window.String()).
		Int("missing_ranges", len(rep.Missing)).
		Int("ranges_processed", rep.RangesProcessed).
		Int("fetched", rep.Fetched).
		Int("inserted", rep.Inserted).
		Int("unresolvable", rep.Unresolvable).
		Dur("took", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("sync finished")
	return *rep
}

func (s *SyncService) reconcile(ctx context.Context, run *syncRun, progress ProgressFunc) {
	rep := &run.report
	req := run.req

	s.setState(run, domain.StatusComputingGaps, nil)
	dates, err := s.store.DistinctReviewDates(ctx, req.AppName)
	if err != nil {
		s.fail(run, fmt.Errorf("load coverage: %w", err))
		return
	}
	if req.RecheckFrom != nil {
		dates = coverage.Without(dates, *req.RecheckFrom)
	}
	res, err := coverage.Compute(dates, req.Window.Start, req.Window.End)
	if err != nil {
		s.fail(run, err)
		return
	}
	rep.Missing, rep.Available = res.Missing, res.Available
	rep.RangesSkipped = len(res.Available)

	if len(res.Missing) == 0 {
		rep.Status = domain.StatusNoGapsFound
		return
	}

	for _, rng := range res.Missing {
		if run.stopped(ctx) {
			s.interrupted(run)
			return
		}
		s.setState(run, domain.StatusFetchingRange, &domain.Progress{Fetched: rep.Fetched, Range: rng})

		err := s.syncRange(ctx, run, rng, progress)
		switch {
		case err == nil:
			rep.RangesProcessed++
		case errors.Is(err, errSyncCancelled), ctx.Err() != nil:
			s.interrupted(run)
			return
		default:
			s.fail(run, fmt.Errorf("range %s: %w", rng, err))
			return
		}
	}
	rep.Status = domain.StatusCompleted
}

// syncRange walks one missing range newest first and persists each page
// before asking for the next one.
func (s *SyncService) syncRange(ctx context.Context, run *syncRun, rng domain.DateRange, progress ProgressFunc) error {
	rep := &run.report
	req := run.req
	var oldest *time.Time

	return s.fetch.FetchWindow(ctx, req.AppID, req.Page, rng, func(wp WindowPage) error {
		rep.Pages++

		recs := make([]domain.ReviewRecord, 0, len(wp.Entries))
		for _, e := range wp.Entries {
			rec, ok := e.ToRecord(req.AppName, req.Page.Country, req.Page.Lang)
			if !ok {
				rep.Unresolvable++
				continue
			}
			recs = append(recs, rec)
		}

		if len(recs) > 0 {
			s.setState(run, domain.StatusPersisting, nil)
			n, err := s.store.UpsertReviews(ctx, req.AppName, recs)
			if err != nil {
				return storeError{err}
			}
			rep.Fetched += len(recs)
			rep.Inserted += n
		}

		if wp.Oldest != nil && (oldest == nil || wp.Oldest.Before(*oldest)) {
			oldest = wp.Oldest
		}
		p := domain.Progress{Fetched: rep.Fetched, Fraction: progressFraction(rng, oldest), Range: rng}
		if wp.Last {
			p.Fraction = 1
		}
		s.setState(run, domain.StatusFetchingRange, &p)
		if progress != nil {
			progress(p)
		}

		// a cancel seen on the final page lets the range count as processed
		if wp.Last {
			return nil
		}
		if run.stopped(ctx) {
			return errSyncCancelled
		}
		if s.PageDelay > 0 {
			select {
			case <-time.After(s.PageDelay):
			case <-run.cancel.Done():
				return errSyncCancelled
			case <-ctx.Done():
				return errSyncCancelled
			}
		}
		return nil
	})
}

func (s *SyncService) fail(run *syncRun, err error) {
	run.report.Status = domain.StatusFailed
	run.report.Cause = err
}

func (s *SyncService) setState(run *syncRun, st domain.SyncStatus, p *domain.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[run.req.AppName]
	if !ok || snap.RunID != run.report.RunID {
		return
	}
	snap.State = st
	if p != nil {
		snap.Progress = *p
	}
}

// finish publishes the terminal report: snapshot, audit row, event, cache
// invalidation and metrics. Bookkeeping outlives a cancelled ctx.
func (s *SyncService) finish(ctx context.Context, run *syncRun) {
	rep := run.report
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.store.RecordSyncRun(bg, rep); err != nil {
		log.Warn().Err(err).Str("run_id", rep.RunID).Msg("record sync run failed")
	}
	if s.events != nil {
		if err := s.events.SyncFinished(bg, rep); err != nil {
			log.Warn().Err(err).Str("run_id", rep.RunID).Msg("publish sync event failed")
		}
	}
	if rep.Inserted > 0 && s.cache != nil {
		invalidateReviews(bg, s.cache, rep.AppName)
	}
	observability.ObserveSync(string(rep.Status), rep.Inserted, rep.FinishedAt.Sub(rep.StartedAt))

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.runs[rep.AppName]; ok && cur == run {
		delete(s.runs, rep.AppName)
	}
	if snap, ok := s.snaps[rep.AppName]; ok && snap.RunID == rep.RunID {
		snap.State = rep.Status
		snap.Running = false
		snap.Last = &rep
		snap.Cause = rep.CauseText()
	}
}

func (r *syncRun) stopped(ctx context.Context) bool {
	return r.cancel.Cancelled() || ctx.Err() != nil || r.lockLost()
}

func (r *syncRun) lockLost() bool {
	if r.lease.Lost == nil {
		return false
	}
	select {
	case <-r.lease.Lost:
		return true
	default:
		return false
	}
}

// interrupted ends a run that stopped early. Losing the lock fails the run
// since another process may now be writing the same app.
func (s *SyncService) interrupted(run *syncRun) {
	if run.lockLost() {
		s.fail(run, domain.ErrLockLost)
		return
	}
	run.report.Status = domain.StatusCancelled
}
