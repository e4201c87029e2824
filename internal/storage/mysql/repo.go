package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// maxRowsPerInsert keeps multi-row statements well under max_allowed_packet.
const maxRowsPerInsert = 500

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// UpsertReviews inserts new review ids and ignores known ones. Records
// without a submission time are skipped.
func (r *Repo) UpsertReviews(ctx context.Context, appName string, rs []domain.ReviewRecord) (int, error) {
	inserted := 0
	batch := make([]domain.ReviewRecord, 0, min(len(rs), maxRowsPerInsert))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.insertBatch(ctx, appName, batch)
		if err != nil {
			return err
		}
		inserted += n
		batch = batch[:0]
		return nil
	}
	for _, rv := range rs {
		if rv.SubmittedAt.IsZero() || rv.ReviewID == "" {
			continue
		}
		batch = append(batch, rv)
		if len(batch) == maxRowsPerInsert {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func (r *Repo) insertBatch(ctx context.Context, appName string, rs []domain.ReviewRecord) (int, error) {
	values := make([]string, 0, len(rs))
	args := make([]any, 0, len(rs)*14)
	for _, rv := range rs {
		values = append(values, reviewRowPlaceholders)
		args = append(args,
			rv.ReviewID,
			appName,
			rv.AuthorName,
			valStr(rv.AuthorImageURL),
			rv.Content,
			rv.Score,
			rv.ThumbsUpCount,
			valStr(rv.AppVersionAtReview),
			rv.SubmittedAt.UTC(),
			valStr(rv.ReplyContent),
			valTime(rv.RepliedAt),
			valStr(rv.AppVersion),
			rv.Country,
			rv.Language,
		)
	}
	sqlStr := insertReviewsPrefix + strings.Join(values, ",") + insertReviewsOnDup
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("insert reviews: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert reviews: rows affected: %w", err)
	}
	return int(n), nil
}

func (r *Repo) RecordSyncRun(ctx context.Context, rep domain.SyncReport) error {
	_, err := r.db.ExecContext(ctx, upsertSyncRunSQL,
		rep.RunID,
		rep.AppName,
		rep.AppID,
		rep.Window.Start.Time(),
		rep.Window.End.Time(),
		string(rep.Status),
		rep.Fetched,
		rep.Inserted,
		rep.Unresolvable,
		rep.RangesProcessed,
		rep.RangesSkipped,
		rep.CauseText(),
		rep.StartedAt.UTC(),
		rep.FinishedAt.UTC(),
	)
	return err
}

func (r *Repo) DistinctReviewDates(ctx context.Context, appName string) ([]domain.Date, error) {
	rows, err := r.db.QueryContext(ctx, distinctDatesSQL, appName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Date
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, domain.DateOf(d))
	}
	return out, rows.Err()
}

func (r *Repo) GetReviews(ctx context.Context, appName string, f domain.ReviewFilter) ([]domain.ReviewRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	from, to := valTime(f.From), valTime(f.To)
	rows, err := r.db.QueryContext(ctx, listReviewsSQL, appName, from, from, to, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ReviewRecord, 0, limit)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func scanReview(rows *sql.Rows) (domain.ReviewRecord, error) {
	var (
		rv                                    domain.ReviewRecord
		img, verAt, reply, ver, country, lang sql.NullString
		repliedAt                             sql.NullTime
	)
	if err := rows.Scan(
		&rv.ReviewID, &rv.AppName, &rv.AuthorName, &img, &rv.Content, &rv.Score, &rv.ThumbsUpCount,
		&verAt, &rv.SubmittedAt, &reply, &repliedAt, &ver, &country, &lang,
	); err != nil {
		return domain.ReviewRecord{}, err
	}
	rv.SubmittedAt = rv.SubmittedAt.UTC()
	rv.AuthorImageURL = nullStr(img)
	rv.AppVersionAtReview = nullStr(verAt)
	rv.ReplyContent = nullStr(reply)
	rv.AppVersion = nullStr(ver)
	rv.Country, rv.Language = country.String, lang.String
	if repliedAt.Valid {
		t := repliedAt.Time.UTC()
		rv.RepliedAt = &t
	}
	return rv, nil
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r *Repo) AppNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, appNamesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) LatestReviewTime(ctx context.Context, appName string) (*time.Time, error) {
	var t sql.NullTime
	if err := r.db.QueryRowContext(ctx, latestReviewSQL, appName).Scan(&t); err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	u := t.Time.UTC()
	return &u, nil
}
