// Package sqlite is the single-file ReviewStore used for local analysis and
// the CLI. Timestamps are stored as fixed-width UTC text so that string
// comparison orders them.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

const tsLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) (time.Time, error) { return time.Parse(tsLayout, s) }

type Store struct {
	db *sql.DB
}

// Open creates the file and its directory if needed and migrates the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS app_reviews (
			review_id TEXT PRIMARY KEY,
			app_name TEXT NOT NULL,
			author_name TEXT NOT NULL DEFAULT '',
			author_image_url TEXT,
			content TEXT NOT NULL,
			score INTEGER NOT NULL,
			thumbs_up_count INTEGER NOT NULL DEFAULT 0,
			app_version_at_review TEXT,
			submitted_at TEXT NOT NULL,
			submitted_date TEXT NOT NULL,
			reply_content TEXT,
			replied_at TEXT,
			app_version TEXT,
			country TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_app_submitted ON app_reviews(app_name, submitted_at)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			run_id TEXT PRIMARY KEY,
			app_name TEXT NOT NULL,
			app_id TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			status TEXT NOT NULL,
			fetched INTEGER NOT NULL DEFAULT 0,
			inserted INTEGER NOT NULL DEFAULT 0,
			unresolvable INTEGER NOT NULL DEFAULT 0,
			ranges_processed INTEGER NOT NULL DEFAULT 0,
			ranges_skipped INTEGER NOT NULL DEFAULT 0,
			cause TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func nullable(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *Store) UpsertReviews(ctx context.Context, appName string, rs []domain.ReviewRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO app_reviews (review_id, app_name, author_name, author_image_url, content, score,
			thumbs_up_count, app_version_at_review, submitted_at, submitted_date, reply_content, replied_at,
			app_version, country, language)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range rs {
		if r.SubmittedAt.IsZero() || r.ReviewID == "" {
			continue
		}
		var replied sql.NullString
		if r.RepliedAt != nil {
			replied = sql.NullString{String: fmtTS(*r.RepliedAt), Valid: true}
		}
		res, err := stmt.ExecContext(ctx,
			r.ReviewID, appName, r.AuthorName, nullable(r.AuthorImageURL), r.Content, r.Score,
			r.ThumbsUpCount, nullable(r.AppVersionAtReview), fmtTS(r.SubmittedAt),
			domain.DateOf(r.SubmittedAt).String(), nullable(r.ReplyContent), replied,
			nullable(r.AppVersion), r.Country, r.Language,
		)
		if err != nil {
			return 0, fmt.Errorf("insert review %s: %w", r.ReviewID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) RecordSyncRun(ctx context.Context, r domain.SyncReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, app_name, app_id, window_start, window_end, status, fetched, inserted,
			unresolvable, ranges_processed, ranges_skipped, cause, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			fetched = excluded.fetched,
			inserted = excluded.inserted,
			unresolvable = excluded.unresolvable,
			ranges_processed = excluded.ranges_processed,
			ranges_skipped = excluded.ranges_skipped,
			cause = excluded.cause,
			finished_at = excluded.finished_at`,
		r.RunID, r.AppName, r.AppID, r.Window.Start.String(), r.Window.End.String(), string(r.Status),
		r.Fetched, r.Inserted, r.Unresolvable, r.RangesProcessed, r.RangesSkipped, r.CauseText(),
		fmtTS(r.StartedAt), fmtTS(r.FinishedAt),
	)
	return err
}

func (s *Store) DistinctReviewDates(ctx context.Context, appName string) ([]domain.Date, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT submitted_date FROM app_reviews WHERE app_name = ? ORDER BY submitted_date`, appName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Date
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		d, err := domain.ParseDate(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetReviews(ctx context.Context, appName string, f domain.ReviewFilter) ([]domain.ReviewRecord, error) {
	var from, to sql.NullString
	if f.From != nil {
		from = sql.NullString{String: fmtTS(*f.From), Valid: true}
	}
	if f.To != nil {
		to = sql.NullString{String: fmtTS(*f.To), Valid: true}
	}
	limit := -1
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT review_id, app_name, author_name, author_image_url, content, score, thumbs_up_count,
		       app_version_at_review, submitted_at, reply_content, replied_at, app_version, country, language
		FROM app_reviews
		WHERE app_name = ?
		  AND (? IS NULL OR submitted_at >= ?)
		  AND (? IS NULL OR submitted_at <= ?)
		ORDER BY submitted_at DESC, review_id
		LIMIT ?`, appName, from, from, to, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReviewRecord
	for rows.Next() {
		var (
			r                                            domain.ReviewRecord
			submitted                                    string
			image, versionAt, reply, replied, appVersion sql.NullString
		)
		if err := rows.Scan(&r.ReviewID, &r.AppName, &r.AuthorName, &image, &r.Content, &r.Score,
			&r.ThumbsUpCount, &versionAt, &submitted, &reply, &replied, &appVersion, &r.Country, &r.Language); err != nil {
			return nil, err
		}
		if r.SubmittedAt, err = parseTS(submitted); err != nil {
			return nil, fmt.Errorf("review %s: %w", r.ReviewID, err)
		}
		if replied.Valid {
			t, err := parseTS(replied.String)
			if err != nil {
				return nil, fmt.Errorf("review %s: %w", r.ReviewID, err)
			}
			r.RepliedAt = &t
		}
		r.AuthorImageURL = strPtr(image)
		r.AppVersionAtReview = strPtr(versionAt)
		r.ReplyContent = strPtr(reply)
		r.AppVersion = strPtr(appVersion)
		out = append(out, r)
	}
	return out, rows.Err()
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func (s *Store) AppNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT app_name FROM app_reviews ORDER BY app_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) LatestReviewTime(ctx context.Context, appName string) (*time.Time, error) {
	var ts sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(submitted_at) FROM app_reviews WHERE app_name = ?`, appName).Scan(&ts); err != nil {
		return nil, err
	}
	if !ts.Valid {
		return nil, nil
	}
	t, err := parseTS(ts.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
