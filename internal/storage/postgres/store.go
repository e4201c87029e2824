package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// copyThreshold is the batch size from which inserts go through COPY.
const copyThreshold = 100

var reviewColumns = []string{
	"review_id", "app_name", "author_name", "author_image_url", "content", "score", "thumbs_up_count",
	"app_version_at_review", "submitted_at", "reply_content", "replied_at", "app_version", "country", "language",
}

type Config struct {
	URI      string
	MinConns int32
	MaxConns int32
}

// Store is the PostgreSQL ReviewStore.
type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func reviewRow(appName string, r domain.ReviewRecord) []any {
	var replied *time.Time
	if r.RepliedAt != nil {
		t := r.RepliedAt.UTC()
		replied = &t
	}
	return []any{
		r.ReviewID, appName, r.AuthorName, r.AuthorImageURL, r.Content, r.Score, r.ThumbsUpCount,
		r.AppVersionAtReview, r.SubmittedAt.UTC(), r.ReplyContent, replied, r.AppVersion, r.Country, r.Language,
	}
}

// UpsertReviews inserts unseen review ids. Big batches are copied into a
// temp table first and merged with one INSERT ... SELECT.
func (s *Store) UpsertReviews(ctx context.Context, appName string, rs []domain.ReviewRecord) (int, error) {
	rows := make([][]any, 0, len(rs))
	for _, r := range rs {
		if r.SubmittedAt.IsZero() || r.ReviewID == "" {
			continue
		}
		rows = append(rows, reviewRow(appName, r))
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if len(rows) >= copyThreshold {
		return s.insertCopy(ctx, rows)
	}
	return s.insertBatch(ctx, rows)
}

const insertReviewSQL = `
INSERT INTO app_reviews (review_id, app_name, author_name, author_image_url, content, score, thumbs_up_count,
                         app_version_at_review, submitted_at, reply_content, replied_at, app_version, country, language)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (review_id) DO NOTHING`

func (s *Store) insertBatch(ctx context.Context, rows [][]any) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, row := range rows {
		b.Queue(insertReviewSQL, row...)
	}
	br := tx.SendBatch(ctx, b)
	inserted := 0
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert review: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (s *Store) insertCopy(ctx context.Context, rows [][]any) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "CREATE TEMP TABLE app_reviews_tmp (LIKE app_reviews INCLUDING DEFAULTS) ON COMMIT DROP"); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"app_reviews_tmp"}, reviewColumns, pgx.CopyFromRows(rows)); err != nil {
		return 0, fmt.Errorf("copy from failed: %w", err)
	}
	// DISTINCT ON guards against the same id twice in one page
	tag, err := tx.Exec(ctx, `
		INSERT INTO app_reviews
		SELECT DISTINCT ON (review_id) * FROM app_reviews_tmp
		ORDER BY review_id
		ON CONFLICT (review_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("merge temp table: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	log.Debug().Int("rows", len(rows)).Int64("inserted", tag.RowsAffected()).Msg("copied review batch")
	return int(tag.RowsAffected()), nil
}

func (s *Store) RecordSyncRun(ctx context.Context, r domain.SyncReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (run_id, app_name, app_id, window_start, window_end, status, fetched, inserted,
		                       unresolvable, ranges_processed, ranges_skipped, cause, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			fetched = EXCLUDED.fetched,
			inserted = EXCLUDED.inserted,
			unresolvable = EXCLUDED.unresolvable,
			ranges_processed = EXCLUDED.ranges_processed,
			ranges_skipped = EXCLUDED.ranges_skipped,
			cause = EXCLUDED.cause,
			finished_at = EXCLUDED.finished_at`,
		r.RunID, r.AppName, r.AppID, r.Window.Start.Time(), r.Window.End.Time(), string(r.Status),
		r.Fetched, r.Inserted, r.Unresolvable, r.RangesProcessed, r.RangesSkipped, r.CauseText(),
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	return err
}

func (s *Store) DistinctReviewDates(ctx context.Context, appName string) ([]domain.Date, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT (submitted_at AT TIME ZONE 'UTC')::date AS d
		FROM app_reviews WHERE app_name = $1 ORDER BY d`, appName)
	if err != nil {
		return nil, err
	}
	days, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, err
	}
	out := make([]domain.Date, 0, len(days))
	for _, d := range days {
		out = append(out, domain.DateOf(d))
	}
	return out, nil
}

func (s *Store) GetReviews(ctx context.Context, appName string, f domain.ReviewFilter) ([]domain.ReviewRecord, error) {
	// LIMIT NULL is no limit
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT review_id, app_name, author_name, author_image_url, content, score, thumbs_up_count,
		       app_version_at_review, submitted_at, reply_content, replied_at, app_version, country, language
		FROM app_reviews
		WHERE app_name = $1
		  AND ($2::timestamptz IS NULL OR submitted_at >= $2)
		  AND ($3::timestamptz IS NULL OR submitted_at <= $3)
		ORDER BY submitted_at DESC, review_id
		LIMIT $4`, appName, f.From, f.To, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ReviewRecord, error) {
		var r domain.ReviewRecord
		err := row.Scan(&r.ReviewID, &r.AppName, &r.AuthorName, &r.AuthorImageURL, &r.Content, &r.Score,
			&r.ThumbsUpCount, &r.AppVersionAtReview, &r.SubmittedAt, &r.ReplyContent, &r.RepliedAt,
			&r.AppVersion, &r.Country, &r.Language)
		r.SubmittedAt = r.SubmittedAt.UTC()
		if r.RepliedAt != nil {
			t := r.RepliedAt.UTC()
			r.RepliedAt = &t
		}
		return r, err
	})
}

func (s *Store) AppNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT app_name FROM app_reviews ORDER BY app_name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) LatestReviewTime(ctx context.Context, appName string) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(submitted_at) FROM app_reviews WHERE app_name = $1`, appName).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t != nil {
		u := t.UTC()
		t = &u
	}
	return t, nil
}
