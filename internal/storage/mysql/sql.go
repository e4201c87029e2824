package mysql

// Columns of insertReviewsPrefix, in order; 14 params per row.
const insertReviewsPrefix = "INSERT INTO app_reviews\n" +
	"  (review_id, app_name, author_name, author_image_url, content, score, thumbs_up_count,\n" +
	"   app_version_at_review, submitted_at, reply_content, replied_at, app_version, country, language)\nVALUES "

const reviewRowPlaceholders = "(?,?,?,?,?,?,?,?,?,?,?,?,?,?)"

// A no-op update: existing rows stay untouched and report 0 affected rows,
// so RowsAffected counts fresh inserts only.
const insertReviewsOnDup = " ON DUPLICATE KEY UPDATE review_id = review_id"

const upsertSyncRunSQL = `
INSERT INTO sync_runs
  (run_id, app_name, app_id, window_start, window_end, status, fetched, inserted,
   unresolvable, ranges_processed, ranges_skipped, cause, started_at, finished_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  status           = VALUES(status),
  fetched          = VALUES(fetched),
  inserted         = VALUES(inserted),
  unresolvable     = VALUES(unresolvable),
  ranges_processed = VALUES(ranges_processed),
  ranges_skipped   = VALUES(ranges_skipped),
  cause            = VALUES(cause),
  finished_at      = VALUES(finished_at)
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

const distinctDatesSQL = `
SELECT DISTINCT DATE(submitted_at) AS d
FROM app_reviews
WHERE app_name = ?
ORDER BY d
`

// Optional bounds are passed twice: (? IS NULL OR col >= ?).
const listReviewsSQL = `
SELECT review_id, app_name, author_name, author_image_url, content, score, thumbs_up_count,
       app_version_at_review, submitted_at, reply_content, replied_at, app_version, country, language
FROM app_reviews
WHERE app_name = ?
  AND (? IS NULL OR submitted_at >= ?)
  AND (? IS NULL OR submitted_at <= ?)
ORDER BY submitted_at DESC, review_id
LIMIT ?
`

const appNamesSQL = `SELECT DISTINCT app_name FROM app_reviews ORDER BY app_name`

const latestReviewSQL = `SELECT MAX(submitted_at) FROM app_reviews WHERE app_name = ?`
