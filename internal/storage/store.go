// Package storage is the record store: collection jobs plus the posts,
// comments and user profiles they produce, in an embedded sqlite database.
//
// Records are keyed by Reddit's own ID. The uniqueness constraint on that
// key is the correctness backstop for deduplication: a partially applied
// batch can always be retried because re-inserting is a no-op.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qepting91/trendit/internal/domain"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Serialized access; the engine batches writes per page anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS collection_jobs (
  job_id TEXT PRIMARY KEY,
  spec_json TEXT NOT NULL,
  status TEXT NOT NULL,
  progress INTEGER NOT NULL DEFAULT 0,
  total_expected INTEGER NOT NULL DEFAULT 0,
  collected_posts INTEGER NOT NULL DEFAULT 0,
  collected_comments INTEGER NOT NULL DEFAULT 0,
  error_message TEXT,
  created_at INTEGER NOT NULL,
  started_at INTEGER,
  completed_at INTEGER
);
CREATE TABLE IF NOT EXISTS reddit_posts (
  reddit_id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  title TEXT NOT NULL,
  selftext TEXT,
  url TEXT,
  permalink TEXT,
  subreddit TEXT NOT NULL,
  author TEXT,
  author_id TEXT,
  score INTEGER NOT NULL DEFAULT 0,
  upvote_ratio REAL NOT NULL DEFAULT 0,
  num_comments INTEGER NOT NULL DEFAULT 0,
  is_nsfw INTEGER NOT NULL DEFAULT 0,
  is_spoiler INTEGER NOT NULL DEFAULT 0,
  is_stickied INTEGER NOT NULL DEFAULT 0,
  post_hint TEXT,
  created_utc INTEGER NOT NULL DEFAULT 0,
  collected_at INTEGER NOT NULL,
  sentiment_score REAL
);
CREATE TABLE IF NOT EXISTS reddit_comments (
  reddit_id TEXT PRIMARY KEY,
  post_id TEXT NOT NULL,
  job_id TEXT NOT NULL,
  body TEXT NOT NULL,
  parent_id TEXT,
  author TEXT,
  author_id TEXT,
  depth INTEGER NOT NULL DEFAULT 0,
  score INTEGER NOT NULL DEFAULT 0,
  is_submitter INTEGER NOT NULL DEFAULT 0,
  is_stickied INTEGER NOT NULL DEFAULT 0,
  created_utc INTEGER NOT NULL DEFAULT 0,
  collected_at INTEGER NOT NULL,
  sentiment_score REAL
);
CREATE TABLE IF NOT EXISTS reddit_users (
  username TEXT PRIMARY KEY,
  user_id TEXT,
  comment_karma INTEGER NOT NULL DEFAULT 0,
  link_karma INTEGER NOT NULL DEFAULT 0,
  account_created INTEGER,
  is_employee INTEGER NOT NULL DEFAULT 0,
  is_mod INTEGER NOT NULL DEFAULT 0,
  has_verified_email INTEGER NOT NULL DEFAULT 0,
  collected_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_job ON reddit_posts (job_id);
CREATE INDEX IF NOT EXISTS idx_posts_subreddit_score ON reddit_posts (subreddit, score);
CREATE INDEX IF NOT EXISTS idx_comments_job ON reddit_comments (job_id);
CREATE INDEX IF NOT EXISTS idx_comments_post ON reddit_comments (post_id);
`

func (s *Store) Close() error { return s.db.Close() }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.StorageError{Op: op, Err: err}
}

// --- jobs ---

func (s *Store) CreateJob(ctx context.Context, job domain.CollectionJob) error {
	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return storageErr("create job", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collection_jobs
		   (job_id, spec_json, status, progress, total_expected, collected_posts, collected_comments, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(specJSON), string(job.Status), job.Progress, job.TotalExpected,
		job.CollectedPosts, job.CollectedComments, nullString(job.ErrorMessage),
		job.CreatedAt.UnixMilli(),
	)
	return storageErr("create job", err)
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.CollectionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, spec_json, status, progress, total_expected, collected_posts,
		        collected_comments, error_message, created_at, started_at, completed_at
		   FROM collection_jobs WHERE job_id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CollectionJob{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CollectionJob{}, storageErr("get job", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, status *domain.JobStatus, limit int) ([]domain.CollectionJob, error) {
	if limit <= 0 {
		limit = 25
	}
	query := `SELECT job_id, spec_json, status, progress, total_expected, collected_posts,
	                 collected_comments, error_message, created_at, started_at, completed_at
	            FROM collection_jobs`
	args := []any{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list jobs", err)
	}
	defer rows.Close()

	var out []domain.CollectionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storageErr("list jobs", err)
		}
		out = append(out, job)
	}
	return out, storageErr("list jobs", rows.Err())
}

// JobPatch is a partial update; nil fields keep their current value.
type JobPatch struct {
	Status            *domain.JobStatus
	Progress          *int
	CollectedPosts    *int
	CollectedComments *int
	TotalExpected     *int
	ErrorMessage      *string
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

func (s *Store) UpdateJob(ctx context.Context, id string, patch JobPatch) error {
	var statusStr *string
	if patch.Status != nil {
		v := string(*patch.Status)
		statusStr = &v
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE collection_jobs SET
		   status = COALESCE(?, status),
		   progress = COALESCE(?, progress),
		   collected_posts = COALESCE(?, collected_posts),
		   collected_comments = COALESCE(?, collected_comments),
		   total_expected = COALESCE(?, total_expected),
		   error_message = COALESCE(?, error_message),
		   started_at = COALESCE(?, started_at),
		   completed_at = COALESCE(?, completed_at)
		 WHERE job_id = ?`,
		statusStr, patch.Progress, patch.CollectedPosts, patch.CollectedComments,
		patch.TotalExpected, patch.ErrorMessage,
		nullMillis(patch.StartedAt), nullMillis(patch.CompletedAt), id,
	)
	return storageErr("update job", err)
}

// DeleteJob removes the job row and cascades deletion of every record the
// job produced.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete job", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM collection_jobs WHERE job_id = ?`, id)
	if err != nil {
		return storageErr("delete job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reddit_comments WHERE job_id = ?`, id); err != nil {
		return storageErr("delete job", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reddit_posts WHERE job_id = ?`, id); err != nil {
		return storageErr("delete job", err)
	}
	return storageErr("delete job", tx.Commit())
}

func scanJob(row interface{ Scan(...any) error }) (domain.CollectionJob, error) {
	var (
		job                    domain.CollectionJob
		specJSON, statusStr    string
		errMsg                 sql.NullString
		createdMs              int64
		startedMs, completedMs sql.NullInt64
	)
	err := row.Scan(&job.ID, &specJSON, &statusStr, &job.Progress, &job.TotalExpected,
		&job.CollectedPosts, &job.CollectedComments, &errMsg, &createdMs, &startedMs, &completedMs)
	if err != nil {
		return domain.CollectionJob{}, err
	}
	if err := json.Unmarshal([]byte(specJSON), &job.Spec); err != nil {
		return domain.CollectionJob{}, err
	}
	job.Status = domain.JobStatus(statusStr)
	job.ErrorMessage = errMsg.String
	job.CreatedAt = time.UnixMilli(createdMs)
	if startedMs.Valid {
		t := time.UnixMilli(startedMs.Int64)
		job.StartedAt = &t
	}
	if completedMs.Valid {
		t := time.UnixMilli(completedMs.Int64)
		job.CompletedAt = &t
	}
	return job, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
