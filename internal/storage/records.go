package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/qepting91/trendit/internal/domain"
)

// Upserts are idempotent on the natural key: re-inserting a record already
// attached to the same job changes nothing and is not counted. A record
// re-collected by a *different* job is taken over last-write-wins: every
// mutable column is replaced so the new job's view (including any author
// anonymization) fully supersedes the old one, and sentiment resets because
// the new job annotates its own records.
const upsertPostSQL = `
INSERT INTO reddit_posts
  (reddit_id, job_id, title, selftext, url, permalink, subreddit, author, author_id,
   score, upvote_ratio, num_comments, is_nsfw, is_spoiler, is_stickied, post_hint,
   created_utc, collected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (reddit_id) DO UPDATE SET
  job_id = excluded.job_id,
  title = excluded.title,
  selftext = excluded.selftext,
  url = excluded.url,
  permalink = excluded.permalink,
  subreddit = excluded.subreddit,
  author = excluded.author,
  author_id = excluded.author_id,
  score = excluded.score,
  upvote_ratio = excluded.upvote_ratio,
  num_comments = excluded.num_comments,
  is_nsfw = excluded.is_nsfw,
  is_spoiler = excluded.is_spoiler,
  is_stickied = excluded.is_stickied,
  post_hint = excluded.post_hint,
  created_utc = excluded.created_utc,
  collected_at = excluded.collected_at,
  sentiment_score = NULL
WHERE reddit_posts.job_id != excluded.job_id`

const upsertCommentSQL = `
INSERT INTO reddit_comments
  (reddit_id, post_id, job_id, body, parent_id, author, author_id, depth,
   score, is_submitter, is_stickied, created_utc, collected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (reddit_id) DO UPDATE SET
  job_id = excluded.job_id,
  post_id = excluded.post_id,
  body = excluded.body,
  parent_id = excluded.parent_id,
  author = excluded.author,
  author_id = excluded.author_id,
  depth = excluded.depth,
  score = excluded.score,
  is_submitter = excluded.is_submitter,
  is_stickied = excluded.is_stickied,
  created_utc = excluded.created_utc,
  collected_at = excluded.collected_at,
  sentiment_score = NULL
WHERE reddit_comments.job_id != excluded.job_id`

// UpsertPosts writes a batch in one transaction and reports how many records
// were newly attached to the job. Duplicates within the job are no-ops.
func (s *Store) UpsertPosts(ctx context.Context, posts []domain.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("upsert posts", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, p := range posts {
		res, err := tx.ExecContext(ctx, upsertPostSQL,
			p.RedditID, p.JobID, p.Title, nullString(p.Selftext), nullString(p.URL),
			nullString(p.Permalink), p.Subreddit, nullString(p.Author), nullString(p.AuthorID),
			p.Score, p.UpvoteRatio, p.NumComments,
			boolInt(p.IsNSFW), boolInt(p.IsSpoiler), boolInt(p.IsStickied),
			nullString(p.PostHint), p.CreatedUTC.Unix(), p.CollectedAt.UnixMilli(),
		)
		if err != nil {
			return 0, storageErr("upsert posts", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("upsert posts", err)
	}
	return inserted, nil
}

// UpsertComments mirrors UpsertPosts for comment records.
func (s *Store) UpsertComments(ctx context.Context, comments []domain.Comment) (int, error) {
	if len(comments) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("upsert comments", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, c := range comments {
		res, err := tx.ExecContext(ctx, upsertCommentSQL,
			c.RedditID, c.PostID, c.JobID, c.Body, nullString(c.ParentID),
			nullString(c.Author), nullString(c.AuthorID), c.Depth,
			c.Score, boolInt(c.IsSubmitter), boolInt(c.IsStickied),
			c.CreatedUTC.Unix(), c.CollectedAt.UnixMilli(),
		)
		if err != nil {
			return 0, storageErr("upsert comments", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("upsert comments", err)
	}
	return inserted, nil
}

// UpsertUser keeps the freshest profile per username; profiles are shared
// across jobs.
func (s *Store) UpsertUser(ctx context.Context, u domain.RedditUser) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reddit_users
		  (username, user_id, comment_karma, link_karma, account_created,
		   is_employee, is_mod, has_verified_email, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
		  comment_karma = excluded.comment_karma,
		  link_karma = excluded.link_karma,
		  is_mod = excluded.is_mod,
		  collected_at = excluded.collected_at`,
		u.Username, nullString(u.UserID), u.CommentKarma, u.LinkKarma,
		nullTime(u.AccountCreated), boolInt(u.IsEmployee), boolInt(u.IsMod),
		boolInt(u.HasVerifiedEmail), u.CollectedAt.UnixMilli(),
	)
	return storageErr("upsert user", err)
}

// QueryOptions narrows and orders record queries. OrderBy is checked against
// a whitelist; anything else falls back to created_utc.
type QueryOptions struct {
	Subreddit string
	OrderBy   string
	Desc      bool
	Limit     int
	Offset    int
}

var postOrderColumns = map[string]bool{
	"score": true, "created_utc": true, "num_comments": true, "upvote_ratio": true,
}

func (o QueryOptions) clause(valid map[string]bool) string {
	col := "created_utc"
	if valid[o.OrderBy] {
		col = o.OrderBy
	}
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	limit := o.Limit
	if limit <= 0 {
		limit = 100
	}
	return fmt.Sprintf(" ORDER BY %s %s LIMIT %d OFFSET %d", col, dir, limit, o.Offset)
}

func (s *Store) QueryPosts(ctx context.Context, jobID string, opts QueryOptions) ([]domain.Post, error) {
	query := `SELECT reddit_id, job_id, title, selftext, url, permalink, subreddit, author,
	                 author_id, score, upvote_ratio, num_comments, is_nsfw, is_spoiler,
	                 is_stickied, post_hint, created_utc, collected_at, sentiment_score
	            FROM reddit_posts WHERE job_id = ?`
	args := []any{jobID}
	if opts.Subreddit != "" {
		query += " AND subreddit = ?"
		args = append(args, opts.Subreddit)
	}
	query += opts.clause(postOrderColumns)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query posts", err)
	}
	defer rows.Close()

	var out []domain.Post
	for rows.Next() {
		var (
			p                                          domain.Post
			selftext, url, permalink, author, authorID sql.NullString
			postHint                                   sql.NullString
			nsfw, spoiler, stickied                    int
			createdSec, collectedMs                    int64
			sentiment                                  sql.NullFloat64
		)
		if err := rows.Scan(&p.RedditID, &p.JobID, &p.Title, &selftext, &url, &permalink,
			&p.Subreddit, &author, &authorID, &p.Score, &p.UpvoteRatio, &p.NumComments,
			&nsfw, &spoiler, &stickied, &postHint, &createdSec, &collectedMs, &sentiment); err != nil {
			return nil, storageErr("query posts", err)
		}
		p.Selftext, p.URL, p.Permalink = selftext.String, url.String, permalink.String
		p.Author, p.AuthorID, p.PostHint = author.String, authorID.String, postHint.String
		p.IsNSFW, p.IsSpoiler, p.IsStickied = nsfw != 0, spoiler != 0, stickied != 0
		p.CreatedUTC = time.Unix(createdSec, 0).UTC()
		p.CollectedAt = time.UnixMilli(collectedMs)
		if sentiment.Valid {
			v := sentiment.Float64
			p.SentimentScore = &v
		}
		out = append(out, p)
	}
	return out, storageErr("query posts", rows.Err())
}

func (s *Store) QueryComments(ctx context.Context, jobID string, opts QueryOptions) ([]domain.Comment, error) {
	query := `SELECT reddit_id, post_id, job_id, body, parent_id, author, author_id, depth,
	                 score, is_submitter, is_stickied, created_utc, collected_at, sentiment_score
	            FROM reddit_comments WHERE job_id = ?` +
		opts.clause(map[string]bool{"score": true, "created_utc": true, "depth": true})

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, storageErr("query comments", err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		var (
			c                          domain.Comment
			parentID, author, authorID sql.NullString
			submitter, stickied        int
			createdSec, collectedMs    int64
			sentiment                  sql.NullFloat64
		)
		if err := rows.Scan(&c.RedditID, &c.PostID, &c.JobID, &c.Body, &parentID, &author,
			&authorID, &c.Depth, &c.Score, &submitter, &stickied, &createdSec, &collectedMs,
			&sentiment); err != nil {
			return nil, storageErr("query comments", err)
		}
		c.ParentID, c.Author, c.AuthorID = parentID.String, author.String, authorID.String
		c.IsSubmitter, c.IsStickied = submitter != 0, stickied != 0
		c.CreatedUTC = time.Unix(createdSec, 0).UTC()
		c.CollectedAt = time.UnixMilli(collectedMs)
		if sentiment.Valid {
			v := sentiment.Float64
			c.SentimentScore = &v
		}
		out = append(out, c)
	}
	return out, storageErr("query comments", rows.Err())
}

// AnnotatePostSentiment attaches a sentiment score after collection; the
// only mutation records see once written.
func (s *Store) AnnotatePostSentiment(ctx context.Context, redditID string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reddit_posts SET sentiment_score = ? WHERE reddit_id = ?`, score, redditID)
	return storageErr("annotate post", err)
}

func (s *Store) AnnotateCommentSentiment(ctx context.Context, redditID string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reddit_comments SET sentiment_score = ? WHERE reddit_id = ?`, score, redditID)
	return storageErr("annotate comment", err)
}

// CountRecords returns how many posts and comments are attached to a job.
func (s *Store) CountRecords(ctx context.Context, jobID string) (posts, comments int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM reddit_posts WHERE job_id = ?),
		(SELECT COUNT(*) FROM reddit_comments WHERE job_id = ?)`, jobID, jobID)
	if err := row.Scan(&posts, &comments); err != nil {
		return 0, 0, storageErr("count records", err)
	}
	return posts, comments, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
