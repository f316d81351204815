// Package engine owns the collection job lifecycle: the per-job orchestrator
// (Runner) and the registry of live jobs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qepting91/trendit/internal/analytics"
	"github.com/qepting91/trendit/internal/collector"
	"github.com/qepting91/trendit/internal/domain"
	"github.com/qepting91/trendit/internal/filter"
	"github.com/qepting91/trendit/internal/storage"
)

// RecordStore is what the engine needs from the persistence layer.
// *storage.Store satisfies it; tests may substitute their own.
type RecordStore interface {
	CreateJob(ctx context.Context, job domain.CollectionJob) error
	GetJob(ctx context.Context, id string) (domain.CollectionJob, error)
	ListJobs(ctx context.Context, status *domain.JobStatus, limit int) ([]domain.CollectionJob, error)
	UpdateJob(ctx context.Context, id string, patch storage.JobPatch) error
	DeleteJob(ctx context.Context, id string) error
	UpsertPosts(ctx context.Context, posts []domain.Post) (int, error)
	UpsertComments(ctx context.Context, comments []domain.Comment) (int, error)
	UpsertUser(ctx context.Context, u domain.RedditUser) error
	QueryPosts(ctx context.Context, jobID string, opts storage.QueryOptions) ([]domain.Post, error)
	QueryComments(ctx context.Context, jobID string, opts storage.QueryOptions) ([]domain.Comment, error)
	AnnotatePostSentiment(ctx context.Context, redditID string, score float64) error
	AnnotateCommentSentiment(ctx context.Context, redditID string, score float64) error
}

// maxUserProfiles caps best-effort author profile collection per job so one
// job with many distinct authors cannot drain the shared request budget.
const maxUserProfiles = 25

// Runner executes one collection job. All mutable job state lives behind mu;
// concurrent facet completions update it without lost counts.
type Runner struct {
	id      string
	spec    domain.JobSpec
	store   RecordStore
	fetcher *collector.Fetcher
	filter  *filter.Filter
	logger  *slog.Logger

	parallelism int

	cancel          context.CancelFunc
	cancelRequested atomic.Bool
	done            chan struct{}

	mu           sync.Mutex
	job          domain.CollectionJob
	warnings     []string
	seenPosts    map[string]struct{}
	seenComments map[string]struct{}
	authors      map[string]struct{}
	facetsDone   int
	facetsTotal  int
}

func newRunner(job domain.CollectionJob, store RecordStore, fetcher *collector.Fetcher, parallelism int, logger *slog.Logger) *Runner {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Runner{
		id:           job.ID,
		spec:         job.Spec,
		store:        store,
		fetcher:      fetcher,
		filter:       filter.New(job.Spec),
		logger:       logger.With("job_id", job.ID),
		parallelism:  parallelism,
		done:         make(chan struct{}),
		job:          job,
		seenPosts:    map[string]struct{}{},
		seenComments: map[string]struct{}{},
		authors:      map[string]struct{}{},
	}
}

// Cancel requests cooperative cancellation. The runner stops at its next
// checkpoint; in-flight network calls are allowed to finish.
func (r *Runner) Cancel() {
	r.cancelRequested.Store(true)
	if r.cancel != nil {
		r.cancel()
	}
}

// Done is closed when the runner reaches a terminal state.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Snapshot returns the current job state for status polling. Never errors:
// polling sees either progress or a terminal state.
func (r *Runner) Snapshot() domain.JobStatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.JobStatusSnapshot{
		JobID:             r.job.ID,
		Status:            r.job.Status,
		Progress:          r.job.Progress,
		TotalExpected:     r.job.TotalExpected,
		CollectedPosts:    r.job.CollectedPosts,
		CollectedComments: r.job.CollectedComments,
		ErrorMessage:      r.job.ErrorMessage,
	}
}

// Job returns a copy of the full job state.
func (r *Runner) Job() domain.CollectionJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

func (r *Runner) terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Status.Terminal()
}

// run drives the job to a terminal state. ctx is the job's own context,
// cancelled only through Cancel.
func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	facets := r.spec.Facets()
	if err := r.markRunning(ctx, len(facets)); err != nil {
		// A cancel that lands before the first persist must still read as
		// cancelled, not as a storage failure.
		if r.cancelRequested.Load() {
			r.finish(ctx, domain.StatusCancelled, "")
		} else {
			r.finish(ctx, domain.StatusFailed, err.Error())
		}
		return
	}
	r.logger.Info("job started", "facets", len(facets), "post_limit", r.spec.PostLimit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, f := range facets {
		if gctx.Err() != nil {
			break // facet-boundary checkpoint
		}
		facet := f
		g.Go(func() error { return r.runFacet(gctx, facet) })
	}
	err := g.Wait()

	switch {
	case r.cancelRequested.Load():
		r.finish(ctx, domain.StatusCancelled, "")
	case err != nil:
		r.finish(ctx, domain.StatusFailed, err.Error())
	default:
		r.collectAuthorProfiles(ctx)
		if err := r.annotateSentiment(ctx); err != nil {
			// A cancel during the annotation pass surfaces as a failed store
			// query on the cancelled context; it must still read as cancelled.
			if r.cancelRequested.Load() {
				r.finish(ctx, domain.StatusCancelled, "")
			} else {
				r.finish(ctx, domain.StatusFailed, err.Error())
			}
			return
		}
		if r.cancelRequested.Load() {
			r.finish(ctx, domain.StatusCancelled, "")
			return
		}
		r.finish(ctx, domain.StatusCompleted, "")
	}
}

// runFacet processes one (subreddit, sort, time filter) combination.
// Transient failures (after retries) and client errors degrade to warnings;
// auth and storage failures propagate and fail the whole job.
func (r *Runner) runFacet(ctx context.Context, facet domain.Facet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.fetcher.ForEachPage(ctx, facet, r.spec.PostLimit, func(posts []domain.Post) error {
		if err := ctx.Err(); err != nil {
			return err // page-boundary checkpoint
		}
		return r.processPage(ctx, facet, posts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if domain.IsStorage(err) {
			return err
		}
		if domain.FetchKindOf(err) == domain.FetchAuth {
			return err
		}
		// Partial facet failure: keep what was collected, record a warning.
		r.warn(facet, err)
	}

	return r.completeFacet(ctx)
}

// processPage filters, deduplicates and persists one page of posts, then
// walks each kept post's comment tree.
func (r *Runner) processPage(ctx context.Context, facet domain.Facet, posts []domain.Post) error {
	batch := make([]domain.Post, 0, len(posts))
	kept := make([]domain.Post, 0, len(posts))
	r.mu.Lock()
	for _, p := range posts {
		if !r.filter.KeepPost(p) {
			continue
		}
		if _, dup := r.seenPosts[p.RedditID]; dup {
			continue
		}
		r.seenPosts[p.RedditID] = struct{}{}
		if p.Author != "" && !r.filter.Anonymized() {
			r.authors[p.Author] = struct{}{}
		}
		kept = append(kept, p)
		tp := r.filter.TransformPost(p)
		tp.JobID = r.id
		batch = append(batch, tp)
	}
	r.mu.Unlock()

	inserted, err := r.store.UpsertPosts(ctx, batch)
	if err != nil {
		return err
	}
	r.addCollected(inserted, 0)

	if r.spec.CommentLimit <= 0 {
		return nil
	}
	for _, p := range kept {
		if err := ctx.Err(); err != nil {
			return err // comment-subtree checkpoint
		}
		if err := r.collectComments(ctx, facet, p.RedditID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) collectComments(ctx context.Context, facet domain.Facet, postID string) error {
	comments, err := r.fetcher.CommentTree(ctx, postID, r.spec.CommentLimit, r.spec.MaxCommentDepth)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if domain.FetchKindOf(err) == domain.FetchAuth {
			return err
		}
		r.warn(facet, fmt.Errorf("comments for %s: %w", postID, err))
		return nil
	}

	batch := make([]domain.Comment, 0, len(comments))
	r.mu.Lock()
	for _, c := range comments {
		if !r.filter.KeepComment(c) {
			continue
		}
		if _, dup := r.seenComments[c.RedditID]; dup {
			continue
		}
		r.seenComments[c.RedditID] = struct{}{}
		if c.Author != "" && !r.filter.Anonymized() {
			r.authors[c.Author] = struct{}{}
		}
		tc := r.filter.TransformComment(c)
		tc.JobID = r.id
		batch = append(batch, tc)
	}
	r.mu.Unlock()

	inserted, err := r.store.UpsertComments(ctx, batch)
	if err != nil {
		return err
	}
	r.addCollected(0, inserted)
	return nil
}

// collectAuthorProfiles fetches distinct author profiles, best effort. It
// never fails the job; profile data is a bonus on top of the collection.
func (r *Runner) collectAuthorProfiles(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.authors))
	for name := range r.authors {
		if name == "[deleted]" {
			continue
		}
		names = append(names, name)
		if len(names) == maxUserProfiles {
			break
		}
	}
	r.mu.Unlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		user, err := r.fetcher.User(ctx, name)
		if err != nil {
			r.logger.Warn("user profile fetch failed", "username", name, "err", err)
			if domain.FetchKindOf(err) == domain.FetchAuth {
				return
			}
			continue
		}
		if err := r.store.UpsertUser(ctx, user); err != nil {
			r.logger.Warn("user profile persist failed", "username", name, "err", err)
			return
		}
	}
}

// annotateSentiment is the one post-collection mutation records receive.
func (r *Runner) annotateSentiment(ctx context.Context) error {
	const all = 1 << 20
	posts, err := r.store.QueryPosts(ctx, r.id, storage.QueryOptions{Limit: all})
	if err != nil {
		return err
	}
	for _, p := range posts {
		if err := r.store.AnnotatePostSentiment(ctx, p.RedditID, analytics.Score(p.Title+" "+p.Selftext)); err != nil {
			return err
		}
	}
	comments, err := r.store.QueryComments(ctx, r.id, storage.QueryOptions{Limit: all})
	if err != nil {
		return err
	}
	for _, c := range comments {
		if err := r.store.AnnotateCommentSentiment(ctx, c.RedditID, analytics.Score(c.Body)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) markRunning(ctx context.Context, totalFacets int) error {
	now := time.Now().UTC()
	r.mu.Lock()
	r.facetsTotal = totalFacets
	r.job.Status = domain.StatusRunning
	r.job.StartedAt = &now
	r.job.TotalExpected = totalFacets * r.spec.PostLimit
	total := r.job.TotalExpected
	r.mu.Unlock()

	status := domain.StatusRunning
	return r.store.UpdateJob(ctx, r.id, storage.JobPatch{
		Status:        &status,
		StartedAt:     &now,
		TotalExpected: &total,
	})
}

// addCollected bumps the counters. They never decrease.
func (r *Runner) addCollected(posts, comments int) {
	if posts == 0 && comments == 0 {
		return
	}
	r.mu.Lock()
	r.job.CollectedPosts += posts
	r.job.CollectedComments += comments
	r.mu.Unlock()
}

// completeFacet advances progress monotonically and checkpoints state to the
// store so polling survives a restart.
func (r *Runner) completeFacet(ctx context.Context) error {
	r.mu.Lock()
	r.facetsDone++
	if p := r.facetsDone * 100 / r.facetsTotal; p > r.job.Progress {
		r.job.Progress = p
	}
	if r.job.Progress > 100 {
		r.job.Progress = 100
	}
	progress, posts, comments := r.job.Progress, r.job.CollectedPosts, r.job.CollectedComments
	r.mu.Unlock()

	return r.store.UpdateJob(ctx, r.id, storage.JobPatch{
		Progress:          &progress,
		CollectedPosts:    &posts,
		CollectedComments: &comments,
	})
}

func (r *Runner) warn(facet domain.Facet, err error) {
	r.logger.Warn("facet degraded", "facet", facet.String(), "err", err)
	r.mu.Lock()
	r.warnings = append(r.warnings, fmt.Sprintf("%s: %v", facet, err))
	r.mu.Unlock()
}

// finish performs the terminal transition exactly once. Terminal states are
// immutable; a second call is a no-op.
func (r *Runner) finish(ctx context.Context, status domain.JobStatus, fatalMsg string) {
	now := time.Now().UTC()

	r.mu.Lock()
	if r.job.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.job.Status = status
	r.job.CompletedAt = &now
	if status == domain.StatusCompleted {
		r.job.Progress = 100
	}

	var parts []string
	if fatalMsg != "" {
		parts = append(parts, fatalMsg)
	}
	parts = append(parts, r.warnings...)
	r.job.ErrorMessage = strings.Join(parts, "; ")

	progress, posts, comments := r.job.Progress, r.job.CollectedPosts, r.job.CollectedComments
	patch := storage.JobPatch{
		Status:            &status,
		Progress:          &progress,
		CollectedPosts:    &posts,
		CollectedComments: &comments,
		CompletedAt:       &now,
	}
	if r.job.ErrorMessage != "" {
		msg := r.job.ErrorMessage
		patch.ErrorMessage = &msg
	}
	r.mu.Unlock()

	// The job context may already be cancelled; persist with a fresh one.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.store.UpdateJob(persistCtx, r.id, patch); err != nil {
		r.logger.Error("persist terminal state failed", "err", err)
	}

	r.logger.Info("job finished", "status", status,
		"collected_posts", posts, "collected_comments", comments)
}
