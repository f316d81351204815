package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qepting91/trendit/internal/collector"
	"github.com/qepting91/trendit/internal/domain"
	"github.com/qepting91/trendit/internal/storage"
)

var testRetry = collector.Retry{MaxAttempts: 2, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// scriptedClient scripts Client responses per facet.
type scriptedClient struct {
	listPosts    func(ctx context.Context, facet domain.Facet, after string, limit int) (collector.Page, error)
	listComments func(ctx context.Context, postID string) ([]*collector.CommentNode, error)
}

func (s *scriptedClient) ListPosts(ctx context.Context, facet domain.Facet, after string, limit int) (collector.Page, error) {
	return s.listPosts(ctx, facet, after, limit)
}

func (s *scriptedClient) ListComments(ctx context.Context, postID string) ([]*collector.CommentNode, error) {
	if s.listComments == nil {
		return nil, nil
	}
	return s.listComments(ctx, postID)
}

func (s *scriptedClient) GetUser(_ context.Context, username string) (domain.RedditUser, error) {
	return domain.RedditUser{Username: username, CollectedAt: time.Now().UTC()}, nil
}

func facetPosts(facet domain.Facet, n int) []domain.Post {
	posts := make([]domain.Post, n)
	for i := range posts {
		posts[i] = domain.Post{
			RedditID:    fmt.Sprintf("%s_%s_%s_%d", facet.Subreddit, facet.Sort, facet.TimeFilter, i),
			Title:       fmt.Sprintf("post %d", i),
			Subreddit:   facet.Subreddit,
			Author:      "alice",
			Score:       10,
			UpvoteRatio: 0.9,
			CreatedUTC:  time.Now().UTC(),
			CollectedAt: time.Now().UTC(),
		}
	}
	return posts
}

func newTestRegistry(t *testing.T, client collector.Client) (*Registry, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	retry := testRetry
	reg := NewRegistry(store, client, testLogger(), Options{Retry: &retry})
	return reg, store
}

func waitFor(t *testing.T, reg *Registry, id string) domain.JobStatusSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, reg.Wait(ctx, id))
	snap, err := reg.Status(ctx, id)
	require.NoError(t, err)
	return snap
}

func TestJobCompletes(t *testing.T) {
	client := &scriptedClient{
		listPosts: func(_ context.Context, facet domain.Facet, _ string, _ int) (collector.Page, error) {
			return collector.Page{Posts: facetPosts(facet, 5)}, nil
		},
		listComments: func(_ context.Context, postID string) ([]*collector.CommentNode, error) {
			return []*collector.CommentNode{
				{Comment: domain.Comment{RedditID: postID + "_c0", PostID: postID, Body: "root", CreatedUTC: time.Now().UTC()}},
				{Comment: domain.Comment{RedditID: postID + "_c1", PostID: postID, Body: "root", CreatedUTC: time.Now().UTC()}},
			}, nil
		},
	}
	reg, store := newTestRegistry(t, client)

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{
		Subreddits:   []string{"golang"},
		PostLimit:    5,
		CommentLimit: 2,
	})
	require.NoError(t, err)

	snap := waitFor(t, reg, id)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, 5, snap.TotalExpected)
	assert.Equal(t, 5, snap.CollectedPosts)
	assert.Equal(t, 10, snap.CollectedComments)
	assert.Empty(t, snap.ErrorMessage)

	// Terminal state is persisted, not just in memory.
	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)

	// Sentiment annotation ran over the collected records.
	posts, err := store.QueryPosts(context.Background(), id, storage.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, posts, 5)
	for _, p := range posts {
		assert.NotNil(t, p.SentimentScore)
	}
}

func TestFacetClientErrorDegradesJob(t *testing.T) {
	client := &scriptedClient{
		listPosts: func(_ context.Context, facet domain.Facet, _ string, _ int) (collector.Page, error) {
			if facet.Sort == domain.SortTop {
				return collector.Page{}, domain.NewFetchError(domain.FetchClient, errors.New("404 no such subreddit"))
			}
			return collector.Page{Posts: facetPosts(facet, 3)}, nil
		},
	}
	reg, _ := newTestRegistry(t, client)

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{
		Subreddits: []string{"golang"},
		SortTypes:  []domain.SortType{domain.SortHot, domain.SortTop},
		PostLimit:  3,
	})
	require.NoError(t, err)

	snap := waitFor(t, reg, id)
	assert.Equal(t, domain.StatusCompleted, snap.Status, "one bad facet degrades, not fails")
	assert.Equal(t, 3, snap.CollectedPosts)
	assert.Contains(t, snap.ErrorMessage, "404")
	assert.Equal(t, 100, snap.Progress)
}

func TestAuthErrorFailsJob(t *testing.T) {
	client := &scriptedClient{
		listPosts: func(_ context.Context, _ domain.Facet, _ string, _ int) (collector.Page, error) {
			return collector.Page{}, domain.NewFetchError(domain.FetchAuth, errors.New("401 unauthorized"))
		},
	}
	reg, _ := newTestRegistry(t, client)

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 3})
	require.NoError(t, err)

	snap := waitFor(t, reg, id)
	assert.Equal(t, domain.StatusFailed, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "401")
}

func TestCancelImmediatelyAfterCreate(t *testing.T) {
	client := &scriptedClient{
		listPosts: func(ctx context.Context, _ domain.Facet, _ string, _ int) (collector.Page, error) {
			<-ctx.Done()
			return collector.Page{}, ctx.Err()
		},
	}
	reg, store := newTestRegistry(t, client)

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 10})
	require.NoError(t, err)
	require.NoError(t, reg.Cancel(context.Background(), id))

	snap := waitFor(t, reg, id)
	assert.Equal(t, domain.StatusCancelled, snap.Status)
	assert.Zero(t, snap.CollectedPosts)
	assert.Zero(t, snap.CollectedComments)

	posts, comments, err := store.CountRecords(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, posts)
	assert.Zero(t, comments)
}

func TestCancelMidJob(t *testing.T) {
	firstPage := make(chan struct{})
	client := &scriptedClient{
		listPosts: func(ctx context.Context, facet domain.Facet, after string, _ int) (collector.Page, error) {
			if after == "" {
				return collector.Page{Posts: facetPosts(facet, 25), After: "next"}, nil
			}
			select {
			case firstPage <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return collector.Page{}, ctx.Err()
		},
	}
	reg, _ := newTestRegistry(t, client)

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 100})
	require.NoError(t, err)

	select {
	case <-firstPage:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached the second page")
	}
	require.NoError(t, reg.Cancel(context.Background(), id))

	snap := waitFor(t, reg, id)
	assert.Equal(t, domain.StatusCancelled, snap.Status)
	assert.Equal(t, 25, snap.CollectedPosts, "records from before the cancel survive")
}

func TestDuplicatePostsCountedOnce(t *testing.T) {
	client := &scriptedClient{
		listPosts: func(_ context.Context, facet domain.Facet, after string, _ int) (collector.Page, error) {
			// Listing shifts under pagination: the second page repeats the first.
			if after == "" {
				return collector.Page{Posts: facetPosts(facet, 4), After: "next"}, nil
			}
			return collector.Page{Posts: facetPosts(facet, 4)}, nil
		},
	}
	reg, _ := newTestRegistry(t, client)

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 8})
	require.NoError(t, err)

	snap := waitFor(t, reg, id)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
	assert.Equal(t, 4, snap.CollectedPosts, "repeated natural keys collapse")
}

func TestProgressAndCountersMonotone(t *testing.T) {
	client := &scriptedClient{
		listPosts: func(_ context.Context, facet domain.Facet, _ string, _ int) (collector.Page, error) {
			time.Sleep(2 * time.Millisecond)
			return collector.Page{Posts: facetPosts(facet, 5)}, nil
		},
	}
	store := openTestStore(t)
	retry := testRetry
	reg := NewRegistry(store, client, testLogger(), Options{FacetParallelism: 2, Retry: &retry})

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{
		Subreddits: []string{"a", "b", "c", "d"},
		PostLimit:  5,
	})
	require.NoError(t, err)

	lastProgress, lastPosts := 0, 0
	deadline := time.Now().Add(10 * time.Second)
	for {
		snap, err := reg.Status(context.Background(), id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.Progress, lastProgress)
		assert.GreaterOrEqual(t, snap.CollectedPosts, lastPosts)
		lastProgress, lastPosts = snap.Progress, snap.CollectedPosts
		if snap.Status.Terminal() {
			assert.Equal(t, domain.StatusCompleted, snap.Status)
			assert.Equal(t, 100, snap.Progress)
			assert.Equal(t, 20, snap.CollectedPosts)
			return
		}
		require.True(t, time.Now().Before(deadline), "job did not finish in time")
		time.Sleep(time.Millisecond)
	}
}

// cancelDuringAnnotation fires a callback on the first post query of the
// sentiment pass, after all facets have finished.
type cancelDuringAnnotation struct {
	*storage.Store
	once    sync.Once
	trigger func()
}

func (s *cancelDuringAnnotation) QueryPosts(ctx context.Context, jobID string, opts storage.QueryOptions) ([]domain.Post, error) {
	s.once.Do(s.trigger)
	return s.Store.QueryPosts(ctx, jobID, opts)
}

func TestCancelDuringAnnotationPass(t *testing.T) {
	client := &scriptedClient{
		listPosts: func(_ context.Context, facet domain.Facet, _ string, _ int) (collector.Page, error) {
			return collector.Page{Posts: facetPosts(facet, 3)}, nil
		},
	}
	wrapped := &cancelDuringAnnotation{Store: openTestStore(t)}
	retry := testRetry
	reg := NewRegistry(wrapped, client, testLogger(), Options{Retry: &retry})

	idCh := make(chan string, 1)
	wrapped.trigger = func() { reg.Cancel(context.Background(), <-idCh) }

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 3})
	require.NoError(t, err)
	idCh <- id

	snap := waitFor(t, reg, id)
	assert.Equal(t, domain.StatusCancelled, snap.Status, "a cancel observed mid-annotation is not a failure")
	assert.Empty(t, snap.ErrorMessage)
	assert.Equal(t, 3, snap.CollectedPosts, "records from before the cancel survive")
}

func TestAnonymizedJobStripsAuthors(t *testing.T) {
	client := &scriptedClient{
		listPosts: func(_ context.Context, facet domain.Facet, _ string, _ int) (collector.Page, error) {
			return collector.Page{Posts: facetPosts(facet, 3)}, nil
		},
	}
	reg, store := newTestRegistry(t, client)

	id, err := reg.CreateJob(context.Background(), domain.JobSpec{
		Subreddits:     []string{"golang"},
		PostLimit:      3,
		AnonymizeUsers: true,
	})
	require.NoError(t, err)

	snap := waitFor(t, reg, id)
	require.Equal(t, domain.StatusCompleted, snap.Status)

	posts, err := store.QueryPosts(context.Background(), id, storage.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, posts, 3)
	for _, p := range posts {
		assert.NotEqual(t, "alice", p.Author)
		assert.Regexp(t, `^user_[0-9a-f]{12}$`, p.Author)
		assert.Empty(t, p.AuthorID)
	}
}

func TestCreateJobRejectsInvalidSpec(t *testing.T) {
	reg, _ := newTestRegistry(t, &scriptedClient{})
	_, err := reg.CreateJob(context.Background(), domain.JobSpec{})
	assert.Error(t, err)
}
