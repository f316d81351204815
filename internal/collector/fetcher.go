package collector

import (
	"context"
	"log/slog"

	"github.com/qepting91/trendit/internal/domain"
)

// Fetcher drives pagination and comment-tree traversal for one facet at a
// time. It owns no job state; the engine feeds it facets and consumes pages
// through callbacks so cancellation checkpoints stay at page boundaries.
type Fetcher struct {
	client   Client
	retry    Retry
	pageSize int
	logger   *slog.Logger
}

func NewFetcher(client Client, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   client,
		retry:    DefaultRetry,
		pageSize: DefaultPageSize,
		logger:   logger,
	}
}

// WithRetry overrides the retry policy. Tests use a zero-delay policy.
func (f *Fetcher) WithRetry(r Retry) *Fetcher {
	f.retry = r
	return f
}

// ForEachPage paginates the facet's listing until postLimit posts have been
// delivered or the API reports no further pages. Pages are delivered in API
// order; an error from fn stops pagination and is returned unchanged.
func (f *Fetcher) ForEachPage(ctx context.Context, facet domain.Facet, postLimit int, fn func([]domain.Post) error) error {
	after := ""
	remaining := postLimit
	for remaining > 0 {
		want := f.pageSize
		if remaining < want {
			want = remaining
		}

		var page Page
		err := f.retry.Do(ctx, func() error {
			var ferr error
			page, ferr = f.client.ListPosts(ctx, facet, after, want)
			return ferr
		})
		if err != nil {
			return err
		}

		if len(page.Posts) > remaining {
			page.Posts = page.Posts[:remaining]
		}
		if len(page.Posts) > 0 {
			if err := fn(page.Posts); err != nil {
				return err
			}
			remaining -= len(page.Posts)
		}

		if page.After == "" || len(page.Posts) == 0 {
			break
		}
		after = page.After
	}
	return nil
}

// CommentTree fetches a post's comment forest and flattens it breadth-first.
// Nodes at maxDepth are retained but their children are not expanded;
// traversal halts once commentLimit comments have been retained.
func (f *Fetcher) CommentTree(ctx context.Context, postID string, commentLimit, maxDepth int) ([]domain.Comment, error) {
	if commentLimit <= 0 {
		return nil, nil
	}

	var forest []*CommentNode
	err := f.retry.Do(ctx, func() error {
		var ferr error
		forest, ferr = f.client.ListComments(ctx, postID)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	type queued struct {
		node  *CommentNode
		depth int
	}
	queue := make([]queued, 0, len(forest))
	for _, n := range forest {
		queue = append(queue, queued{node: n, depth: 0})
	}

	out := make([]domain.Comment, 0, commentLimit)
	for len(queue) > 0 && len(out) < commentLimit {
		head := queue[0]
		queue = queue[1:]

		c := head.node.Comment
		c.Depth = head.depth
		out = append(out, c)

		if head.depth < maxDepth {
			for _, child := range head.node.Replies {
				queue = append(queue, queued{node: child, depth: head.depth + 1})
			}
		}
	}
	return out, nil
}

// User fetches an author profile with the same retry policy as listings.
func (f *Fetcher) User(ctx context.Context, username string) (domain.RedditUser, error) {
	var user domain.RedditUser
	err := f.retry.Do(ctx, func() error {
		var ferr error
		user, ferr = f.client.GetUser(ctx, username)
		return ferr
	})
	return user, err
}
