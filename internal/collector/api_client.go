package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"

	"github.com/qepting91/trendit/internal/domain"
	"github.com/qepting91/trendit/internal/ratelimit"
)

// APIClient talks to the authenticated Reddit API. Every call acquires from
// the shared budget first.
type APIClient struct {
	client *reddit.Client
	budget *ratelimit.Budget
}

func NewAPIClient(cfg Config, budget *ratelimit.Budget) (*APIClient, error) {
	creds := reddit.Credentials{
		ID:       cfg.ClientID,
		Secret:   cfg.ClientSecret,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	client, err := reddit.NewClient(creds, reddit.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return nil, err
	}
	return &APIClient{client: client, budget: budget}, nil
}

func (ac *APIClient) ListPosts(ctx context.Context, facet domain.Facet, after string, limit int) (Page, error) {
	if err := ac.budget.Acquire(ctx); err != nil {
		return Page{}, err
	}

	opts := &reddit.ListOptions{Limit: limit, After: after}
	var (
		posts []*reddit.Post
		resp  *reddit.Response
		err   error
	)
	switch facet.Sort {
	case domain.SortNew:
		posts, resp, err = ac.client.Subreddit.NewPosts(ctx, facet.Subreddit, opts)
	case domain.SortRising:
		posts, resp, err = ac.client.Subreddit.RisingPosts(ctx, facet.Subreddit, opts)
	case domain.SortTop:
		posts, resp, err = ac.client.Subreddit.TopPosts(ctx, facet.Subreddit,
			&reddit.ListPostOptions{ListOptions: *opts, Time: string(facet.TimeFilter)})
	case domain.SortControversial:
		posts, resp, err = ac.client.Subreddit.ControversialPosts(ctx, facet.Subreddit,
			&reddit.ListPostOptions{ListOptions: *opts, Time: string(facet.TimeFilter)})
	default:
		posts, resp, err = ac.client.Subreddit.HotPosts(ctx, facet.Subreddit, opts)
	}
	if err != nil {
		return Page{}, classifyAPIError(resp, fmt.Errorf("list %s: %w", facet, err))
	}

	page := Page{Posts: make([]domain.Post, 0, len(posts))}
	for _, p := range posts {
		page.Posts = append(page.Posts, mapAPIPost(p))
	}
	if resp != nil {
		page.After = resp.After
	}
	return page, nil
}

func (ac *APIClient) ListComments(ctx context.Context, postID string) ([]*CommentNode, error) {
	if err := ac.budget.Acquire(ctx); err != nil {
		return nil, err
	}

	pc, resp, err := ac.client.Post.Get(ctx, postID)
	if err != nil {
		return nil, classifyAPIError(resp, fmt.Errorf("comments for %s: %w", postID, err))
	}
	forest := make([]*CommentNode, 0, len(pc.Comments))
	for _, c := range pc.Comments {
		forest = append(forest, mapAPIComment(c, postID))
	}
	return forest, nil
}

func (ac *APIClient) GetUser(ctx context.Context, username string) (domain.RedditUser, error) {
	if err := ac.budget.Acquire(ctx); err != nil {
		return domain.RedditUser{}, err
	}

	u, resp, err := ac.client.User.Get(ctx, username)
	if err != nil {
		return domain.RedditUser{}, classifyAPIError(resp, fmt.Errorf("user %s: %w", username, err))
	}
	user := domain.RedditUser{
		Username:         u.Name,
		UserID:           u.ID,
		CommentKarma:     u.CommentKarma,
		LinkKarma:        u.PostKarma,
		IsEmployee:       u.IsEmployee,
		HasVerifiedEmail: u.HasVerifiedEmail,
		CollectedAt:      time.Now().UTC(),
	}
	if u.Created != nil {
		user.AccountCreated = u.Created.Time
	}
	return user, nil
}

func mapAPIPost(p *reddit.Post) domain.Post {
	post := domain.Post{
		RedditID:    p.ID,
		Title:       p.Title,
		Selftext:    p.Body,
		URL:         p.URL,
		Permalink:   p.Permalink,
		Subreddit:   p.SubredditName,
		Author:      p.Author,
		AuthorID:    p.AuthorID,
		Score:       p.Score,
		UpvoteRatio: float64(p.UpvoteRatio),
		NumComments: p.NumberOfComments,
		IsNSFW:      p.NSFW,
		IsSpoiler:   p.Spoiler,
		IsStickied:  p.Stickied,
		CollectedAt: time.Now().UTC(),
	}
	if p.Created != nil {
		post.CreatedUTC = p.Created.Time
	}
	return post
}

func mapAPIComment(c *reddit.Comment, postID string) *CommentNode {
	node := &CommentNode{
		Comment: domain.Comment{
			RedditID:    c.ID,
			PostID:      postID,
			Body:        c.Body,
			ParentID:    c.ParentID,
			Author:      c.Author,
			AuthorID:    c.AuthorID,
			Score:       c.Score,
			IsSubmitter: c.IsSubmitter,
			IsStickied:  c.Stickied,
			CollectedAt: time.Now().UTC(),
		},
	}
	if c.Created != nil {
		node.Comment.CreatedUTC = c.Created.Time
	}
	for _, r := range c.Replies.Comments {
		node.Replies = append(node.Replies, mapAPIComment(r, postID))
	}
	return node
}

// classifyAPIError maps an HTTP status to the fetch taxonomy: 401/403 means
// the credentials were rejected, other 4xx abort only the facet, everything
// else is retryable.
func classifyAPIError(resp *reddit.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	switch {
	case status == 401 || status == 403:
		return domain.NewFetchError(domain.FetchAuth, err)
	case status >= 400 && status < 500:
		return domain.NewFetchError(domain.FetchClient, err)
	default:
		return domain.NewFetchError(domain.FetchTransient, err)
	}
}
