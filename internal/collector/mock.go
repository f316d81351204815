package collector

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/qepting91/trendit/internal/domain"
)

// MockClient implements Client with fake data for offline runs.
type MockClient struct {
	// PostsPerFacet bounds how many posts a facet listing yields in total.
	PostsPerFacet int
	// Latency simulates network delay (nice for testing concurrency).
	Latency time.Duration
}

func NewMockClient() *MockClient {
	return &MockClient{PostsPerFacet: 50, Latency: 200 * time.Millisecond}
}

func (mc *MockClient) ListPosts(ctx context.Context, facet domain.Facet, after string, limit int) (Page, error) {
	mc.sleep(ctx)

	start := 0
	if after != "" {
		fmt.Sscanf(after, "mockcursor_%d", &start)
	}

	var page Page
	for i := start; i < start+limit && i < mc.PostsPerFacet; i++ {
		page.Posts = append(page.Posts, domain.Post{
			RedditID:    fmt.Sprintf("mock_%s_%s_%s_%d", facet.Subreddit, facet.Sort, facet.TimeFilter, i),
			Title:       fmt.Sprintf("[%s] Simulated Threat Intel Report #%d: Zero-Day Found", facet.Subreddit, i),
			Selftext:    "Simulated body text for offline collection runs.",
			Permalink:   fmt.Sprintf("/r/%s/comments/mock_%d", facet.Subreddit, i),
			Subreddit:   facet.Subreddit,
			Author:      fmt.Sprintf("simulated_user_%d", i%7),
			AuthorID:    fmt.Sprintf("t2_mock%d", i%7),
			Score:       rand.Intn(500),
			UpvoteRatio: 0.5 + rand.Float64()/2,
			NumComments: rand.Intn(50),
			CreatedUTC:  time.Now().UTC().Add(-time.Duration(i) * time.Hour),
			CollectedAt: time.Now().UTC(),
		})
	}
	if end := start + limit; end < mc.PostsPerFacet {
		page.After = fmt.Sprintf("mockcursor_%d", end)
	}
	return page, nil
}

func (mc *MockClient) ListComments(ctx context.Context, postID string) ([]*CommentNode, error) {
	mc.sleep(ctx)

	// Two roots, each with one reply chain two levels deep.
	var forest []*CommentNode
	for i := 0; i < 2; i++ {
		root := mc.comment(postID, fmt.Sprintf("%s_c%d", postID, i), "t3_"+postID)
		child := mc.comment(postID, fmt.Sprintf("%s_c%d_r0", postID, i), "t1_"+root.Comment.RedditID)
		child.Replies = []*CommentNode{
			mc.comment(postID, fmt.Sprintf("%s_c%d_r0_r0", postID, i), "t1_"+child.Comment.RedditID),
		}
		root.Replies = []*CommentNode{child}
		forest = append(forest, root)
	}
	return forest, nil
}

func (mc *MockClient) GetUser(ctx context.Context, username string) (domain.RedditUser, error) {
	mc.sleep(ctx)
	return domain.RedditUser{
		Username:       username,
		UserID:         "t2_mock_" + username,
		CommentKarma:   rand.Intn(10000),
		LinkKarma:      rand.Intn(10000),
		AccountCreated: time.Now().UTC().AddDate(-2, 0, 0),
		CollectedAt:    time.Now().UTC(),
	}, nil
}

func (mc *MockClient) comment(postID, id, parentID string) *CommentNode {
	return &CommentNode{
		Comment: domain.Comment{
			RedditID:    id,
			PostID:      postID,
			Body:        "Simulated comment on " + postID,
			ParentID:    parentID,
			Author:      "simulated_user",
			AuthorID:    "t2_mock0",
			Score:       rand.Intn(100),
			CreatedUTC:  time.Now().UTC(),
			CollectedAt: time.Now().UTC(),
		},
	}
}

func (mc *MockClient) sleep(ctx context.Context) {
	if mc.Latency <= 0 {
		return
	}
	select {
	case <-time.After(mc.Latency):
	case <-ctx.Done():
	}
}
