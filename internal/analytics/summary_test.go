package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qepting91/trendit/internal/domain"
)

func fp(v float64) *float64 { return &v }

func TestSummarize(t *testing.T) {
	now := time.Now().UTC()
	posts := []domain.Post{
		{RedditID: "a", Title: "golang generics question", Subreddit: "golang", Score: 10, UpvoteRatio: 0.9, NumComments: 4, CreatedUTC: now, SentimentScore: fp(0.5)},
		{RedditID: "b", Title: "rust vs golang", Subreddit: "golang", Score: 30, UpvoteRatio: 0.7, NumComments: 2, CreatedUTC: now, SentimentScore: fp(-0.5)},
		{RedditID: "c", Title: "show and tell", Subreddit: "rust", Score: 20, UpvoteRatio: 0.8, NumComments: 0, CreatedUTC: now},
	}
	comments := []domain.Comment{
		{RedditID: "c1", Body: "nice", SentimentScore: fp(0.0)},
	}

	s := Summarize(posts, comments, []string{"golang", "python"})

	assert.Equal(t, 3, s.TotalPosts)
	assert.Equal(t, 1, s.TotalComments)
	assert.InDelta(t, 20.0, s.AvgScore, 1e-9)
	assert.InDelta(t, 0.8, s.AvgUpvoteRatio, 1e-9)
	assert.InDelta(t, 2.0, s.AvgCommentsPerPost, 1e-9)
	assert.Equal(t, map[string]int{"golang": 2, "rust": 1}, s.PostsPerSubreddit)
	assert.Equal(t, 2, s.KeywordHits["golang"])
	assert.Zero(t, s.KeywordHits["python"])

	require.Len(t, s.TopPosts, 3)
	assert.Equal(t, "b", s.TopPosts[0].RedditID, "sorted by score descending")
	assert.Equal(t, "c", s.TopPosts[1].RedditID)

	assert.InDelta(t, 0.0, s.AvgSentiment, 1e-9)
	assert.Equal(t, 1, s.SentimentBuckets["positive"])
	assert.Equal(t, 1, s.SentimentBuckets["negative"])
	assert.Equal(t, 1, s.SentimentBuckets["neutral"])
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, nil, nil)
	assert.Zero(t, s.TotalPosts)
	assert.Zero(t, s.AvgScore)
	assert.Nil(t, s.KeywordHits)
	assert.Empty(t, s.TopPosts)
}

func TestSummarizeTopPostsCapped(t *testing.T) {
	var posts []domain.Post
	for i := 0; i < 8; i++ {
		posts = append(posts, domain.Post{RedditID: string(rune('a' + i)), Score: i})
	}
	s := Summarize(posts, nil, nil)
	require.Len(t, s.TopPosts, 5)
	assert.Equal(t, 7, s.TopPosts[0].Score)
}
