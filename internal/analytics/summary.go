package analytics

import (
	"sort"
	"strings"

	"github.com/qepting91/trendit/internal/domain"
)

// Summary aggregates a job's collected records.
type Summary struct {
	TotalPosts         int            `json:"total_posts"`
	TotalComments      int            `json:"total_comments"`
	AvgScore           float64        `json:"avg_score"`
	AvgUpvoteRatio     float64        `json:"avg_upvote_ratio"`
	AvgCommentsPerPost float64        `json:"avg_comments_per_post"`
	PostsPerSubreddit  map[string]int `json:"posts_per_subreddit"`
	KeywordHits        map[string]int `json:"keyword_hits,omitempty"`
	TopPosts           []PostRef      `json:"top_posts"`
	AvgSentiment       float64        `json:"avg_sentiment"`
	SentimentBuckets   map[string]int `json:"sentiment_buckets"`
}

// PostRef is a compact pointer to a notable post.
type PostRef struct {
	RedditID string `json:"reddit_id"`
	Title    string `json:"title"`
	Score    int    `json:"score"`
}

// Summarize computes the job summary. keywords (may be nil) are counted
// case-insensitively against title+selftext, mirroring the filter predicate.
func Summarize(posts []domain.Post, comments []domain.Comment, keywords []string) Summary {
	s := Summary{
		TotalPosts:        len(posts),
		TotalComments:     len(comments),
		PostsPerSubreddit: map[string]int{},
		SentimentBuckets:  map[string]int{"positive": 0, "neutral": 0, "negative": 0},
	}
	if len(keywords) > 0 {
		s.KeywordHits = map[string]int{}
	}

	var scoreSum, ratioSum, commentsSum int
	var sentimentSum float64
	var sentimentN int
	for _, p := range posts {
		scoreSum += p.Score
		ratioSum += int(p.UpvoteRatio * 100)
		commentsSum += p.NumComments
		s.PostsPerSubreddit[p.Subreddit]++

		text := strings.ToLower(p.Title + " " + p.Selftext)
		for _, k := range keywords {
			if k = strings.ToLower(k); k != "" && strings.Contains(text, k) {
				s.KeywordHits[k]++
			}
		}
		if p.SentimentScore != nil {
			sentimentSum += *p.SentimentScore
			sentimentN++
			s.SentimentBuckets[bucket(*p.SentimentScore)]++
		}
	}
	for _, c := range comments {
		if c.SentimentScore != nil {
			sentimentSum += *c.SentimentScore
			sentimentN++
			s.SentimentBuckets[bucket(*c.SentimentScore)]++
		}
	}

	if len(posts) > 0 {
		s.AvgScore = float64(scoreSum) / float64(len(posts))
		s.AvgUpvoteRatio = float64(ratioSum) / float64(len(posts)) / 100
		s.AvgCommentsPerPost = float64(commentsSum) / float64(len(posts))
	}
	if sentimentN > 0 {
		s.AvgSentiment = sentimentSum / float64(sentimentN)
	}

	top := make([]domain.Post, len(posts))
	copy(top, posts)
	sort.Slice(top, func(i, j int) bool { return top[i].Score > top[j].Score })
	if len(top) > 5 {
		top = top[:5]
	}
	for _, p := range top {
		s.TopPosts = append(s.TopPosts, PostRef{RedditID: p.RedditID, Title: p.Title, Score: p.Score})
	}
	return s
}

func bucket(score float64) string {
	switch {
	case score > 0.1:
		return "positive"
	case score < -0.1:
		return "negative"
	default:
		return "neutral"
	}
}
