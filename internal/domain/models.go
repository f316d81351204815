package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a collection job.
// Transitions are monotone: pending -> running -> {completed, failed, cancelled}.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal states are immutable.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SortType is a Reddit listing sort.
type SortType string

const (
	SortHot           SortType = "hot"
	SortNew           SortType = "new"
	SortTop           SortType = "top"
	SortRising        SortType = "rising"
	SortControversial SortType = "controversial"
)

// TimeFilter narrows "top" and "controversial" listings to a window.
type TimeFilter string

const (
	TimeHour  TimeFilter = "hour"
	TimeDay   TimeFilter = "day"
	TimeWeek  TimeFilter = "week"
	TimeMonth TimeFilter = "month"
	TimeYear  TimeFilter = "year"
	TimeAll   TimeFilter = "all"
)

var validSorts = map[SortType]bool{
	SortHot: true, SortNew: true, SortTop: true, SortRising: true, SortControversial: true,
}

var validTimeFilters = map[TimeFilter]bool{
	TimeHour: true, TimeDay: true, TimeWeek: true, TimeMonth: true, TimeYear: true, TimeAll: true,
}

// Facet is one (subreddit, sort, time filter) combination. A job processes
// the full cross product of its subreddits, sorts and time filters.
type Facet struct {
	Subreddit  string
	Sort       SortType
	TimeFilter TimeFilter
}

func (f Facet) String() string {
	return fmt.Sprintf("r/%s/%s/%s", f.Subreddit, f.Sort, f.TimeFilter)
}

// JobSpec is the caller-supplied description of what to collect.
type JobSpec struct {
	Subreddits  []string     `json:"subreddits"`
	SortTypes   []SortType   `json:"sort_types"`
	TimeFilters []TimeFilter `json:"time_filters"`

	PostLimit       int `json:"post_limit"`
	CommentLimit    int `json:"comment_limit"`
	MaxCommentDepth int `json:"max_comment_depth"`

	Keywords        []string   `json:"keywords,omitempty"`
	ExcludeKeywords []string   `json:"exclude_keywords,omitempty"`
	MinScore        int        `json:"min_score"`
	MinUpvoteRatio  float64    `json:"min_upvote_ratio"`
	DateFrom        *time.Time `json:"date_from,omitempty"`
	DateTo          *time.Time `json:"date_to,omitempty"`
	ExcludeNSFW     bool       `json:"exclude_nsfw"`
	AnonymizeUsers  bool       `json:"anonymize_users"`
}

// Normalize trims inputs, applies defaults and validates the enum fields.
func (s *JobSpec) Normalize() error {
	if len(s.Subreddits) == 0 {
		return fmt.Errorf("job spec: at least one subreddit required")
	}
	for i, sub := range s.Subreddits {
		s.Subreddits[i] = strings.TrimPrefix(strings.TrimSpace(sub), "r/")
	}
	if len(s.SortTypes) == 0 {
		s.SortTypes = []SortType{SortHot}
	}
	for _, st := range s.SortTypes {
		if !validSorts[st] {
			return fmt.Errorf("job spec: invalid sort type %q", st)
		}
	}
	if len(s.TimeFilters) == 0 {
		s.TimeFilters = []TimeFilter{TimeAll}
	}
	for _, tf := range s.TimeFilters {
		if !validTimeFilters[tf] {
			return fmt.Errorf("job spec: invalid time filter %q", tf)
		}
	}
	if s.PostLimit <= 0 {
		s.PostLimit = 100
	}
	if s.CommentLimit < 0 {
		s.CommentLimit = 0
	}
	if s.MaxCommentDepth <= 0 {
		s.MaxCommentDepth = 3
	}
	if s.DateFrom != nil && s.DateTo != nil && s.DateTo.Before(*s.DateFrom) {
		return fmt.Errorf("job spec: date_to before date_from")
	}
	return nil
}

// Facets expands the cross product of subreddits, sorts and time filters,
// in the order the caller listed them.
func (s JobSpec) Facets() []Facet {
	out := make([]Facet, 0, len(s.Subreddits)*len(s.SortTypes)*len(s.TimeFilters))
	for _, sub := range s.Subreddits {
		for _, sort := range s.SortTypes {
			for _, tf := range s.TimeFilters {
				out = append(out, Facet{Subreddit: sub, Sort: sort, TimeFilter: tf})
			}
		}
	}
	return out
}

// CollectionJob is the job record plus live progress accounting.
type CollectionJob struct {
	ID   string  `json:"job_id"`
	Spec JobSpec `json:"spec"`

	Status            JobStatus `json:"status"`
	Progress          int       `json:"progress"`
	TotalExpected     int       `json:"total_expected"`
	CollectedPosts    int       `json:"collected_posts"`
	CollectedComments int       `json:"collected_comments"`
	ErrorMessage      string    `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Post is a collected Reddit submission keyed by Reddit's own ID.
type Post struct {
	RedditID  string `json:"reddit_id"`
	JobID     string `json:"job_id"`
	Title     string `json:"title"`
	Selftext  string `json:"selftext,omitempty"`
	URL       string `json:"url,omitempty"`
	Permalink string `json:"permalink"`
	Subreddit string `json:"subreddit"`
	Author    string `json:"author,omitempty"`
	AuthorID  string `json:"author_id,omitempty"`

	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	IsNSFW      bool    `json:"is_nsfw"`
	IsSpoiler   bool    `json:"is_spoiler"`
	IsStickied  bool    `json:"is_stickied"`
	PostHint    string  `json:"post_hint,omitempty"`

	CreatedUTC  time.Time `json:"created_utc"`
	CollectedAt time.Time `json:"collected_at"`

	SentimentScore *float64 `json:"sentiment_score,omitempty"`
}

// Comment is one node of a post's comment tree, flattened: the tree shape is
// carried by ParentID and Depth, never by in-memory pointers.
type Comment struct {
	RedditID string `json:"reddit_id"`
	PostID   string `json:"post_id"`
	JobID    string `json:"job_id"`
	Body     string `json:"body"`
	ParentID string `json:"parent_id,omitempty"`
	Author   string `json:"author,omitempty"`
	AuthorID string `json:"author_id,omitempty"`
	Depth    int    `json:"depth"`

	Score       int  `json:"score"`
	IsSubmitter bool `json:"is_submitter"`
	IsStickied  bool `json:"is_stickied"`

	CreatedUTC  time.Time `json:"created_utc"`
	CollectedAt time.Time `json:"collected_at"`

	SentimentScore *float64 `json:"sentiment_score,omitempty"`
}

// RedditUser is an author profile collected alongside a job.
type RedditUser struct {
	Username         string    `json:"username"`
	UserID           string    `json:"user_id,omitempty"`
	CommentKarma     int       `json:"comment_karma"`
	LinkKarma        int       `json:"link_karma"`
	AccountCreated   time.Time `json:"account_created"`
	IsEmployee       bool      `json:"is_employee"`
	IsMod            bool      `json:"is_mod"`
	HasVerifiedEmail bool      `json:"has_verified_email"`
	CollectedAt      time.Time `json:"collected_at"`
}

// JobStatusSnapshot is what status polling returns.
type JobStatusSnapshot struct {
	JobID             string    `json:"job_id"`
	Status            JobStatus `json:"status"`
	Progress          int       `json:"progress"`
	TotalExpected     int       `json:"total_expected"`
	CollectedPosts    int       `json:"collected_posts"`
	CollectedComments int       `json:"collected_comments"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}
