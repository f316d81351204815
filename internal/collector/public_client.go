package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/qepting91/trendit/internal/domain"
	"github.com/qepting91/trendit/internal/ratelimit"
)

// PublicClient scrapes Reddit's public JSON endpoints without credentials.
// Reddit requires a descriptive User-Agent or it will block requests.
type PublicClient struct {
	httpClient *http.Client
	budget     *ratelimit.Budget
	userAgent  string
	baseURL    string
}

func NewPublicClient(userAgent string, budget *ratelimit.Budget) *PublicClient {
	return &PublicClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		budget:     budget,
		userAgent:  userAgent,
		baseURL:    "https://www.reddit.com",
	}
}

type publicThing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type publicListing struct {
	Data struct {
		After    string        `json:"after"`
		Children []publicThing `json:"children"`
	} `json:"data"`
}

type publicPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	AuthorID    string  `json:"author_fullname"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	Over18      bool    `json:"over_18"`
	Spoiler     bool    `json:"spoiler"`
	Stickied    bool    `json:"stickied"`
	PostHint    string  `json:"post_hint"`
	CreatedUTC  float64 `json:"created_utc"`
}

type publicComment struct {
	ID          string          `json:"id"`
	Body        string          `json:"body"`
	ParentID    string          `json:"parent_id"`
	Author      string          `json:"author"`
	AuthorID    string          `json:"author_fullname"`
	Score       int             `json:"score"`
	IsSubmitter bool            `json:"is_submitter"`
	Stickied    bool            `json:"stickied"`
	CreatedUTC  float64         `json:"created_utc"`
	Replies     json.RawMessage `json:"replies"` // "" or a nested listing
}

func (pc *PublicClient) ListPosts(ctx context.Context, facet domain.Facet, after string, limit int) (Page, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("raw_json", "1")
	if after != "" {
		q.Set("after", after)
	}
	if facet.Sort == domain.SortTop || facet.Sort == domain.SortControversial {
		q.Set("t", string(facet.TimeFilter))
	}
	endpoint := fmt.Sprintf("%s/r/%s/%s.json?%s", pc.baseURL, facet.Subreddit, facet.Sort, q.Encode())

	var listing publicListing
	if err := pc.getJSON(ctx, endpoint, &listing); err != nil {
		return Page{}, err
	}

	page := Page{After: listing.Data.After}
	for _, child := range listing.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var d publicPost
		if err := json.Unmarshal(child.Data, &d); err != nil {
			continue
		}
		page.Posts = append(page.Posts, domain.Post{
			RedditID:    d.ID,
			Title:       d.Title,
			Selftext:    d.Selftext,
			URL:         d.URL,
			Permalink:   d.Permalink,
			Subreddit:   d.Subreddit,
			Author:      d.Author,
			AuthorID:    d.AuthorID,
			Score:       d.Score,
			UpvoteRatio: d.UpvoteRatio,
			NumComments: d.NumComments,
			IsNSFW:      d.Over18,
			IsSpoiler:   d.Spoiler,
			IsStickied:  d.Stickied,
			PostHint:    d.PostHint,
			CreatedUTC:  time.Unix(int64(d.CreatedUTC), 0).UTC(),
			CollectedAt: time.Now().UTC(),
		})
	}
	return page, nil
}

func (pc *PublicClient) ListComments(ctx context.Context, postID string) ([]*CommentNode, error) {
	endpoint := fmt.Sprintf("%s/comments/%s.json?raw_json=1", pc.baseURL, postID)

	// The comments endpoint returns a two-element array: the post listing
	// followed by the top-level comment listing.
	var listings []publicListing
	if err := pc.getJSON(ctx, endpoint, &listings); err != nil {
		return nil, err
	}
	if len(listings) < 2 {
		return nil, nil
	}
	return pc.parseCommentForest(listings[1].Data.Children, postID), nil
}

func (pc *PublicClient) parseCommentForest(children []publicThing, postID string) []*CommentNode {
	var forest []*CommentNode
	for _, child := range children {
		// "more" stubs (kind t2/more) are not expanded; the depth and count
		// bounds make deep pagination of comment trees unnecessary.
		if child.Kind != "t1" {
			continue
		}
		var d publicComment
		if err := json.Unmarshal(child.Data, &d); err != nil {
			continue
		}
		node := &CommentNode{
			Comment: domain.Comment{
				RedditID:    d.ID,
				PostID:      postID,
				Body:        d.Body,
				ParentID:    d.ParentID,
				Author:      d.Author,
				AuthorID:    d.AuthorID,
				Score:       d.Score,
				IsSubmitter: d.IsSubmitter,
				IsStickied:  d.Stickied,
				CreatedUTC:  time.Unix(int64(d.CreatedUTC), 0).UTC(),
				CollectedAt: time.Now().UTC(),
			},
		}
		// Replies is the empty string for leaf comments, a listing otherwise.
		var replies publicListing
		if len(d.Replies) > 0 && d.Replies[0] == '{' {
			if err := json.Unmarshal(d.Replies, &replies); err == nil {
				node.Replies = pc.parseCommentForest(replies.Data.Children, postID)
			}
		}
		forest = append(forest, node)
	}
	return forest
}

type publicUser struct {
	Data struct {
		ID               string  `json:"id"`
		Name             string  `json:"name"`
		CommentKarma     int     `json:"comment_karma"`
		LinkKarma        int     `json:"link_karma"`
		CreatedUTC       float64 `json:"created_utc"`
		IsEmployee       bool    `json:"is_employee"`
		IsMod            bool    `json:"is_mod"`
		HasVerifiedEmail bool    `json:"has_verified_email"`
	} `json:"data"`
}

func (pc *PublicClient) GetUser(ctx context.Context, username string) (domain.RedditUser, error) {
	endpoint := fmt.Sprintf("%s/user/%s/about.json?raw_json=1", pc.baseURL, url.PathEscape(username))

	var u publicUser
	if err := pc.getJSON(ctx, endpoint, &u); err != nil {
		return domain.RedditUser{}, err
	}
	return domain.RedditUser{
		Username:         u.Data.Name,
		UserID:           u.Data.ID,
		CommentKarma:     u.Data.CommentKarma,
		LinkKarma:        u.Data.LinkKarma,
		AccountCreated:   time.Unix(int64(u.Data.CreatedUTC), 0).UTC(),
		IsEmployee:       u.Data.IsEmployee,
		IsMod:            u.Data.IsMod,
		HasVerifiedEmail: u.Data.HasVerifiedEmail,
		CollectedAt:      time.Now().UTC(),
	}, nil
}

func (pc *PublicClient) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := pc.budget.Acquire(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.NewFetchError(domain.FetchClient, err)
	}
	req.Header.Set("User-Agent", pc.userAgent)

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return domain.NewFetchError(domain.FetchTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.NewFetchError(domain.FetchAuth,
			fmt.Errorf("reddit public access status: %d", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return domain.NewFetchError(domain.FetchClient,
			fmt.Errorf("reddit public access status: %d", resp.StatusCode))
	default:
		return domain.NewFetchError(domain.FetchTransient,
			fmt.Errorf("reddit public access status: %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewFetchError(domain.FetchTransient, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
