package collector

import (
	"context"
	"fmt"

	"github.com/qepting91/trendit/internal/domain"
	"github.com/qepting91/trendit/internal/ratelimit"
)

// DefaultPageSize is Reddit's default listing page size.
const DefaultPageSize = 25

// Page is one page of a listing plus the continuation cursor. An empty After
// means the listing is exhausted.
type Page struct {
	Posts []domain.Post
	After string
}

// CommentNode is a node in a fetched comment forest. The fetcher walks this
// and flattens it into depth-annotated domain.Comment records.
type CommentNode struct {
	Comment domain.Comment
	Replies []*CommentNode
}

// Client is the interface to the external content API. Implementations must
// acquire from the shared rate budget before every outbound call.
type Client interface {
	// ListPosts fetches one page of posts for a facet, resuming from after.
	ListPosts(ctx context.Context, facet domain.Facet, after string, limit int) (Page, error)
	// ListComments fetches the full comment forest for a post.
	ListComments(ctx context.Context, postID string) ([]*CommentNode, error)
	// GetUser fetches an author profile.
	GetUser(ctx context.Context, username string) (domain.RedditUser, error)
}

// Config selects and parameterizes a client implementation.
type Config struct {
	Mode      string // "api", "public" or "mock"
	UserAgent string

	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// New selects the correct implementation based on the configured mode.
func New(cfg Config, budget *ratelimit.Budget) (Client, error) {
	switch cfg.Mode {
	case "api":
		return NewAPIClient(cfg, budget)
	case "public":
		if cfg.UserAgent == "" {
			return nil, fmt.Errorf("REDDIT_USER_AGENT is required for public mode")
		}
		return NewPublicClient(cfg.UserAgent, budget), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown COLLECTOR_MODE: %s (use 'api', 'public', or 'mock')", cfg.Mode)
	}
}
