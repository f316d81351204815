// Package export renders already-collected records into portable formats.
// Renderers are pure: records in, bytes out on the writer.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/qepting91/trendit/internal/domain"
)

// Format is an export output format.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// ParseFormat validates a format string, defaulting to JSON when empty.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatNDJSON, FormatCSV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ContentType returns the MIME type for HTTP responses.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Bundle is the exported payload: a job's posts and comments together.
type Bundle struct {
	JobID    string           `json:"job_id"`
	Posts    []domain.Post    `json:"posts"`
	Comments []domain.Comment `json:"comments"`
}

// Render writes the bundle in the requested format.
func Render(w io.Writer, f Format, b Bundle) error {
	switch f {
	case FormatNDJSON:
		return renderNDJSON(w, b)
	case FormatCSV:
		return renderCSV(w, b)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
}

func renderNDJSON(w io.Writer, b Bundle) error {
	enc := json.NewEncoder(w)
	for _, p := range b.Posts {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	for _, c := range b.Comments {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return nil
}

// CSV flattens posts and comments into one table with a record_type column,
// which keeps the export a single file.
func renderCSV(w io.Writer, b Bundle) error {
	cw := csv.NewWriter(w)
	header := []string{
		"record_type", "reddit_id", "subreddit", "title_or_body", "author",
		"score", "depth", "parent_id", "created_utc", "sentiment_score",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, p := range b.Posts {
		if err := cw.Write([]string{
			"post", p.RedditID, p.Subreddit, p.Title, p.Author,
			strconv.Itoa(p.Score), "", "", p.CreatedUTC.Format(time.RFC3339),
			sentimentField(p.SentimentScore),
		}); err != nil {
			return err
		}
	}
	for _, c := range b.Comments {
		if err := cw.Write([]string{
			"comment", c.RedditID, "", c.Body, c.Author,
			strconv.Itoa(c.Score), strconv.Itoa(c.Depth), c.ParentID,
			c.CreatedUTC.Format(time.RFC3339), sentimentField(c.SentimentScore),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func sentimentField(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
