package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qepting91/trendit/internal/collector"
	"github.com/qepting91/trendit/internal/domain"
	"github.com/qepting91/trendit/internal/engine"
	"github.com/qepting91/trendit/internal/storage"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := &collector.MockClient{PostsPerFacet: 10}
	retry := collector.Retry{MaxAttempts: 2, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := engine.NewRegistry(store, client, logger, engine.Options{Retry: &retry})

	return NewServer(registry, store).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createJob(t *testing.T, h http.Handler, body string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
	return resp["job_id"]
}

func awaitTerminal(t *testing.T, h http.Handler, id string) domain.JobStatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := doJSON(t, h, http.MethodGet, "/v1/jobs/"+id, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var snap domain.JobStatusSnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		if snap.Status.Terminal() {
			return snap
		}
		require.True(t, time.Now().Before(deadline), "job %s never finished", id)
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	rec := doJSON(t, newTestRouter(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateAndRunJob(t *testing.T) {
	h := newTestRouter(t)
	id := createJob(t, h, `{"subreddits":["golang"],"post_limit":5,"comment_limit":2}`)

	snap := awaitTerminal(t, h, id)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, 5, snap.CollectedPosts)

	rec := doJSON(t, h, http.MethodGet, "/v1/jobs/"+id+"/posts?order=score&desc=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var posts []domain.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
	assert.Len(t, posts, 5)

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs/"+id+"/comments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var comments []domain.Comment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comments))
	assert.NotEmpty(t, comments)
}

func TestCreateJobValidation(t *testing.T) {
	h := newTestRouter(t)

	for name, body := range map[string]string{
		"not json":       `{`,
		"no subreddits":  `{"subreddits":[]}`,
		"bad sort":       `{"subreddits":["golang"],"sort_types":["best"]}`,
		"bad time":       `{"subreddits":["golang"],"time_filters":["decade"]}`,
		"limit too big":  `{"subreddits":["golang"],"post_limit":5000}`,
		"bad ratio":      `{"subreddits":["golang"],"min_upvote_ratio":2}`,
		"bad date":       `{"subreddits":["golang"],"date_from":"yesterday"}`,
		"inverted dates": `{"subreddits":["golang"],"date_from":"2024-06-01T00:00:00Z","date_to":"2024-01-01T00:00:00Z"}`,
	} {
		rec := doJSON(t, h, http.MethodPost, "/v1/jobs", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %q: %s", name, rec.Body.String())

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["error"], "case %q", name)
	}
}

func TestJobLifecycleEndpoints(t *testing.T) {
	h := newTestRouter(t)
	id := createJob(t, h, `{"subreddits":["golang"],"post_limit":3}`)
	awaitTerminal(t, h, id)

	// Cancel after completion is acknowledged.
	rec := doJSON(t, h, http.MethodPost, "/v1/jobs/"+id+"/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []domain.CollectionJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)

	rec = doJSON(t, h, http.MethodDelete, "/v1/jobs/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownJobRoutes(t *testing.T) {
	h := newTestRouter(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/jobs/nope"},
		{http.MethodPost, "/v1/jobs/nope/cancel"},
		{http.MethodDelete, "/v1/jobs/nope"},
		{http.MethodGet, "/v1/jobs/nope/posts"},
		{http.MethodGet, "/v1/jobs/nope/export"},
		{http.MethodGet, "/v1/jobs/nope/analytics"},
	} {
		rec := doJSON(t, h, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestListJobsRejectsBadStatus(t *testing.T) {
	rec := doJSON(t, newTestRouter(t), http.MethodGet, "/v1/jobs?status=sleeping", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportFormats(t *testing.T) {
	h := newTestRouter(t)
	id := createJob(t, h, `{"subreddits":["golang"],"post_limit":3}`)
	awaitTerminal(t, h, id)

	rec := doJSON(t, h, http.MethodGet, "/v1/jobs/"+id+"/export?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), id+".csv")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("record_type,")))

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs/"+id+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = doJSON(t, h, http.MethodGet, "/v1/jobs/"+id+"/export?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsEndpoint(t *testing.T) {
	h := newTestRouter(t)
	id := createJob(t, h, `{"subreddits":["golang"],"post_limit":4,"keywords":["zero-day"]}`)
	awaitTerminal(t, h, id)

	rec := doJSON(t, h, http.MethodGet, "/v1/jobs/"+id+"/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		TotalPosts        int            `json:"total_posts"`
		PostsPerSubreddit map[string]int `json:"posts_per_subreddit"`
		KeywordHits       map[string]int `json:"keyword_hits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 4, summary.TotalPosts)
	assert.Equal(t, 4, summary.PostsPerSubreddit["golang"])
	assert.Equal(t, 4, summary.KeywordHits["zero-day"], "mock titles all mention a zero-day")
}

func TestDashboardRenders(t *testing.T) {
	h := newTestRouter(t)
	id := createJob(t, h, `{"subreddits":["golang"],"post_limit":3}`)
	awaitTerminal(t, h, id)

	rec := doJSON(t, h, http.MethodGet, "/dashboard/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Subreddit Dominance")
	assert.Contains(t, rec.Body.String(), "Sentiment Distribution")
}
