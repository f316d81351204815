// Package httpapi is the thin request adapter over the job engine: it
// validates input, translates errors to status codes and never runs
// collection logic itself.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/qepting91/trendit/internal/analytics"
	"github.com/qepting91/trendit/internal/dashboard"
	"github.com/qepting91/trendit/internal/domain"
	"github.com/qepting91/trendit/internal/engine"
	"github.com/qepting91/trendit/internal/export"
	"github.com/qepting91/trendit/internal/storage"
)

type Server struct {
	Registry *engine.Registry
	Store    *storage.Store

	validate *validator.Validate
}

func NewServer(registry *engine.Registry, store *storage.Store) *Server {
	return &Server{
		Registry: registry,
		Store:    store,
		validate: validator.New(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Delete("/jobs/{id}", s.handleDeleteJob)
		r.Get("/jobs/{id}/posts", s.handleJobPosts)
		r.Get("/jobs/{id}/comments", s.handleJobComments)
		r.Get("/jobs/{id}/analytics", s.handleJobAnalytics)
		r.Get("/jobs/{id}/export", s.handleJobExport)
	})
	r.Get("/dashboard/{id}", s.handleDashboard)

	return r
}

// createJobRequest mirrors domain.JobSpec with validation tags; enum values
// are checked again by JobSpec.Normalize.
type createJobRequest struct {
	Subreddits      []string `json:"subreddits" validate:"required,min=1,max=25,dive,min=1,max=21"`
	SortTypes       []string `json:"sort_types" validate:"omitempty,dive,oneof=hot new top rising controversial"`
	TimeFilters     []string `json:"time_filters" validate:"omitempty,dive,oneof=hour day week month year all"`
	PostLimit       int      `json:"post_limit" validate:"gte=0,lte=1000"`
	CommentLimit    int      `json:"comment_limit" validate:"gte=0,lte=500"`
	MaxCommentDepth int      `json:"max_comment_depth" validate:"gte=0,lte=10"`
	Keywords        []string `json:"keywords"`
	ExcludeKeywords []string `json:"exclude_keywords"`
	MinScore        int      `json:"min_score"`
	MinUpvoteRatio  float64  `json:"min_upvote_ratio" validate:"gte=0,lte=1"`
	DateFrom        *string  `json:"date_from"`
	DateTo          *string  `json:"date_to"`
	ExcludeNSFW     *bool    `json:"exclude_nsfw"`
	AnonymizeUsers  bool     `json:"anonymize_users"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	spec := domain.JobSpec{
		Subreddits:      req.Subreddits,
		PostLimit:       req.PostLimit,
		CommentLimit:    req.CommentLimit,
		MaxCommentDepth: req.MaxCommentDepth,
		Keywords:        req.Keywords,
		ExcludeKeywords: req.ExcludeKeywords,
		MinScore:        req.MinScore,
		MinUpvoteRatio:  req.MinUpvoteRatio,
		AnonymizeUsers:  req.AnonymizeUsers,
		// Matches the original system's default of excluding NSFW content
		// unless the caller opts in.
		ExcludeNSFW: req.ExcludeNSFW == nil || *req.ExcludeNSFW,
	}
	for _, st := range req.SortTypes {
		spec.SortTypes = append(spec.SortTypes, domain.SortType(st))
	}
	for _, tf := range req.TimeFilters {
		spec.TimeFilters = append(spec.TimeFilters, domain.TimeFilter(tf))
	}
	var err error
	if spec.DateFrom, err = parseDate(req.DateFrom); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if spec.DateTo, err = parseDate(req.DateTo); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.Registry.CreateJob(r.Context(), spec)
	if err != nil {
		if domain.IsStorage(err) {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job_id": id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Registry.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLookupErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var status *domain.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed := domain.JobStatus(raw)
		switch parsed {
		case domain.StatusPending, domain.StatusRunning, domain.StatusCompleted,
			domain.StatusFailed, domain.StatusCancelled:
			status = &parsed
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s", raw))
			return
		}
	}
	limit := queryInt(r, "limit", 25)
	if limit > 100 {
		limit = 100
	}

	jobs, err := s.Registry.List(r.Context(), status, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []domain.CollectionJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeLookupErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancel_requested"})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	err := s.Registry.Delete(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrJobRunning):
		writeErr(w, http.StatusConflict, err)
	default:
		writeLookupErr(w, err)
	}
}

func (s *Server) handleJobPosts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Registry.Status(r.Context(), id); err != nil {
		writeLookupErr(w, err)
		return
	}
	posts, err := s.Store.QueryPosts(r.Context(), id, queryOptions(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleJobComments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Registry.Status(r.Context(), id); err != nil {
		writeLookupErr(w, err)
		return
	}
	comments, err := s.Store.QueryComments(r.Context(), id, queryOptions(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if comments == nil {
		comments = []domain.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleJobAnalytics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.Registry.Get(r.Context(), id)
	if err != nil {
		writeLookupErr(w, err)
		return
	}
	posts, comments, err := s.loadAll(r, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.Summarize(posts, comments, job.Spec.Keywords))
}

func (s *Server) handleJobExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.Registry.Status(r.Context(), id); err != nil {
		writeLookupErr(w, err)
		return
	}
	posts, comments, err := s.loadAll(r, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.%s", id, format))
	if err := export.Render(w, format, export.Bundle{JobID: id, Posts: posts, Comments: comments}); err != nil {
		// Headers are gone; all we can do is log via the middleware.
		return
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.Registry.Get(r.Context(), id)
	if err != nil {
		writeLookupErr(w, err)
		return
	}
	posts, comments, err := s.loadAll(r, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	dashboard.Render(w, job, posts, comments)
}

func (s *Server) loadAll(r *http.Request, id string) ([]domain.Post, []domain.Comment, error) {
	const all = 1 << 20
	posts, err := s.Store.QueryPosts(r.Context(), id, storage.QueryOptions{Limit: all})
	if err != nil {
		return nil, nil, err
	}
	comments, err := s.Store.QueryComments(r.Context(), id, storage.QueryOptions{Limit: all})
	if err != nil {
		return nil, nil, err
	}
	return posts, comments, nil
}

func queryOptions(r *http.Request) storage.QueryOptions {
	return storage.QueryOptions{
		Subreddit: r.URL.Query().Get("subreddit"),
		OrderBy:   r.URL.Query().Get("order"),
		Desc:      r.URL.Query().Get("desc") == "true",
		Limit:     queryInt(r, "limit", 100),
		Offset:    queryInt(r, "offset", 0),
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want RFC3339)", *raw)
	}
	return &t, nil
}

func writeLookupErr(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeErr(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
