package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/omichsam/twitter-post-feeds/internal/repository"
	"go.uber.org/zap"
)

// TimestampLayout matches the upstream created_at format so cutoffs compare
// as strings against stored values.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const recentActivityWindow = 7 * 24 * time.Hour

type HandlerConfig struct {
	DefaultUsername string
	DatabaseName    string
}

type Handler struct {
	repo   *repository.Repository
	config HandlerConfig
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewHandler(repo *repository.Repository, config HandlerConfig, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ListPosts serves GET /api/posts.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	username := parseUsername(r)

	resp := PostsResponse{
		Success:        true,
		Limit:          limit,
		Offset:         offset,
		UsernameFilter: username,
	}
	if username == "" {
		resp.UsernameFilter = "all"
	}

	err = h.repo.Session(r.Context(), func(s *repository.Session) error {
		filter := repository.PostFilter{Username: username, Limit: limit, Offset: offset}

		posts, err := s.ListPosts(r.Context(), filter)
		if err != nil {
			return err
		}
		total, err := s.CountPosts(r.Context(), filter)
		if err != nil {
			return err
		}

		resp.Posts = posts
		resp.Count = len(posts)
		resp.TotalCount = total
		return nil
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// DefaultPosts serves GET /api/posts/default.
func (h *Handler) DefaultPosts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	resp := DefaultPostsResponse{
		Success:  true,
		Username: h.config.DefaultUsername,
		Limit:    limit,
		Offset:   offset,
	}

	err = h.repo.Session(r.Context(), func(s *repository.Session) error {
		filter := repository.PostFilter{Username: h.config.DefaultUsername, Limit: limit, Offset: offset}

		posts, err := s.ListPosts(r.Context(), filter)
		if err != nil {
			return err
		}
		total, err := s.CountPosts(r.Context(), filter)
		if err != nil {
			return err
		}

		resp.Posts = posts
		resp.Count = len(posts)
		resp.TotalCount = total
		return nil
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// LatestPosts serves GET /api/posts/latest.
func (h *Handler) LatestPosts(w http.ResponseWriter, r *http.Request) {
	hours, err := parseHours(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	username := parseUsername(r)
	since := formatTimestamp(h.now().Add(-time.Duration(hours) * time.Hour))

	resp := LatestPostsResponse{
		Success:        true,
		Hours:          hours,
		Limit:          limit,
		UsernameFilter: username,
		Since:          since,
	}
	if username == "" {
		resp.UsernameFilter = "all"
	}

	err = h.repo.Session(r.Context(), func(s *repository.Session) error {
		filter := repository.PostFilter{Username: username, Since: since, Limit: limit}

		posts, err := s.ListPosts(r.Context(), filter)
		if err != nil {
			return err
		}
		total, err := s.CountPosts(r.Context(), filter)
		if err != nil {
			return err
		}

		resp.Posts = posts
		resp.Count = len(posts)
		resp.PeriodCount = total
		return nil
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetPost serves GET /api/posts/{id}.
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var post *repository.Post
	err := h.repo.Session(r.Context(), func(s *repository.Session) error {
		var err error
		post, err = s.GetPost(r.Context(), id)
		return err
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, PostResponse{Success: true, Post: post})
}

// ListUsers serves GET /api/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var users []repository.UserSummary
	err := h.repo.Session(r.Context(), func(s *repository.Session) error {
		var err error
		users, err = s.UserSummaries(r.Context())
		return err
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, UsersResponse{
		Success: true,
		Users:   users,
		Count:   len(users),
	})
}

// Stats serves GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	weekAgo := formatTimestamp(h.now().Add(-recentActivityWindow))

	var stats StatisticsDTO
	err := h.repo.Session(r.Context(), func(s *repository.Session) error {
		overall, err := s.OverallStats(r.Context())
		if err != nil {
			return err
		}
		account, err := s.AccountStats(r.Context(), h.config.DefaultUsername)
		if err != nil {
			return err
		}
		recent, err := s.ActivitySince(r.Context(), weekAgo)
		if err != nil {
			return err
		}

		stats.Overall = overall
		stats.DefaultUser = defaultUserStats(h.config.DefaultUsername, account)
		stats.RecentActivity = RecentActivityDTO{
			PostsLast7Days: recent.Posts,
			LikesLast7Days: recent.Likes,
		}
		return nil
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StatsResponse{Success: true, Statistics: stats})
}

func defaultUserStats(username string, st repository.AccountStats) DefaultUserStatsDTO {
	if st.PostCount == 0 {
		return DefaultUserStatsDTO{
			Username: username,
			Message:  "No posts found for default user",
		}
	}
	return DefaultUserStatsDTO{
		Username:      username,
		PostCount:     st.PostCount,
		LatestPost:    st.LatestPost,
		TotalLikes:    st.TotalLikes,
		TotalRetweets: st.TotalRetweets,
	}
}

// errPostsTableMissing means storage is reachable but not yet migrated.
var errPostsTableMissing = errors.New("posts table not found; run migrations")

// Health serves GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Success:     true,
		Status:      "healthy",
		Database:    h.config.DatabaseName,
		DefaultUser: h.config.DefaultUsername,
	}

	err := h.repo.Session(r.Context(), func(s *repository.Session) error {
		if err := s.Ping(r.Context()); err != nil {
			return err
		}
		tables, err := s.TableNames(r.Context())
		if err != nil {
			return err
		}
		if !slices.Contains(tables, repository.PostsTable) {
			return errPostsTableMissing
		}
		account, err := s.AccountStats(r.Context(), h.config.DefaultUsername)
		if err != nil {
			return err
		}

		resp.DefaultUserPostsCount = &account.PostCount
		resp.Tables = tables
		return nil
	})
	resp.Timestamp = h.now().UTC().Format(time.RFC3339Nano)

	if err != nil {
		h.logger.Errorw("Health check failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Success:   false,
			Status:    "unhealthy",
			Error:     err.Error(),
			Timestamp: resp.Timestamp,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Index serves GET / with a description of every endpoint.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	page := map[string]string{
		"limit":  "Number of posts to return (default: 50, max: 1000)",
		"offset": "Pagination offset (default: 0)",
	}

	h.writeJSON(w, http.StatusOK, IndexResponse{
		Endpoints: map[string]EndpointDoc{
			"/api/posts": {
				Method:      http.MethodGet,
				Description: "Get all posts with pagination",
				Parameters: map[string]string{
					"limit":    page["limit"],
					"offset":   page["offset"],
					"username": "Filter by username (optional)",
				},
			},
			"/api/posts/default": {
				Method:      http.MethodGet,
				Description: "Get posts for default user (@" + h.config.DefaultUsername + ")",
				Parameters:  page,
			},
			"/api/posts/latest": {
				Method:      http.MethodGet,
				Description: "Get latest posts from the last N hours",
				Parameters: map[string]string{
					"hours":    "Number of hours to look back (default: 24)",
					"limit":    page["limit"],
					"username": "Filter by username (optional)",
				},
			},
			"/api/posts/{id}": {
				Method:      http.MethodGet,
				Description: "Get a single post by ID",
			},
			"/api/users": {
				Method:      http.MethodGet,
				Description: "Get list of all tracked users with statistics",
			},
			"/api/stats": {
				Method:      http.MethodGet,
				Description: "Get overall statistics",
			},
			"/health": {
				Method:      http.MethodGet,
				Description: "Health check endpoint",
			},
		},
		DefaultUser: h.config.DefaultUsername,
		Database:    h.config.DatabaseName,
	})
}

// NotFound keeps unknown routes inside the JSON error envelope.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "Endpoint not found")
}

func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Errorw("Failed to encode response", "error", err)
	}
}

// writeFailure maps an error to its status: bad input 400, unknown post
// 404, anything else 500.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var perr *paramError
	switch {
	case errors.As(err, &perr):
		h.writeError(w, r, http.StatusBadRequest, perr.msg)
	case errors.Is(err, repository.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "Post not found")
	default:
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	fields := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"message", message,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", fields...)
	} else {
		h.logger.Debugw("API error", fields...)
	}

	h.writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}
