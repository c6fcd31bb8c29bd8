package api

import (
	"github.com/omichsam/twitter-post-feeds/internal/repository"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type PostsResponse struct {
	Success        bool              `json:"success"`
	Posts          []repository.Post `json:"posts"`
	Count          int               `json:"count"`
	TotalCount     int64             `json:"total_count"`
	Limit          int               `json:"limit"`
	Offset         int               `json:"offset"`
	UsernameFilter string            `json:"username_filter"`
}

type DefaultPostsResponse struct {
	Success    bool              `json:"success"`
	Username   string            `json:"username"`
	Posts      []repository.Post `json:"posts"`
	Count      int               `json:"count"`
	TotalCount int64             `json:"total_count"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

type LatestPostsResponse struct {
	Success        bool              `json:"success"`
	Posts          []repository.Post `json:"posts"`
	Count          int               `json:"count"`
	PeriodCount    int64             `json:"period_count"`
	Hours          int               `json:"hours"`
	Limit          int               `json:"limit"`
	UsernameFilter string            `json:"username_filter"`
	Since          string            `json:"since"`
}

type PostResponse struct {
	Success bool             `json:"success"`
	Post    *repository.Post `json:"post"`
}

type UsersResponse struct {
	Success bool                     `json:"success"`
	Users   []repository.UserSummary `json:"users"`
	Count   int                      `json:"count"`
}

// DefaultUserStatsDTO has two shapes: aggregates when the account has
// posts, otherwise just a zero count and a message.
type DefaultUserStatsDTO struct {
	Username      string  `json:"username"`
	PostCount     int64   `json:"post_count"`
	LatestPost    *string `json:"latest_post,omitempty"`
	TotalLikes    *int64  `json:"total_likes,omitempty"`
	TotalRetweets *int64  `json:"total_retweets,omitempty"`
	Message       string  `json:"message,omitempty"`
}

type RecentActivityDTO struct {
	PostsLast7Days int64  `json:"posts_last_7_days"`
	LikesLast7Days *int64 `json:"likes_last_7_days"`
}

type StatisticsDTO struct {
	Overall        repository.OverallStats `json:"overall"`
	DefaultUser    DefaultUserStatsDTO     `json:"default_user"`
	RecentActivity RecentActivityDTO       `json:"recent_activity"`
}

type StatsResponse struct {
	Success    bool          `json:"success"`
	Statistics StatisticsDTO `json:"statistics"`
}

type HealthResponse struct {
	Success               bool     `json:"success"`
	Status                string   `json:"status"`
	Database              string   `json:"database,omitempty"`
	Tables                []string `json:"tables,omitempty"`
	DefaultUser           string   `json:"default_user,omitempty"`
	DefaultUserPostsCount *int64   `json:"default_user_posts_count,omitempty"`
	Error                 string   `json:"error,omitempty"`
	Timestamp             string   `json:"timestamp"`
}

type EndpointDoc struct {
	Method      string            `json:"method"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

type IndexResponse struct {
	Endpoints   map[string]EndpointDoc `json:"endpoints"`
	DefaultUser string                 `json:"default_user"`
	Database    string                 `json:"database"`
}
