package repository

import (
	"errors"
	"fmt"
)

// PostsTable is the table every query reads from.
const PostsTable = "posts"

// Post is one stored upstream post. CreatedAt is kept exactly as supplied
// upstream (ISO-8601, fractional seconds, UTC designator) so that string
// ordering matches chronological ordering.
type Post struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Text         string `json:"text"`
	CreatedAt    string `json:"created_at"`
	LikeCount    int64  `json:"like_count"`
	RetweetCount int64  `json:"retweet_count"`
	ReplyCount   int64  `json:"reply_count"`
	URL          string `json:"url"`
	FetchedAt    string `json:"fetched_at"`
}

// PostURL is the canonical link for a post id.
func PostURL(id string) string {
	return fmt.Sprintf("https://x.com/i/web/status/%s", id)
}

// PostFilter narrows ListPosts and CountPosts. Zero values mean "no filter";
// Limit <= 0 means no limit.
type PostFilter struct {
	Username string
	Since    string // inclusive lower bound on created_at
	Limit    int
	Offset   int
}

// UserSummary aggregates the stored posts of one account.
type UserSummary struct {
	Username      string  `json:"username"`
	PostCount     int64   `json:"post_count"`
	LatestPost    *string `json:"latest_post"`
	EarliestPost  *string `json:"earliest_post"`
	TotalLikes    *int64  `json:"total_likes"`
	TotalRetweets *int64  `json:"total_retweets"`
	TotalReplies  *int64  `json:"total_replies"`
}

// OverallStats aggregates every stored post. TotalImpressions is always nil:
// impressions are not captured by the posts table.
type OverallStats struct {
	TotalPosts       int64   `json:"total_posts"`
	TotalUsers       int64   `json:"total_users"`
	LatestPost       *string `json:"latest_post"`
	EarliestPost     *string `json:"earliest_post"`
	TotalLikes       *int64  `json:"total_likes"`
	TotalRetweets    *int64  `json:"total_retweets"`
	TotalReplies     *int64  `json:"total_replies"`
	TotalImpressions *int64  `json:"total_impressions"`
}

// AccountStats aggregates the posts of a single account.
type AccountStats struct {
	PostCount     int64
	LatestPost    *string
	TotalLikes    *int64
	TotalRetweets *int64
}

// RecentActivity aggregates posts created at or after a cutoff.
type RecentActivity struct {
	Posts int64
	Likes *int64
}

var ErrNotFound = errors.New("record not found")
