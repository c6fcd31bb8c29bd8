package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/omichsam/twitter-post-feeds/internal/db"
	"go.uber.org/zap"
)

const postColumns = `id, username, text, created_at, like_count, retweet_count, reply_count, url, fetched_at`

type Repository struct {
	db     *db.DB
	logger *zap.SugaredLogger
}

func NewRepository(database *db.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{
		db:     database,
		logger: logger,
	}
}

// Session acquires one storage connection, hands it to fn and releases it
// on every exit path, including panics inside fn.
func (r *Repository) Session(ctx context.Context, fn func(s *Session) error) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Warnw("Failed to release connection", "error", cerr)
		}
	}()

	return fn(&Session{conn: conn, dialect: r.db.Dialect})
}

// Session runs statements on a single acquired connection.
type Session struct {
	conn    *sql.Conn
	dialect db.Dialect
}

func (s *Session) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.dialect.Rebind(q), args...)
}

func (s *Session) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, s.dialect.Rebind(q), args...)
}

// InsertPost stores p unless a post with the same id exists. The existing
// row is left untouched; inserted reports whether a new row was written.
func (s *Session) InsertPost(ctx context.Context, p Post, fetchedAt time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO posts (id, username, text, created_at, like_count, retweet_count, reply_count, url, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`),
		p.ID,
		p.Username,
		p.Text,
		p.CreatedAt,
		p.LikeCount,
		p.RetweetCount,
		p.ReplyCount,
		p.URL,
		fetchedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert post %s: %w", p.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for post %s: %w", p.ID, err)
	}
	return n > 0, nil
}

func (f PostFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Username != "" {
		conds = append(conds, "username = ?")
		args = append(args, f.Username)
	}
	if f.Since != "" {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListPosts returns matching posts newest first.
func (s *Session) ListPosts(ctx context.Context, f PostFilter) ([]Post, error) {
	where, args := f.where()
	q := "SELECT " + postColumns + " FROM posts" + where + " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return posts, nil
}

// CountPosts counts matching posts, ignoring Limit and Offset.
func (s *Session) CountPosts(ctx context.Context, f PostFilter) (int64, error) {
	where, args := f.where()

	var n int64
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM posts"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// GetPost returns ErrNotFound when no post has the given id.
func (s *Session) GetPost(ctx context.Context, id string) (*Post, error) {
	row := s.queryRow(ctx, "SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UserSummaries groups posts by account, busiest account first.
func (s *Session) UserSummaries(ctx context.Context) ([]UserSummary, error) {
	rows, err := s.query(ctx, `
		SELECT
			username,
			COUNT(*) AS post_count,
			MAX(created_at) AS latest_post,
			MIN(created_at) AS earliest_post,
			SUM(like_count) AS total_likes,
			SUM(retweet_count) AS total_retweets,
			SUM(reply_count) AS total_replies
		FROM posts
		GROUP BY username
		ORDER BY post_count DESC, username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query user summaries: %w", err)
	}
	defer rows.Close()

	users := make([]UserSummary, 0)
	for rows.Next() {
		var (
			u                        UserSummary
			latest, earliest         sql.NullString
			likes, retweets, replies sql.NullInt64
		)
		if err := rows.Scan(&u.Username, &u.PostCount, &latest, &earliest, &likes, &retweets, &replies); err != nil {
			return nil, fmt.Errorf("failed to scan user summary: %w", err)
		}
		u.LatestPost = nullString(latest)
		u.EarliestPost = nullString(earliest)
		u.TotalLikes = nullInt(likes)
		u.TotalRetweets = nullInt(retweets)
		u.TotalReplies = nullInt(replies)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user summaries: %w", err)
	}
	return users, nil
}

func (s *Session) OverallStats(ctx context.Context) (OverallStats, error) {
	var (
		st                       OverallStats
		latest, earliest         sql.NullString
		likes, retweets, replies sql.NullInt64
	)
	err := s.queryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT username),
			MAX(created_at),
			MIN(created_at),
			SUM(like_count),
			SUM(retweet_count),
			SUM(reply_count)
		FROM posts
	`).Scan(&st.TotalPosts, &st.TotalUsers, &latest, &earliest, &likes, &retweets, &replies)
	if err != nil {
		return OverallStats{}, fmt.Errorf("failed to query overall stats: %w", err)
	}

	st.LatestPost = nullString(latest)
	st.EarliestPost = nullString(earliest)
	st.TotalLikes = nullInt(likes)
	st.TotalRetweets = nullInt(retweets)
	st.TotalReplies = nullInt(replies)
	return st, nil
}

func (s *Session) AccountStats(ctx context.Context, username string) (AccountStats, error) {
	var (
		st              AccountStats
		latest          sql.NullString
		likes, retweets sql.NullInt64
	)
	err := s.queryRow(ctx, `
		SELECT COUNT(*), MAX(created_at), SUM(like_count), SUM(retweet_count)
		FROM posts
		WHERE username = ?
	`, username).Scan(&st.PostCount, &latest, &likes, &retweets)
	if err != nil {
		return AccountStats{}, fmt.Errorf("failed to query stats for %s: %w", username, err)
	}

	st.LatestPost = nullString(latest)
	st.TotalLikes = nullInt(likes)
	st.TotalRetweets = nullInt(retweets)
	return st, nil
}

// ActivitySince aggregates posts with created_at >= cutoff.
func (s *Session) ActivitySince(ctx context.Context, cutoff string) (RecentActivity, error) {
	var (
		a     RecentActivity
		likes sql.NullInt64
	)
	err := s.queryRow(ctx, `
		SELECT COUNT(*), SUM(like_count)
		FROM posts
		WHERE created_at >= ?
	`, cutoff).Scan(&a.Posts, &likes)
	if err != nil {
		return RecentActivity{}, fmt.Errorf("failed to query recent activity: %w", err)
	}
	a.Likes = nullInt(likes)
	return a, nil
}

// Ping runs a trivial statement on the session's connection.
func (s *Session) Ping(ctx context.Context) error {
	var one int
	if err := s.queryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}

func (s *Session) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, s.dialect.TablesQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(sc scanner) (Post, error) {
	var (
		p                        Post
		likes, retweets, replies sql.NullInt64
		fetchedAt                sql.NullString
	)
	err := sc.Scan(&p.ID, &p.Username, &p.Text, &p.CreatedAt, &likes, &retweets, &replies, &p.URL, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, err
	}
	if err != nil {
		return Post{}, fmt.Errorf("failed to scan post: %w", err)
	}
	p.LikeCount = likes.Int64
	p.RetweetCount = retweets.Int64
	p.ReplyCount = replies.Int64
	p.FetchedAt = fetchedAt.String
	return p, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
