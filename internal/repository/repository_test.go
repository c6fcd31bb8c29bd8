package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omichsam/twitter-post-feeds/internal/db"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()

	ctx := context.Background()
	database, err := db.OpenAndMigrate(ctx, db.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "posts.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewRepository(database, zap.NewNop().Sugar())
}

func newPost(id, username, createdAt string, likes int64) Post {
	return Post{
		ID:           id,
		Username:     username,
		Text:         "post " + id,
		CreatedAt:    createdAt,
		LikeCount:    likes,
		RetweetCount: 1,
		ReplyCount:   2,
		URL:          PostURL(id),
	}
}

func seed(t *testing.T, repo *Repository, posts ...Post) {
	t.Helper()
	err := repo.Session(context.Background(), func(s *Session) error {
		for _, p := range posts {
			if _, err := s.InsertPost(context.Background(), p, time.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestInsertPost_Duplicate(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	err := repo.Session(ctx, func(s *Session) error {
		inserted, err := s.InsertPost(ctx, newPost("1", "alice", "2024-05-01T10:00:00.000Z", 3), time.Now())
		require.NoError(t, err)
		assert.True(t, inserted)

		changed := newPost("1", "alice", "2024-05-01T10:00:00.000Z", 99)
		changed.Text = "edited"
		inserted, err = s.InsertPost(ctx, changed, time.Now())
		require.NoError(t, err)
		assert.False(t, inserted)

		p, err := s.GetPost(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "post 1", p.Text)
		assert.Equal(t, int64(3), p.LikeCount)
		assert.NotEmpty(t, p.FetchedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestGetPost_NotFound(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	err := repo.Session(ctx, func(s *Session) error {
		_, err := s.GetPost(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPosts_OrderingAndPaging(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	seed(t, repo,
		newPost("1", "alice", "2024-05-01T10:00:00.000Z", 1),
		newPost("2", "alice", "2024-05-03T10:00:00.000Z", 1),
		newPost("3", "bob", "2024-05-02T10:00:00.000Z", 1),
		newPost("4", "alice", "2024-05-03T10:00:00.000Z", 1),
	)

	err := repo.Session(ctx, func(s *Session) error {
		posts, err := s.ListPosts(ctx, PostFilter{})
		require.NoError(t, err)
		require.Len(t, posts, 4)
		assert.Equal(t, []string{"4", "2", "3", "1"}, ids(posts))

		posts, err = s.ListPosts(ctx, PostFilter{Username: "alice", Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "1"}, ids(posts))

		total, err := s.CountPosts(ctx, PostFilter{Username: "alice", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)

		posts, err = s.ListPosts(ctx, PostFilter{Limit: 10, Offset: 10})
		require.NoError(t, err)
		assert.NotNil(t, posts)
		assert.Empty(t, posts)
		return nil
	})
	require.NoError(t, err)
}

func TestListPosts_SinceIsInclusive(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	seed(t, repo,
		newPost("1", "alice", "2024-05-01T10:00:00.000Z", 1),
		newPost("2", "alice", "2024-05-02T10:00:00.000Z", 1),
	)

	err := repo.Session(ctx, func(s *Session) error {
		f := PostFilter{Since: "2024-05-02T10:00:00.000Z"}
		posts, err := s.ListPosts(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, ids(posts))

		n, err := s.CountPosts(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
}

func TestAggregates(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	err := repo.Session(ctx, func(s *Session) error {
		st, err := s.OverallStats(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.TotalPosts)
		assert.Nil(t, st.TotalLikes)
		assert.Nil(t, st.LatestPost)
		assert.Nil(t, st.TotalImpressions)

		users, err := s.UserSummaries(ctx)
		require.NoError(t, err)
		assert.NotNil(t, users)
		assert.Empty(t, users)
		return nil
	})
	require.NoError(t, err)

	seed(t, repo,
		newPost("1", "alice", "2024-05-01T10:00:00.000Z", 5),
		newPost("2", "bob", "2024-05-02T10:00:00.000Z", 7),
		newPost("3", "bob", "2024-05-03T10:00:00.000Z", 1),
		newPost("4", "carol", "2024-05-04T10:00:00.000Z", 0),
	)

	err = repo.Session(ctx, func(s *Session) error {
		st, err := s.OverallStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), st.TotalPosts)
		assert.Equal(t, int64(3), st.TotalUsers)
		require.NotNil(t, st.TotalLikes)
		assert.Equal(t, int64(13), *st.TotalLikes)
		assert.Equal(t, "2024-05-04T10:00:00.000Z", *st.LatestPost)
		assert.Equal(t, "2024-05-01T10:00:00.000Z", *st.EarliestPost)

		users, err := s.UserSummaries(ctx)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, "bob", users[0].Username)
		assert.Equal(t, int64(2), users[0].PostCount)
		assert.Equal(t, int64(8), *users[0].TotalLikes)
		assert.Equal(t, "alice", users[1].Username)
		assert.Equal(t, "carol", users[2].Username)

		acct, err := s.AccountStats(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(2), acct.PostCount)
		assert.Equal(t, "2024-05-03T10:00:00.000Z", *acct.LatestPost)
		assert.Equal(t, int64(2), *acct.TotalRetweets)

		acct, err = s.AccountStats(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, acct.PostCount)
		assert.Nil(t, acct.LatestPost)

		recent, err := s.ActivitySince(ctx, "2024-05-02T10:00:00.000Z")
		require.NoError(t, err)
		assert.Equal(t, int64(3), recent.Posts)
		assert.Equal(t, int64(8), *recent.Likes)
		return nil
	})
	require.NoError(t, err)
}

func TestSession_PingAndTables(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	err := repo.Session(ctx, func(s *Session) error {
		require.NoError(t, s.Ping(ctx))
		tables, err := s.TableNames(ctx)
		require.NoError(t, err)
		assert.Contains(t, tables, "posts")
		return nil
	})
	require.NoError(t, err)
}

func TestSession_ReleasesConnection(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = repo.Session(ctx, func(s *Session) error {
			return ErrNotFound
		})
	}
	assert.Equal(t, 0, repo.db.Stats().InUse)
}

func ids(posts []Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
