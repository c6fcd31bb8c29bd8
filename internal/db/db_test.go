package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver  string
		want    Dialect
		wantErr bool
	}{
		{"", SQLite, false},
		{"sqlite", SQLite, false},
		{"SQLite3", SQLite, false},
		{"postgres", Postgres, false},
		{"pgx", Postgres, false},
		{"mysql", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := DialectFor(tt.driver)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM posts WHERE username = ? AND created_at >= ? LIMIT ?"

	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t,
		"SELECT * FROM posts WHERE username = $1 AND created_at >= $2 LIMIT $3",
		Postgres.Rebind(q),
	)
	assert.Equal(t, "pgx", Postgres.DriverName())
	assert.Equal(t, "sqlite3", SQLite.GooseDialect())
}

func TestOpenAndMigrate_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "posts.db")

	database, err := OpenAndMigrate(ctx, Config{Driver: "sqlite", DSN: path})
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, SQLite, database.Dialect)

	var name string
	err = database.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_posts_username_created'`,
	).Scan(&name)
	require.NoError(t, err)

	// Applying again is a no-op.
	require.NoError(t, Migrate(ctx, database))
}

func TestMigrateDownAndStatus(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	database, err := Open(ctx, Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "posts.db")})
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, MigrateUp(ctx, database, logger))
	require.NoError(t, MigrationStatus(ctx, database, logger))
	require.NoError(t, MigrateDown(ctx, database, logger))

	var n int
	err = database.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'posts'`,
	).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}
