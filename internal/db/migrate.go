package db

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// goose keeps its dialect, filesystem and logger in package globals.
var gooseMu sync.Mutex

// Migrate applies all pending migrations quietly.
func Migrate(ctx context.Context, db *DB) error {
	return MigrateUp(ctx, db, nil)
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, db *DB, logger *zap.SugaredLogger) error {
	return withGoose(db, logger, func() error {
		return goose.DownContext(ctx, db.DB, migrationsDir)
	})
}

// MigrationStatus logs the applied state of every migration.
func MigrationStatus(ctx context.Context, db *DB, logger *zap.SugaredLogger) error {
	return withGoose(db, logger, func() error {
		return goose.StatusContext(ctx, db.DB, migrationsDir)
	})
}

// MigrateUp is Migrate with goose output routed to logger.
func MigrateUp(ctx context.Context, db *DB, logger *zap.SugaredLogger) error {
	return withGoose(db, logger, func() error {
		return goose.UpContext(ctx, db.DB, migrationsDir)
	})
}

func withGoose(db *DB, logger *zap.SugaredLogger, fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if logger != nil {
		goose.SetLogger(gooseLogger{logger})
	} else {
		goose.SetLogger(gooseLogger{zap.NewNop().Sugar()})
	}

	if err := goose.SetDialect(db.Dialect.GooseDialect()); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return fn()
}

type gooseLogger struct {
	l *zap.SugaredLogger
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) { g.l.Errorf(format, v...) }
func (g gooseLogger) Printf(format string, v ...interface{}) { g.l.Infof(format, v...) }
