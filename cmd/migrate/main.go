package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/omichsam/twitter-post-feeds/internal/config"
	"github.com/omichsam/twitter-post-feeds/internal/db"
	"github.com/omichsam/twitter-post-feeds/internal/log"
)

var flags = flag.NewFlagSet("migrate", flag.ExitOnError)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: migrate COMMAND\n\nCommands:\n  up\n  down\n  status")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.IsProd(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database, err := db.Open(ctx, db.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.StorageDSN(),
	})
	if err != nil {
		logger.Fatalw("Failed to connect to database", "error", err)
	}
	defer database.Close()

	command := args[0]
	switch command {
	case "up":
		err = db.MigrateUp(ctx, database, logger)
	case "down":
		err = db.MigrateDown(ctx, database, logger)
	case "status":
		err = db.MigrationStatus(ctx, database, logger)
	default:
		logger.Fatalw("Unknown command", "command", command)
	}
	if err != nil {
		logger.Fatalw("Migration failed", "command", command, "error", err)
	}
	logger.Infow("Migration finished", "command", command, "database", cfg.DatabaseName())
}
