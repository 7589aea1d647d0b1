// Package main implements coachctl, the operator CLI for the durable
// session store.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/coachbot/internal/store"
)

type options struct {
	driver string
	dbPath string
	dsn    string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) open() (store.Repository, error) {
	repo, err := store.Open(store.Options{Driver: o.driver, Path: o.dbPath, DSN: o.dsn})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return repo, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "coachctl",
		Short: "Inspect and maintain coachbot's stored sessions",
		Long: `coachctl reads the same durable store as the bot server.

Connection settings default to STORE_DRIVER, DB_PATH and DATABASE_URL.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.driver, "driver", envOr("STORE_DRIVER", store.DriverSQLite), "store driver (sqlite, postgres)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DB_PATH", "./data/coachbot.db"), "SQLite database path")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")

	root.AddCommand(newSessionsCmd(opts), newPruneCmd(opts), newExportCmd(opts))
	return root
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
