// Command migrate applies or inspects the embedded database migrations
// without starting the HTTP service. Useful in init containers and CI.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/chatapp/auth-service/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	var (
		dbURL = flag.String("db", os.Getenv("AUTH_DB_URL"), "PostgreSQL connection URL (defaults to AUTH_DB_URL)")
	)
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	if *dbURL == "" {
		return fmt.Errorf("database URL required: pass -db or set AUTH_DB_URL")
	}

	pool, err := sql.Open("pgx", *dbURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = pool.Close() }()

	ctx := context.Background()
	if err := pool.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch command {
	case "up":
		return goose.UpContext(ctx, pool, ".")
	case "down":
		return goose.DownContext(ctx, pool, ".")
	case "status":
		return goose.StatusContext(ctx, pool, ".")
	case "version":
		return goose.VersionContext(ctx, pool, ".")
	default:
		return fmt.Errorf("unknown command %q (want up, down, status or version)", command)
	}
}
