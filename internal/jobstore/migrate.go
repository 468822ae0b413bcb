package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration for goose
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies all pending goose migrations against dsn. It opens a
// short-lived database/sql connection of its own and closes it before
// returning, independent of the long-lived one PostgresStore holds.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("jobstore: migrate: open: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("jobstore: migrate: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("jobstore: migrate: up: %w", err)
	}
	return nil
}
