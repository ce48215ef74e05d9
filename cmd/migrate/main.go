// Command migrate applies the schema in migrations/ against the database
// named by the DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME/DB_SSL_MODE
// variables (internal/database.Config.LoadFromEnv) using goose, the same migration runner the teacher's go.mod already
// carries. Usage: migrate <up|down|status|redo> [migrations-dir].
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Artem468/executor-balancer/internal/database"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: migrate <up|down|status|redo> [migrations-dir]")
	}
	command := args[0]

	dir := "migrations"
	if len(args) > 1 {
		dir = args[1]
	}

	cfg := database.DefaultConfig()
	cfg.LoadFromEnv()

	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	switch command {
	case "up":
		return goose.Up(db, dir)
	case "down":
		return goose.Down(db, dir)
	case "status":
		return goose.Status(db, dir)
	case "redo":
		return goose.Redo(db, dir)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}
