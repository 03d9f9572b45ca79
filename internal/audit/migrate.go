package audit

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// goose keeps its dialect and filesystem in package globals
var gooseMu sync.Mutex

func (d Dialect) gooseDialect() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "postgres"
}

func (d Dialect) migrationDir() string {
	return "migrations/" + string(d)
}

// Migrate runs one goose command ("up", "down", "status") against db using the
// embedded migrations for dialect. A nil logger silences goose.
func Migrate(db *sql.DB, dialect Dialect, command string, logger goose.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if logger == nil {
		logger = goose.NopLogger()
	}
	goose.SetLogger(logger)

	if err := goose.SetDialect(dialect.gooseDialect()); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	dir := dialect.migrationDir()
	switch command {
	case "up":
		return goose.Up(db, dir)
	case "down":
		return goose.Down(db, dir)
	case "status":
		return goose.Status(db, dir)
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
}
