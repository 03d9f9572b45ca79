package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// OpenDB opens the database for dialect without migrating it.
func OpenDB(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectSQLite:
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create audit db dir: %w", err)
			}
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// single writer; modernc serialises anyway and this avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		return db, nil
	case DialectPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported audit dialect %q", dialect)
	}
}

// Open returns the repository for backend ("memory", "sqlite", "postgres"),
// applying pending migrations for the SQL backends.
func Open(ctx context.Context, backend, dsn string, logger *zap.SugaredLogger) (Repository, error) {
	if backend == "" || backend == "memory" {
		return NewMemoryRepository(0), nil
	}

	dialect := Dialect(backend)
	db, err := OpenDB(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}

	if err := Migrate(db, dialect, "up", nil); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	if logger != nil {
		logger.Infow("Audit log ready", "backend", backend)
	}
	return NewSQLRepository(db, dialect, logger), nil
}
