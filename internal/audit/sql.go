package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Dialect selects SQL placeholder style and migration set.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLRepository stores events in a database/sql database.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.SugaredLogger
}

func NewSQLRepository(db *sql.DB, dialect Dialect, logger *zap.SugaredLogger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// rebind rewrites ? placeholders to $1..$n for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLRepository) Record(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	query := r.rebind(`
		INSERT INTO audit_events (draft_id, platform, action, outcome, detail, request_id, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		ev.DraftID,
		ev.Platform,
		string(ev.Action),
		ev.Outcome,
		ev.Detail,
		ev.RequestID,
		ev.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT id, draft_id, platform, action, outcome, detail, request_id, created_at_ms
	FROM audit_events
`

func (r *SQLRepository) ListByDraft(ctx context.Context, draftID string, limit int) ([]Event, error) {
	query := r.rebind(selectEvents + ` WHERE draft_id = ? ORDER BY id DESC LIMIT ?`)
	return r.query(ctx, query, draftID, ClampLimit(limit))
}

func (r *SQLRepository) Recent(ctx context.Context, limit int) ([]Event, error) {
	query := r.rebind(selectEvents + ` ORDER BY id DESC LIMIT ?`)
	return r.query(ctx, query, ClampLimit(limit))
}

func (r *SQLRepository) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev     Event
			action string
			atMS   int64
		)
		if err := rows.Scan(&ev.ID, &ev.DraftID, &ev.Platform, &action, &ev.Outcome, &ev.Detail, &ev.RequestID, &atMS); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Action = Action(action)
		ev.At = time.UnixMilli(atMS).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}
