package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJournal persists session records to a Postgres table so multiple
// capture nodes can share one history.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens the journal table using the provided DSN, creating the
// schema on first use.
func OpenPostgres(dsn string) (*PostgresJournal, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres journal dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres journal config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres journal pool: %w", err)
	}
	j := &PostgresJournal{pool: pool}
	if err := j.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

func (j *PostgresJournal) ensureSchema(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS capture_sessions (
    session_id TEXT PRIMARY KEY,
    stream     TEXT NOT NULL,
    status     TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ,
    exit_code  INTEGER
)
`)
	if err != nil {
		return fmt.Errorf("create capture_sessions table: %w", err)
	}
	return nil
}

// Append upserts the session row.
func (j *PostgresJournal) Append(ctx context.Context, entry Entry) error {
	if entry.SessionID == "" {
		return fmt.Errorf("journal entry requires a session id")
	}
	_, err := j.pool.Exec(ctx, `
INSERT INTO capture_sessions (session_id, stream, status, started_at, ended_at, exit_code)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id) DO UPDATE SET
    status = EXCLUDED.status,
    ended_at = EXCLUDED.ended_at,
    exit_code = EXCLUDED.exit_code
`, entry.SessionID, entry.Stream, entry.Status, entry.StartedAt.UTC(), entry.EndedAt, entry.ExitCode)
	return err
}

// Recent returns up to limit rows, most recently started first.
func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.pool.Query(ctx, `
SELECT session_id, stream, status, started_at, ended_at, exit_code
FROM capture_sessions
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.SessionID, &entry.Stream, &entry.Status, &entry.StartedAt, &entry.EndedAt, &entry.ExitCode); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the connection pool.
func (j *PostgresJournal) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		j.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
