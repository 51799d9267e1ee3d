// Package journal persists a durable record of capture sessions so operators
// can answer "what streamed, when, and how did it end" after the process that
// ran the session is gone. The JSON backend suits single-node deployments;
// Postgres is for shared or long-retention installs.
package journal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entry is one session's journal row. Append upserts by SessionID as the
// session moves through its lifecycle.
type Entry struct {
	SessionID string     `json:"sessionId"`
	Stream    string     `json:"stream"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
}

// Journal is the persistence contract for session records.
type Journal interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close(ctx context.Context) error
}

// Config selects and configures a journal backend.
type Config struct {
	// Driver is "json" or "postgres". Empty selects "json".
	Driver string
	// Path is the JSON store file, used by the json driver.
	Path string
	// DSN is the Postgres connection string, used by the postgres driver.
	DSN string
}

// Open constructs the journal named by cfg.Driver.
func Open(cfg Config) (Journal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "json":
		return OpenFile(cfg.Path)
	case "postgres":
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}
