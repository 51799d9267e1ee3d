// Package events publishes session lifecycle notifications to downstream
// consumers. The default publisher writes structured log lines; Redis Streams
// and Kafka backends are available for deployments where recorders or
// directory services react to stream state.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Status enumerates the lifecycle states announced for a capture session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusLive     Status = "live"
	StatusStopping Status = "stopping"
	StatusEnded    Status = "ended"
	StatusFailed   Status = "failed"
)

// StatusEvent is the wire representation of a session state change.
type StatusEvent struct {
	SessionID  string    `json:"sessionId"`
	Stream     string    `json:"stream"`
	Status     Status    `json:"status"`
	ExitCode   *int      `json:"exitCode,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers status events to a backend. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event StatusEvent) error
	Close() error
}

// NewLogPublisher returns a publisher that records events as structured log
// lines. It is the default when no broker is configured.
func NewLogPublisher(logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &logPublisher{logger: logger}
}

type logPublisher struct {
	logger *slog.Logger
}

func (p *logPublisher) Publish(ctx context.Context, event StatusEvent) error {
	attrs := []any{
		"sessionId", event.SessionID,
		"stream", event.Stream,
		"status", string(event.Status),
	}
	if event.ExitCode != nil {
		attrs = append(attrs, "exitCode", *event.ExitCode)
	}
	p.logger.InfoContext(ctx, "session status", attrs...)
	return nil
}

func (p *logPublisher) Close() error { return nil }
