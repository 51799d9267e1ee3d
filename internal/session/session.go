// Package session ties one capture connection to one transcoder process and
// tracks its lifecycle. The manager is the arena: it enforces that a stream
// name is published by at most one live session, fans session state out to
// subscribers, and records every session in the journal.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Status enumerates session lifecycle states. Ended and Failed are terminal.
type Status string

const (
	StatusStarting Status = "starting"
	StatusLive     Status = "live"
	StatusStopping Status = "stopping"
	StatusEnded    Status = "ended"
	StatusFailed   Status = "failed"
)

func (s Status) terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// Transcoder is the session's view of the process feeding the media server.
type Transcoder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Write(chunk []byte)
}

// Factory builds a transcoder for a new session. onExit is invoked exactly
// once when the underlying process exits.
type Factory func(stream string, onExit func(code int, err error)) Transcoder

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID        string     `json:"id"`
	Stream    string     `json:"stream"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
}

// Session is one capture connection's transcoding run.
type Session struct {
	id         string
	stream     string
	startedAt  time.Time
	transcoder Transcoder

	mu       sync.Mutex
	status   Status
	endedAt  *time.Time
	exitCode *int
	watchers []chan Status
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Stream returns the stream name the session publishes under.
func (s *Session) Stream() string { return s.stream }

// Write forwards one media chunk to the transcoder.
func (s *Session) Write(chunk []byte) {
	s.transcoder.Write(chunk)
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot captures the session state for listings and the journal.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:        s.id,
		Stream:    s.stream,
		Status:    s.status,
		StartedAt: s.startedAt,
	}
	if s.endedAt != nil {
		ended := *s.endedAt
		snap.EndedAt = &ended
	}
	if s.exitCode != nil {
		code := *s.exitCode
		snap.ExitCode = &code
	}
	return snap
}

// Subscribe returns a channel receiving status transitions. The channel is
// buffered and closed when the session reaches a terminal state; slow readers
// miss intermediate updates rather than blocking the session.
func (s *Session) Subscribe() <-chan Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Status, 8)
	ch <- s.status
	if s.status.terminal() {
		close(ch)
		return ch
	}
	s.watchers = append(s.watchers, ch)
	return ch
}

// transition moves to next if the current state is non-terminal, notifying
// watchers. It reports whether the transition happened.
func (s *Session) transition(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.terminal() || s.status == next {
		return false
	}
	s.status = next
	for _, ch := range s.watchers {
		select {
		case ch <- next:
		default:
		}
		if next.terminal() {
			close(ch)
		}
	}
	if next.terminal() {
		s.watchers = nil
	}
	return true
}

// markLive transitions starting → live; a session that already exited stays
// in its terminal state.
func (s *Session) markLive() bool {
	s.mu.Lock()
	if s.status != StatusStarting {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.transition(StatusLive)
}

func (s *Session) recordExit(code int, at time.Time) {
	s.mu.Lock()
	s.exitCode = &code
	s.endedAt = &at
	s.mu.Unlock()
}

func newID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
