package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"camcast/internal/events"
	"camcast/internal/journal"
	"camcast/internal/observability/metrics"
)

// ErrStreamBusy is returned when a second session tries to publish a stream
// name that already has a live session.
var ErrStreamBusy = errors.New("stream already has an active session")

// ErrNotFound is returned when a session ID is unknown to the manager.
var ErrNotFound = errors.New("session not found")

// Config assembles a Manager.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// Journal receives a row per session; nil disables journalling.
	Journal journal.Journal
	// Events receives lifecycle notifications; nil disables publishing.
	Events events.Publisher
	// Retention is how long ended sessions stay listable before the reaper
	// removes them. Zero selects one hour.
	Retention time.Duration
	// NewTranscoder builds the per-session transcoder.
	NewTranscoder Factory
}

const defaultRetention = time.Hour

// Manager owns all sessions in the process. One stream name maps to at most
// one active session; ended sessions are kept until the retention window
// passes so their outcome stays inspectable.
type Manager struct {
	logger        *slog.Logger
	metrics       *metrics.Recorder
	journal       journal.Journal
	events        events.Publisher
	retention     time.Duration
	newTranscoder Factory
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager validates cfg and returns an empty Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.NewTranscoder == nil {
		return nil, errors.New("session manager requires a transcoder factory")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Manager{
		logger:        logger,
		metrics:       recorder,
		journal:       cfg.Journal,
		events:        cfg.Events,
		retention:     retention,
		newTranscoder: cfg.NewTranscoder,
		now:           time.Now,
		sessions:      make(map[string]*Session),
	}, nil
}

// Create starts a new session publishing the given stream name. The
// transcoder is spawned before Create returns; a launch failure leaves the
// session in the failed state and is reported to the caller.
func (m *Manager) Create(ctx context.Context, stream string) (*Session, error) {
	if stream == "" {
		return nil, errors.New("stream name is required")
	}
	id, err := newID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	sess := &Session{
		id:        id,
		stream:    stream,
		startedAt: m.now(),
		status:    StatusStarting,
	}

	m.mu.Lock()
	for _, existing := range m.sessions {
		if existing.stream == stream && !existing.Status().terminal() {
			m.mu.Unlock()
			return nil, ErrStreamBusy
		}
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	sess.transcoder = m.newTranscoder(stream, func(code int, err error) {
		m.handleExit(sess, code, err)
	})

	m.record(ctx, sess)
	m.publish(ctx, sess)

	if err := sess.transcoder.Start(ctx); err != nil {
		sess.recordExit(-1, m.now())
		sess.transition(StatusFailed)
		m.record(ctx, sess)
		m.publish(ctx, sess)
		m.logger.Error("session start failed", "sessionId", id, "stream", stream, "error", err)
		return nil, fmt.Errorf("start session: %w", err)
	}

	if sess.markLive() {
		m.metrics.SessionStarted()
		m.record(ctx, sess)
		m.publish(ctx, sess)
		m.logger.Info("session live", "sessionId", id, "stream", stream)
	}
	return sess, nil
}

// Stop requests a graceful shutdown of the session's transcoder. The session
// reaches its terminal state when the process exit is observed.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if sess.transition(StatusStopping) {
		m.publish(ctx, sess)
	}
	return sess.transcoder.Stop(ctx)
}

// Get returns the snapshot for one session.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// List returns snapshots of all retained sessions, most recently started
// first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(a, b int) bool {
		return out[a].StartedAt.After(out[b].StartedAt)
	})
	return out
}

// Reap removes terminal sessions whose retention window has passed and
// returns how many were removed.
func (m *Manager) Reap(now time.Time) int {
	cutoff := now.Add(-m.retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, sess := range m.sessions {
		snap := sess.Snapshot()
		if !snap.Status.terminal() || snap.EndedAt == nil {
			continue
		}
		if snap.EndedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// handleExit is the transcoder's exit callback. A stop that was requested
// ends the session normally even when the process had to be killed; an
// unrequested exit is a failure.
func (m *Manager) handleExit(sess *Session, code int, err error) {
	wasLive := false
	switch sess.Status() {
	case StatusLive, StatusStopping:
		wasLive = true
	}
	sess.recordExit(code, m.now())

	next := StatusEnded
	if err != nil && sess.Status() != StatusStopping {
		next = StatusFailed
	}
	if !sess.transition(next) {
		return
	}
	if wasLive {
		m.metrics.SessionEnded()
	}

	ctx := context.Background()
	m.record(ctx, sess)
	m.publish(ctx, sess)
	if next == StatusFailed {
		m.logger.Error("session failed", "sessionId", sess.id, "stream", sess.stream, "code", code, "error", err)
	} else {
		m.logger.Info("session ended", "sessionId", sess.id, "stream", sess.stream, "code", code)
	}
}

func (m *Manager) record(ctx context.Context, sess *Session) {
	if m.journal == nil {
		return
	}
	snap := sess.Snapshot()
	entry := journal.Entry{
		SessionID: snap.ID,
		Stream:    snap.Stream,
		Status:    string(snap.Status),
		StartedAt: snap.StartedAt,
		EndedAt:   snap.EndedAt,
		ExitCode:  snap.ExitCode,
	}
	if err := m.journal.Append(ctx, entry); err != nil {
		m.logger.Error("journal append failed", "sessionId", snap.ID, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, sess *Session) {
	if m.events == nil {
		return
	}
	snap := sess.Snapshot()
	event := events.StatusEvent{
		SessionID:  snap.ID,
		Stream:     snap.Stream,
		Status:     events.Status(snap.Status),
		ExitCode:   snap.ExitCode,
		OccurredAt: m.now(),
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Error("event publish failed", "sessionId", snap.ID, "error", err)
	}
}
