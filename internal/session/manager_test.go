package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"camcast/internal/journal"
	"camcast/internal/observability/metrics"
	"camcast/internal/session"
)

type fakeTranscoder struct {
	mu       sync.Mutex
	startErr error
	started  bool
	stopped  bool
	chunks   [][]byte
	onExit   func(code int, err error)
}

func (f *fakeTranscoder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeTranscoder) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	onExit := f.onExit
	f.mu.Unlock()
	// A graceful stop ends with a clean process exit.
	onExit(0, nil)
	return nil
}

func (f *fakeTranscoder) Write(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
}

func (f *fakeTranscoder) exit(code int, err error) {
	f.mu.Lock()
	onExit := f.onExit
	f.mu.Unlock()
	onExit(code, err)
}

type fakeFactory struct {
	mu       sync.Mutex
	startErr error
	created  []*fakeTranscoder
}

func (f *fakeFactory) new(stream string, onExit func(code int, err error)) session.Transcoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	tc := &fakeTranscoder{startErr: f.startErr, onExit: onExit}
	f.created = append(f.created, tc)
	return tc
}

func (f *fakeFactory) last() *fakeTranscoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func newManager(t *testing.T, factory *fakeFactory, overrides func(*session.Config)) *session.Manager {
	t.Helper()
	cfg := session.Config{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:       metrics.New(),
		NewTranscoder: factory.new,
	}
	if overrides != nil {
		overrides(&cfg)
	}
	mgr, err := session.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func TestManagerCreateAndStop(t *testing.T) {
	factory := &fakeFactory{}
	store, err := journal.OpenFile(filepath.Join(t.TempDir(), "journal.json"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	mgr := newManager(t, factory, func(cfg *session.Config) {
		cfg.Journal = store
	})

	sess, err := mgr.Create(context.Background(), "stream")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status() != session.StatusLive {
		t.Fatalf("status = %s, want live", sess.Status())
	}

	sess.Write([]byte("chunk"))
	if got := len(factory.last().chunks); got != 1 {
		t.Fatalf("expected chunk to reach transcoder, got %d", got)
	}

	if err := mgr.Stop(context.Background(), sess.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap, ok := mgr.Get(sess.ID())
	if !ok {
		t.Fatal("session missing after stop")
	}
	if snap.Status != session.StatusEnded {
		t.Fatalf("status = %s, want ended", snap.Status)
	}
	if snap.ExitCode == nil || *snap.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", snap.ExitCode)
	}
	if snap.EndedAt == nil {
		t.Fatal("ended at not recorded")
	}

	entries, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != "ended" {
		t.Fatalf("unexpected journal entries %+v", entries)
	}
}

func TestManagerRejectsSecondSessionForStream(t *testing.T) {
	factory := &fakeFactory{}
	mgr := newManager(t, factory, nil)
	ctx := context.Background()

	first, err := mgr.Create(ctx, "stream")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := mgr.Create(ctx, "stream"); !errors.Is(err, session.ErrStreamBusy) {
		t.Fatalf("duplicate Create = %v, want ErrStreamBusy", err)
	}
	if _, err := mgr.Create(ctx, "other"); err != nil {
		t.Fatalf("Create for other stream: %v", err)
	}

	// Once the first session ends its stream name is free again.
	if err := mgr.Stop(ctx, first.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := mgr.Create(ctx, "stream"); err != nil {
		t.Fatalf("Create after end: %v", err)
	}
}

func TestManagerStartFailure(t *testing.T) {
	factory := &fakeFactory{startErr: errors.New("ffmpeg not found")}
	mgr := newManager(t, factory, nil)

	_, err := mgr.Create(context.Background(), "stream")
	if err == nil {
		t.Fatal("expected Create to fail")
	}
	list := mgr.List()
	if len(list) != 1 || list[0].Status != session.StatusFailed {
		t.Fatalf("unexpected sessions %+v", list)
	}
}

func TestManagerUnexpectedExitFails(t *testing.T) {
	factory := &fakeFactory{}
	mgr := newManager(t, factory, nil)

	sess, err := mgr.Create(context.Background(), "stream")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	factory.last().exit(1, errors.New("exit status 1"))

	snap, _ := mgr.Get(sess.ID())
	if snap.Status != session.StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.ExitCode == nil || *snap.ExitCode != 1 {
		t.Fatalf("exit code = %v, want 1", snap.ExitCode)
	}
}

func TestSessionSubscribe(t *testing.T) {
	factory := &fakeFactory{}
	mgr := newManager(t, factory, nil)

	sess, err := mgr.Create(context.Background(), "stream")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	updates := sess.Subscribe()
	if got := <-updates; got != session.StatusLive {
		t.Fatalf("first update = %s, want live", got)
	}

	if err := mgr.Stop(context.Background(), sess.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	var seen []session.Status
	for status := range updates {
		seen = append(seen, status)
	}
	if len(seen) == 0 || seen[len(seen)-1] != session.StatusEnded {
		t.Fatalf("updates = %v, want ending in ended", seen)
	}
}

func TestManagerReap(t *testing.T) {
	factory := &fakeFactory{}
	mgr := newManager(t, factory, func(cfg *session.Config) {
		cfg.Retention = time.Millisecond
	})
	ctx := context.Background()

	ended, err := mgr.Create(ctx, "ended-stream")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mgr.Stop(ctx, ended.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := mgr.Create(ctx, "live-stream"); err != nil {
		t.Fatalf("Create live: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if removed := mgr.Reap(time.Now()); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	list := mgr.List()
	if len(list) != 1 || list[0].Stream != "live-stream" {
		t.Fatalf("unexpected sessions after reap %+v", list)
	}
}

func TestStartReaperStops(t *testing.T) {
	factory := &fakeFactory{}
	mgr := newManager(t, factory, func(cfg *session.Config) {
		cfg.Retention = time.Millisecond
	})
	ctx := context.Background()

	sess, err := mgr.Create(ctx, "stream")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mgr.Stop(ctx, sess.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stop := mgr.StartReaper(ctx, time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(mgr.List()) == 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	stop()
	stop()
	if got := len(mgr.List()); got != 0 {
		t.Fatalf("expected reaper to remove ended session, got %d", got)
	}
}
