package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"camcast/internal/observability/metrics"
	"camcast/internal/relay"
	"camcast/internal/session"
)

type stubTranscoder struct {
	mu     sync.Mutex
	chunks [][]byte
	onExit func(code int, err error)
}

func (s *stubTranscoder) Start(ctx context.Context) error { return nil }

func (s *stubTranscoder) Stop(ctx context.Context) error {
	s.mu.Lock()
	onExit := s.onExit
	s.mu.Unlock()
	onExit(0, nil)
	return nil
}

func (s *stubTranscoder) Write(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
}

func (s *stubTranscoder) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

type stubFactory struct {
	mu      sync.Mutex
	created []*stubTranscoder
}

func (f *stubFactory) new(stream string, onExit func(code int, err error)) session.Transcoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	tc := &stubTranscoder{onExit: onExit}
	f.created = append(f.created, tc)
	return tc
}

func (f *stubFactory) last() *stubTranscoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func newTestGateway(t *testing.T, overrides func(*GatewayConfig)) (*Gateway, *session.Manager, *stubFactory) {
	t.Helper()
	factory := &stubFactory{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.New()
	mgr, err := session.NewManager(session.Config{
		Logger:        logger,
		Metrics:       recorder,
		NewTranscoder: factory.new,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := GatewayConfig{
		Arena:  mgr,
		Relay:  relay.New(logger, recorder),
		Logger: logger,
	}
	if overrides != nil {
		overrides(&cfg)
	}
	return NewGateway(cfg), mgr, factory
}

func ingestServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/ingest", gw.HandleIngest)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func readStatus(t *testing.T, ctx context.Context, conn *Conn) statusFrame {
	t.Helper()
	kind, payload, err := conn.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read status frame: %v", err)
	}
	if kind != MessageText {
		t.Fatalf("status frame kind = %v, want text", kind)
	}
	var frame statusFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode status frame %q: %v", payload, err)
	}
	return frame
}

func TestGatewayIngestLifecycle(t *testing.T) {
	gw, mgr, factory := newTestGateway(t, nil)
	server := ingestServer(t, gw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, wsURL(server, "/ws/ingest?stream=cam"), nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	frame := readStatus(t, ctx, conn)
	if frame.Type != "status" || frame.Status != string(session.StatusLive) {
		t.Fatalf("first frame = %+v, want live status", frame)
	}
	if frame.SessionID == "" || frame.Stream != "cam" {
		t.Fatalf("frame missing identity: %+v", frame)
	}

	for i := 0; i < 3; i++ {
		if err := conn.WriteBinary([]byte(fmt.Sprintf("chunk-%d", i))); err != nil {
			t.Fatalf("WriteBinary: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(factory.last().received()) == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	chunks := factory.last().received()
	if len(chunks) != 3 {
		t.Fatalf("transcoder received %d chunks, want 3", len(chunks))
	}
	for i, chunk := range chunks {
		if want := fmt.Sprintf("chunk-%d", i); string(chunk) != want {
			t.Fatalf("chunk %d = %q, want %q", i, chunk, want)
		}
	}

	if err := conn.WriteText([]byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("send stop: %v", err)
	}
	for time.Now().Before(deadline) {
		if snap, ok := mgr.Get(frame.SessionID); ok && snap.Status == session.StatusEnded {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, ok := mgr.Get(frame.SessionID)
	if !ok || snap.Status != session.StatusEnded {
		t.Fatalf("session = %+v ok=%v, want ended", snap, ok)
	}
}

func TestGatewayDisconnectStopsSession(t *testing.T) {
	gw, mgr, _ := newTestGateway(t, nil)
	server := ingestServer(t, gw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, wsURL(server, "/ws/ingest?stream=cam"), nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	frame := readStatus(t, ctx, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := mgr.Get(frame.SessionID); ok && snap.Status == session.StatusEnded {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := mgr.Get(frame.SessionID)
	t.Fatalf("session after disconnect = %+v, want ended", snap)
}

func TestGatewayRequiresStream(t *testing.T) {
	gw, _, _ := newTestGateway(t, nil)
	server := ingestServer(t, gw)

	resp, err := http.Get(server.URL + "/ws/ingest")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGatewayRejectsBadStreamKey(t *testing.T) {
	gw, _, _ := newTestGateway(t, func(cfg *GatewayConfig) {
		cfg.Authorize = func(stream, key string) bool { return key == "secret" }
	})
	server := ingestServer(t, gw)

	resp, err := http.Get(server.URL + "/ws/ingest?stream=cam&key=wrong")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGatewayReportsBusyStream(t *testing.T) {
	gw, _, _ := newTestGateway(t, nil)
	server := ingestServer(t, gw)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := Dial(ctx, wsURL(server, "/ws/ingest?stream=cam"), nil, nil)
	if err != nil {
		t.Fatalf("Dial first: %v", err)
	}
	defer first.Close()
	readStatus(t, ctx, first)

	second, err := Dial(ctx, wsURL(server, "/ws/ingest?stream=cam"), nil, nil)
	if err != nil {
		t.Fatalf("Dial second: %v", err)
	}
	defer second.Close()
	frame := readStatus(t, ctx, second)
	if frame.Type != "error" || frame.Error != "stream busy" {
		t.Fatalf("second connection frame = %+v, want stream busy error", frame)
	}
}
