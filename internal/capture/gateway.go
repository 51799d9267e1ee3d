package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"camcast/internal/observability/logging"
	"camcast/internal/relay"
	"camcast/internal/session"
)

// Arena is the gateway's view of the session manager.
type Arena interface {
	Create(ctx context.Context, stream string) (*session.Session, error)
	Stop(ctx context.Context, id string) error
}

// Authorizer validates the stream key presented by a capture client. A nil
// authorizer admits every connection.
type Authorizer func(stream, key string) bool

// GatewayConfig configures the ingest gateway.
type GatewayConfig struct {
	Arena  Arena
	Relay  *relay.Relay
	Logger *slog.Logger
	// DefaultStream is used when the client names no stream.
	DefaultStream string
	// Authorize validates the stream key query parameter before upgrade.
	Authorize Authorizer
	// HeartbeatInterval controls WebSocket ping cadence. Zero disables
	// heartbeats.
	HeartbeatInterval time.Duration
}

// Gateway owns the /ws/ingest endpoint: it upgrades capture connections,
// opens a session per connection, and relays chunks until the peer goes away.
type Gateway struct {
	arena             Arena
	relay             *relay.Relay
	logger            *slog.Logger
	defaultStream     string
	authorize         Authorizer
	heartbeatInterval time.Duration
}

// NewGateway initialises a gateway using the provided configuration.
func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rly := cfg.Relay
	if rly == nil {
		rly = relay.New(logger, nil)
	}
	return &Gateway{
		arena:             cfg.Arena,
		relay:             rly,
		logger:            logger,
		defaultStream:     cfg.DefaultStream,
		authorize:         cfg.Authorize,
		heartbeatInterval: cfg.HeartbeatInterval,
	}
}

// statusFrame is the JSON sent to the capture client on every session state
// change.
type statusFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Stream    string `json:"stream,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// command is what capture clients may send as text frames.
type command struct {
	Type string `json:"type"`
}

// HandleIngest upgrades the request and runs the capture session until the
// connection ends. Disconnect, a stop command, and a close frame all trigger
// a graceful transcoder shutdown.
func (g *Gateway) HandleIngest(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = g.defaultStream
	}
	if stream == "" {
		http.Error(w, "stream name required", http.StatusBadRequest)
		return
	}
	if g.authorize != nil && !g.authorize(stream, r.URL.Query().Get("key")) {
		http.Error(w, "invalid stream key", http.StatusUnauthorized)
		return
	}

	conn, err := Accept(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.Context().Done()
		cancel()
	}()

	sess, err := g.arena.Create(ctx, stream)
	if err != nil {
		g.logger.Warn("capture session rejected", "stream", stream, "error", err)
		frame := statusFrame{Type: "error", Stream: stream, Error: "session unavailable"}
		if errors.Is(err, session.ErrStreamBusy) {
			frame.Error = "stream busy"
		}
		g.send(conn, frame)
		return
	}

	ctx = logging.ContextWithSessionID(ctx, sess.ID())
	logger := logging.WithContext(ctx, g.logger)
	logger.Info("capture connected", "stream", stream)

	go g.statusLoop(conn, sess)
	if g.heartbeatInterval > 0 {
		go g.heartbeatLoop(ctx, conn)
	}

	err = g.relay.Run(ctx, &connSource{conn: conn}, sess)
	if err != nil && ctx.Err() == nil {
		logger.Warn("capture relay ended", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := g.arena.Stop(stopCtx, sess.ID()); err != nil && !errors.Is(err, session.ErrNotFound) {
		logger.Error("session stop failed", "error", err)
	}
	logger.Info("capture disconnected", "stream", stream)
}

// statusLoop forwards session state changes to the client until the session
// reaches a terminal state.
func (g *Gateway) statusLoop(conn *Conn, sess *session.Session) {
	for status := range sess.Subscribe() {
		frame := statusFrame{
			Type:      "status",
			SessionID: sess.ID(),
			Stream:    sess.Stream(),
			Status:    string(status),
		}
		if !g.send(conn, frame) {
			return
		}
	}
}

func (g *Gateway) heartbeatLoop(ctx context.Context, conn *Conn) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) send(conn *Conn, frame statusFrame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		g.logger.Error("encode status frame", "error", err)
		return false
	}
	if err := conn.WriteText(payload); err != nil {
		return false
	}
	return true
}

// connSource adapts the WebSocket connection to the relay's chunk source.
// Binary messages are media chunks; a text "stop" command ends the stream as
// cleanly as a close frame.
type connSource struct {
	conn *Conn
}

func (s *connSource) NextChunk(ctx context.Context) ([]byte, error) {
	for {
		kind, payload, err := s.conn.ReadMessage(ctx)
		if err != nil {
			return nil, err
		}
		switch kind {
		case MessageBinary:
			return payload, nil
		case MessageText:
			var cmd command
			if err := json.Unmarshal(payload, &cmd); err != nil {
				continue
			}
			if cmd.Type == "stop" {
				return nil, io.EOF
			}
		}
	}
}
