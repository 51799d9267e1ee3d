// Package server assembles the HTTP surface: the capture WebSocket endpoint,
// the session API, the synthesized master playlist, and the bundled web
// client.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"camcast/internal/hls"
	"camcast/internal/journal"
	"camcast/internal/observability/logging"
	"camcast/internal/observability/metrics"
	"camcast/web"
)

// Config assembles a Server.
type Config struct {
	Addr     string
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Security SecurityConfig
	// Sessions backs the /api/sessions endpoints.
	Sessions SessionDirectory
	// Journal, when set, enables GET /api/journal.
	Journal journal.Journal
	// Ingest handles WebSocket capture connections on /ws/ingest.
	Ingest http.HandlerFunc
	// Ladder and HLSBaseURL drive master playlist synthesis.
	Ladder     []hls.Profile
	HLSBaseURL string
}

// Server is the assembled HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	sessions   SessionDirectory
	journal    journal.Journal
	ladder     []hls.Profile
	hlsBaseURL string
}

// New wires the router and returns a server ready to run.
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session directory is required")
	}
	if cfg.Ingest == nil {
		return nil, errors.New("ingest handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ladder := cfg.Ladder
	if len(ladder) == 0 {
		ladder = hls.DefaultLadder()
	}
	if err := hls.ValidateLadder(ladder); err != nil {
		return nil, fmt.Errorf("rendition ladder: %w", err)
	}

	srv := &Server{
		logger:     logger,
		sessions:   cfg.Sessions,
		journal:    cfg.Journal,
		ladder:     ladder,
		hlsBaseURL: strings.TrimRight(cfg.HLSBaseURL, "/"),
	}

	staticFS, err := web.Static()
	if err != nil {
		return nil, fmt.Errorf("load web assets: %w", err)
	}
	index, err := fs.ReadFile(staticFS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("read web index: %w", err)
	}

	r := chi.NewRouter()
	r.Use(logging.RequestLogger(logger))
	r.Use(metrics.Middleware(recorder))
	r.Use(func(next http.Handler) http.Handler {
		return securityHeadersMiddleware(cfg.Security, next)
	})

	r.Get("/healthz", srv.handleHealth)
	r.Method(http.MethodGet, "/metrics", recorder.Handler())
	r.Get("/ws/ingest", cfg.Ingest)
	r.Get("/live/{stream}/master.m3u8", srv.handleMasterPlaylist)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", srv.handleListSessions)
		r.Get("/{id}", srv.handleGetSession)
		r.Delete("/{id}", srv.handleStopSession)
	})
	if cfg.Journal != nil {
		r.Get("/api/journal", srv.handleJournal)
	}

	fileServer := http.FileServer(http.FS(staticFS))
	r.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(index)
	})

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer returns the underlying http.Server for the runtime to manage.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}
