package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"camcast/internal/hls"
	"camcast/internal/journal"
	"camcast/internal/session"
)

// SessionDirectory is the server's view of the session manager.
type SessionDirectory interface {
	List() []session.Snapshot
	Get(id string) (session.Snapshot, bool)
	Stop(ctx context.Context, id string) error
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.sessions.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Stop(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	snap, _ := s.sessions.Get(id)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": entries})
}

// handleMasterPlaylist synthesizes the multi-rendition master playlist for a
// stream. The playlist is regenerated per request; it is deterministic for a
// fixed ladder, so no caching is needed.
func (s *Server) handleMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	if stream == "" {
		writeError(w, http.StatusBadRequest, errors.New("stream name required"))
		return
	}
	playlist, err := hls.MasterPlaylist(s.ladder, s.hlsBaseURL+"/"+stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(playlist))
}
