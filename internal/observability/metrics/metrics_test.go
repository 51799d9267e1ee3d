package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveChunk(1024)
	recorder.ObserveChunk(2048)
	recorder.ObserveDrop()
	recorder.SessionStarted()
	recorder.ObserveTranscoderExit("errored")

	body := scrape(t, recorder)
	for _, want := range []string{
		"camcast_chunks_received_total 2",
		"camcast_chunk_bytes_received_total 3072",
		"camcast_chunks_dropped_total 1",
		"camcast_active_sessions 1",
		`camcast_transcoder_exits_total{outcome="errored"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape output missing %q:\n%s", want, body)
		}
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := Middleware(recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	body := scrape(t, recorder)
	if !strings.Contains(body, `camcast_http_requests_total{method="GET",status="4xx"} 1`) {
		t.Fatalf("scrape output missing request counter:\n%s", body)
	}
}

func TestObserveRequestStatusClasses(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest(http.MethodPost, http.StatusOK, time.Millisecond)
	recorder.ObserveRequest(http.MethodPost, http.StatusBadGateway, time.Millisecond)

	body := scrape(t, recorder)
	if !strings.Contains(body, `camcast_http_requests_total{method="POST",status="2xx"} 1`) {
		t.Fatalf("missing 2xx counter:\n%s", body)
	}
	if !strings.Contains(body, `camcast_http_requests_total{method="POST",status="5xx"} 1`) {
		t.Fatalf("missing 5xx counter:\n%s", body)
	}
}

func scrape(t *testing.T, recorder *Recorder) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}
