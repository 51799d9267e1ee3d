package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buf})

	logger.Info("hidden")
	logger.Warn("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Fatalf("info entry should be suppressed at warn level: %s", output)
	}
	if !strings.Contains(output, "visible") {
		t.Fatalf("warn entry missing: %s", output)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "text", Writer: &buf})
	logger.Info("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected text output, got %s", buf.String())
	}
}

func TestWithContextAnnotations(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-9")
	WithContext(ctx, logger).Info("annotated")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["request_id"] != "req-1" {
		t.Fatalf("missing request_id: %v", entry)
	}
	if entry["session_id"] != "sess-9" {
		t.Fatalf("missing session_id: %v", entry)
	}
}

func TestContextIgnoresEmptyIDs(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "  ")
	if _, ok := SessionIDFromContext(ctx); ok {
		t.Fatal("blank session ID should not be stored")
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["msg"] != "request completed" {
		t.Fatalf("unexpected message: %v", entry)
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Fatalf("unexpected status: %v", entry)
	}
	if entry["path"] != "/api/sessions" {
		t.Fatalf("unexpected path: %v", entry)
	}
}
