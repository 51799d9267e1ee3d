package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLogPublisherEmitsStatusLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	pub := NewLogPublisher(logger)

	code := 1
	err := pub.Publish(context.Background(), StatusEvent{
		SessionID:  "sess-1",
		Stream:     "stream",
		Status:     StatusFailed,
		ExitCode:   &code,
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["sessionId"] != "sess-1" {
		t.Fatalf("sessionId = %v", entry["sessionId"])
	}
	if entry["status"] != "failed" {
		t.Fatalf("status = %v", entry["status"])
	}
	if entry["exitCode"] != float64(1) {
		t.Fatalf("exitCode = %v", entry["exitCode"])
	}
}

func TestStatusEventJSONShape(t *testing.T) {
	event := StatusEvent{
		SessionID:  "abc",
		Stream:     "stream",
		Status:     StatusLive,
		OccurredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(payload), "exitCode") {
		t.Fatalf("exitCode should be omitted when nil: %s", payload)
	}
	for _, want := range []string{`"sessionId":"abc"`, `"status":"live"`} {
		if !strings.Contains(string(payload), want) {
			t.Fatalf("payload %s missing %s", payload, want)
		}
	}
}

func TestNewPublisherDriverSelection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default is log", cfg: Config{}},
		{name: "log explicit", cfg: Config{Driver: "log"}},
		{name: "redis requires addr", cfg: Config{Driver: "redis"}, wantErr: true},
		{name: "kafka requires brokers", cfg: Config{Driver: "kafka"}, wantErr: true},
		{name: "unknown driver", cfg: Config{Driver: "rabbitmq"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub, err := NewPublisher(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPublisher: %v", err)
			}
			if pub == nil {
				t.Fatal("expected publisher")
			}
			if err := pub.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
		})
	}
}
