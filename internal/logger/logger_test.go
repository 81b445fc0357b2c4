package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edgard/lifetracker/internal/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := logger.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello..."},
		{"tiny limit", "hello", 2, "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := logger.Truncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestHTTPMiddleware(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(&buf, "info", true)

	handler := logger.HTTPMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contacts", nil))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["path"] != "/api/contacts" {
		t.Errorf("path = %v, want /api/contacts", entry["path"])
	}
	if status, _ := entry["status"].(float64); int(status) != http.StatusTeapot {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusTeapot)
	}
	if bytesWritten, _ := entry["bytes"].(float64); int(bytesWritten) != len("short and stout") {
		t.Errorf("bytes = %v", entry["bytes"])
	}
}

func TestNewTextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(&buf, "warn", false)
	log.Info("dropped")
	log.Warn("kept", "component", "test")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record logged at warn level: %q", out)
	}
	if !strings.Contains(out, "component=test") {
		t.Errorf("text output missing attribute: %q", out)
	}
}
