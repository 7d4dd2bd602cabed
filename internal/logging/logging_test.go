package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestNewFormats(t *testing.T) {
	var jsonBuf bytes.Buffer
	New(Config{Writer: &jsonBuf}).Info("hello", "job_id", "abc")

	var payload map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &payload); err != nil {
		t.Fatalf("default format is not JSON: %v (%q)", err, jsonBuf.String())
	}
	if payload["job_id"] != "abc" {
		t.Fatalf("job_id = %v", payload["job_id"])
	}

	var textBuf bytes.Buffer
	New(Config{Writer: &textBuf, Format: " TEXT "}).Info("hello")
	if !strings.Contains(textBuf.String(), "msg=hello") {
		t.Fatalf("text output = %q", textBuf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{" DeBuG ", slog.LevelDebug},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn"})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	WithComponent(New(Config{Writer: &buf}), "catalog").Info("ready")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["component"] != "catalog" {
		t.Fatalf("component = %v", payload["component"])
	}
	if WithComponent(nil, "x") != nil {
		t.Fatal("nil logger should stay nil")
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := middleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if payload["status"] != float64(http.StatusAccepted) {
		t.Fatalf("status = %v", payload["status"])
	}
	if payload["path"] != "/upload" || payload["method"] != http.MethodPost {
		t.Fatalf("request fields = %v", payload)
	}
	if payload["bytes"] != float64(2) {
		t.Fatalf("bytes = %v", payload["bytes"])
	}
	if id, _ := payload["request_id"].(string); id == "" {
		t.Fatal("request_id missing")
	}
}
