package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	SetupWithOutput("debug", "json", &buf)
	defer SetupWithOutput("info", "text", &bytes.Buffer{})

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = WithUserID(ctx, "u1")
	WithContext(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["request_id"] != "req-1" || line["user_id"] != "u1" || line["msg"] != "hello" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestAccessLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	SetupWithOutput("info", "json", &buf)
	defer SetupWithOutput("info", "text", &bytes.Buffer{})

	h := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["status"] != float64(http.StatusTeapot) || line["path"] != "/healthz" {
		t.Fatalf("unexpected access log %v", line)
	}
}
