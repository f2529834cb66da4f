package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quiz-session-service/internal/domain"
)

func TestChatGeneratorParsesReply(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 1 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		reply := `{"strengths":["s"],"improvements":["i"],"tips":["t"],"missed":[{"questionId":5,"analysis":"a","advice":"b"}]}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": reply}}},
		})
	}))
	defer server.Close()

	gen := NewChatGenerator(server.URL+"/", "secret", "llama", time.Second)
	content, err := gen.Generate(context.Background(), []domain.Question{{ID: 5, Prompt: "2+2"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotAuth != "Bearer secret" || gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected request auth=%q path=%q", gotAuth, gotPath)
	}
	if len(content.Details) != 1 || content.Details[0].QuestionID != 5 {
		t.Fatalf("unexpected content %+v", content)
	}
}

func TestChatGeneratorServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gen := NewChatGenerator(server.URL, "", "llama", time.Second)
	if _, err := gen.Generate(context.Background(), []domain.Question{{ID: 1}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestChatGeneratorNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	gen := NewChatGenerator(server.URL, "", "llama", time.Second)
	if _, err := gen.Generate(context.Background(), []domain.Question{{ID: 1}}); !errors.Is(err, ErrMalformedFeedback) {
		t.Fatalf("expected malformed, got %v", err)
	}
}
