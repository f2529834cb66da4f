package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quiz-session-service/internal/domain"
)

// ChatGenerator talks to an OpenAI-compatible /v1/chat/completions endpoint (LM Studio, Ollama, OpenAI).
type ChatGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewChatGenerator(baseURL, apiKey, model string, timeout time.Duration) *ChatGenerator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatGenerator{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: 0.6,
		client:      &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *ChatGenerator) Generate(ctx context.Context, missed []domain.Question) (domain.FeedbackContent, error) {
	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: BuildPrompt(missed)}},
		Temperature: g.temperature,
	})
	if err != nil {
		return domain.FeedbackContent{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.FeedbackContent{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.FeedbackContent{}, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.FeedbackContent{}, fmt.Errorf("read chat completion: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return domain.FeedbackContent{}, fmt.Errorf("chat completion: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.FeedbackContent{}, fmt.Errorf("%w: %v", ErrMalformedFeedback, err)
	}
	if len(parsed.Choices) == 0 {
		return domain.FeedbackContent{}, fmt.Errorf("%w: no choices", ErrMalformedFeedback)
	}
	return ParseContent(parsed.Choices[0].Message.Content)
}
