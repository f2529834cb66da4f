package feedback

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/logger"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiGenerator asks a Gemini model for feedback.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a client; an empty apiKey lets the SDK read GEMINI_API_KEY.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	var cfg *genai.ClientConfig
	if apiKey != "" {
		cfg = &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, missed []domain.Question) (domain.FeedbackContent, error) {
	log := logger.WithContext(ctx)

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(missed)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return domain.FeedbackContent{}, fmt.Errorf("gemini generate: %w", err)
	}

	raw := result.Text()
	log.Debugf("gemini feedback reply: %s", raw)
	if raw == "" {
		return domain.FeedbackContent{}, errors.New("gemini returned an empty reply")
	}
	return ParseContent(raw)
}
