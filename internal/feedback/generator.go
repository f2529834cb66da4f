package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"quiz-session-service/internal/domain"
)

// Generator produces remediation content for missed questions.
type Generator interface {
	Generate(ctx context.Context, missed []domain.Question) (domain.FeedbackContent, error)
}

var ErrMalformedFeedback = errors.New("malformed feedback")

const promptTemplate = `You are a friendly and experienced math tutor.
A student has just missed the following exercises (id and statement):
%s
Write constructive feedback. Reply ONLY with one valid JSON object, no introduction and no markdown.
The object must have exactly this shape:
{
  "strengths": ["praise for the effort or something the student did master"],
  "improvements": ["the main error pattern"],
  "tips": ["2 or 3 general practical tips"],
  "missed": [
    {"questionId": <exercise id>, "analysis": "why this exercise was probably missed", "advice": "a concrete tip for this kind of exercise"}
  ]
}
Include exactly one entry in "missed" per exercise listed above.`

// BuildPrompt renders the instruction sent to the language model.
func BuildPrompt(missed []domain.Question) string {
	var b strings.Builder
	for i, q := range missed {
		statement, _ := json.Marshal(q.Prompt)
		fmt.Fprintf(&b, "Exercise %d: {\"id\": %d, \"statement\": %s}\n", i+1, q.ID, statement)
	}
	return fmt.Sprintf(promptTemplate, b.String())
}

type wireDetail struct {
	QuestionID json.Number `json:"questionId"`
	Analysis   string      `json:"analysis"`
	Advice     string      `json:"advice"`
}

type wireFeedback struct {
	Strengths    []string     `json:"strengths"`
	Improvements []string     `json:"improvements"`
	Tips         []string     `json:"tips"`
	Missed       []wireDetail `json:"missed"`
}

// ParseContent decodes a model reply, tolerating markdown code fences around the JSON.
func ParseContent(raw string) (domain.FeedbackContent, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return domain.FeedbackContent{}, fmt.Errorf("%w: empty reply", ErrMalformedFeedback)
	}

	dec := json.NewDecoder(strings.NewReader(clean))
	dec.UseNumber()
	var wire wireFeedback
	if err := dec.Decode(&wire); err != nil {
		return domain.FeedbackContent{}, fmt.Errorf("%w: %v", ErrMalformedFeedback, err)
	}

	content := domain.FeedbackContent{
		Summary: domain.FeedbackSummary{
			Strengths:    wire.Strengths,
			Improvements: wire.Improvements,
			Tips:         wire.Tips,
		},
	}
	for _, d := range wire.Missed {
		id, err := d.QuestionID.Int64()
		if err != nil {
			return domain.FeedbackContent{}, fmt.Errorf("%w: question id %q", ErrMalformedFeedback, d.QuestionID)
		}
		content.Details = append(content.Details, domain.FeedbackDetail{
			QuestionID: domain.QuestionID(id),
			Analysis:   d.Analysis,
			Advice:     d.Advice,
		})
	}
	return content, nil
}

// Validate accepts content only when it has every summary section and exactly one detail per missed question.
func Validate(missed []domain.Question, content domain.FeedbackContent) error {
	if !hasText(content.Summary.Strengths) || !hasText(content.Summary.Improvements) || !hasText(content.Summary.Tips) {
		return fmt.Errorf("%w: incomplete summary", ErrMalformedFeedback)
	}
	want := make(map[domain.QuestionID]bool, len(missed))
	for _, q := range missed {
		want[q.ID] = true
	}
	if len(content.Details) != len(want) {
		return fmt.Errorf("%w: %d details for %d missed questions", ErrMalformedFeedback, len(content.Details), len(want))
	}
	seen := make(map[domain.QuestionID]bool, len(content.Details))
	for _, d := range content.Details {
		if !want[d.QuestionID] {
			return fmt.Errorf("%w: unexpected question %d", ErrMalformedFeedback, d.QuestionID)
		}
		if seen[d.QuestionID] {
			return fmt.Errorf("%w: duplicate question %d", ErrMalformedFeedback, d.QuestionID)
		}
		if strings.TrimSpace(d.Analysis) == "" && strings.TrimSpace(d.Advice) == "" {
			return fmt.Errorf("%w: empty detail for question %d", ErrMalformedFeedback, d.QuestionID)
		}
		seen[d.QuestionID] = true
	}
	return nil
}

func hasText(items []string) bool {
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}
