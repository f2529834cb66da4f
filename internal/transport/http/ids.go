package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

// errBadRequest marks input rejected at the edge before the core is called.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// numericID accepts a JSON number or a numeric string.
type numericID struct {
	value int64
	set   bool
}

func (n *numericID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := strings.Trim(string(b), `"`)
	v, err := parsePositive(raw)
	if err != nil {
		return err
	}
	n.value, n.set = v, true
	return nil
}

func parsePositive(raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, badRequest("invalid id %q", raw)
	}
	return v, nil
}

func parseLessonID(raw string) (domain.LessonID, error) {
	v, err := parsePositive(raw)
	return domain.LessonID(v), err
}

func parseUUID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

type startRequest struct {
	LessonID numericID `json:"lessonId"`
}

func (r startRequest) lessonID() (domain.LessonID, error) {
	if !r.LessonID.set {
		return 0, badRequest("lessonId is required")
	}
	return domain.LessonID(r.LessonID.value), nil
}

type answerRequest struct {
	SessionID        string    `json:"sessionId,omitempty"`
	QuestionID       numericID `json:"questionId"`
	OptionID         numericID `json:"optionId"`
	Answer           *string   `json:"answer"`
	Submission       *string   `json:"submission"`
	UsedHint         bool      `json:"usedHint"`
	SecondsRemaining *int      `json:"secondsRemaining"`
}

// submission validates the body into a typed domain value.
func (r answerRequest) submission(sessionID uuid.UUID) (domain.AnswerSubmission, error) {
	if !r.QuestionID.set {
		return domain.AnswerSubmission{}, badRequest("questionId is required")
	}
	sub := domain.AnswerSubmission{
		SessionID:  sessionID,
		QuestionID: domain.QuestionID(r.QuestionID.value),
		UsedHint:   r.UsedHint,
	}
	if r.OptionID.set {
		sub.OptionID = domain.OptionID(r.OptionID.value)
	}
	switch {
	case r.Answer != nil:
		sub.Answer = *r.Answer
	case r.Submission != nil:
		sub.Answer = *r.Submission
	}
	if !r.OptionID.set && r.Answer == nil && r.Submission == nil {
		return domain.AnswerSubmission{}, badRequest("optionId or answer is required")
	}
	if r.SecondsRemaining != nil {
		sub.SecondsRemaining = *r.SecondsRemaining
	}
	return sub, nil
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func decodeJSON(data []byte, dst any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return badRequest("empty body")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		if errors.Is(err, errBadRequest) {
			return err
		}
		return badRequest("malformed json: %v", err)
	}
	return nil
}
