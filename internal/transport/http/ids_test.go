package http

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

func TestAnswerRequestAcceptsNumbersAndStrings(t *testing.T) {
	sessionID := uuid.New()
	for _, body := range []string{
		`{"questionId":7,"optionId":70,"usedHint":true,"secondsRemaining":12}`,
		`{"questionId":"7","optionId":"70","usedHint":true,"secondsRemaining":12}`,
	} {
		var req answerRequest
		if err := decodeJSON([]byte(body), &req); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		sub, err := req.submission(sessionID)
		if err != nil {
			t.Fatalf("submission %s: %v", body, err)
		}
		want := domain.AnswerSubmission{SessionID: sessionID, QuestionID: 7, OptionID: 70, UsedHint: true, SecondsRemaining: 12}
		if sub != want {
			t.Fatalf("got %+v want %+v", sub, want)
		}
	}
}

func TestAnswerRequestOpenAnswer(t *testing.T) {
	var req answerRequest
	if err := decodeJSON([]byte(`{"questionId":3,"submission":" Hello "}`), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	sub, err := req.submission(uuid.New())
	if err != nil {
		t.Fatalf("submission: %v", err)
	}
	if sub.Answer != " Hello " || sub.OptionID != 0 {
		t.Fatalf("unexpected submission %+v", sub)
	}
}

func TestAnswerRequestRejects(t *testing.T) {
	for _, body := range []string{
		`{"optionId":1}`,
		`{"questionId":1}`,
		`{"questionId":"one","optionId":1}`,
		`{"questionId":-4,"optionId":1}`,
		`{"questionId":1.5,"optionId":1}`,
		`not json`,
	} {
		var req answerRequest
		err := decodeJSON([]byte(body), &req)
		if err == nil {
			_, err = req.submission(uuid.New())
		}
		if !errors.Is(err, errBadRequest) {
			t.Fatalf("%s: expected bad request, got %v", body, err)
		}
	}
}

func TestParsePathIDs(t *testing.T) {
	if id, err := parseLessonID("15"); err != nil || id != 15 {
		t.Fatalf("lesson id: got %d err=%v", id, err)
	}
	if _, err := parseLessonID("0"); !errors.Is(err, errBadRequest) {
		t.Fatalf("zero lesson id should be rejected, got %v", err)
	}
	if _, err := parseUUID("nope", "sessionId"); !errors.Is(err, errBadRequest) {
		t.Fatalf("invalid uuid should be rejected, got %v", err)
	}
}
