package scoring

import (
	"testing"

	"quiz-session-service/internal/domain"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  5,5 ", "5.5"},
		{"5.5", "5.5"},
		{"Paris", "paris"},
		{"1,2,3", "1.2,3"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOpenAnswerDecimalComma(t *testing.T) {
	q := domain.Question{ID: 1, Type: domain.QuestionOpenAnswer, CorrectAnswer: "5.5", Points: 10}
	dot := ScoreAnswer(q, Submission{Answer: "5.5"}, 600, 1200)
	comma := ScoreAnswer(q, Submission{Answer: "5,5"}, 600, 1200)
	if dot != comma {
		t.Fatalf("expected identical scores, got %+v and %+v", dot, comma)
	}
	if !dot.Correct || dot.XP != 11 {
		t.Fatalf("expected correct with 11 xp, got %+v", dot)
	}
}

func TestSingleChoice(t *testing.T) {
	q := domain.Question{
		ID:   1,
		Type: domain.QuestionSingleChoice,
		Options: []domain.Option{
			{ID: 10, Text: "3"},
			{ID: 11, Text: "4", Correct: true},
		},
	}
	if IsCorrect(q, Submission{OptionID: 10}) {
		t.Fatalf("option 10 should be wrong")
	}
	if !IsCorrect(q, Submission{OptionID: 11}) {
		t.Fatalf("option 11 should be right")
	}
	if s := ScoreAnswer(q, Submission{OptionID: 10}, 1200, 1200); s.XP != 0 || s.Correct {
		t.Fatalf("wrong answer must award nothing, got %+v", s)
	}
}

func TestAnswerXP(t *testing.T) {
	cases := []struct {
		name      string
		points    int
		remaining int
		limit     int
		want      int
	}{
		{"half time", 10, 600, 1200, 11},
		{"full time", 10, 1200, 1200, 12},
		{"no time", 10, 0, 1200, 10},
		{"negative clamps to zero", 10, -50, 1200, 10},
		{"above limit clamps", 10, 5000, 1200, 12},
		{"bonus floors", 10, 1100, 1200, 11},
		{"zero limit", 7, 30, 0, 7},
	}
	for _, tc := range cases {
		if got := AnswerXP(tc.points, tc.remaining, tc.limit); got != tc.want {
			t.Fatalf("%s: AnswerXP = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestAggregateAllCorrect(t *testing.T) {
	lesson := fiveQuestionLesson()
	var events []domain.AnswerEvent
	for _, q := range lesson.Questions {
		events = append(events, domain.AnswerEvent{QuestionID: q.ID, Correct: true, XPAwarded: AnswerXP(10, 600, 1200)})
	}

	totals := Aggregate(lesson, events)
	if totals.XPTotal != 55 || totals.ScoreTotal != 50 || totals.GemsTotal != 55 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if totals.CorrectCount != 5 || totals.TotalQuestions != 5 || totals.HintsUsed != 0 {
		t.Fatalf("unexpected counts %+v", totals)
	}
}

func TestAggregatePartialWithHint(t *testing.T) {
	lesson := fiveQuestionLesson()
	events := []domain.AnswerEvent{
		{QuestionID: 1, Correct: true, XPAwarded: 11},
		{QuestionID: 2, Correct: true, XPAwarded: 11, UsedHint: true},
		{QuestionID: 3},
		{QuestionID: 4},
		{QuestionID: 5},
	}
	totals := Aggregate(lesson, events)
	if totals.GemsTotal != 18 {
		t.Fatalf("expected 18 gems, got %d", totals.GemsTotal)
	}
	if totals.ScoreTotal != 20 || totals.XPTotal != 22 || totals.HintsUsed != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	missed := MissedQuestions(lesson, events)
	if len(missed) != 3 || missed[0] != 3 || missed[2] != 5 {
		t.Fatalf("unexpected missed %v", missed)
	}
}

func TestGemsNeverNegative(t *testing.T) {
	for total := 1; total <= 6; total++ {
		for correct := 0; correct <= total; correct++ {
			for hints := 0; hints <= 40; hints++ {
				if g := Gems(50, correct, total, hints); g < 0 {
					t.Fatalf("Gems(50, %d, %d, %d) = %d", correct, total, hints, g)
				}
			}
		}
	}
	if g := Gems(50, 0, 0, 3); g != 0 {
		t.Fatalf("expected 0 gems for empty lesson, got %d", g)
	}
}

func TestGemsExcellenceBoundary(t *testing.T) {
	if g := Gems(50, 4, 5, 0); g != 45 {
		t.Fatalf("ratio 0.8 should earn the bonus, got %d", g)
	}
	if g := Gems(50, 3, 5, 0); g != 30 {
		t.Fatalf("ratio 0.6 should not earn the bonus, got %d", g)
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	lesson := fiveQuestionLesson()
	events := []domain.AnswerEvent{
		{QuestionID: 2, Correct: true, XPAwarded: 12},
		{QuestionID: 4, UsedHint: true},
	}
	first := Aggregate(lesson, events)
	for i := 0; i < 10; i++ {
		if got := Aggregate(lesson, events); got != first {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func fiveQuestionLesson() domain.Lesson {
	lesson := domain.Lesson{ID: 1, Title: "Fractions", TimeLimitSeconds: 1200, BaseGems: 50}
	for i := 1; i <= 5; i++ {
		lesson.Questions = append(lesson.Questions, domain.Question{
			ID:            domain.QuestionID(i),
			LessonID:      1,
			Type:          domain.QuestionOpenAnswer,
			CorrectAnswer: "1",
			Points:        10,
		})
	}
	return lesson
}
