package scoring

import (
	"math"
	"strings"

	"quiz-session-service/internal/domain"
)

const (
	timeBonusShare      = 0.2
	excellenceThreshold = 0.8
	excellenceShare     = 0.1
	HintPenaltyGems     = 2
)

// Submission is the answer material sent for one question.
type Submission struct {
	OptionID domain.OptionID
	Answer   string
}

// AnswerScore is the outcome of scoring one answer.
type AnswerScore struct {
	Correct bool
	XP      int
}

// Normalize trims, lower-cases and turns the first decimal comma into a point.
func Normalize(text string) string {
	return strings.Replace(strings.ToLower(strings.TrimSpace(text)), ",", ".", 1)
}

// IsCorrect checks a submission against the question's correct-answer material.
func IsCorrect(q domain.Question, sub Submission) bool {
	switch q.Type {
	case domain.QuestionOpenAnswer:
		expected := Normalize(q.CorrectAnswer)
		return expected != "" && Normalize(sub.Answer) == expected
	default:
		correct, ok := q.CorrectOption()
		return ok && sub.OptionID == correct
	}
}

// ScoreAnswer returns correctness and XP for one answer.
// secondsRemaining is clamped to [0, timeLimit].
func ScoreAnswer(q domain.Question, sub Submission, secondsRemaining, timeLimit int) AnswerScore {
	if !IsCorrect(q, sub) {
		return AnswerScore{}
	}
	return AnswerScore{Correct: true, XP: AnswerXP(q.PointValue(), secondsRemaining, timeLimit)}
}

// AnswerXP is points plus a time bonus of up to 20% of points, floored before rounding the sum.
func AnswerXP(points, secondsRemaining, timeLimit int) int {
	if timeLimit <= 0 {
		return points
	}
	if secondsRemaining < 0 {
		secondsRemaining = 0
	}
	if secondsRemaining > timeLimit {
		secondsRemaining = timeLimit
	}
	bonus := math.Floor(float64(secondsRemaining) / float64(timeLimit) * float64(points) * timeBonusShare)
	return int(math.Round(float64(points) + bonus))
}

// Aggregate sums the recorded events of one attempt against its lesson.
func Aggregate(lesson domain.Lesson, events []domain.AnswerEvent) domain.Totals {
	totals := domain.Totals{
		TotalQuestions: len(lesson.Questions),
		AnsweredCount:  len(events),
	}
	for _, ev := range events {
		totals.XPTotal += ev.XPAwarded
		if ev.UsedHint {
			totals.HintsUsed++
		}
		if !ev.Correct {
			continue
		}
		totals.CorrectCount++
		if q, ok := lesson.Question(ev.QuestionID); ok {
			totals.ScoreTotal += q.PointValue()
		}
	}
	totals.GemsTotal = Gems(lesson.Gems(), totals.CorrectCount, totals.TotalQuestions, totals.HintsUsed)
	return totals
}

// Gems applies the correctness ratio, excellence bonus and hint penalty, never going below zero.
func Gems(baseGems, correct, total, hints int) int {
	ratio := 0.0
	if total > 0 {
		ratio = float64(correct) / float64(total)
	}
	gems := int(math.Round(float64(baseGems) * ratio))
	if ratio >= excellenceThreshold {
		gems += int(math.Round(float64(baseGems) * excellenceShare))
	}
	gems -= HintPenaltyGems * hints
	if gems < 0 {
		return 0
	}
	return gems
}

// MissedQuestions returns the ids of incorrectly answered questions in lesson order.
func MissedQuestions(lesson domain.Lesson, events []domain.AnswerEvent) []domain.QuestionID {
	wrong := make(map[domain.QuestionID]bool, len(events))
	for _, ev := range events {
		if !ev.Correct {
			wrong[ev.QuestionID] = true
		}
	}
	var missed []domain.QuestionID
	for _, q := range lesson.Questions {
		if wrong[q.ID] {
			missed = append(missed, q.ID)
		}
	}
	return missed
}
