package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/logger"
	"quiz-session-service/internal/scoring"
)

// LessonRepository loads lesson content (from cache/backing store).
type LessonRepository interface {
	GetLesson(ctx context.Context, lessonID domain.LessonID) (domain.Lesson, error)
}

// AttemptStore owns every mutation of sessions, answers, progress, ledger and feedback rows.
type AttemptStore interface {
	OpenSession(ctx context.Context, req domain.OpenSessionRequest) (domain.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID, userID domain.UserID) (domain.Session, error)
	FindLiveSession(ctx context.Context, userID domain.UserID, now time.Time) (domain.Session, error)
	RecordAnswer(ctx context.Context, event domain.AnswerEvent, now time.Time) error
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]domain.AnswerEvent, error)
	Settle(ctx context.Context, sessionID uuid.UUID, userID domain.UserID, fn domain.SettleFunc) (domain.SettleOutcome, error)

	GetProgress(ctx context.Context, userID domain.UserID, lessonID domain.LessonID) (domain.Progress, error)
	GetLedger(ctx context.Context, userID domain.UserID) (domain.Ledger, error)
	ListHistory(ctx context.Context, userID domain.UserID, limit int) ([]domain.HistoryEntry, error)
	TopProgress(ctx context.Context, lessonID domain.LessonID, limit int) ([]domain.Progress, error)
	GetFeedbackReport(ctx context.Context, reportID uuid.UUID, userID domain.UserID) (domain.FeedbackReport, error)
}

// SessionMarker is a fast pointer from a user to their live session. It is a hint only;
// the attempt store stays authoritative.
type SessionMarker interface {
	Mark(ctx context.Context, userID domain.UserID, sessionID uuid.UUID, expiresAt time.Time) error
	Lookup(ctx context.Context, userID domain.UserID) (uuid.UUID, bool, error)
	Clear(ctx context.Context, userID domain.UserID, sessionID uuid.UUID) error
}

// FeedbackDispatcher turns a queued feedback job into a stored report.
type FeedbackDispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error)
}

const defaultDispatchTimeout = 10 * time.Second

// QuizService contains the core quiz use cases.
type QuizService struct {
	lessons         LessonRepository
	attempts        AttemptStore
	marker          SessionMarker
	feedback        FeedbackDispatcher
	dispatchTimeout time.Duration
	now             func() time.Time
}

type Option func(*QuizService)

// WithClock is used by tests for deterministic deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

func WithSessionMarker(marker SessionMarker) Option {
	return func(s *QuizService) { s.marker = marker }
}

// WithFeedback enables feedback jobs. Without it settlement never queues any.
func WithFeedback(dispatcher FeedbackDispatcher, timeout time.Duration) Option {
	return func(s *QuizService) {
		s.feedback = dispatcher
		if timeout > 0 {
			s.dispatchTimeout = timeout
		}
	}
}

func NewQuizService(lessons LessonRepository, attempts AttemptStore, opts ...Option) *QuizService {
	s := &QuizService{
		lessons:         lessons,
		attempts:        attempts,
		dispatchTimeout: defaultDispatchTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession opens a timed attempt and returns the first question.
func (s *QuizService) StartSession(ctx context.Context, userID domain.UserID, lessonID domain.LessonID) (domain.StartResult, error) {
	lesson, err := s.lessons.GetLesson(ctx, lessonID)
	if err != nil {
		return domain.StartResult{}, err
	}
	if len(lesson.Questions) == 0 {
		return domain.StartResult{}, domain.ErrLessonNotFound
	}

	now := s.now()
	limit := lesson.TimeLimit()
	session, err := s.attempts.OpenSession(ctx, domain.OpenSessionRequest{
		SessionID:        uuid.New(),
		UserID:           userID,
		LessonID:         lesson.ID,
		TimeLimitSeconds: limit,
		Now:              now,
		ExpiresAt:        now.Add(time.Duration(limit) * time.Second),
	})
	if err != nil {
		return domain.StartResult{}, err
	}

	if s.marker != nil {
		if err := s.marker.Mark(ctx, userID, session.ID, session.ExpiresAt); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("mark live session")
		}
	}

	logger.WithContext(ctx).WithFields(logrus.Fields{
		"session_id": session.ID,
		"lesson_id":  lesson.ID,
	}).Info("quiz session started")

	return domain.StartResult{
		SessionID:      session.ID,
		LessonID:       lesson.ID,
		LessonTitle:    lesson.Title,
		ExpiresAt:      session.ExpiresAt,
		TotalQuestions: len(lesson.Questions),
		FirstQuestion:  lesson.Questions[0].Public(),
	}, nil
}

// SubmitAnswer scores and records one answer, then returns the next unanswered question.
func (s *QuizService) SubmitAnswer(ctx context.Context, userID domain.UserID, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	session, err := s.attempts.GetSession(ctx, sub.SessionID, userID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	now := s.now()
	if !session.AcceptsAnswers(now) {
		return domain.AnswerResult{}, domain.ErrSessionExpired
	}

	lesson, err := s.lessons.GetLesson(ctx, session.LessonID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	question, ok := lesson.Question(sub.QuestionID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrInvalidQuestion
	}

	remaining := sub.SecondsRemaining
	if serverRemaining := domain.SecondsUntil(session.ExpiresAt, now); remaining > serverRemaining {
		remaining = serverRemaining
	}
	if remaining < 0 {
		remaining = 0
	}

	score := scoring.ScoreAnswer(question, scoring.Submission{OptionID: sub.OptionID, Answer: sub.Answer}, remaining, session.TimeLimitSeconds)
	event := domain.AnswerEvent{
		SessionID:        session.ID,
		QuestionID:       question.ID,
		OptionID:         sub.OptionID,
		Answer:           sub.Answer,
		Correct:          score.Correct,
		XPAwarded:        score.XP,
		UsedHint:         sub.UsedHint,
		SecondsRemaining: remaining,
		AnsweredAt:       now,
	}
	if err := s.attempts.RecordAnswer(ctx, event, now); err != nil {
		return domain.AnswerResult{}, err
	}

	events, err := s.attempts.ListAnswers(ctx, session.ID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	result := domain.AnswerResult{
		QuestionID: question.ID,
		IsCorrect:  score.Correct,
		XPAwarded:  score.XP,
	}
	if next, ok := lesson.NextUnanswered(answeredSet(events)); ok {
		result.NextQuestion = next.Public()
	}
	return result, nil
}

// FinishSession settles the attempt into progress and ledger, then dispatches feedback best-effort.
func (s *QuizService) FinishSession(ctx context.Context, userID domain.UserID, sessionID uuid.UUID) (domain.SettlementResult, error) {
	session, err := s.attempts.GetSession(ctx, sessionID, userID)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	if session.Status == domain.SessionCompleted {
		return domain.SettlementResult{}, domain.ErrSessionCompleted
	}
	lesson, err := s.lessons.GetLesson(ctx, session.LessonID)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	now := s.now()
	outcome, err := s.attempts.Settle(ctx, sessionID, userID, func(locked domain.Session, events []domain.AnswerEvent) (domain.Settlement, error) {
		settlement := domain.Settlement{
			Totals:    scoring.Aggregate(lesson, events),
			ClosedAt:  now,
			ExpiresAt: now.Add(-time.Second),
		}
		// the worker only sees the job once the inline dispatch below has had its window
		if missed := scoring.MissedQuestions(lesson, events); s.feedback != nil && len(missed) > 0 {
			settlement.FeedbackJob = &domain.FeedbackJob{
				ID:          uuid.New(),
				SessionID:   locked.ID,
				ProgressID:  locked.ProgressID,
				UserID:      locked.UserID,
				LessonID:    locked.LessonID,
				QuestionIDs: missed,
				Status:      domain.FeedbackJobPending,
				NextRunAt:   now.Add(s.dispatchTimeout),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
		}
		return settlement, nil
	})
	if err != nil {
		return domain.SettlementResult{}, err
	}

	log := logger.WithContext(ctx).WithField("session_id", sessionID)
	if s.marker != nil {
		if err := s.marker.Clear(ctx, userID, sessionID); err != nil {
			log.WithError(err).Warn("clear live session marker")
		}
	}

	totals := outcome.Settlement.Totals
	result := domain.SettlementResult{
		SessionID:      sessionID,
		ScoreTotal:     totals.ScoreTotal,
		XPTotal:        totals.XPTotal,
		GemsTotal:      totals.GemsTotal,
		CorrectCount:   totals.CorrectCount,
		TotalQuestions: totals.TotalQuestions,
		HintsUsed:      totals.HintsUsed,
		BestScore:      outcome.Progress.BestScore,
	}
	if job := outcome.Settlement.FeedbackJob; job != nil {
		if reportID, err := s.dispatch(ctx, job.ID); err != nil {
			log.WithError(err).Warn("feedback generation failed, job left for the worker")
		} else {
			result.FeedbackID = &reportID
		}
	}

	log.WithFields(logrus.Fields{
		"score": totals.ScoreTotal,
		"xp":    totals.XPTotal,
		"gems":  totals.GemsTotal,
	}).Info("quiz session settled")
	return result, nil
}

func (s *QuizService) dispatch(ctx context.Context, jobID uuid.UUID) (id uuid.UUID, err error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feedback dispatch panic: %v", r)
		}
	}()
	id, err = s.feedback.Dispatch(dctx, jobID)
	if err == nil && id == uuid.Nil {
		err = errors.New("feedback dispatch returned no report")
	}
	return id, err
}

func answeredSet(events []domain.AnswerEvent) map[domain.QuestionID]bool {
	answered := make(map[domain.QuestionID]bool, len(events))
	for _, ev := range events {
		answered[ev.QuestionID] = true
	}
	return answered
}
