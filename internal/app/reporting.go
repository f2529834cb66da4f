package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/logger"
)

const (
	historyLimit = 50
	podiumSize   = 3
)

// ActiveSession returns the caller's live session, or nil when there is none.
func (s *QuizService) ActiveSession(ctx context.Context, userID domain.UserID) (*domain.ActiveSession, error) {
	now := s.now()
	session, err := s.liveSession(ctx, userID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lesson, err := s.lessons.GetLesson(ctx, session.LessonID)
	if err != nil {
		return nil, err
	}
	events, err := s.attempts.ListAnswers(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	active := &domain.ActiveSession{
		SessionID:        session.ID,
		LessonID:         lesson.ID,
		LessonTitle:      lesson.Title,
		SecondsRemaining: domain.SecondsUntil(session.ExpiresAt, now),
		TotalQuestions:   len(lesson.Questions),
		Answered:         len(events),
	}
	if next, ok := lesson.NextUnanswered(answeredSet(events)); ok {
		active.CurrentQuestion = next.Public()
	}
	return active, nil
}

// liveSession tries the marker first and falls back to the store.
func (s *QuizService) liveSession(ctx context.Context, userID domain.UserID) (domain.Session, error) {
	now := s.now()
	if s.marker != nil {
		id, ok, err := s.marker.Lookup(ctx, userID)
		if err != nil {
			logger.WithContext(ctx).WithError(err).Warn("lookup live session marker")
		}
		if ok {
			session, err := s.attempts.GetSession(ctx, id, userID)
			if err == nil && session.Live(now) {
				return session, nil
			}
		}
	}
	return s.attempts.FindLiveSession(ctx, userID, now)
}

// History lists the caller's completed sessions, newest first.
func (s *QuizService) History(ctx context.Context, userID domain.UserID) ([]domain.HistoryEntry, error) {
	entries, err := s.attempts.ListHistory(ctx, userID, historyLimit)
	if err != nil {
		return nil, err
	}
	titles := make(map[domain.LessonID]string)
	for i := range entries {
		id := entries[i].LessonID
		title, ok := titles[id]
		if !ok {
			if lesson, err := s.lessons.GetLesson(ctx, id); err == nil {
				title = lesson.Title
			}
			titles[id] = title
		}
		entries[i].LessonTitle = title
	}
	return entries, nil
}

// Podium returns the top completed results for a lesson.
func (s *QuizService) Podium(ctx context.Context, lessonID domain.LessonID) ([]domain.PodiumEntry, error) {
	top, err := s.attempts.TopProgress(ctx, lessonID, podiumSize)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, domain.ErrProgressNotFound
	}
	podium := make([]domain.PodiumEntry, 0, len(top))
	for i, p := range top {
		podium = append(podium, domain.PodiumEntry{
			Position:  i + 1,
			UserID:    p.UserID,
			BestScore: p.BestScore,
			BestXP:    p.BestXP,
			BestGems:  p.BestGems,
		})
	}
	return podium, nil
}

func (s *QuizService) Progress(ctx context.Context, userID domain.UserID, lessonID domain.LessonID) (domain.Progress, error) {
	return s.attempts.GetProgress(ctx, userID, lessonID)
}

func (s *QuizService) Ledger(ctx context.Context, userID domain.UserID) (domain.Ledger, error) {
	return s.attempts.GetLedger(ctx, userID)
}

// Feedback returns a report only to the user it was generated for.
func (s *QuizService) Feedback(ctx context.Context, userID domain.UserID, reportID uuid.UUID) (domain.FeedbackReport, error) {
	return s.attempts.GetFeedbackReport(ctx, reportID, userID)
}
