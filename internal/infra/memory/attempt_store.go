package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

type progressKey struct {
	userID   domain.UserID
	lessonID domain.LessonID
}

type answerKey struct {
	sessionID  uuid.UUID
	questionID domain.QuestionID
}

// AttemptStore is an in-memory implementation of app.AttemptStore and feedback.JobStore.
// A single mutex makes every operation atomic.
type AttemptStore struct {
	mu sync.Mutex

	sessions   map[uuid.UUID]domain.Session
	answers    map[uuid.UUID][]domain.AnswerEvent
	answered   map[answerKey]struct{}
	progress   map[progressKey]domain.Progress
	progressBy map[uuid.UUID]progressKey
	ledgers    map[domain.UserID]domain.Ledger
	reports    map[uuid.UUID]domain.FeedbackReport // keyed by progress id
	jobs       map[uuid.UUID]domain.FeedbackJob
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		sessions:   make(map[uuid.UUID]domain.Session),
		answers:    make(map[uuid.UUID][]domain.AnswerEvent),
		answered:   make(map[answerKey]struct{}),
		progress:   make(map[progressKey]domain.Progress),
		progressBy: make(map[uuid.UUID]progressKey),
		ledgers:    make(map[domain.UserID]domain.Ledger),
		reports:    make(map[uuid.UUID]domain.FeedbackReport),
		jobs:       make(map[uuid.UUID]domain.FeedbackJob),
	}
}

func (s *AttemptStore) OpenSession(_ context.Context, req domain.OpenSessionRequest) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.UserID == req.UserID && existing.LessonID == req.LessonID && existing.Live(req.Now) {
			return domain.Session{}, &domain.ActiveSessionError{SessionID: existing.ID}
		}
	}

	key := progressKey{userID: req.UserID, lessonID: req.LessonID}
	progress, ok := s.progress[key]
	if !ok {
		progress = domain.Progress{ID: uuid.New(), UserID: req.UserID, LessonID: req.LessonID}
	}
	progress.Attempts++
	progress.Status = domain.ProgressInProgress
	progress.UpdatedAt = req.Now
	s.progress[key] = progress
	s.progressBy[progress.ID] = key

	session := domain.Session{
		ID:               req.SessionID,
		UserID:           req.UserID,
		LessonID:         req.LessonID,
		ProgressID:       progress.ID,
		TimeLimitSeconds: req.TimeLimitSeconds,
		Status:           domain.SessionActive,
		CreatedAt:        req.Now,
		ExpiresAt:        req.ExpiresAt,
	}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *AttemptStore) GetSession(_ context.Context, sessionID uuid.UUID, userID domain.UserID) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *AttemptStore) FindLiveSession(_ context.Context, userID domain.UserID, now time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.Session
	for _, session := range s.sessions {
		if session.UserID != userID || !session.Live(now) {
			continue
		}
		if found == nil || session.CreatedAt.After(found.CreatedAt) {
			session := session
			found = &session
		}
	}
	if found == nil {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return *found, nil
}

func (s *AttemptStore) RecordAnswer(_ context.Context, event domain.AnswerEvent, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[event.SessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !session.AcceptsAnswers(now) {
		return domain.ErrSessionExpired
	}
	key := answerKey{sessionID: event.SessionID, questionID: event.QuestionID}
	if _, dup := s.answered[key]; dup {
		return domain.ErrDuplicateAnswer
	}
	s.answered[key] = struct{}{}
	s.answers[event.SessionID] = append(s.answers[event.SessionID], event)
	return nil
}

func (s *AttemptStore) ListAnswers(_ context.Context, sessionID uuid.UUID) ([]domain.AnswerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AnswerEvent(nil), s.answers[sessionID]...), nil
}

func (s *AttemptStore) Settle(_ context.Context, sessionID uuid.UUID, userID domain.UserID, fn domain.SettleFunc) (domain.SettleOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return domain.SettleOutcome{}, domain.ErrSessionNotFound
	}
	if session.Status == domain.SessionCompleted {
		return domain.SettleOutcome{}, domain.ErrSessionCompleted
	}

	settlement, err := fn(session, append([]domain.AnswerEvent(nil), s.answers[sessionID]...))
	if err != nil {
		return domain.SettleOutcome{}, err
	}
	totals := settlement.Totals

	key, ok := s.progressBy[session.ProgressID]
	if !ok {
		return domain.SettleOutcome{}, domain.ErrProgressNotFound
	}
	progress := s.progress[key]
	progress.Status = domain.ProgressCompleted
	progress.BestScore = max(progress.BestScore, totals.ScoreTotal)
	progress.BestXP = max(progress.BestXP, totals.XPTotal)
	progress.BestGems = max(progress.BestGems, totals.GemsTotal)
	progress.UpdatedAt = settlement.ClosedAt
	s.progress[key] = progress

	ledger := s.ledgers[userID]
	ledger.UserID = userID
	ledger.XP += totals.XPTotal
	ledger.Gems += totals.GemsTotal
	s.ledgers[userID] = ledger

	closedAt := settlement.ClosedAt
	session.Status = domain.SessionCompleted
	session.CompletedAt = &closedAt
	session.ExpiresAt = settlement.ExpiresAt
	session.ScoreTotal = totals.ScoreTotal
	session.XPTotal = totals.XPTotal
	session.GemsTotal = totals.GemsTotal
	s.sessions[sessionID] = session

	if job := settlement.FeedbackJob; job != nil {
		s.jobs[job.ID] = *job
	}

	return domain.SettleOutcome{Session: session, Progress: progress, Settlement: settlement}, nil
}

func (s *AttemptStore) GetProgress(_ context.Context, userID domain.UserID, lessonID domain.LessonID) (domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.progress[progressKey{userID: userID, lessonID: lessonID}]
	if !ok {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	return progress, nil
}

func (s *AttemptStore) GetLedger(_ context.Context, userID domain.UserID) (domain.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.ledgers[userID]
	ledger.UserID = userID
	return ledger, nil
}

func (s *AttemptStore) ListHistory(_ context.Context, userID domain.UserID, limit int) ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []domain.Session
	for _, session := range s.sessions {
		if session.UserID == userID && session.Status == domain.SessionCompleted {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}

	entries := make([]domain.HistoryEntry, 0, len(sessions))
	for _, session := range sessions {
		entry := domain.HistoryEntry{
			SessionID:  session.ID,
			LessonID:   session.LessonID,
			ScoreTotal: session.ScoreTotal,
			XPTotal:    session.XPTotal,
			GemsTotal:  session.GemsTotal,
			StartedAt:  session.CreatedAt,
		}
		if key, ok := s.progressBy[session.ProgressID]; ok {
			entry.Attempts = s.progress[key].Attempts
		}
		if report, ok := s.reports[session.ProgressID]; ok {
			id := report.ID
			entry.FeedbackID = &id
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *AttemptStore) TopProgress(_ context.Context, lessonID domain.LessonID, limit int) ([]domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var top []domain.Progress
	for _, p := range s.progress {
		if p.LessonID == lessonID && p.Status == domain.ProgressCompleted {
			top = append(top, p)
		}
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].BestScore != top[j].BestScore {
			return top[i].BestScore > top[j].BestScore
		}
		if top[i].BestXP != top[j].BestXP {
			return top[i].BestXP > top[j].BestXP
		}
		return top[i].UpdatedAt.Before(top[j].UpdatedAt)
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *AttemptStore) GetFeedbackReport(_ context.Context, reportID uuid.UUID, userID domain.UserID) (domain.FeedbackReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, report := range s.reports {
		if report.ID == reportID && report.UserID == userID {
			return copyReport(report), nil
		}
	}
	return domain.FeedbackReport{}, domain.ErrReportNotFound
}

func (s *AttemptStore) GetFeedbackJob(_ context.Context, jobID uuid.UUID) (domain.FeedbackJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.FeedbackJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *AttemptStore) ClaimFeedbackJob(_ context.Context, jobID uuid.UUID, now time.Time, policy domain.RunnablePolicy) (domain.FeedbackJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.FeedbackJob{}, domain.ErrJobNotFound
	}
	if !policy.ClaimableByID(job, now) {
		return domain.FeedbackJob{}, domain.ErrJobNotClaimable
	}
	return s.claimLocked(job, now), nil
}

func (s *AttemptStore) ClaimNextFeedbackJob(_ context.Context, now time.Time, policy domain.RunnablePolicy) (domain.FeedbackJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.FeedbackJob
	for _, job := range s.jobs {
		if !policy.Runnable(job, now) {
			continue
		}
		if next == nil || job.NextRunAt.Before(next.NextRunAt) {
			job := job
			next = &job
		}
	}
	if next == nil {
		return domain.FeedbackJob{}, domain.ErrJobNotFound
	}
	return s.claimLocked(*next, now), nil
}

func (s *AttemptStore) claimLocked(job domain.FeedbackJob, now time.Time) domain.FeedbackJob {
	job.Status = domain.FeedbackJobRunning
	job.Attempts++
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	return job
}

// CompleteFeedbackJob upserts the report for the job's progress, replaces its details and closes the job.
func (s *AttemptStore) CompleteFeedbackJob(_ context.Context, job domain.FeedbackJob, content domain.FeedbackContent, now time.Time) (domain.FeedbackReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return domain.FeedbackReport{}, domain.ErrJobNotFound
	}
	report, exists := s.reports[job.ProgressID]
	if !exists {
		report = domain.FeedbackReport{ID: uuid.New(), ProgressID: job.ProgressID, UserID: job.UserID}
	}
	report.GeneratedAt = now
	report.Summary = content.Summary
	report.Details = append([]domain.FeedbackDetail(nil), content.Details...)
	s.reports[job.ProgressID] = report

	reportID := report.ID
	current.Status = domain.FeedbackJobDone
	current.ReportID = &reportID
	current.LastError = ""
	current.UpdatedAt = now
	s.jobs[job.ID] = current
	return copyReport(report), nil
}

func (s *AttemptStore) FailFeedbackJob(_ context.Context, jobID uuid.UUID, reason string, nextRunAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.FeedbackJobFailed
	job.LastError = reason
	job.NextRunAt = nextRunAt
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return nil
}

func copyReport(r domain.FeedbackReport) domain.FeedbackReport {
	r.Details = append([]domain.FeedbackDetail(nil), r.Details...)
	return r
}
