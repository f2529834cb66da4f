package domain

import (
	"time"

	"github.com/google/uuid"
)

// Catalog identifiers are numeric; engine-owned records use UUIDs.
type (
	UserID     string
	LessonID   int64
	QuestionID int64
	OptionID   int64
)

const (
	DefaultTimeLimitSeconds = 1200
	DefaultQuestionPoints   = 10
	DefaultBaseXP           = 100
	DefaultBaseGems         = 50
)

type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionOpenAnswer   QuestionType = "open_answer"
)

// Option is a possible answer for a single-choice question.
type Option struct {
	ID      OptionID `json:"id"`
	Text    string   `json:"text"`
	Correct bool     `json:"correct"`
}

// Question belongs to exactly one lesson.
type Question struct {
	ID            QuestionID   `json:"id"`
	LessonID      LessonID     `json:"lessonId"`
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"prompt"`
	GuideSteps    string       `json:"guideSteps,omitempty"`
	Points        int          `json:"points"` // defaults to DefaultQuestionPoints if zero
	Options       []Option     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer,omitempty"`
}

// PointValue returns the configured points or the default.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return DefaultQuestionPoints
	}
	return q.Points
}

// CorrectOption returns the id of the option flagged correct.
func (q Question) CorrectOption() (OptionID, bool) {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID, true
		}
	}
	return 0, false
}

// PublicOption is an option without its correctness flag.
type PublicOption struct {
	ID   OptionID `json:"id"`
	Text string   `json:"text"`
}

// PublicQuestion is the client-facing view of a question.
type PublicQuestion struct {
	ID         QuestionID     `json:"id"`
	Type       QuestionType   `json:"type"`
	Prompt     string         `json:"prompt"`
	GuideSteps string         `json:"guideSteps,omitempty"`
	Options    []PublicOption `json:"options,omitempty"`
}

// Public strips all correct-answer material.
func (q Question) Public() *PublicQuestion {
	pq := &PublicQuestion{
		ID:         q.ID,
		Type:       q.Type,
		Prompt:     q.Prompt,
		GuideSteps: q.GuideSteps,
	}
	for _, opt := range q.Options {
		pq.Options = append(pq.Options, PublicOption{ID: opt.ID, Text: opt.Text})
	}
	return pq
}

// Lesson is read-only to the engine and immutable while sessions run against it.
type Lesson struct {
	ID               LessonID   `json:"id"`
	Title            string     `json:"title"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	BaseXP           int        `json:"baseXp"`
	BaseGems         int        `json:"baseGems"`
	Questions        []Question `json:"questions"`
}

func (l Lesson) TimeLimit() int {
	if l.TimeLimitSeconds <= 0 {
		return DefaultTimeLimitSeconds
	}
	return l.TimeLimitSeconds
}

func (l Lesson) Gems() int {
	if l.BaseGems <= 0 {
		return DefaultBaseGems
	}
	return l.BaseGems
}

func (l Lesson) XP() int {
	if l.BaseXP <= 0 {
		return DefaultBaseXP
	}
	return l.BaseXP
}

// Question looks up a question of this lesson by id.
func (l Lesson) Question(id QuestionID) (Question, bool) {
	for _, q := range l.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// NextUnanswered returns the first question in lesson order not present in answered.
func (l Lesson) NextUnanswered(answered map[QuestionID]bool) (Question, bool) {
	for _, q := range l.Questions {
		if !answered[q.ID] {
			return q, true
		}
	}
	return Question{}, false
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one timed attempt at a lesson.
type Session struct {
	ID               uuid.UUID     `json:"id"`
	UserID           UserID        `json:"userId"`
	LessonID         LessonID      `json:"lessonId"`
	ProgressID       uuid.UUID     `json:"progressId"`
	TimeLimitSeconds int           `json:"timeLimitSeconds"`
	Status           SessionStatus `json:"status"`
	CreatedAt        time.Time     `json:"createdAt"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	ScoreTotal       int           `json:"scoreTotal"`
	XPTotal          int           `json:"xpTotal"`
	GemsTotal        int           `json:"gemsTotal"`
}

// AnswerEvent is an immutable record of one submitted answer.
type AnswerEvent struct {
	SessionID        uuid.UUID  `json:"sessionId"`
	QuestionID       QuestionID `json:"questionId"`
	OptionID         OptionID   `json:"optionId,omitempty"`
	Answer           string     `json:"answer,omitempty"`
	Correct          bool       `json:"correct"`
	XPAwarded        int        `json:"xpAwarded"`
	UsedHint         bool       `json:"usedHint"`
	SecondsRemaining int        `json:"secondsRemaining"`
	AnsweredAt       time.Time  `json:"answeredAt"`
}

// AnswerSubmission is the validated input of SubmitAnswer.
type AnswerSubmission struct {
	SessionID        uuid.UUID
	QuestionID       QuestionID
	OptionID         OptionID
	Answer           string
	UsedHint         bool
	SecondsRemaining int
}

type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// Progress is a user's best-ever outcome for a lesson.
type Progress struct {
	ID        uuid.UUID      `json:"id"`
	UserID    UserID         `json:"userId"`
	LessonID  LessonID       `json:"lessonId"`
	Status    ProgressStatus `json:"status"`
	BestScore int            `json:"bestScore"`
	BestXP    int            `json:"bestXp"`
	BestGems  int            `json:"bestGems"`
	Attempts  int            `json:"attempts"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Ledger holds cumulative totals that only ever grow.
type Ledger struct {
	UserID UserID `json:"userId"`
	XP     int    `json:"xp"`
	Gems   int    `json:"gems"`
}

// Totals is the aggregate of one attempt.
type Totals struct {
	ScoreTotal     int `json:"scoreTotal"`
	XPTotal        int `json:"xpTotal"`
	GemsTotal      int `json:"gemsTotal"`
	CorrectCount   int `json:"correctCount"`
	AnsweredCount  int `json:"answeredCount"`
	TotalQuestions int `json:"totalQuestions"`
	HintsUsed      int `json:"hintsUsed"`
}

// FeedbackSummary is the structured part of a feedback report.
type FeedbackSummary struct {
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Tips         []string `json:"tips"`
}

// FeedbackDetail explains one missed question.
type FeedbackDetail struct {
	QuestionID QuestionID `json:"questionId"`
	Prompt     string     `json:"prompt,omitempty"`
	Analysis   string     `json:"analysis"`
	Advice     string     `json:"advice"`
}

// FeedbackContent is what a generator produces.
type FeedbackContent struct {
	Summary FeedbackSummary  `json:"summary"`
	Details []FeedbackDetail `json:"details"`
}

// FeedbackReport is one-to-one with a Progress record.
type FeedbackReport struct {
	ID          uuid.UUID        `json:"id"`
	ProgressID  uuid.UUID        `json:"progressId"`
	UserID      UserID           `json:"userId"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Summary     FeedbackSummary  `json:"summary"`
	Details     []FeedbackDetail `json:"details"`
}

type FeedbackJobStatus string

const (
	FeedbackJobPending FeedbackJobStatus = "pending"
	FeedbackJobRunning FeedbackJobStatus = "running"
	FeedbackJobDone    FeedbackJobStatus = "done"
	FeedbackJobFailed  FeedbackJobStatus = "failed"
)

// FeedbackJob is an outbox row written by settlement and consumed by the feedback dispatcher.
type FeedbackJob struct {
	ID          uuid.UUID         `json:"id"`
	SessionID   uuid.UUID         `json:"sessionId"`
	ProgressID  uuid.UUID         `json:"progressId"`
	UserID      UserID            `json:"userId"`
	LessonID    LessonID          `json:"lessonId"`
	QuestionIDs []QuestionID      `json:"questionIds"`
	Status      FeedbackJobStatus `json:"status"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"lastError,omitempty"`
	NextRunAt   time.Time         `json:"nextRunAt"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	ReportID    *uuid.UUID        `json:"reportId,omitempty"`
}

// OpenSessionRequest carries everything the store needs to open a session atomically.
type OpenSessionRequest struct {
	SessionID        uuid.UUID
	UserID           UserID
	LessonID         LessonID
	TimeLimitSeconds int
	Now              time.Time
	ExpiresAt        time.Time
}

// Settlement is what gets applied when a session is finished.
type Settlement struct {
	Totals      Totals
	ClosedAt    time.Time
	ExpiresAt   time.Time
	FeedbackJob *FeedbackJob
}

// SettleOutcome is returned by a committed settlement.
type SettleOutcome struct {
	Session    Session
	Progress   Progress
	Settlement Settlement
}

// StartResult is returned by StartSession.
type StartResult struct {
	SessionID      uuid.UUID       `json:"sessionId"`
	LessonID       LessonID        `json:"lessonId"`
	LessonTitle    string          `json:"lessonTitle"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	TotalQuestions int             `json:"totalQuestions"`
	FirstQuestion  *PublicQuestion `json:"firstQuestion"`
}

// AnswerResult is returned by SubmitAnswer.
type AnswerResult struct {
	QuestionID   QuestionID      `json:"questionId"`
	IsCorrect    bool            `json:"isCorrect"`
	XPAwarded    int             `json:"xpAwarded"`
	NextQuestion *PublicQuestion `json:"nextQuestion"`
}

// SettlementResult is returned by FinishSession.
type SettlementResult struct {
	SessionID      uuid.UUID  `json:"sessionId"`
	ScoreTotal     int        `json:"scoreTotal"`
	XPTotal        int        `json:"xpTotal"`
	GemsTotal      int        `json:"gemsTotal"`
	CorrectCount   int        `json:"correctCount"`
	TotalQuestions int        `json:"totalQuestions"`
	HintsUsed      int        `json:"hintsUsed"`
	FeedbackID     *uuid.UUID `json:"feedbackId"`
	BestScore      int        `json:"bestScore"`
}

// ActiveSession is the resumable view of a live session.
type ActiveSession struct {
	SessionID        uuid.UUID       `json:"sessionId"`
	LessonID         LessonID        `json:"lessonId"`
	LessonTitle      string          `json:"lessonTitle"`
	SecondsRemaining int             `json:"secondsRemaining"`
	TotalQuestions   int             `json:"totalQuestions"`
	Answered         int             `json:"answered"`
	CurrentQuestion  *PublicQuestion `json:"currentQuestion"`
}

// HistoryEntry describes one completed session.
type HistoryEntry struct {
	SessionID   uuid.UUID  `json:"sessionId"`
	LessonID    LessonID   `json:"lessonId"`
	LessonTitle string     `json:"lessonTitle,omitempty"`
	ScoreTotal  int        `json:"scoreTotal"`
	XPTotal     int        `json:"xpTotal"`
	GemsTotal   int        `json:"gemsTotal"`
	Attempts    int        `json:"attempts"`
	FeedbackID  *uuid.UUID `json:"feedbackId"`
	StartedAt   time.Time  `json:"startedAt"`
}

// PodiumEntry is one row of a lesson's top results.
type PodiumEntry struct {
	Position  int    `json:"position"`
	UserID    UserID `json:"userId"`
	BestScore int    `json:"bestScore"`
	BestXP    int    `json:"bestXp"`
	BestGems  int    `json:"bestGems"`
}

// SettleFunc computes a settlement from the answer events read inside the settling transaction.
type SettleFunc func(session Session, events []AnswerEvent) (Settlement, error)

// RunnablePolicy decides which feedback jobs a dispatcher may claim.
type RunnablePolicy struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
}

// Runnable reports whether job may be claimed at now.
func (p RunnablePolicy) Runnable(job FeedbackJob, now time.Time) bool {
	if p.MaxAttempts > 0 && job.Attempts >= p.MaxAttempts {
		return false
	}
	switch job.Status {
	case FeedbackJobPending, FeedbackJobFailed:
		return !job.NextRunAt.After(now)
	case FeedbackJobRunning:
		return p.StaleRunning > 0 && !job.UpdatedAt.After(now.Add(-p.StaleRunning))
	default:
		return false
	}
}

// ClaimableByID is Runnable for a dispatcher that names the job. A pending job that was never
// tried may be claimed before its scheduled time.
func (p RunnablePolicy) ClaimableByID(job FeedbackJob, now time.Time) bool {
	if job.Status == FeedbackJobPending && job.Attempts == 0 {
		return true
	}
	return p.Runnable(job, now)
}

// Backoff returns the delay before the next try after attempts failures.
func (p RunnablePolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return p.RetryDelay * time.Duration(attempts)
}
