package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"quiz-session-service/internal/domain"
)

type progressRow struct {
	bun.BaseModel `bun:"table:lesson_progress,alias:p"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	UserID    string    `bun:"user_id"`
	LessonID  int64     `bun:"lesson_id"`
	Status    string    `bun:"status"`
	BestScore int       `bun:"best_score"`
	BestXP    int       `bun:"best_xp"`
	BestGems  int       `bun:"best_gems"`
	Attempts  int       `bun:"attempts"`
	UpdatedAt time.Time `bun:"updated_at"`
}

func (r progressRow) toDomain() domain.Progress {
	return domain.Progress{
		ID:        r.ID,
		UserID:    domain.UserID(r.UserID),
		LessonID:  domain.LessonID(r.LessonID),
		Status:    domain.ProgressStatus(r.Status),
		BestScore: r.BestScore,
		BestXP:    r.BestXP,
		BestGems:  r.BestGems,
		Attempts:  r.Attempts,
		UpdatedAt: r.UpdatedAt,
	}
}

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions,alias:s"`

	ID               uuid.UUID  `bun:"id,pk,type:uuid"`
	UserID           string     `bun:"user_id"`
	LessonID         int64      `bun:"lesson_id"`
	ProgressID       uuid.UUID  `bun:"progress_id,type:uuid"`
	TimeLimitSeconds int        `bun:"time_limit_seconds"`
	Status           string     `bun:"status"`
	CreatedAt        time.Time  `bun:"created_at"`
	ExpiresAt        time.Time  `bun:"expires_at"`
	CompletedAt      *time.Time `bun:"completed_at"`
	ScoreTotal       int        `bun:"score_total"`
	XPTotal          int        `bun:"xp_total"`
	GemsTotal        int        `bun:"gems_total"`
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:               r.ID,
		UserID:           domain.UserID(r.UserID),
		LessonID:         domain.LessonID(r.LessonID),
		ProgressID:       r.ProgressID,
		TimeLimitSeconds: r.TimeLimitSeconds,
		Status:           domain.SessionStatus(r.Status),
		CreatedAt:        r.CreatedAt,
		ExpiresAt:        r.ExpiresAt,
		CompletedAt:      r.CompletedAt,
		ScoreTotal:       r.ScoreTotal,
		XPTotal:          r.XPTotal,
		GemsTotal:        r.GemsTotal,
	}
}

type answerRow struct {
	bun.BaseModel `bun:"table:answer_events,alias:a"`

	SessionID        uuid.UUID `bun:"session_id,type:uuid"`
	QuestionID       int64     `bun:"question_id"`
	OptionID         int64     `bun:"option_id,nullzero"`
	Answer           string    `bun:"answer,nullzero"`
	Correct          bool      `bun:"correct"`
	XPAwarded        int       `bun:"xp_awarded"`
	UsedHint         bool      `bun:"used_hint"`
	SecondsRemaining int       `bun:"seconds_remaining"`
	AnsweredAt       time.Time `bun:"answered_at"`
}

func answerRowFrom(ev domain.AnswerEvent) answerRow {
	return answerRow{
		SessionID:        ev.SessionID,
		QuestionID:       int64(ev.QuestionID),
		OptionID:         int64(ev.OptionID),
		Answer:           ev.Answer,
		Correct:          ev.Correct,
		XPAwarded:        ev.XPAwarded,
		UsedHint:         ev.UsedHint,
		SecondsRemaining: ev.SecondsRemaining,
		AnsweredAt:       ev.AnsweredAt,
	}
}

func (r answerRow) toDomain() domain.AnswerEvent {
	return domain.AnswerEvent{
		SessionID:        r.SessionID,
		QuestionID:       domain.QuestionID(r.QuestionID),
		OptionID:         domain.OptionID(r.OptionID),
		Answer:           r.Answer,
		Correct:          r.Correct,
		XPAwarded:        r.XPAwarded,
		UsedHint:         r.UsedHint,
		SecondsRemaining: r.SecondsRemaining,
		AnsweredAt:       r.AnsweredAt,
	}
}

type ledgerRow struct {
	bun.BaseModel `bun:"table:user_ledgers,alias:l"`

	UserID    string    `bun:"user_id,pk"`
	XP        int       `bun:"xp"`
	Gems      int       `bun:"gems"`
	UpdatedAt time.Time `bun:"updated_at"`
}

type reportRow struct {
	bun.BaseModel `bun:"table:feedback_reports,alias:r"`

	ID          uuid.UUID              `bun:"id,pk,type:uuid"`
	ProgressID  uuid.UUID              `bun:"progress_id,type:uuid"`
	UserID      string                 `bun:"user_id"`
	Summary     domain.FeedbackSummary `bun:"summary,type:jsonb"`
	GeneratedAt time.Time              `bun:"generated_at"`
}

type detailRow struct {
	bun.BaseModel `bun:"table:feedback_details,alias:d"`

	ID         int64     `bun:"id,pk,autoincrement"`
	ReportID   uuid.UUID `bun:"report_id,type:uuid"`
	QuestionID int64     `bun:"question_id"`
	Prompt     string    `bun:"prompt"`
	Analysis   string    `bun:"analysis"`
	Advice     string    `bun:"advice"`
}

type jobRow struct {
	bun.BaseModel `bun:"table:feedback_jobs,alias:j"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	SessionID   uuid.UUID  `bun:"session_id,type:uuid"`
	ProgressID  uuid.UUID  `bun:"progress_id,type:uuid"`
	UserID      string     `bun:"user_id"`
	LessonID    int64      `bun:"lesson_id"`
	QuestionIDs []int64    `bun:"question_ids,type:jsonb"`
	Status      string     `bun:"status"`
	Attempts    int        `bun:"attempts"`
	LastError   string     `bun:"last_error"`
	NextRunAt   time.Time  `bun:"next_run_at"`
	CreatedAt   time.Time  `bun:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at"`
	ReportID    *uuid.UUID `bun:"report_id,type:uuid"`
}

func jobRowFrom(job domain.FeedbackJob) jobRow {
	ids := make([]int64, 0, len(job.QuestionIDs))
	for _, id := range job.QuestionIDs {
		ids = append(ids, int64(id))
	}
	return jobRow{
		ID:          job.ID,
		SessionID:   job.SessionID,
		ProgressID:  job.ProgressID,
		UserID:      string(job.UserID),
		LessonID:    int64(job.LessonID),
		QuestionIDs: ids,
		Status:      string(job.Status),
		Attempts:    job.Attempts,
		LastError:   job.LastError,
		NextRunAt:   job.NextRunAt,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		ReportID:    job.ReportID,
	}
}

func (r jobRow) toDomain() domain.FeedbackJob {
	ids := make([]domain.QuestionID, 0, len(r.QuestionIDs))
	for _, id := range r.QuestionIDs {
		ids = append(ids, domain.QuestionID(id))
	}
	return domain.FeedbackJob{
		ID:          r.ID,
		SessionID:   r.SessionID,
		ProgressID:  r.ProgressID,
		UserID:      domain.UserID(r.UserID),
		LessonID:    domain.LessonID(r.LessonID),
		QuestionIDs: ids,
		Status:      domain.FeedbackJobStatus(r.Status),
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		NextRunAt:   r.NextRunAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ReportID:    r.ReportID,
	}
}
