package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/logger"
)

// JobStore is the outbox side of the attempt store.
type JobStore interface {
	ClaimFeedbackJob(ctx context.Context, jobID uuid.UUID, now time.Time, policy domain.RunnablePolicy) (domain.FeedbackJob, error)
	ClaimNextFeedbackJob(ctx context.Context, now time.Time, policy domain.RunnablePolicy) (domain.FeedbackJob, error)
	CompleteFeedbackJob(ctx context.Context, job domain.FeedbackJob, content domain.FeedbackContent, now time.Time) (domain.FeedbackReport, error)
	FailFeedbackJob(ctx context.Context, jobID uuid.UUID, reason string, nextRunAt, now time.Time) error
}

type LessonSource interface {
	GetLesson(ctx context.Context, lessonID domain.LessonID) (domain.Lesson, error)
}

// DefaultPolicy retries a job a few times with linear back-off.
var DefaultPolicy = domain.RunnablePolicy{
	MaxAttempts:  5,
	RetryDelay:   30 * time.Second,
	StaleRunning: 5 * time.Minute,
}

// Dispatcher claims feedback jobs, generates content and stores the resulting report.
type Dispatcher struct {
	store     JobStore
	lessons   LessonSource
	generator Generator
	policy    domain.RunnablePolicy
	now       func() time.Time
}

func NewDispatcher(store JobStore, lessons LessonSource, generator Generator, policy domain.RunnablePolicy) *Dispatcher {
	return &Dispatcher{
		store:     store,
		lessons:   lessons,
		generator: generator,
		policy:    policy,
		now:       time.Now,
	}
}

// Dispatch runs one specific job and returns the id of the stored report.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error) {
	job, err := d.store.ClaimFeedbackJob(ctx, jobID, d.now(), d.policy)
	if err != nil {
		return uuid.Nil, err
	}
	return d.process(ctx, job)
}

// RunOnce claims and runs the next runnable job. It reports false when nothing was runnable.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	job, err := d.store.ClaimNextFeedbackJob(ctx, d.now(), d.policy)
	if errors.Is(err, domain.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = d.process(ctx, job)
	return true, err
}

func (d *Dispatcher) process(ctx context.Context, job domain.FeedbackJob) (uuid.UUID, error) {
	log := logger.WithContext(ctx).WithFields(logrus.Fields{
		"job_id":     job.ID,
		"session_id": job.SessionID,
		"attempt":    job.Attempts,
	})

	report, err := d.generate(ctx, job)
	if err != nil {
		now := d.now()
		next := now.Add(d.policy.Backoff(job.Attempts))
		// ctx may already be past its deadline here
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := d.store.FailFeedbackJob(failCtx, job.ID, err.Error(), next, now); ferr != nil {
			log.WithError(ferr).Error("record feedback job failure")
		}
		log.WithError(err).Warn("feedback job failed")
		return uuid.Nil, err
	}

	log.WithField("report_id", report.ID).Info("feedback report stored")
	return report.ID, nil
}

func (d *Dispatcher) generate(ctx context.Context, job domain.FeedbackJob) (domain.FeedbackReport, error) {
	lesson, err := d.lessons.GetLesson(ctx, job.LessonID)
	if err != nil {
		return domain.FeedbackReport{}, fmt.Errorf("load lesson %d: %w", job.LessonID, err)
	}
	missed := make([]domain.Question, 0, len(job.QuestionIDs))
	for _, id := range job.QuestionIDs {
		q, ok := lesson.Question(id)
		if !ok {
			return domain.FeedbackReport{}, fmt.Errorf("question %d not in lesson %d", id, lesson.ID)
		}
		missed = append(missed, q)
	}

	content, err := d.generator.Generate(ctx, missed)
	if err != nil {
		return domain.FeedbackReport{}, err
	}
	if err := Validate(missed, content); err != nil {
		return domain.FeedbackReport{}, err
	}
	for i := range content.Details {
		if q, ok := lesson.Question(content.Details[i].QuestionID); ok {
			content.Details[i].Prompt = q.Prompt
		}
	}
	return d.store.CompleteFeedbackJob(ctx, job, content, d.now())
}
