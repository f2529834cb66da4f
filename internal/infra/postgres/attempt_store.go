package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"quiz-session-service/internal/domain"
)

// AttemptStore persists sessions, answers, progress, ledgers and feedback with bun.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) OpenSession(ctx context.Context, req domain.OpenSessionRequest) (domain.Session, error) {
	row := sessionRow{
		ID:               req.SessionID,
		UserID:           string(req.UserID),
		LessonID:         int64(req.LessonID),
		TimeLimitSeconds: req.TimeLimitSeconds,
		Status:           string(domain.SessionActive),
		CreatedAt:        req.Now,
		ExpiresAt:        req.ExpiresAt,
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// The upsert takes the progress row lock, so concurrent starts for one user and lesson queue here.
		err := tx.QueryRowContext(ctx, `
			INSERT INTO lesson_progress (id, user_id, lesson_id, status, attempts, updated_at)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT (user_id, lesson_id) DO UPDATE SET updated_at = lesson_progress.updated_at
			RETURNING id`,
			uuid.New(), row.UserID, row.LessonID, string(domain.ProgressNotStarted), req.Now,
		).Scan(&row.ProgressID)
		if err != nil {
			return fmt.Errorf("upsert progress: %w", err)
		}

		var liveID uuid.UUID
		err = tx.NewSelect().Model((*sessionRow)(nil)).
			Column("id").
			Where("user_id = ?", row.UserID).
			Where("lesson_id = ?", row.LessonID).
			Where("status = ?", string(domain.SessionActive)).
			Where("expires_at > ?", req.Now).
			OrderExpr("created_at DESC").
			Limit(1).
			Scan(ctx, &liveID)
		switch {
		case err == nil:
			return &domain.ActiveSessionError{SessionID: liveID}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("find live session: %w", err)
		}

		_, err = tx.NewUpdate().Model((*progressRow)(nil)).
			Set("attempts = attempts + 1").
			Set("status = ?", string(domain.ProgressInProgress)).
			Set("updated_at = ?", req.Now).
			Where("id = ?", row.ProgressID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("count attempt: %w", err)
		}

		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) GetSession(ctx context.Context, sessionID uuid.UUID, userID domain.UserID) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Where("id = ?", sessionID).
		Where("user_id = ?", string(userID)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) FindLiveSession(ctx context.Context, userID domain.UserID, now time.Time) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Where("user_id = ?", string(userID)).
		Where("status = ?", string(domain.SessionActive)).
		Where("expires_at > ?", now).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("find live session: %w", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) RecordAnswer(ctx context.Context, event domain.AnswerEvent, now time.Time) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// FOR SHARE lets answers to different questions proceed together but waits for a settling Finish.
		var session sessionRow
		err := tx.NewSelect().Model(&session).
			Where("id = ?", event.SessionID).
			For("SHARE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if !session.toDomain().AcceptsAnswers(now) {
			return domain.ErrSessionExpired
		}

		row := answerRowFrom(event)
		res, err := tx.NewInsert().Model(&row).
			On("CONFLICT (session_id, question_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrDuplicateAnswer
		}
		return nil
	})
}

func (s *AttemptStore) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]domain.AnswerEvent, error) {
	return listAnswers(ctx, s.db, sessionID)
}

func listAnswers(ctx context.Context, db bun.IDB, sessionID uuid.UUID) ([]domain.AnswerEvent, error) {
	var rows []answerRow
	err := db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		OrderExpr("answered_at ASC, question_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	events := make([]domain.AnswerEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toDomain())
	}
	return events, nil
}

// Settle applies a finished attempt in one transaction: progress bests, ledger credit,
// session closure and the optional feedback outbox row.
func (s *AttemptStore) Settle(ctx context.Context, sessionID uuid.UUID, userID domain.UserID, fn domain.SettleFunc) (domain.SettleOutcome, error) {
	var outcome domain.SettleOutcome
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row sessionRow
		err := tx.NewSelect().Model(&row).
			Where("id = ?", sessionID).
			Where("user_id = ?", string(userID)).
			For("UPDATE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if row.Status == string(domain.SessionCompleted) {
			return domain.ErrSessionCompleted
		}

		events, err := listAnswers(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		settlement, err := fn(row.toDomain(), events)
		if err != nil {
			return err
		}
		totals := settlement.Totals

		_, err = tx.NewUpdate().Model((*progressRow)(nil)).
			Set("status = ?", string(domain.ProgressCompleted)).
			Set("best_score = GREATEST(best_score, ?)", totals.ScoreTotal).
			Set("best_xp = GREATEST(best_xp, ?)", totals.XPTotal).
			Set("best_gems = GREATEST(best_gems, ?)", totals.GemsTotal).
			Set("updated_at = ?", settlement.ClosedAt).
			Where("id = ?", row.ProgressID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_ledgers (user_id, xp, gems, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				xp = user_ledgers.xp + EXCLUDED.xp,
				gems = user_ledgers.gems + EXCLUDED.gems,
				updated_at = EXCLUDED.updated_at`,
			row.UserID, totals.XPTotal, totals.GemsTotal, settlement.ClosedAt,
		)
		if err != nil {
			return fmt.Errorf("credit ledger: %w", err)
		}

		closedAt := settlement.ClosedAt
		row.Status = string(domain.SessionCompleted)
		row.CompletedAt = &closedAt
		row.ExpiresAt = settlement.ExpiresAt
		row.ScoreTotal = totals.ScoreTotal
		row.XPTotal = totals.XPTotal
		row.GemsTotal = totals.GemsTotal
		_, err = tx.NewUpdate().Model(&row).
			Column("status", "completed_at", "expires_at", "score_total", "xp_total", "gems_total").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}

		if settlement.FeedbackJob != nil {
			job := jobRowFrom(*settlement.FeedbackJob)
			if _, err := tx.NewInsert().Model(&job).Exec(ctx); err != nil {
				return fmt.Errorf("queue feedback job: %w", err)
			}
		}

		var progress progressRow
		if err := tx.NewSelect().Model(&progress).Where("id = ?", row.ProgressID).Scan(ctx); err != nil {
			return fmt.Errorf("reload progress: %w", err)
		}

		outcome = domain.SettleOutcome{
			Session:    row.toDomain(),
			Progress:   progress.toDomain(),
			Settlement: settlement,
		}
		return nil
	})
	if err != nil {
		return domain.SettleOutcome{}, err
	}
	return outcome, nil
}

func (s *AttemptStore) GetProgress(ctx context.Context, userID domain.UserID, lessonID domain.LessonID) (domain.Progress, error) {
	var row progressRow
	err := s.db.NewSelect().Model(&row).
		Where("user_id = ?", string(userID)).
		Where("lesson_id = ?", int64(lessonID)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("get progress: %w", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) GetLedger(ctx context.Context, userID domain.UserID) (domain.Ledger, error) {
	var row ledgerRow
	err := s.db.NewSelect().Model(&row).Where("user_id = ?", string(userID)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ledger{UserID: userID}, nil
	}
	if err != nil {
		return domain.Ledger{}, fmt.Errorf("get ledger: %w", err)
	}
	return domain.Ledger{UserID: userID, XP: row.XP, Gems: row.Gems}, nil
}

func (s *AttemptStore) ListHistory(ctx context.Context, userID domain.UserID, limit int) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.lesson_id, s.score_total, s.xp_total, s.gems_total, s.created_at, p.attempts, r.id
		FROM quiz_sessions AS s
		JOIN lesson_progress AS p ON p.id = s.progress_id
		LEFT JOIN feedback_reports AS r ON r.progress_id = s.progress_id
		WHERE s.user_id = ? AND s.status = ?
		ORDER BY s.created_at DESC
		LIMIT ?`,
		string(userID), string(domain.SessionCompleted), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			entry    domain.HistoryEntry
			lessonID int64
			reportID uuid.NullUUID
		)
		if err := rows.Scan(&entry.SessionID, &lessonID, &entry.ScoreTotal, &entry.XPTotal, &entry.GemsTotal,
			&entry.StartedAt, &entry.Attempts, &reportID); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.LessonID = domain.LessonID(lessonID)
		if reportID.Valid {
			id := reportID.UUID
			entry.FeedbackID = &id
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *AttemptStore) TopProgress(ctx context.Context, lessonID domain.LessonID, limit int) ([]domain.Progress, error) {
	var rows []progressRow
	err := s.db.NewSelect().Model(&rows).
		Where("lesson_id = ?", int64(lessonID)).
		Where("status = ?", string(domain.ProgressCompleted)).
		OrderExpr("best_score DESC, best_xp DESC, updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("top progress: %w", err)
	}
	top := make([]domain.Progress, 0, len(rows))
	for _, r := range rows {
		top = append(top, r.toDomain())
	}
	return top, nil
}

func (s *AttemptStore) GetFeedbackReport(ctx context.Context, reportID uuid.UUID, userID domain.UserID) (domain.FeedbackReport, error) {
	var row reportRow
	err := s.db.NewSelect().Model(&row).
		Where("id = ?", reportID).
		Where("user_id = ?", string(userID)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FeedbackReport{}, domain.ErrReportNotFound
	}
	if err != nil {
		return domain.FeedbackReport{}, fmt.Errorf("get feedback report: %w", err)
	}

	var details []detailRow
	if err := s.db.NewSelect().Model(&details).Where("report_id = ?", row.ID).OrderExpr("id ASC").Scan(ctx); err != nil {
		return domain.FeedbackReport{}, fmt.Errorf("get feedback details: %w", err)
	}
	report := domain.FeedbackReport{
		ID:          row.ID,
		ProgressID:  row.ProgressID,
		UserID:      domain.UserID(row.UserID),
		GeneratedAt: row.GeneratedAt,
		Summary:     row.Summary,
	}
	for _, d := range details {
		report.Details = append(report.Details, domain.FeedbackDetail{
			QuestionID: domain.QuestionID(d.QuestionID),
			Prompt:     d.Prompt,
			Analysis:   d.Analysis,
			Advice:     d.Advice,
		})
	}
	return report, nil
}

func (s *AttemptStore) GetFeedbackJob(ctx context.Context, jobID uuid.UUID) (domain.FeedbackJob, error) {
	var row jobRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", jobID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FeedbackJob{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.FeedbackJob{}, fmt.Errorf("get feedback job: %w", err)
	}
	return row.toDomain(), nil
}

func (s *AttemptStore) ClaimFeedbackJob(ctx context.Context, jobID uuid.UUID, now time.Time, policy domain.RunnablePolicy) (domain.FeedbackJob, error) {
	var claimed domain.FeedbackJob
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row jobRow
		err := tx.NewSelect().Model(&row).Where("id = ?", jobID).For("UPDATE SKIP LOCKED").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			// either missing or locked by another dispatcher
			if _, gerr := s.GetFeedbackJob(ctx, jobID); errors.Is(gerr, domain.ErrJobNotFound) {
				return domain.ErrJobNotFound
			}
			return domain.ErrJobNotClaimable
		}
		if err != nil {
			return fmt.Errorf("lock feedback job: %w", err)
		}
		if !policy.ClaimableByID(row.toDomain(), now) {
			return domain.ErrJobNotClaimable
		}
		claimed, err = markRunning(ctx, tx, row, now)
		return err
	})
	return claimed, err
}

func (s *AttemptStore) ClaimNextFeedbackJob(ctx context.Context, now time.Time, policy domain.RunnablePolicy) (domain.FeedbackJob, error) {
	var claimed domain.FeedbackJob
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row jobRow
		q := tx.NewSelect().Model(&row).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				q = q.Where("status IN (?) AND next_run_at <= ?",
					bun.In([]string{string(domain.FeedbackJobPending), string(domain.FeedbackJobFailed)}), now)
				if policy.StaleRunning > 0 {
					q = q.WhereOr("status = ? AND updated_at <= ?",
						string(domain.FeedbackJobRunning), now.Add(-policy.StaleRunning))
				}
				return q
			})
		if policy.MaxAttempts > 0 {
			q = q.Where("attempts < ?", policy.MaxAttempts)
		}
		err := q.OrderExpr("next_run_at ASC").Limit(1).For("UPDATE SKIP LOCKED").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("claim feedback job: %w", err)
		}
		claimed, err = markRunning(ctx, tx, row, now)
		return err
	})
	return claimed, err
}

func markRunning(ctx context.Context, tx bun.Tx, row jobRow, now time.Time) (domain.FeedbackJob, error) {
	row.Status = string(domain.FeedbackJobRunning)
	row.Attempts++
	row.UpdatedAt = now
	_, err := tx.NewUpdate().Model(&row).
		Column("status", "attempts", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.FeedbackJob{}, fmt.Errorf("mark feedback job running: %w", err)
	}
	return row.toDomain(), nil
}

// CompleteFeedbackJob upserts the report for the job's progress, replaces its details and closes the job.
func (s *AttemptStore) CompleteFeedbackJob(ctx context.Context, job domain.FeedbackJob, content domain.FeedbackContent, now time.Time) (domain.FeedbackReport, error) {
	summary, err := json.Marshal(content.Summary)
	if err != nil {
		return domain.FeedbackReport{}, err
	}

	report := domain.FeedbackReport{
		ProgressID:  job.ProgressID,
		UserID:      job.UserID,
		GeneratedAt: now,
		Summary:     content.Summary,
		Details:     content.Details,
	}
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO feedback_reports (id, progress_id, user_id, summary, generated_at)
			VALUES (?, ?, ?, ?::jsonb, ?)
			ON CONFLICT (progress_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				summary = EXCLUDED.summary,
				generated_at = EXCLUDED.generated_at
			RETURNING id`,
			uuid.New(), job.ProgressID, string(job.UserID), string(summary), now,
		).Scan(&report.ID)
		if err != nil {
			return fmt.Errorf("upsert feedback report: %w", err)
		}

		if _, err := tx.NewDelete().Model((*detailRow)(nil)).Where("report_id = ?", report.ID).Exec(ctx); err != nil {
			return fmt.Errorf("wipe feedback details: %w", err)
		}
		if len(content.Details) > 0 {
			details := make([]detailRow, 0, len(content.Details))
			for _, d := range content.Details {
				details = append(details, detailRow{
					ReportID:   report.ID,
					QuestionID: int64(d.QuestionID),
					Prompt:     d.Prompt,
					Analysis:   d.Analysis,
					Advice:     d.Advice,
				})
			}
			if _, err := tx.NewInsert().Model(&details).Exec(ctx); err != nil {
				return fmt.Errorf("insert feedback details: %w", err)
			}
		}

		_, err = tx.NewUpdate().Model((*jobRow)(nil)).
			Set("status = ?", string(domain.FeedbackJobDone)).
			Set("report_id = ?", report.ID).
			Set("last_error = ''").
			Set("updated_at = ?", now).
			Where("id = ?", job.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("close feedback job: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.FeedbackReport{}, err
	}
	return report, nil
}

func (s *AttemptStore) FailFeedbackJob(ctx context.Context, jobID uuid.UUID, reason string, nextRunAt, now time.Time) error {
	res, err := s.db.NewUpdate().Model((*jobRow)(nil)).
		Set("status = ?", string(domain.FeedbackJobFailed)).
		Set("last_error = ?", reason).
		Set("next_run_at = ?", nextRunAt).
		Set("updated_at = ?", now).
		Where("id = ?", jobID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("fail feedback job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}
