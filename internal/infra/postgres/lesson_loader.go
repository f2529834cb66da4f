package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/domain"
)

// LessonLoader loads lesson JSONB from Postgres.
type LessonLoader struct {
	pool *pgxpool.Pool
}

func NewLessonLoader(pool *pgxpool.Pool) *LessonLoader {
	return &LessonLoader{pool: pool}
}

func (l *LessonLoader) LoadLesson(ctx context.Context, lessonID domain.LessonID) (domain.Lesson, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM lessons WHERE id=$1`, int64(lessonID)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lesson{}, domain.ErrLessonNotFound
	}
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("load lesson: %w", err)
	}
	var lesson domain.Lesson
	if err := json.Unmarshal(raw, &lesson); err != nil {
		return domain.Lesson{}, fmt.Errorf("unmarshal lesson: %w", err)
	}
	lesson.ID = lessonID
	for i := range lesson.Questions {
		lesson.Questions[i].LessonID = lessonID
	}
	return lesson, nil
}

// UpsertLesson writes a lesson document; the seed command uses it.
func (l *LessonLoader) UpsertLesson(ctx context.Context, lesson domain.Lesson) error {
	data, err := json.Marshal(lesson)
	if err != nil {
		return fmt.Errorf("marshal lesson: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO lessons (id, data, updated_at) VALUES ($1, $2::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		int64(lesson.ID), string(data))
	if err != nil {
		return fmt.Errorf("upsert lesson %d: %w", lesson.ID, err)
	}
	return nil
}
