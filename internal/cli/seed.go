package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-session-service/internal/infra/postgres"
	redisinfra "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/logger"
)

// NewSeedCmd writes the bundled sample lessons into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load sample lessons into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath)
		},
	}
}

func runSeed(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	loader := postgres.NewLessonLoader(pool)

	var cache *redisinfra.LessonRepository
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		cache = redisinfra.NewLessonRepository(client, loader, 0)
	}

	for _, lesson := range sampleLessons() {
		if err := loader.UpsertLesson(ctx, lesson); err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, lesson.ID); err != nil {
				logger.Log().WithError(err).WithField("lesson_id", lesson.ID).Warn("invalidate cached lesson")
			}
		}
		logger.Log().WithField("lesson_id", lesson.ID).Info("lesson seeded")
	}
	return nil
}
