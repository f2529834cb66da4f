package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/auth"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/feedback"
	"quiz-session-service/internal/infra/memory"
	"quiz-session-service/internal/infra/postgres"
	redisinfra "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/logger"
)

// attemptBackend is what both the memory and Postgres stores provide.
type attemptBackend interface {
	app.AttemptStore
	feedback.JobStore
}

type components struct {
	cfg        config.Config
	service    *app.QuizService
	authn      *auth.Authenticator
	dispatcher *feedback.Dispatcher
	closers    []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// buildComponents wires storage, caches and feedback from cfg. Without Postgres and Redis
// everything runs in memory with the sample lessons.
func buildComponents(ctx context.Context, cfg config.Config) (*components, error) {
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("%w: set auth.secret or JWT_SECRET", auth.ErrMissingSecret)
	}
	log := logger.Log()
	c := &components{cfg: cfg}

	var (
		loader   memory.LessonLoader = memory.NewStaticLessonLoader(sampleLessons())
		attempts attemptBackend      = memory.NewAttemptStore()
	)
	if cfg.Postgres.URL != "" {
		db := postgres.Open(cfg.Postgres.URL)
		c.closers = append(c.closers, func() { _ = db.Close() })
		if err := migrateDB(ctx, db); err != nil {
			c.Close()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		loader = postgres.NewLessonLoader(pool)
		attempts = postgres.NewAttemptStore(db)
	} else {
		log.Warn("postgres not configured, attempts are kept in memory")
	}

	lessonTTL := config.TTLDuration(cfg.Lessons.TTL, 10*time.Minute)
	var (
		lessons app.LessonRepository
		marker  app.SessionMarker
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func() { _ = client.Close() })
		lessons = redisinfra.NewLessonRepository(client, loader, lessonTTL)
		marker = redisinfra.NewSessionMarker(client)
	} else {
		lessons = memory.NewLessonRepository(loader, lessonTTL)
		marker = memory.NewSessionMarker()
	}

	opts := []app.Option{app.WithSessionMarker(marker)}
	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	if generator != nil {
		c.dispatcher = feedback.NewDispatcher(attempts, lessons, generator, feedbackPolicy(cfg))
		opts = append(opts, app.WithFeedback(c.dispatcher, config.TTLDuration(cfg.Feedback.DispatchTimeout, 10*time.Second)))
	} else {
		log.Info("feedback provider not configured, reports are disabled")
	}

	c.service = app.NewQuizService(lessons, attempts, opts...)
	c.authn = auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	return c, nil
}

func newGenerator(ctx context.Context, cfg config.Config) (feedback.Generator, error) {
	fc := cfg.Feedback
	timeout := config.TTLDuration(fc.Timeout, 30*time.Second)
	switch fc.Provider {
	case "":
		return nil, nil
	case "gemini":
		if fc.APIKey == "" {
			return nil, fmt.Errorf("feedback provider gemini needs an api key")
		}
		gen, err := feedback.NewGeminiGenerator(ctx, fc.APIKey, fc.Model)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gen, nil
	case "chat":
		if fc.BaseURL == "" {
			return nil, fmt.Errorf("feedback provider chat needs base_url")
		}
		return feedback.NewChatGenerator(fc.BaseURL, fc.APIKey, fc.Model, timeout), nil
	default:
		return nil, fmt.Errorf("unknown feedback provider %q", fc.Provider)
	}
}

func feedbackPolicy(cfg config.Config) domain.RunnablePolicy {
	policy := feedback.DefaultPolicy
	if cfg.Feedback.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Feedback.MaxAttempts
	}
	policy.RetryDelay = config.TTLDuration(cfg.Feedback.RetryDelay, policy.RetryDelay)
	policy.StaleRunning = config.TTLDuration(cfg.Feedback.StaleRunning, policy.StaleRunning)
	return policy
}

func migrateDB(ctx context.Context, db *bun.DB) error {
	group, err := postgres.Migrate(ctx, db)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Log().Info("no new migrations")
		return nil
	}
	logger.Log().WithFields(logrus.Fields{
		"group_id": group.ID,
		"group":    group.String(),
	}).Info("migrations applied")
	return nil
}
