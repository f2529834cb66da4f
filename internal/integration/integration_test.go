package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/feedback"
	"quiz-session-service/internal/infra/postgres"
	infraredis "quiz-session-service/internal/infra/redis"
)

type stack struct {
	service *app.QuizService
	store   *postgres.AttemptStore
}

type cannedGenerator struct{}

func (cannedGenerator) Generate(_ context.Context, missed []domain.Question) (domain.FeedbackContent, error) {
	content := domain.FeedbackContent{
		Summary: domain.FeedbackSummary{
			Strengths:    []string{"Quick answers"},
			Improvements: []string{"Read every option"},
			Tips:         []string{"Review the lesson once more"},
		},
	}
	for _, q := range missed {
		content.Details = append(content.Details, domain.FeedbackDetail{
			QuestionID: q.ID,
			Analysis:   "The chosen option does not match the prompt.",
			Advice:     "Eliminate the options you know are wrong first.",
		})
	}
	return content, nil
}

func newStack(t *testing.T, ctx context.Context) stack {
	t.Helper()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	db := postgres.Open(pgURL)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)
	loader := postgres.NewLessonLoader(pool)
	if err := loader.UpsertLesson(ctx, sampleLesson()); err != nil {
		t.Fatalf("seed lesson: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = redisClient.Close() })

	lessons := infraredis.NewLessonRepository(redisClient, loader, 5*time.Minute)
	store := postgres.NewAttemptStore(db)
	dispatcher := feedback.NewDispatcher(store, lessons, cannedGenerator{}, feedback.DefaultPolicy)
	service := app.NewQuizService(lessons, store,
		app.WithSessionMarker(infraredis.NewSessionMarker(redisClient)),
		app.WithFeedback(dispatcher, 5*time.Second),
	)
	return stack{service: service, store: store}
}

func TestSessionLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	started, err := s.service.StartSession(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var active *domain.ActiveSessionError
	if _, err := s.service.StartSession(ctx, "u1", 1); !errors.As(err, &active) || active.SessionID != started.SessionID {
		t.Fatalf("expected active session %s, got %v", started.SessionID, err)
	}

	answers := []domain.AnswerSubmission{
		{SessionID: started.SessionID, QuestionID: 11, OptionID: 111, SecondsRemaining: 600},
		{SessionID: started.SessionID, QuestionID: 12, OptionID: 121, UsedHint: true},
		{SessionID: started.SessionID, QuestionID: 13, Answer: " 5,5 ", SecondsRemaining: 600},
	}
	for _, sub := range answers {
		if _, err := s.service.SubmitAnswer(ctx, "u1", sub); err != nil {
			t.Fatalf("answer %d: %v", sub.QuestionID, err)
		}
	}
	if _, err := s.service.SubmitAnswer(ctx, "u1", answers[0]); !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate answer, got %v", err)
	}

	live, err := s.service.ActiveSession(ctx, "u1")
	if err != nil || live == nil || live.Answered != 3 || live.CurrentQuestion != nil {
		t.Fatalf("unexpected active view %+v err=%v", live, err)
	}

	result, err := s.service.FinishSession(ctx, "u1", started.SessionID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.CorrectCount != 2 || result.ScoreTotal != 20 || result.HintsUsed != 1 {
		t.Fatalf("unexpected settlement %+v", result)
	}
	if result.FeedbackID == nil {
		t.Fatalf("expected a feedback report for the missed question")
	}

	report, err := s.service.Feedback(ctx, "u1", *result.FeedbackID)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if len(report.Details) != 1 || report.Details[0].QuestionID != 12 || report.Details[0].Prompt == "" {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := s.service.Feedback(ctx, "someone-else", *result.FeedbackID); !errors.Is(err, domain.ErrReportNotFound) {
		t.Fatalf("report must be owner-only, got %v", err)
	}

	if _, err := s.service.FinishSession(ctx, "u1", started.SessionID); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected completed on second finish, got %v", err)
	}
	if live, _ := s.service.ActiveSession(ctx, "u1"); live != nil {
		t.Fatalf("finished session still active: %+v", live)
	}

	ledger, err := s.service.Ledger(ctx, "u1")
	if err != nil || ledger.XP != result.XPTotal || ledger.Gems != result.GemsTotal {
		t.Fatalf("ledger %+v does not match settlement %+v (err=%v)", ledger, result, err)
	}

	history, err := s.service.History(ctx, "u1")
	if err != nil || len(history) != 1 || history[0].FeedbackID == nil || history[0].LessonTitle != "Integration" {
		t.Fatalf("unexpected history %+v err=%v", history, err)
	}

	podium, err := s.service.Podium(ctx, 1)
	if err != nil || len(podium) != 1 || podium[0].UserID != "u1" {
		t.Fatalf("unexpected podium %+v err=%v", podium, err)
	}
}

func TestConcurrentStartsAndAnswers(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  int
		failures int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.StartSession(ctx, "racer", 1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var active *domain.ActiveSessionError
				if !errors.As(err, &active) {
					t.Errorf("unexpected start error: %v", err)
				}
				failures++
				return
			}
			started++
		}()
	}
	wg.Wait()
	if started != 1 || failures != workers-1 {
		t.Fatalf("expected one start, got %d (failures=%d)", started, failures)
	}

	progress, err := s.service.Progress(ctx, "racer", 1)
	if err != nil || progress.Attempts != 1 {
		t.Fatalf("expected one attempt counted, got %+v err=%v", progress, err)
	}

	live, err := s.service.ActiveSession(ctx, "racer")
	if err != nil || live == nil {
		t.Fatalf("active: %+v err=%v", live, err)
	}

	var accepted, duplicates int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.SubmitAnswer(ctx, "racer", domain.AnswerSubmission{SessionID: live.SessionID, QuestionID: 11, OptionID: 111})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrDuplicateAnswer):
				duplicates++
			default:
				t.Errorf("unexpected answer error: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted != 1 || duplicates != workers-1 {
		t.Fatalf("expected one accepted answer, got accepted=%d duplicates=%d", accepted, duplicates)
	}

	events, err := s.store.ListAnswers(ctx, live.SessionID)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one stored event, got %d err=%v", len(events), err)
	}
}

func TestSettleRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	started, err := s.service.StartSession(ctx, "u2", 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sub := domain.AnswerSubmission{SessionID: started.SessionID, QuestionID: 11, OptionID: 111, SecondsRemaining: 600}
	if _, err := s.service.SubmitAnswer(ctx, "u2", sub); err != nil {
		t.Fatalf("answer: %v", err)
	}

	now := time.Now().UTC()
	totals := domain.Totals{ScoreTotal: 30, XPTotal: 40, GemsTotal: 20, CorrectCount: 3, TotalQuestions: 3}
	scoringFailed := errors.New("scoring failed")
	_, err = s.store.Settle(ctx, started.SessionID, "u2", func(domain.Session, []domain.AnswerEvent) (domain.Settlement, error) {
		return domain.Settlement{}, scoringFailed
	})
	if !errors.Is(err, scoringFailed) {
		t.Fatalf("expected the settle func error, got %v", err)
	}

	// progress, ledger and session are written before the job insert hits the foreign key
	_, err = s.store.Settle(ctx, started.SessionID, "u2", func(locked domain.Session, _ []domain.AnswerEvent) (domain.Settlement, error) {
		return domain.Settlement{
			Totals:    totals,
			ClosedAt:  now,
			ExpiresAt: now.Add(-time.Second),
			FeedbackJob: &domain.FeedbackJob{
				ID:          uuid.New(),
				SessionID:   locked.ID,
				ProgressID:  uuid.New(),
				UserID:      locked.UserID,
				LessonID:    locked.LessonID,
				QuestionIDs: []domain.QuestionID{12},
				Status:      domain.FeedbackJobPending,
				NextRunAt:   now,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
		}, nil
	})
	if err == nil {
		t.Fatalf("expected the feedback job insert to fail")
	}

	session, err := s.store.GetSession(ctx, started.SessionID, "u2")
	if err != nil || session.Status != domain.SessionActive || session.ScoreTotal != 0 {
		t.Fatalf("session changed by failed settle: %+v err=%v", session, err)
	}
	progress, err := s.store.GetProgress(ctx, "u2", 1)
	if err != nil || progress.Status != domain.ProgressInProgress || progress.BestScore != 0 || progress.BestXP != 0 || progress.BestGems != 0 {
		t.Fatalf("progress changed by failed settle: %+v err=%v", progress, err)
	}
	ledger, err := s.store.GetLedger(ctx, "u2")
	if err != nil || ledger.XP != 0 || ledger.Gems != 0 {
		t.Fatalf("ledger changed by failed settle: %+v err=%v", ledger, err)
	}

	result, err := s.service.FinishSession(ctx, "u2", started.SessionID)
	if err != nil {
		t.Fatalf("finish after failed settles: %v", err)
	}
	ledger, _ = s.store.GetLedger(ctx, "u2")
	if ledger.XP != result.XPTotal || ledger.Gems != result.GemsTotal {
		t.Fatalf("ledger %+v should hold exactly one settlement %+v", ledger, result)
	}
}

func sampleLesson() domain.Lesson {
	return domain.Lesson{
		ID:               1,
		Title:            "Integration",
		TimeLimitSeconds: 1200,
		Questions: []domain.Question{
			{
				ID:     11,
				Type:   domain.QuestionSingleChoice,
				Prompt: "What is 2 + 2?",
				Points: 10,
				Options: []domain.Option{
					{ID: 111, Text: "4", Correct: true},
					{ID: 112, Text: "5"},
				},
			},
			{
				ID:     12,
				Type:   domain.QuestionSingleChoice,
				Prompt: "What is 3 + 3?",
				Points: 10,
				Options: []domain.Option{
					{ID: 121, Text: "5"},
					{ID: 122, Text: "6", Correct: true},
				},
			},
			{
				ID:            13,
				Type:          domain.QuestionOpenAnswer,
				Prompt:        "Write 11/2 as a decimal.",
				Points:        10,
				CorrectAnswer: "5.5",
			},
		},
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
