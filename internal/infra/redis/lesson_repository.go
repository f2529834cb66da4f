package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	"quiz-session-service/internal/logger"
)

// LessonRepository caches lessons in Redis as one JSON value per lesson and
// falls back to a loader on cache miss.
//
//	SET quiz:lesson:{lessonID} {json} EX ttl
type LessonRepository struct {
	client *redis.Client
	loader memory.LessonLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewLessonRepository(client *redis.Client, loader memory.LessonLoader, ttl time.Duration) *LessonRepository {
	return &LessonRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *LessonRepository) GetLesson(ctx context.Context, lessonID domain.LessonID) (domain.Lesson, error) {
	key := r.key(lessonID)
	if lesson, ok := r.cached(ctx, key); ok {
		return lesson, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if lesson, ok := r.cached(ctx, key); ok {
			return lesson, nil
		}

		lesson, err := r.loader.LoadLesson(ctx, lessonID)
		if err != nil {
			return domain.Lesson{}, err
		}

		data, err := json.Marshal(lesson)
		if err == nil {
			err = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		if err != nil {
			logger.WithContext(ctx).WithError(err).WithField("lesson_id", lessonID).Warn("cache lesson")
		}
		return lesson, nil
	})
	if err != nil {
		return domain.Lesson{}, err
	}
	return result.(domain.Lesson), nil
}

// Invalidate drops a cached lesson, e.g. after the seed command rewrote it.
func (r *LessonRepository) Invalidate(ctx context.Context, lessonID domain.LessonID) error {
	return r.client.Del(ctx, r.key(lessonID)).Err()
}

func (r *LessonRepository) cached(ctx context.Context, key string) (domain.Lesson, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.WithContext(ctx).WithError(err).Warn("read cached lesson")
		}
		return domain.Lesson{}, false
	}
	var lesson domain.Lesson
	if err := json.Unmarshal(data, &lesson); err != nil {
		return domain.Lesson{}, false
	}
	return lesson, true
}

func (r *LessonRepository) key(lessonID domain.LessonID) string {
	return "quiz:lesson:" + strconv.FormatInt(int64(lessonID), 10)
}

func (r *LessonRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
