package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/domain"
)

// LessonLoader fetches lesson content from a backing store.
type LessonLoader interface {
	LoadLesson(ctx context.Context, lessonID domain.LessonID) (domain.Lesson, error)
}

// LessonRepository caches lessons with TTL to avoid repeated DB hits.
type LessonRepository struct {
	loader LessonLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[domain.LessonID]cachedLesson
}

type cachedLesson struct {
	lesson    domain.Lesson
	expiresAt time.Time
}

func NewLessonRepository(loader LessonLoader, ttl time.Duration) *LessonRepository {
	return &LessonRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[domain.LessonID]cachedLesson),
	}
}

func (r *LessonRepository) GetLesson(ctx context.Context, lessonID domain.LessonID) (domain.Lesson, error) {
	if lesson, ok := r.cached(lessonID, r.clock()); ok {
		return lesson, nil
	}

	result, err, _ := r.sf.Do(lessonKey(lessonID), func() (interface{}, error) {
		now := r.clock()
		if lesson, ok := r.cached(lessonID, now); ok {
			return lesson, nil
		}

		lesson, err := r.loader.LoadLesson(ctx, lessonID)
		if err != nil {
			return domain.Lesson{}, err
		}

		r.mu.Lock()
		r.cache[lessonID] = cachedLesson{
			lesson:    lesson,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return lesson, nil
	})
	if err != nil {
		return domain.Lesson{}, err
	}
	return result.(domain.Lesson), nil
}

func (r *LessonRepository) cached(lessonID domain.LessonID, now time.Time) (domain.Lesson, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[lessonID]
	if !ok || !entry.expiresAt.After(now) {
		return domain.Lesson{}, false
	}
	return entry.lesson, true
}

func (r *LessonRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticLessonLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticLessonLoader struct {
	lessons map[domain.LessonID]domain.Lesson
}

func NewStaticLessonLoader(lessons []domain.Lesson) *StaticLessonLoader {
	byID := make(map[domain.LessonID]domain.Lesson, len(lessons))
	for _, l := range lessons {
		byID[l.ID] = l
	}
	return &StaticLessonLoader{lessons: byID}
}

func (l *StaticLessonLoader) LoadLesson(_ context.Context, lessonID domain.LessonID) (domain.Lesson, error) {
	if lesson, ok := l.lessons[lessonID]; ok {
		return lesson, nil
	}
	return domain.Lesson{}, domain.ErrLessonNotFound
}

func lessonKey(id domain.LessonID) string {
	return "lesson:" + strconv.FormatInt(int64(id), 10)
}
