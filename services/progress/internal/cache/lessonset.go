// Package cache provides a Redis read-through cache for course structure
// lookups used by course-progress recomputation.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/cliniks-academy/services/progress/internal/store"
)

// LessonSetCache wraps a CourseCatalog with Redis caching. Cache failures
// fall through to the underlying catalog; they are logged, never surfaced.
type LessonSetCache struct {
	client *redis.Client
	next   store.CourseCatalog
	ttl    time.Duration
	log    *zap.Logger
}

// New connects to Redis and wraps the given catalog.
func New(dsn string, next store.CourseCatalog, ttl time.Duration, log *zap.Logger) (*LessonSetCache, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LessonSetCache{client: redis.NewClient(opt), next: next, ttl: ttl, log: log}, nil
}

func (c *LessonSetCache) LessonIDs(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	key := "progress:lessons:" + courseID.String()

	if val, err := c.client.Get(ctx, key).Result(); err == nil {
		var ids []uuid.UUID
		if jerr := json.Unmarshal([]byte(val), &ids); jerr == nil {
			return ids, nil
		}
	} else if err != redis.Nil {
		c.log.Warn("lesson set cache read failed", zap.String("course_id", courseID.String()), zap.Error(err))
	}

	ids, err := c.next.LessonIDs(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if b, jerr := json.Marshal(ids); jerr == nil {
		if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.Warn("lesson set cache write failed", zap.String("course_id", courseID.String()), zap.Error(err))
		}
	}
	return ids, nil
}

func (c *LessonSetCache) CourseIDForLesson(ctx context.Context, lessonID uuid.UUID) (uuid.UUID, error) {
	key := "progress:lesson_course:" + lessonID.String()

	if val, err := c.client.Get(ctx, key).Result(); err == nil {
		if id, perr := uuid.Parse(val); perr == nil {
			return id, nil
		}
	} else if err != redis.Nil {
		c.log.Warn("lesson course cache read failed", zap.String("lesson_id", lessonID.String()), zap.Error(err))
	}

	id, err := c.next.CourseIDForLesson(ctx, lessonID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := c.client.Set(ctx, key, id.String(), c.ttl).Err(); err != nil {
		c.log.Warn("lesson course cache write failed", zap.String("lesson_id", lessonID.String()), zap.Error(err))
	}
	return id, nil
}
