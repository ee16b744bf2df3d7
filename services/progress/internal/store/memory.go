package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type progressKey struct {
	userID   uuid.UUID
	lessonID uuid.UUID
}

type enrollmentKey struct {
	userID   uuid.UUID
	courseID uuid.UUID
}

// InMemoryProgressRepository is a development/test implementation.
type InMemoryProgressRepository struct {
	mu      sync.RWMutex
	records map[progressKey]LessonProgressRecord
}

func NewInMemoryProgressRepository() *InMemoryProgressRepository {
	return &InMemoryProgressRepository{records: make(map[progressKey]LessonProgressRecord)}
}

func (r *InMemoryProgressRepository) UpsertWatchTime(_ context.Context, userID, lessonID uuid.UUID, watchTimeSeconds int) (LessonProgressRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if watchTimeSeconds < 0 {
		watchTimeSeconds = 0
	}
	k := progressKey{userID, lessonID}
	rec, ok := r.records[k]
	if !ok {
		rec = LessonProgressRecord{UserID: userID, LessonID: lessonID}
	}
	if watchTimeSeconds > rec.WatchTimeSeconds {
		rec.WatchTimeSeconds = watchTimeSeconds
	}
	rec.UpdatedAt = time.Now().UTC()
	r.records[k] = rec
	return rec, nil
}

func (r *InMemoryProgressRepository) MarkCompleted(_ context.Context, userID, lessonID uuid.UUID, completedAt time.Time) (LessonProgressRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := progressKey{userID, lessonID}
	rec, ok := r.records[k]
	if !ok {
		rec = LessonProgressRecord{UserID: userID, LessonID: lessonID}
	}
	if rec.Completed {
		return rec, false, nil
	}
	ts := completedAt.UTC()
	rec.Completed = true
	rec.CompletedAt = &ts
	rec.UpdatedAt = ts
	r.records[k] = rec
	return rec, true, nil
}

func (r *InMemoryProgressRepository) Get(_ context.Context, userID, lessonID uuid.UUID) (LessonProgressRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[progressKey{userID, lessonID}]
	if !ok {
		return LessonProgressRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *InMemoryProgressRepository) CompletedLessonIDs(_ context.Context, userID uuid.UUID, lessonIDs []uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []uuid.UUID
	for _, id := range lessonIDs {
		if rec, ok := r.records[progressKey{userID, id}]; ok && rec.Completed {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *InMemoryProgressRepository) ListRecent(_ context.Context, userID uuid.UUID, limit int, cursor *ProgressCursor) ([]LessonProgressRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > 100 {
		limit = 25
	}

	var all []LessonProgressRecord
	for k, rec := range r.records {
		if k.userID == userID {
			all = append(all, rec)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].LessonID.String() > all[j].LessonID.String()
	})

	var out []LessonProgressRecord
	for _, rec := range all {
		if cursor != nil {
			if !rec.UpdatedAt.Before(cursor.UpdatedAt) &&
				!(rec.UpdatedAt.Equal(cursor.UpdatedAt) && rec.LessonID.String() < cursor.LessonID.String()) {
				continue
			}
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// InMemoryEnrollmentRepository is a development/test implementation.
type InMemoryEnrollmentRepository struct {
	mu      sync.RWMutex
	records map[enrollmentKey]CourseEnrollmentRecord
}

func NewInMemoryEnrollmentRepository() *InMemoryEnrollmentRepository {
	return &InMemoryEnrollmentRepository{records: make(map[enrollmentKey]CourseEnrollmentRecord)}
}

func (r *InMemoryEnrollmentRepository) UpsertProgress(_ context.Context, userID, courseID uuid.UUID, progressPercent int, completedAt *time.Time) (CourseEnrollmentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := enrollmentKey{userID, courseID}
	rec, ok := r.records[k]
	if !ok {
		rec = CourseEnrollmentRecord{UserID: userID, CourseID: courseID}
	}
	rec.ProgressPercent = progressPercent
	if rec.CompletedAt == nil && completedAt != nil {
		ts := completedAt.UTC()
		rec.CompletedAt = &ts
	}
	rec.UpdatedAt = time.Now().UTC()
	r.records[k] = rec
	return rec, nil
}

func (r *InMemoryEnrollmentRepository) Get(_ context.Context, userID, courseID uuid.UUID) (CourseEnrollmentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[enrollmentKey{userID, courseID}]
	if !ok {
		return CourseEnrollmentRecord{}, ErrNotFound
	}
	return rec, nil
}

// InMemoryCourseCatalog serves a fixed course structure in tests.
type InMemoryCourseCatalog struct {
	mu      sync.RWMutex
	lessons map[uuid.UUID][]uuid.UUID // courseID -> ordered lesson ids
	courses map[uuid.UUID]uuid.UUID   // lessonID -> courseID
}

func NewInMemoryCourseCatalog() *InMemoryCourseCatalog {
	return &InMemoryCourseCatalog{
		lessons: make(map[uuid.UUID][]uuid.UUID),
		courses: make(map[uuid.UUID]uuid.UUID),
	}
}

// AddCourse registers a course with its ordered lesson ids.
func (c *InMemoryCourseCatalog) AddCourse(courseID uuid.UUID, lessonIDs ...uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lessons[courseID] = append([]uuid.UUID(nil), lessonIDs...)
	for _, id := range lessonIDs {
		c.courses[id] = courseID
	}
}

func (c *InMemoryCourseCatalog) LessonIDs(_ context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.lessons[courseID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]uuid.UUID(nil), ids...), nil
}

func (c *InMemoryCourseCatalog) CourseIDForLesson(_ context.Context, lessonID uuid.UUID) (uuid.UUID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.courses[lessonID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}
