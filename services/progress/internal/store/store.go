// Package store is the persistence boundary for lesson and course progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("store: not found")

// LessonProgressRecord is one user's durable watch state for one lesson.
// Upserted, never duplicated, keyed by (user_id, lesson_id).
type LessonProgressRecord struct {
	UserID           uuid.UUID  `json:"user_id"`
	LessonID         uuid.UUID  `json:"lesson_id"`
	WatchTimeSeconds int        `json:"watch_time_seconds"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CourseEnrollmentRecord is the derived per-course aggregate.
// progress_percent is always recomputed from the lesson rows, never
// incremented; completed_at is written once and never unset.
type CourseEnrollmentRecord struct {
	UserID          uuid.UUID  `json:"user_id"`
	CourseID        uuid.UUID  `json:"course_id"`
	ProgressPercent int        `json:"progress_percent"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ProgressCursor is the decoded form of the opaque keyset pagination cursor.
type ProgressCursor struct {
	UpdatedAt time.Time
	LessonID  uuid.UUID
}

// ProgressRepository defines persistence operations for per-lesson watch
// state.
type ProgressRepository interface {
	// UpsertWatchTime records accumulated watch time. Monotonic: a smaller
	// value than the persisted one never decreases it.
	UpsertWatchTime(ctx context.Context, userID, lessonID uuid.UUID, watchTimeSeconds int) (LessonProgressRecord, error)
	// MarkCompleted flips the lesson to completed. changed is false when the
	// lesson was already completed; in that case completed_at is untouched.
	MarkCompleted(ctx context.Context, userID, lessonID uuid.UUID, completedAt time.Time) (rec LessonProgressRecord, changed bool, err error)
	Get(ctx context.Context, userID, lessonID uuid.UUID) (LessonProgressRecord, error)
	// CompletedLessonIDs returns the subset of lessonIDs the user has
	// completed.
	CompletedLessonIDs(ctx context.Context, userID uuid.UUID, lessonIDs []uuid.UUID) ([]uuid.UUID, error)
	// ListRecent returns up to limit records ordered by updated_at DESC.
	// cursor, if non-nil, acts as an exclusive lower bound.
	ListRecent(ctx context.Context, userID uuid.UUID, limit int, cursor *ProgressCursor) ([]LessonProgressRecord, error)
}

// EnrollmentRepository defines persistence operations for course-level
// aggregates.
type EnrollmentRepository interface {
	// UpsertProgress writes a freshly recomputed aggregate. completedAt, if
	// non-nil, is only applied when the row has none yet (write-once).
	UpsertProgress(ctx context.Context, userID, courseID uuid.UUID, progressPercent int, completedAt *time.Time) (CourseEnrollmentRecord, error)
	Get(ctx context.Context, userID, courseID uuid.UUID) (CourseEnrollmentRecord, error)
}

// CourseCatalog resolves course structure. Owned by the catalog side of the
// platform; this subsystem only reads it.
type CourseCatalog interface {
	LessonIDs(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error)
	CourseIDForLesson(ctx context.Context, lessonID uuid.UUID) (uuid.UUID, error)
}
