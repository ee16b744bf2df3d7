// Package reconcile turns transient playback events into durable per-lesson
// and per-course progress records.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cliniks-academy/internal/platform/analytics"
	"github.com/example/cliniks-academy/services/progress/internal/store"
)

// ReconciliationError reports that completion bookkeeping did not settle.
// Progress-tick failures never produce one; completion and aggregate paths
// do, so the caller can retry or inform the user.
type ReconciliationError struct {
	Op       string
	UserID   uuid.UUID
	LessonID uuid.UUID
	CourseID uuid.UUID
	Err      error
}

func (e *ReconciliationError) Error() string {
	s := fmt.Sprintf("reconcile %s (user=%s", e.Op, e.UserID)
	if e.LessonID != uuid.Nil {
		s += fmt.Sprintf(" lesson=%s", e.LessonID)
	}
	if e.CourseID != uuid.Nil {
		s += fmt.Sprintf(" course=%s", e.CourseID)
	}
	return s + fmt.Sprintf("): %v", e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// EventSink is the slice of the analytics publisher the reconciler emits
// through. Satisfied by *analytics.Publisher.
type EventSink interface {
	Publish(subject, eventName, userID string, props map[string]any)
}

// Reconciler applies tracker events to the persistence layer with idempotent
// completion and recomputed (never incremented) course aggregates.
type Reconciler struct {
	Progress    store.ProgressRepository
	Enrollments store.EnrollmentRepository
	Catalog     store.CourseCatalog
	Events      EventSink
	Log         *zap.Logger

	now func() time.Time
}

// New builds a Reconciler. Events may be nil (no-op publisher).
func New(progress store.ProgressRepository, enrollments store.EnrollmentRepository, catalog store.CourseCatalog, events EventSink, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = (*analytics.Publisher)(nil)
	}
	return &Reconciler{
		Progress:    progress,
		Enrollments: enrollments,
		Catalog:     catalog,
		Events:      events,
		Log:         log,
		// Postgres stores timestamps at microsecond precision; anything finer
		// would never survive the round trip, breaking the completed_at echo
		// comparison below.
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// OnProgressTick records accumulated watch time for a lesson. Best-effort
// bookkeeping: persistence failures are logged and swallowed so playback is
// never interrupted.
func (r *Reconciler) OnProgressTick(ctx context.Context, userID, lessonID uuid.UUID, watchTimeSeconds int) {
	if _, err := r.Progress.UpsertWatchTime(ctx, userID, lessonID, watchTimeSeconds); err != nil {
		r.Log.Warn("progress tick not saved",
			zap.String("user_id", userID.String()),
			zap.String("lesson_id", lessonID.String()),
			zap.Error(err))
	}
}

// OnLessonCompleted idempotently marks a lesson completed and recomputes the
// owning course's aggregate. Calling it again for an already-completed
// lesson is a no-op: no write, no recompute, completed_at untouched.
func (r *Reconciler) OnLessonCompleted(ctx context.Context, userID, lessonID uuid.UUID) (store.LessonProgressRecord, error) {
	rec, changed, err := r.Progress.MarkCompleted(ctx, userID, lessonID, r.now())
	if err != nil {
		return store.LessonProgressRecord{}, &ReconciliationError{Op: "mark_completed", UserID: userID, LessonID: lessonID, Err: err}
	}
	if !changed {
		return rec, nil
	}

	r.Events.Publish(analytics.SubjectLessonCompleted, "lesson_completed", userID.String(), map[string]any{
		"lesson_id": lessonID.String(),
	})

	courseID, err := r.Catalog.CourseIDForLesson(ctx, lessonID)
	if err != nil {
		return rec, &ReconciliationError{Op: "course_lookup", UserID: userID, LessonID: lessonID, Err: err}
	}
	if _, err := r.RecomputeCourseProgress(ctx, userID, courseID); err != nil {
		return rec, err
	}
	return rec, nil
}

// RecomputeCourseProgress derives the enrollment aggregate from the
// authoritative per-lesson rows. Safe to call concurrently for the same
// user/course: every call recomputes from scratch, so last-write-wins on the
// aggregate violates no invariant.
func (r *Reconciler) RecomputeCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (store.CourseEnrollmentRecord, error) {
	lessonIDs, err := r.Catalog.LessonIDs(ctx, courseID)
	if err != nil {
		return store.CourseEnrollmentRecord{}, &ReconciliationError{Op: "fetch_lessons", UserID: userID, CourseID: courseID, Err: err}
	}
	if len(lessonIDs) == 0 {
		rec, err := r.Enrollments.UpsertProgress(ctx, userID, courseID, 0, nil)
		if err != nil {
			return store.CourseEnrollmentRecord{}, &ReconciliationError{Op: "upsert_enrollment", UserID: userID, CourseID: courseID, Err: err}
		}
		return rec, nil
	}

	completed, err := r.Progress.CompletedLessonIDs(ctx, userID, lessonIDs)
	if err != nil {
		return store.CourseEnrollmentRecord{}, &ReconciliationError{Op: "fetch_completed", UserID: userID, CourseID: courseID, Err: err}
	}

	percent := int(math.Round(100 * float64(len(completed)) / float64(len(lessonIDs))))

	var completedAt *time.Time
	if percent == 100 {
		ts := r.now()
		completedAt = &ts
	}

	rec, err := r.Enrollments.UpsertProgress(ctx, userID, courseID, percent, completedAt)
	if err != nil {
		return store.CourseEnrollmentRecord{}, &ReconciliationError{Op: "upsert_enrollment", UserID: userID, CourseID: courseID, Err: err}
	}

	// The COALESCE guard in the store keeps completed_at stable; only the
	// call that actually set it sees its own timestamp echoed back.
	if completedAt != nil && rec.CompletedAt != nil && rec.CompletedAt.Equal(*completedAt) {
		r.Events.Publish(analytics.SubjectCourseCompleted, "course_completed", userID.String(), map[string]any{
			"course_id": courseID.String(),
		})
	}
	return rec, nil
}
