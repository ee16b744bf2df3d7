package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/cliniks-academy/internal/platform/analytics"
	"github.com/example/cliniks-academy/services/progress/internal/store"
)

type fixture struct {
	rec     *Reconciler
	prog    *store.InMemoryProgressRepository
	enr     *store.InMemoryEnrollmentRepository
	catalog *store.InMemoryCourseCatalog
}

func newFixture() *fixture {
	prog := store.NewInMemoryProgressRepository()
	enr := store.NewInMemoryEnrollmentRepository()
	catalog := store.NewInMemoryCourseCatalog()
	return &fixture{
		rec:     New(prog, enr, catalog, nil, nil),
		prog:    prog,
		enr:     enr,
		catalog: catalog,
	}
}

func TestOnLessonCompleted_Idempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user, course := uuid.New(), uuid.New()
	l1, l2 := uuid.New(), uuid.New()
	f.catalog.AddCourse(course, l1, l2)

	rec, err := f.rec.OnLessonCompleted(ctx, user, l1)
	if err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if !rec.Completed || rec.CompletedAt == nil {
		t.Fatal("expected completed record")
	}
	firstAt := *rec.CompletedAt

	time.Sleep(2 * time.Millisecond)
	rec2, err := f.rec.OnLessonCompleted(ctx, user, l1)
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}
	if !rec2.CompletedAt.Equal(firstAt) {
		t.Fatalf("completed_at changed on repeat call: %v vs %v", rec2.CompletedAt, firstAt)
	}
}

func TestOnLessonCompleted_TriggersCourseRecompute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user, course := uuid.New(), uuid.New()
	l1, l2, l3 := uuid.New(), uuid.New(), uuid.New()
	f.catalog.AddCourse(course, l1, l2, l3)

	if _, err := f.rec.OnLessonCompleted(ctx, user, l1); err != nil {
		t.Fatalf("complete l1: %v", err)
	}

	enr, err := f.enr.Get(ctx, user, course)
	if err != nil {
		t.Fatalf("get enrollment: %v", err)
	}
	// 1 of 3 lessons: round(100/3) = 33.
	if enr.ProgressPercent != 33 {
		t.Fatalf("expected 33%%, got %d%%", enr.ProgressPercent)
	}
	if enr.CompletedAt != nil {
		t.Fatal("course must not be completed at 33%")
	}
}

func TestRecompute_Aggregation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user, course := uuid.New(), uuid.New()
	lessons := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	f.catalog.AddCourse(course, lessons...)

	cases := []struct {
		completed int
		want      int
	}{
		{0, 0},
		{1, 25},
		{2, 50},
		{3, 75},
	}
	for _, tc := range cases {
		for i := 0; i < tc.completed; i++ {
			_, _, _ = f.prog.MarkCompleted(ctx, user, lessons[i], time.Now())
		}
		rec, err := f.rec.RecomputeCourseProgress(ctx, user, course)
		if err != nil {
			t.Fatalf("recompute at %d completed: %v", tc.completed, err)
		}
		if rec.ProgressPercent != tc.want {
			t.Fatalf("completed=%d: expected %d%%, got %d%%", tc.completed, tc.want, rec.ProgressPercent)
		}
		if rec.CompletedAt != nil {
			t.Fatalf("completed=%d: course completed prematurely", tc.completed)
		}
	}
}

func TestRecompute_CourseCompletionSetOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user, course := uuid.New(), uuid.New()
	l1, l2 := uuid.New(), uuid.New()
	f.catalog.AddCourse(course, l1, l2)

	_, _, _ = f.prog.MarkCompleted(ctx, user, l1, time.Now())
	_, _, _ = f.prog.MarkCompleted(ctx, user, l2, time.Now())

	rec, err := f.rec.RecomputeCourseProgress(ctx, user, course)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.ProgressPercent != 100 {
		t.Fatalf("expected 100%%, got %d%%", rec.ProgressPercent)
	}
	if rec.CompletedAt == nil {
		t.Fatal("expected course completed_at set at 100%")
	}
	firstAt := *rec.CompletedAt

	time.Sleep(2 * time.Millisecond)
	rec2, err := f.rec.RecomputeCourseProgress(ctx, user, course)
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if !rec2.CompletedAt.Equal(firstAt) {
		t.Fatalf("course completed_at drifted: %v vs %v", rec2.CompletedAt, firstAt)
	}
}

func TestRecompute_EmptyCourse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user, course := uuid.New(), uuid.New()
	f.catalog.AddCourse(course)

	rec, err := f.rec.RecomputeCourseProgress(ctx, user, course)
	if err != nil {
		t.Fatalf("recompute empty: %v", err)
	}
	if rec.ProgressPercent != 0 || rec.CompletedAt != nil {
		t.Fatalf("empty course must stay at 0%% incomplete, got %d%% %v", rec.ProgressPercent, rec.CompletedAt)
	}
}

func TestRecompute_UnknownCourse(t *testing.T) {
	f := newFixture()
	_, err := f.rec.RecomputeCourseProgress(context.Background(), uuid.New(), uuid.New())
	var rerr *ReconciliationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ReconciliationError, got %v", err)
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected wrapped ErrNotFound, got %v", err)
	}
}

// recordingSink captures published subjects in order.
type recordingSink struct {
	subjects []string
}

func (s *recordingSink) Publish(subject, _, _ string, _ map[string]any) {
	s.subjects = append(s.subjects, subject)
}

func (s *recordingSink) count(subject string) int {
	n := 0
	for _, got := range s.subjects {
		if got == subject {
			n++
		}
	}
	return n
}

// microsecondEnrollments mimics the precision a Postgres timestamptz round
// trip leaves on completed_at.
type microsecondEnrollments struct {
	*store.InMemoryEnrollmentRepository
}

func (r microsecondEnrollments) UpsertProgress(ctx context.Context, userID, courseID uuid.UUID, percent int, completedAt *time.Time) (store.CourseEnrollmentRecord, error) {
	if completedAt != nil {
		ts := completedAt.Truncate(time.Microsecond)
		completedAt = &ts
	}
	return r.InMemoryEnrollmentRepository.UpsertProgress(ctx, userID, courseID, percent, completedAt)
}

func TestRecompute_PublishesCourseCompletedOnce(t *testing.T) {
	sink := &recordingSink{}
	prog := store.NewInMemoryProgressRepository()
	enr := microsecondEnrollments{store.NewInMemoryEnrollmentRepository()}
	catalog := store.NewInMemoryCourseCatalog()
	rec := New(prog, enr, catalog, sink, nil)

	ctx := context.Background()
	user, course := uuid.New(), uuid.New()
	l1, l2 := uuid.New(), uuid.New()
	catalog.AddCourse(course, l1, l2)

	if _, err := rec.OnLessonCompleted(ctx, user, l1); err != nil {
		t.Fatalf("complete l1: %v", err)
	}
	if _, err := rec.OnLessonCompleted(ctx, user, l2); err != nil {
		t.Fatalf("complete l2: %v", err)
	}

	if n := sink.count(analytics.SubjectLessonCompleted); n != 2 {
		t.Fatalf("expected 2 lesson_completed events, got %d", n)
	}
	// The microsecond-truncating store must still echo the timestamp this
	// call wrote, so the event fires on the completing call.
	if n := sink.count(analytics.SubjectCourseCompleted); n != 1 {
		t.Fatalf("expected exactly 1 course_completed event, got %d", n)
	}

	// A replayed recompute sees the stored completed_at, not its own.
	if _, err := rec.RecomputeCourseProgress(ctx, user, course); err != nil {
		t.Fatalf("replay recompute: %v", err)
	}
	if n := sink.count(analytics.SubjectCourseCompleted); n != 1 {
		t.Fatalf("replay re-published course_completed, got %d", n)
	}
}

func TestReconciliationError_OmitsUnsetIDs(t *testing.T) {
	f := newFixture()
	failing := New(failingProgressRepo{}, f.enr, f.catalog, nil, nil)

	lesson := uuid.New()
	_, err := failing.OnLessonCompleted(context.Background(), uuid.New(), lesson)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "lesson="+lesson.String()) {
		t.Fatalf("error should carry the lesson id: %s", msg)
	}
	if strings.Contains(msg, uuid.Nil.String()) {
		t.Fatalf("error renders a zero id: %s", msg)
	}
}

func TestOnProgressTick_SwallowsFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user, lesson := uuid.New(), uuid.New()

	// Happy path persists.
	f.rec.OnProgressTick(ctx, user, lesson, 90)
	rec, err := f.prog.Get(ctx, user, lesson)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.WatchTimeSeconds != 90 {
		t.Fatalf("expected 90s, got %d", rec.WatchTimeSeconds)
	}

	// A failing repository must not panic or propagate.
	failing := New(failingProgressRepo{}, f.enr, f.catalog, nil, nil)
	failing.OnProgressTick(ctx, user, lesson, 120)
}

// failingProgressRepo errors on every operation.
type failingProgressRepo struct{}

var errDown = errors.New("db down")

func (failingProgressRepo) UpsertWatchTime(context.Context, uuid.UUID, uuid.UUID, int) (store.LessonProgressRecord, error) {
	return store.LessonProgressRecord{}, errDown
}

func (failingProgressRepo) MarkCompleted(context.Context, uuid.UUID, uuid.UUID, time.Time) (store.LessonProgressRecord, bool, error) {
	return store.LessonProgressRecord{}, false, errDown
}

func (failingProgressRepo) Get(context.Context, uuid.UUID, uuid.UUID) (store.LessonProgressRecord, error) {
	return store.LessonProgressRecord{}, errDown
}

func (failingProgressRepo) CompletedLessonIDs(context.Context, uuid.UUID, []uuid.UUID) ([]uuid.UUID, error) {
	return nil, errDown
}

func (failingProgressRepo) ListRecent(context.Context, uuid.UUID, int, *store.ProgressCursor) ([]store.LessonProgressRecord, error) {
	return nil, errDown
}

func TestOnLessonCompleted_SurfacesReconciliationError(t *testing.T) {
	f := newFixture()
	failing := New(failingProgressRepo{}, f.enr, f.catalog, nil, nil)

	_, err := failing.OnLessonCompleted(context.Background(), uuid.New(), uuid.New())
	var rerr *ReconciliationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ReconciliationError, got %v", err)
	}
	if !errors.Is(err, errDown) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}
