package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresProgressRepository is the production Postgres-backed implementation.
type PostgresProgressRepository struct {
	db *pgxpool.Pool
}

func NewPostgresProgressRepository(db *pgxpool.Pool) *PostgresProgressRepository {
	return &PostgresProgressRepository{db: db}
}

func (r *PostgresProgressRepository) UpsertWatchTime(ctx context.Context, userID, lessonID uuid.UUID, watchTimeSeconds int) (LessonProgressRecord, error) {
	if watchTimeSeconds < 0 {
		watchTimeSeconds = 0
	}
	q := `
INSERT INTO lesson_progress (user_id, lesson_id, watch_time_seconds, completed, updated_at)
VALUES ($1, $2, $3, false, $4)
ON CONFLICT (user_id, lesson_id)
DO UPDATE SET
  watch_time_seconds = GREATEST(lesson_progress.watch_time_seconds, EXCLUDED.watch_time_seconds),
  updated_at         = EXCLUDED.updated_at
RETURNING watch_time_seconds, completed, completed_at, updated_at`

	out := LessonProgressRecord{UserID: userID, LessonID: lessonID}
	err := r.db.QueryRow(ctx, q, userID, lessonID, watchTimeSeconds, time.Now().UTC()).
		Scan(&out.WatchTimeSeconds, &out.Completed, &out.CompletedAt, &out.UpdatedAt)
	if err != nil {
		return LessonProgressRecord{}, fmt.Errorf("upsert watch time: %w", err)
	}
	return out, nil
}

func (r *PostgresProgressRepository) MarkCompleted(ctx context.Context, userID, lessonID uuid.UUID, completedAt time.Time) (LessonProgressRecord, bool, error) {
	q := `
INSERT INTO lesson_progress (user_id, lesson_id, watch_time_seconds, completed, completed_at, updated_at)
VALUES ($1, $2, 0, true, $3, $3)
ON CONFLICT (user_id, lesson_id)
DO UPDATE SET
  completed    = true,
  completed_at = COALESCE(lesson_progress.completed_at, EXCLUDED.completed_at),
  updated_at   = EXCLUDED.updated_at
WHERE NOT lesson_progress.completed
RETURNING watch_time_seconds, completed, completed_at, updated_at`

	out := LessonProgressRecord{UserID: userID, LessonID: lessonID}
	err := r.db.QueryRow(ctx, q, userID, lessonID, completedAt.UTC()).
		Scan(&out.WatchTimeSeconds, &out.Completed, &out.CompletedAt, &out.UpdatedAt)
	if err != nil {
		// WHERE clause blocked the update: already completed. Return the
		// current row untouched.
		if errors.Is(err, pgx.ErrNoRows) {
			cur, ferr := r.Get(ctx, userID, lessonID)
			if ferr != nil {
				return LessonProgressRecord{}, false, ferr
			}
			return cur, false, nil
		}
		return LessonProgressRecord{}, false, fmt.Errorf("mark completed: %w", err)
	}
	return out, true, nil
}

func (r *PostgresProgressRepository) Get(ctx context.Context, userID, lessonID uuid.UUID) (LessonProgressRecord, error) {
	q := `SELECT watch_time_seconds, completed, completed_at, updated_at
	      FROM lesson_progress WHERE user_id=$1 AND lesson_id=$2`
	out := LessonProgressRecord{UserID: userID, LessonID: lessonID}
	err := r.db.QueryRow(ctx, q, userID, lessonID).
		Scan(&out.WatchTimeSeconds, &out.Completed, &out.CompletedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LessonProgressRecord{}, ErrNotFound
		}
		return LessonProgressRecord{}, fmt.Errorf("get lesson progress: %w", err)
	}
	return out, nil
}

func (r *PostgresProgressRepository) CompletedLessonIDs(ctx context.Context, userID uuid.UUID, lessonIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(lessonIDs) == 0 {
		return nil, nil
	}
	q := `SELECT lesson_id FROM lesson_progress
	      WHERE user_id=$1 AND completed AND lesson_id = ANY($2)`
	rows, err := r.db.Query(ctx, q, userID, lessonIDs)
	if err != nil {
		return nil, fmt.Errorf("completed lesson ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("completed lesson ids: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresProgressRepository) ListRecent(ctx context.Context, userID uuid.UUID, limit int, cursor *ProgressCursor) ([]LessonProgressRecord, error) {
	q := `SELECT lesson_id, watch_time_seconds, completed, completed_at, updated_at
	      FROM lesson_progress WHERE user_id=$1`
	args := []any{userID}

	if cursor != nil {
		q += " AND (updated_at, lesson_id) < (to_timestamp($2 / 1000.0), $3)"
		args = append(args, cursor.UpdatedAt.UnixMilli(), cursor.LessonID)
	}
	q += " ORDER BY updated_at DESC, lesson_id DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent progress: %w", err)
	}
	defer rows.Close()

	var out []LessonProgressRecord
	for rows.Next() {
		rec := LessonProgressRecord{UserID: userID}
		if err := rows.Scan(&rec.LessonID, &rec.WatchTimeSeconds, &rec.Completed, &rec.CompletedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list recent progress: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PostgresEnrollmentRepository persists course-level aggregates.
type PostgresEnrollmentRepository struct {
	db *pgxpool.Pool
}

func NewPostgresEnrollmentRepository(db *pgxpool.Pool) *PostgresEnrollmentRepository {
	return &PostgresEnrollmentRepository{db: db}
}

func (r *PostgresEnrollmentRepository) UpsertProgress(ctx context.Context, userID, courseID uuid.UUID, progressPercent int, completedAt *time.Time) (CourseEnrollmentRecord, error) {
	q := `
INSERT INTO course_enrollments (user_id, course_id, progress_percent, completed_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, course_id)
DO UPDATE SET
  progress_percent = EXCLUDED.progress_percent,
  completed_at     = COALESCE(course_enrollments.completed_at, EXCLUDED.completed_at),
  updated_at       = EXCLUDED.updated_at
RETURNING progress_percent, completed_at, updated_at`

	out := CourseEnrollmentRecord{UserID: userID, CourseID: courseID}
	err := r.db.QueryRow(ctx, q, userID, courseID, progressPercent, completedAt, time.Now().UTC()).
		Scan(&out.ProgressPercent, &out.CompletedAt, &out.UpdatedAt)
	if err != nil {
		return CourseEnrollmentRecord{}, fmt.Errorf("upsert enrollment: %w", err)
	}
	return out, nil
}

func (r *PostgresEnrollmentRepository) Get(ctx context.Context, userID, courseID uuid.UUID) (CourseEnrollmentRecord, error) {
	q := `SELECT progress_percent, completed_at, updated_at
	      FROM course_enrollments WHERE user_id=$1 AND course_id=$2`
	out := CourseEnrollmentRecord{UserID: userID, CourseID: courseID}
	err := r.db.QueryRow(ctx, q, userID, courseID).
		Scan(&out.ProgressPercent, &out.CompletedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CourseEnrollmentRecord{}, ErrNotFound
		}
		return CourseEnrollmentRecord{}, fmt.Errorf("get enrollment: %w", err)
	}
	return out, nil
}

// PostgresCourseCatalog reads course structure from the lessons table owned
// by the catalog service.
type PostgresCourseCatalog struct {
	db *pgxpool.Pool
}

func NewPostgresCourseCatalog(db *pgxpool.Pool) *PostgresCourseCatalog {
	return &PostgresCourseCatalog{db: db}
}

func (c *PostgresCourseCatalog) LessonIDs(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := c.db.Query(ctx, `SELECT id FROM lessons WHERE course_id=$1 ORDER BY position, id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("lesson ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("lesson ids: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (c *PostgresCourseCatalog) CourseIDForLesson(ctx context.Context, lessonID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := c.db.QueryRow(ctx, `SELECT course_id FROM lessons WHERE id=$1`, lessonID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("course for lesson: %w", err)
	}
	return id, nil
}
