package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/cliniks-academy/internal/platform/api"
	"github.com/example/cliniks-academy/internal/platform/auth"
	"github.com/example/cliniks-academy/internal/platform/httpserver"
	"github.com/example/cliniks-academy/services/progress/internal/config"
	"github.com/example/cliniks-academy/services/progress/internal/reconcile"
	"github.com/example/cliniks-academy/services/progress/internal/store"
)

type tickRequest struct {
	LessonID         string  `json:"lesson_id"`
	WatchTimeSeconds int     `json:"watch_time_seconds"`
	PositionSeconds  float64 `json:"position_seconds"`
	DurationSeconds  float64 `json:"duration_seconds"`
	ClientTsMs       int64   `json:"client_ts_ms"`
}

// UpsertProgress accepts a playback tick. With JetStream enabled the tick is
// published and the handler returns 202; otherwise it is applied
// synchronously.
func UpsertProgress(rec *reconcile.Reconciler, publisher *EventPublisher, thresholdPercent float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := callerID(r)
		if !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		var req tickRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
			return
		}
		lessonID, err := uuid.Parse(strings.TrimSpace(req.LessonID))
		if err != nil {
			api.BadRequest(w, "INVALID_LESSON_ID", "lesson_id must be a UUID", rid, nil)
			return
		}
		if req.ClientTsMs == 0 {
			req.ClientTsMs = time.Now().UnixMilli()
		}

		if publisher.Enabled() {
			payload := map[string]any{
				"user_id":            userID.String(),
				"lesson_id":          lessonID.String(),
				"watch_time_seconds": req.WatchTimeSeconds,
				"position_seconds":   req.PositionSeconds,
				"duration_seconds":   req.DurationSeconds,
				"client_ts_ms":       req.ClientTsMs,
			}
			eventID, err := publisher.PublishJSON(config.TickSubject, payload)
			if err != nil {
				api.WriteError(w, http.StatusServiceUnavailable, "EVENT_PUBLISH_FAILED", "failed to publish event", rid, nil)
				return
			}
			w.Header().Set("X-Event-ID", eventID)
			w.WriteHeader(http.StatusAccepted)
			return
		}

		// Synchronous fallback when JetStream is not configured.
		rec.OnProgressTick(r.Context(), userID, lessonID, req.WatchTimeSeconds)

		if req.DurationSeconds > 0 && 100*req.PositionSeconds/req.DurationSeconds >= thresholdPercent {
			if _, err := rec.OnLessonCompleted(r.Context(), userID, lessonID); err != nil {
				api.BadGateway(w, "RECONCILE_FAILED", "completion bookkeeping did not settle", rid)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// CompleteLesson idempotently marks a lesson completed for the caller.
func CompleteLesson(rec *reconcile.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := callerID(r)
		if !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}
		lessonID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "lesson_id")))
		if err != nil {
			api.BadRequest(w, "INVALID_LESSON_ID", "lesson_id must be a UUID", rid, nil)
			return
		}

		record, err := rec.OnLessonCompleted(r.Context(), userID, lessonID)
		if err != nil {
			api.BadGateway(w, "RECONCILE_FAILED", "completion bookkeeping did not settle", rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, record)
	}
}

// CourseProgress returns the caller's enrollment aggregate, recomputing it
// when no row exists yet.
func CourseProgress(rec *reconcile.Reconciler, enrollments store.EnrollmentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := callerID(r)
		if !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}
		courseID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "course_id")))
		if err != nil {
			api.BadRequest(w, "INVALID_COURSE_ID", "course_id must be a UUID", rid, nil)
			return
		}

		record, err := enrollments.Get(r.Context(), userID, courseID)
		if errors.Is(err, store.ErrNotFound) {
			record, err = rec.RecomputeCourseProgress(r.Context(), userID, courseID)
		}
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				api.NotFound(w, "COURSE_NOT_FOUND", "Unknown course", rid)
				return
			}
			api.BadGateway(w, "RECONCILE_FAILED", "could not compute course progress", rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, record)
	}
}

type continueWatchingResponse struct {
	Items      []store.LessonProgressRecord `json:"items"`
	Limit      int                          `json:"limit"`
	NextCursor string                       `json:"next_cursor,omitempty"`
}

// ContinueWatching lists the caller's most recently watched lessons with
// keyset pagination.
func ContinueWatching(progress store.ProgressRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := callerID(r)
		if !ok {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		limit := 25
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < 1 {
					n = 1
				}
				if n > 100 {
					n = 100
				}
				limit = n
			}
		}
		cursor := decodeCursor(r.URL.Query().Get("cursor"))

		records, err := progress.ListRecent(r.Context(), userID, limit, cursor)
		if err != nil {
			api.Internal(w, rid)
			return
		}

		resp := continueWatchingResponse{Items: records, Limit: limit}
		if resp.Items == nil {
			resp.Items = []store.LessonProgressRecord{}
		}
		if len(records) == limit {
			last := records[len(records)-1]
			resp.NextCursor = encodeCursor(last.UpdatedAt.UnixMilli(), last.LessonID.String())
		}
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

func callerID(r *http.Request) (uuid.UUID, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(uid) == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimSpace(uid))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// encodeCursor encodes updated_at millis and lesson UUID as a base64 opaque
// cursor.
func encodeCursor(tsMs int64, lessonID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(tsMs, 10) + ":" + lessonID))
}

// decodeCursor parses the opaque cursor produced by encodeCursor.
func decodeCursor(raw string) *store.ProgressCursor {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 {
		return nil
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil
	}
	lid, err := uuid.Parse(parts[1])
	if err != nil {
		return nil
	}
	return &store.ProgressCursor{
		UpdatedAt: time.UnixMilli(ts).UTC(),
		LessonID:  lid,
	}
}
