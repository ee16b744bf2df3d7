package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/example/cliniks-academy/internal/platform/api"
	"github.com/example/cliniks-academy/internal/platform/httpserver"
	"github.com/example/cliniks-academy/services/progress/internal/reconcile"
)

// RecomputeCourseProgress forces a recomputation of a user's course progress
// from lesson completion state. Admin-only; used to repair drift after
// catalog edits (lessons added or removed from a course).
func RecomputeCourseProgress(rec *reconcile.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
		if err != nil {
			api.BadRequest(w, "INVALID_USER_ID", "user_id must be a UUID", rid, nil)
			return
		}
		courseID, err := uuid.Parse(chi.URLParam(r, "course_id"))
		if err != nil {
			api.BadRequest(w, "INVALID_COURSE_ID", "course_id must be a UUID", rid, nil)
			return
		}

		enrollment, err := rec.RecomputeCourseProgress(r.Context(), userID, courseID)
		if err != nil {
			api.BadGateway(w, "RECOMPUTE_FAILED", "Could not recompute course progress", rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, enrollment)
	}
}
