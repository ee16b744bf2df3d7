package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/cliniks-academy/internal/platform/analytics"
	"github.com/example/cliniks-academy/internal/platform/api"
	"github.com/example/cliniks-academy/internal/platform/auth"
	"github.com/example/cliniks-academy/internal/platform/httpserver"
	"github.com/example/cliniks-academy/services/progress/internal/source"
)

type resolveRequest struct {
	URL      string `json:"url"`
	VideoID  string `json:"video_id,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ResolveVideo classifies a raw video URL before the client mounts a player.
// Unresolvable external videos yield 422 so the UI can show its
// "video unavailable" state instead of starting a tracker.
func ResolveVideo(ap *analytics.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok || strings.TrimSpace(uid) == "" {
			api.Unauthorized(w, "AUTH_MISSING", "Missing auth", rid)
			return
		}

		var req resolveRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
			return
		}

		vs, err := source.Resolve(req.URL, source.Options{
			ExplicitID:   req.VideoID,
			PlatformHint: source.Platform(strings.ToLower(strings.TrimSpace(req.Platform))),
		})
		if err != nil {
			var rerr *source.ResolutionError
			if errors.As(err, &rerr) {
				api.Unprocessable(w, "VIDEO_UNAVAILABLE", "No playable video at this URL", rid, map[string]any{
					"url":      rerr.URL,
					"platform": string(rerr.Platform),
				})
				return
			}
			api.Internal(w, rid)
			return
		}

		// A successful resolve means a player is about to mount.
		ap.Publish(analytics.SubjectPlaybackStarted, "playback_started", uid, map[string]any{
			"backend":     string(vs.Backend),
			"platform":    string(vs.Platform),
			"external_id": vs.ExternalID,
		})
		api.WriteJSON(w, http.StatusOK, vs)
	}
}
