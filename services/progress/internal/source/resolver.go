// Package source classifies raw video URLs into playback backends and
// extracts stable external video identifiers.
package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Backend distinguishes directly served media files from third-party
// embedded players.
type Backend string

const (
	BackendNative   Backend = "native"
	BackendExternal Backend = "external_platform"
)

// Platform identifies a supported external video platform.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformVimeo   Platform = "vimeo"
	PlatformNative  Platform = "native"
	PlatformAuto    Platform = "auto"
)

// VideoSource is the resolved identity of one playback session's video.
// Immutable once constructed.
type VideoSource struct {
	Backend    Backend  `json:"backend"`
	Platform   Platform `json:"platform,omitempty"`
	ExternalID string   `json:"external_id,omitempty"`
	RawURL     string   `json:"raw_url"`
}

// ResolutionError reports a URL that was supposed to carry an external
// platform video but yielded no valid id.
type ResolutionError struct {
	URL      string
	Platform Platform
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("source: no valid %s video id in %q", e.Platform, e.URL)
}

// Options carries the optional hints accompanying a raw URL.
type Options struct {
	// ExplicitID, when set, is trusted over URL extraction as long as it
	// satisfies the platform's id constraint.
	ExplicitID string
	// PlatformHint forces a platform; PlatformAuto (or empty) detects from
	// the URL.
	PlatformHint Platform
}

var (
	youtubeIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	vimeoIDRe   = regexp.MustCompile(`^[0-9]+$`)
)

// Resolve turns a raw user-entered URL plus optional hints into a
// VideoSource. Pure function: no side effects, no network.
//
// URLs matching no known external platform shape resolve to the native
// backend with the URL itself as locator; that path never fails.
func Resolve(rawURL string, opts Options) (VideoSource, error) {
	rawURL = strings.TrimSpace(rawURL)
	hint := opts.PlatformHint
	if hint == "" {
		hint = PlatformAuto
	}

	if id := strings.TrimSpace(opts.ExplicitID); id != "" {
		platform := hint
		if platform == PlatformAuto {
			platform, _ = detect(rawURL)
		}
		switch platform {
		case PlatformYouTube, PlatformVimeo:
			if !validID(platform, id) {
				return VideoSource{}, &ResolutionError{URL: rawURL, Platform: platform}
			}
			return VideoSource{Backend: BackendExternal, Platform: platform, ExternalID: id, RawURL: rawURL}, nil
		default:
			// No platform to attribute the id to; fall through to URL detection.
		}
	}

	detected, id := detect(rawURL)

	switch hint {
	case PlatformYouTube, PlatformVimeo:
		if detected != hint || id == "" {
			return VideoSource{}, &ResolutionError{URL: rawURL, Platform: hint}
		}
		return VideoSource{Backend: BackendExternal, Platform: hint, ExternalID: id, RawURL: rawURL}, nil
	case PlatformNative:
		return VideoSource{Backend: BackendNative, RawURL: rawURL}, nil
	}

	if id != "" {
		return VideoSource{Backend: BackendExternal, Platform: detected, ExternalID: id, RawURL: rawURL}, nil
	}
	return VideoSource{Backend: BackendNative, RawURL: rawURL}, nil
}

// detect classifies a URL against the known external platform shapes.
// Returns the platform and extracted id, or ("", "") for native/unknown.
func detect(rawURL string) (Platform, string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", ""
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))

	switch host {
	case "youtube.com", "m.youtube.com", "youtube-nocookie.com":
		if id := youtubeIDFromPath(u); id != "" {
			return PlatformYouTube, id
		}
	case "youtu.be":
		if id := firstSegment(u.Path); validID(PlatformYouTube, id) {
			return PlatformYouTube, id
		}
	case "vimeo.com":
		if id := lastSegment(u.Path); validID(PlatformVimeo, id) {
			return PlatformVimeo, id
		}
	case "player.vimeo.com":
		// player.vimeo.com/video/{id}
		segs := pathSegments(u.Path)
		if len(segs) == 2 && segs[0] == "video" && validID(PlatformVimeo, segs[1]) {
			return PlatformVimeo, segs[1]
		}
	}
	return "", ""
}

// youtubeIDFromPath handles the canonical watch URL plus the embed, shorts
// and live path shapes.
func youtubeIDFromPath(u *url.URL) string {
	if v := u.Query().Get("v"); validID(PlatformYouTube, v) {
		return v
	}
	segs := pathSegments(u.Path)
	if len(segs) == 2 {
		switch segs[0] {
		case "embed", "shorts", "live", "v":
			if validID(PlatformYouTube, segs[1]) {
				return segs[1]
			}
		}
	}
	return ""
}

func validID(p Platform, id string) bool {
	switch p {
	case PlatformYouTube:
		return youtubeIDRe.MatchString(id)
	case PlatformVimeo:
		return vimeoIDRe.MatchString(id)
	}
	return false
}

func pathSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func firstSegment(p string) string {
	segs := pathSegments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

func lastSegment(p string) string {
	segs := pathSegments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
