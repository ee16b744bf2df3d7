package source

import (
	"errors"
	"testing"
)

func TestResolve_YouTubeShapes_SameID(t *testing.T) {
	const want = "dQw4w9WgXcQ"
	urls := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42s",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ",
	}
	for _, u := range urls {
		vs, err := Resolve(u, Options{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", u, err)
		}
		if vs.Backend != BackendExternal {
			t.Fatalf("%s: expected external backend, got %s", u, vs.Backend)
		}
		if vs.Platform != PlatformYouTube {
			t.Fatalf("%s: expected youtube, got %s", u, vs.Platform)
		}
		if vs.ExternalID != want {
			t.Fatalf("%s: expected id %q, got %q", u, want, vs.ExternalID)
		}
	}
}

func TestResolve_VimeoShapes_SameID(t *testing.T) {
	const want = "347119375"
	urls := []string{
		"https://vimeo.com/347119375",
		"https://player.vimeo.com/video/347119375",
		"https://vimeo.com/channels/staffpicks/347119375",
		"https://vimeo.com/groups/shortfilms/videos/347119375",
	}
	for _, u := range urls {
		vs, err := Resolve(u, Options{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", u, err)
		}
		if vs.Platform != PlatformVimeo || vs.ExternalID != want {
			t.Fatalf("%s: expected vimeo/%s, got %s/%s", u, want, vs.Platform, vs.ExternalID)
		}
	}
}

func TestResolve_ShortLinkScenario(t *testing.T) {
	vs, err := Resolve("https://youtu.be/abc12345678", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vs.Backend != BackendExternal {
		t.Fatalf("expected external_platform, got %s", vs.Backend)
	}
	if vs.Platform != PlatformYouTube {
		t.Fatalf("expected youtube, got %s", vs.Platform)
	}
	if vs.ExternalID != "abc12345678" {
		t.Fatalf("expected id 'abc12345678', got %q", vs.ExternalID)
	}
}

func TestResolve_UnknownURL_NativeFallback(t *testing.T) {
	urls := []string{
		"https://cdn.cliniksacademy.com/videos/lesson-1.mp4",
		"https://example.com/some/path",
		"not a url at all",
		"",
	}
	for _, u := range urls {
		vs, err := Resolve(u, Options{})
		if err != nil {
			t.Fatalf("%q: native fallback must never error, got %v", u, err)
		}
		if vs.Backend != BackendNative {
			t.Fatalf("%q: expected native backend, got %s", u, vs.Backend)
		}
		if vs.RawURL != u {
			t.Fatalf("%q: expected raw url preserved, got %q", u, vs.RawURL)
		}
	}
}

func TestResolve_InvalidIDLength_NotYouTube(t *testing.T) {
	// 10 chars: fails the 11-char constraint, so the URL is not a valid
	// youtube shape and falls back to native.
	vs, err := Resolve("https://youtu.be/abc1234567", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vs.Backend != BackendNative {
		t.Fatalf("expected native fallback for short id, got %s", vs.Backend)
	}
}

func TestResolve_HintWithoutID_Fails(t *testing.T) {
	_, err := Resolve("https://example.com/clip", Options{PlatformHint: PlatformYouTube})
	if err == nil {
		t.Fatal("expected resolution error")
	}
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ResolutionError, got %T", err)
	}
	if rerr.Platform != PlatformYouTube {
		t.Fatalf("expected youtube in error, got %s", rerr.Platform)
	}
}

func TestResolve_ExplicitID_TrustedWithHint(t *testing.T) {
	vs, err := Resolve("https://irrelevant.example.com/x", Options{ExplicitID: "911223344", PlatformHint: PlatformVimeo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vs.Platform != PlatformVimeo || vs.ExternalID != "911223344" {
		t.Fatalf("expected vimeo/911223344, got %s/%s", vs.Platform, vs.ExternalID)
	}
}

func TestResolve_ExplicitID_AutoDetectsPlatformFromURL(t *testing.T) {
	vs, err := Resolve("https://www.youtube.com/watch?v=dQw4w9WgXcQ", Options{ExplicitID: "zyx98765432"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vs.Platform != PlatformYouTube {
		t.Fatalf("expected youtube detected from url, got %s", vs.Platform)
	}
	if vs.ExternalID != "zyx98765432" {
		t.Fatalf("explicit id must win, got %q", vs.ExternalID)
	}
}

func TestResolve_ExplicitID_InvalidForPlatform(t *testing.T) {
	_, err := Resolve("https://vimeo.com/347119375", Options{ExplicitID: "not-numeric", PlatformHint: PlatformVimeo})
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ResolutionError, got %v", err)
	}
}

func TestResolve_NativeHint_SkipsDetection(t *testing.T) {
	vs, err := Resolve("https://youtu.be/dQw4w9WgXcQ", Options{PlatformHint: PlatformNative})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vs.Backend != BackendNative {
		t.Fatalf("native hint must force native backend, got %s", vs.Backend)
	}
}
