package playback

import (
	"context"
	"errors"
	"sync"
)

// ErrSourceNotReady is returned by control APIs whose player has not loaded
// a duration yet.
var ErrSourceNotReady = errors.New("playback: position source not ready")

// MediaElementSource adapts a native media element clock. The UI event
// bridge pushes readings in via Set; the tracker samples them on Tick.
type MediaElementSource struct {
	mu       sync.RWMutex
	current  float64
	duration float64
}

func NewMediaElementSource() *MediaElementSource {
	return &MediaElementSource{}
}

// Set records the latest timeupdate reading from the media element.
func (s *MediaElementSource) Set(currentTime, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = currentTime
	s.duration = duration
}

func (s *MediaElementSource) CurrentTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *MediaElementSource) Duration() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration
}

// EmbedControlAPI is the minimal control surface of an embedded third-party
// player. Calls may hit a remote bridge and can fail.
type EmbedControlAPI interface {
	GetCurrentTime(ctx context.Context) (float64, error)
	GetDuration(ctx context.Context) (float64, error)
}

// EmbedPlayerSource adapts an EmbedControlAPI into a PositionSource.
// The tracker's poll loop drives Refresh once per interval; CurrentTime and
// Duration return the last successful readings.
type EmbedPlayerSource struct {
	api EmbedControlAPI

	mu       sync.RWMutex
	current  float64
	duration float64
}

func NewEmbedPlayerSource(api EmbedControlAPI) *EmbedPlayerSource {
	return &EmbedPlayerSource{api: api}
}

// Refresh pulls fresh readings from the control API.
func (s *EmbedPlayerSource) Refresh(ctx context.Context) error {
	cur, err := s.api.GetCurrentTime(ctx)
	if err != nil {
		return err
	}
	dur, err := s.api.GetDuration(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = cur
	s.duration = dur
	s.mu.Unlock()
	return nil
}

func (s *EmbedPlayerSource) CurrentTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *EmbedPlayerSource) Duration() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration
}
