package playback

import (
	"context"
	"sync"
)

// EmbedAPILoader lazily initialises the external player control API and
// tears it down once the last holder releases it. It replaces the old
// window-global "script already injected?" singleton: consumers acquire the
// API explicitly and the loader reference-counts them.
type EmbedAPILoader struct {
	mu sync.Mutex

	init func(ctx context.Context) (EmbedControlAPI, func() error, error)

	api      EmbedControlAPI
	teardown func() error
	refs     int
}

// NewEmbedAPILoader wraps an init function that loads the control API and
// returns it together with its teardown.
func NewEmbedAPILoader(init func(ctx context.Context) (EmbedControlAPI, func() error, error)) *EmbedAPILoader {
	return &EmbedAPILoader{init: init}
}

// Acquire returns the shared control API, loading it on first use.
// The returned release func is idempotent; the API is torn down when the
// last outstanding holder releases, and a later Acquire loads it again.
func (l *EmbedAPILoader) Acquire(ctx context.Context) (EmbedControlAPI, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		api, teardown, err := l.init(ctx)
		if err != nil {
			return nil, nil, err
		}
		l.api = api
		l.teardown = teardown
	}
	l.refs++

	var once sync.Once
	release := func() {
		once.Do(l.release)
	}
	return l.api, release, nil
}

// Refs reports the number of outstanding holders.
func (l *EmbedAPILoader) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

func (l *EmbedAPILoader) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refs--
	if l.refs > 0 {
		return
	}
	l.refs = 0
	if l.teardown != nil {
		_ = l.teardown()
	}
	l.api = nil
	l.teardown = nil
}
