// Package playback tracks the position of one playback session and turns it
// into a normalized progress stream with a one-shot completion event.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/cliniks-academy/services/progress/internal/source"
)

// DefaultThresholdPercent is the watched percentage at which a lesson counts
// as completed. Overridable per tracker and per service config.
const DefaultThresholdPercent = 95.0

// DefaultPollInterval is how often polled position sources are sampled.
const DefaultPollInterval = time.Second

// Phase is the tracker's lifecycle state.
type Phase string

const (
	PhaseNotReady  Phase = "not_ready"
	PhaseTracking  Phase = "tracking"
	PhaseCompleted Phase = "completed"
)

// State is a point-in-time snapshot of a playback session.
type State struct {
	CurrentTimeSeconds float64
	DurationSeconds    float64
	ProgressPercent    float64
	Playing            bool
	CompletionFired    bool
	Phase              Phase
}

// PositionSource reports the playback clock of whichever backend is active.
// Implementations must be cheap to call; the tracker samples them once per
// tick.
type PositionSource interface {
	CurrentTime() float64
	Duration() float64
}

// Refresher is optionally implemented by position sources that need to pull
// fresh readings from a remote control API before being sampled.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options configures a Tracker.
type Options struct {
	// ThresholdPercent in (0,100]; zero means DefaultThresholdPercent.
	ThresholdPercent float64
	// PollInterval for Start's polling loop; zero means DefaultPollInterval.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Tracker owns the mutable state of exactly one playback session.
// Not shared between sessions; create one per mounted player and Stop it on
// unmount.
type Tracker struct {
	mu sync.Mutex

	video     source.VideoSource
	src       PositionSource
	threshold float64
	interval  time.Duration
	log       *zap.Logger

	onProgress []func(percent float64)
	onComplete []func()

	state   State
	paused  bool
	started bool
	stopped bool
	done    chan struct{}
}

// NewTracker builds a tracker for a resolved video backed by the given
// position source.
func NewTracker(video source.VideoSource, src PositionSource, opts Options) *Tracker {
	threshold := opts.ThresholdPercent
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThresholdPercent
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		video:     video,
		src:       src,
		threshold: threshold,
		interval:  interval,
		log:       log,
		state:     State{Phase: PhaseNotReady, Playing: true},
	}
}

// OnProgress registers a subscriber for progress percentages.
// Subscribers run on the tick path and must not call back into the tracker.
func (t *Tracker) OnProgress(fn func(percent float64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onProgress = append(t.onProgress, fn)
}

// OnComplete registers a subscriber for the one-shot completion event.
// Subscribers run on the tick path and must not call back into the tracker.
func (t *Tracker) OnComplete(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onComplete = append(t.onComplete, fn)
}

// Start launches the polling loop for pull-based sources. Event-driven
// sources can skip Start and push through Tick instead. Calling Start twice
// is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	done := make(chan struct{})
	t.done = done
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				t.poll(ctx)
			}
		}
	}()
}

func (t *Tracker) poll(ctx context.Context) {
	if t.isPaused() {
		return
	}
	if r, ok := t.src.(Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			t.log.Debug("playback: position refresh failed", zap.Error(err))
			return
		}
	}
	t.Tick()
}

// Tick samples the position source once and advances the session state.
// Safe to call from UI event callbacks; ignored while paused or after Stop.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.paused {
		return
	}

	cur := t.src.CurrentTime()
	dur := t.src.Duration()
	// Live-style embeds report NaN/Inf durations; stay not_ready forever.
	if dur <= 0 || math.IsNaN(dur) || math.IsInf(dur, 0) || math.IsNaN(cur) {
		return
	}
	if t.state.Phase == PhaseNotReady {
		t.state.Phase = PhaseTracking
	}

	progress := 100 * cur / dur
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	t.state.CurrentTimeSeconds = cur
	t.state.DurationSeconds = dur
	t.state.ProgressPercent = progress

	for _, fn := range t.onProgress {
		fn(progress)
	}

	// Strict latch: fires once, never resets within the session, even when a
	// backward seek drops progress below the threshold afterwards.
	if !t.state.CompletionFired && progress >= t.threshold {
		t.state.CompletionFired = true
		t.state.Phase = PhaseCompleted
		for _, fn := range t.onComplete {
			fn()
		}
	}
}

// Pause suspends tick emission without resetting any state.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
	t.state.Playing = false
}

// Resume re-enables tick emission after Pause.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.paused = false
	t.state.Playing = true
}

// Stop cancels the polling loop and disables all future ticks.
// When Stop returns, no subscriber will be invoked again: any in-flight tick
// holds the tracker lock, so Stop blocks until it drains.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.state.Playing = false
	if t.done != nil {
		close(t.done)
	}
}

// Snapshot returns the current session state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Video returns the immutable source this tracker was built for.
func (t *Tracker) Video() source.VideoSource {
	return t.video
}

func (t *Tracker) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused || t.stopped
}
