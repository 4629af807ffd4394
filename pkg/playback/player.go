// Package playback plays synthesized speech and reports completion.
package playback

import (
	"context"
	"errors"
	"sync"
)

// ErrPlaybackFailed wraps load or device errors while playing synthesized
// audio. It is non-fatal to the conversation; callers treat it like a
// reply with no audio.
var ErrPlaybackFailed = errors.New("playback: failed")

// Result is the single terminal outcome of one Play call. Err is nil when
// the audio finished or was stopped, non-nil when playback failed partway.
type Result struct {
	Err error
	// Stopped reports that Stop ended the playback before the audio
	// finished on its own.
	Stopped bool
}

// Player starts playback of a resolvable audio reference.
type Player interface {
	// Play begins playing the referenced audio. It returns once playback
	// has started; the terminal outcome arrives exactly once on the
	// handle. A load or fetch error is returned directly (wrapped in
	// ErrPlaybackFailed) and no handle is created.
	Play(ctx context.Context, ref string) (*Handle, error)
}

// Handle controls one in-flight playback. Done delivers exactly one
// Result per Play call, whether the audio finished, failed or was
// stopped.
type Handle struct {
	done chan Result

	mu       sync.Mutex
	finished bool
	stopped  bool
	onStop   func()
}

// NewHandle creates a handle for a Player implementation. onStop, when
// non-nil, runs once when Stop preempts the playback.
func NewHandle(onStop func()) *Handle {
	return &Handle{
		done:   make(chan Result, 1),
		onStop: onStop,
	}
}

// Done returns the channel carrying the terminal Result.
func (h *Handle) Done() <-chan Result {
	return h.done
}

// Stop halts playback. Idempotent; the second and later calls are no-ops,
// as is stopping after the audio already finished.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.finished || h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	onStop := h.onStop
	h.mu.Unlock()

	if onStop != nil {
		onStop()
	}
	h.Finish(Result{Stopped: true})
}

// Finish delivers the terminal result. Player implementations call it
// when the audio ends or fails; only the first call per handle has any
// effect.
func (h *Handle) Finish(result Result) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.mu.Unlock()
	h.done <- result
}

// wasStopped reports whether Stop has been called.
func (h *Handle) wasStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
