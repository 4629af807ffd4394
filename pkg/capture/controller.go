package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied means microphone access was refused. Terminal
	// for the current attempt; never retried automatically.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrBusy means a session of the same mode is already recording.
	ErrBusy = errors.New("capture: session already active for mode")

	// ErrAlreadyStopped is returned by the second and later Stop calls on
	// the same session. Callers may treat it as a no-op.
	ErrAlreadyStopped = errors.New("capture: session already stopped")

	// ErrCaptureFailed wraps hardware or OS-level capture failures.
	ErrCaptureFailed = errors.New("capture: recording failed")
)

// Controller owns single-writer access to the microphone. It holds at most
// one session per Mode; the two slots are independent so a listening
// recording and an interruption monitor can never be conflated into one
// mutable reference.
//
// Callers never touch Recorder handles directly. Every lifecycle path
// (stop, error, teardown) routes through the controller so no exit path
// can leave the microphone held open.
type Controller struct {
	mu          sync.Mutex
	newRecorder RecorderFactory
	permission  PermissionFunc
	slots       map[Mode]*Session
	starting    map[Mode]bool

	onDebug func(category, message string)
}

// NewController creates a capture controller. permission may be nil when
// the platform needs no permission prompt.
func NewController(factory RecorderFactory, permission PermissionFunc) *Controller {
	return &Controller{
		newRecorder: factory,
		permission:  permission,
		slots:       make(map[Mode]*Session),
		starting:    make(map[Mode]bool),
	}
}

// SetDebug installs an optional debug callback.
func (c *Controller) SetDebug(fn func(category, message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDebug = fn
}

// Start opens a new capture session for the given mode.
//
// Any stale session left in the slot (stopped but not destroyed, or
// orphaned by an earlier error) is destroyed first. If the slot holds a
// session that is still recording, Start fails with ErrBusy; that
// indicates a coordinator bug, not a user condition. A concurrent Start
// for the same mode also fails with ErrBusy.
func (c *Controller) Start(ctx context.Context, mode Mode) (*Session, error) {
	c.mu.Lock()
	if c.starting[mode] {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (start in progress)", ErrBusy, mode)
	}
	if existing := c.slots[mode]; existing != nil {
		if !existing.stopped {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrBusy, mode)
		}
		// Stale: stopped but never destroyed.
		c.destroyLocked(existing)
	}
	c.starting[mode] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.starting, mode)
		c.mu.Unlock()
	}()

	if c.permission != nil {
		if err := c.permission(ctx); err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}

	rec, err := c.newRecorder(mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if err := rec.Begin(ctx); err != nil {
		rec.Release()
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	session := &Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now(),
		rec:       rec,
	}

	c.mu.Lock()
	c.slots[mode] = session
	c.mu.Unlock()

	c.debug("CAPTURE", fmt.Sprintf("Started %s session %s", mode, session.ID))
	return session, nil
}

// Stop finalizes the session and returns the captured audio. The second
// call on the same session returns ErrAlreadyStopped without side effects.
func (c *Controller) Stop(session *Session) (*AudioRef, error) {
	if session == nil {
		return nil, ErrAlreadyStopped
	}

	c.mu.Lock()
	if session.stopped {
		c.mu.Unlock()
		return nil, ErrAlreadyStopped
	}
	session.stopped = true
	rec := session.rec
	c.mu.Unlock()

	ref, err := rec.End()
	if err != nil {
		c.Destroy(session)
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	c.debug("CAPTURE", fmt.Sprintf("Stopped %s session %s (%dms)", session.Mode, session.ID, ref.DurationMs))
	return ref, nil
}

// Destroy force-releases a session's resources. Safe on nil, on an
// already-stopped session, and on repeat calls, so every exit path
// (normal stop, error, engine teardown) can call it unconditionally.
func (c *Controller) Destroy(session *Session) {
	if session == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyLocked(session)
}

func (c *Controller) destroyLocked(session *Session) {
	if session.destroyed {
		return
	}
	session.stopped = true
	session.destroyed = true
	session.rec.Release()
	if c.slots[session.Mode] == session {
		delete(c.slots, session.Mode)
	}
}

// DestroyAll tears down every active session. Used on engine close.
func (c *Controller) DestroyAll() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.slots))
	for _, s := range c.slots {
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		c.destroyLocked(s)
	}
	c.mu.Unlock()
}

// Meter polls the session's capture progress without blocking. A metering
// failure on a live session destroys it and surfaces ErrCaptureFailed;
// the caller decides whether to re-arm.
func (c *Controller) Meter(session *Session) (MeterSample, error) {
	if session == nil {
		return MeterSample{}, ErrAlreadyStopped
	}

	c.mu.Lock()
	if session.stopped {
		c.mu.Unlock()
		return MeterSample{}, ErrAlreadyStopped
	}
	rec := session.rec
	c.mu.Unlock()

	sample, err := rec.Meter()
	if err != nil {
		c.Destroy(session)
		return MeterSample{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	return sample, nil
}

// Active reports whether a live (not stopped) session occupies the slot.
func (c *Controller) Active(mode Mode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.slots[mode]
	return s != nil && !s.stopped
}

func (c *Controller) debug(category, message string) {
	c.mu.Lock()
	fn := c.onDebug
	c.mu.Unlock()
	if fn != nil {
		fn(category, message)
	}
}
