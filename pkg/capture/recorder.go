package capture

import (
	"context"
	"time"
)

// Mode identifies which capture slot a session occupies. The listening
// slot feeds the VAD; the interruption-monitor slot runs only while
// synthesized audio is playing and is used purely for metering.
type Mode string

const (
	// ModeListening is the primary capture used to record an utterance.
	ModeListening Mode = "listening"
	// ModeInterruptionMonitor is the secondary metering-only capture that
	// watches for the user talking over playback.
	ModeInterruptionMonitor Mode = "interruption_monitor"
)

// MeterSample is a non-blocking snapshot of capture progress.
//
// DurationMs advances only while voice-level audio is arriving, so a poll
// loop can treat duration growth as speech activity and a flat duration as
// silence. LevelDB is the most recent chunk's level in dBFS.
type MeterSample struct {
	DurationMs int
	LevelDB    float64
}

// AudioRef is an opaque reference to finalized captured audio.
type AudioRef struct {
	Data       []byte
	Format     string // e.g. "pcm_s16le", "wav"
	DurationMs int    // voiced duration, mirrors MeterSample.DurationMs
}

// Recorder is the platform capture capability behind a session. A platform
// with push-based audio callbacks implements Meter from its latest
// callback data; a platform with only coarse status polling implements it
// directly. Either way the VAD algorithm above it is unchanged.
type Recorder interface {
	// Begin opens the underlying stream and starts capturing.
	Begin(ctx context.Context) error

	// Meter returns the most recent capture progress without blocking on
	// hardware I/O.
	Meter() (MeterSample, error)

	// End stops the stream and returns the captured audio.
	End() (*AudioRef, error)

	// Release force-frees underlying resources. Safe to call at any
	// point, including after End or a failed Begin.
	Release()
}

// RecorderFactory creates a fresh Recorder for each session.
type RecorderFactory func(mode Mode) (Recorder, error)

// PermissionFunc checks (and if needed requests) microphone permission.
// It returns ErrPermissionDenied when access is refused.
type PermissionFunc func(ctx context.Context) error

// Session represents one active microphone capture.
type Session struct {
	ID        string
	Mode      Mode
	StartedAt time.Time

	rec       Recorder
	stopped   bool
	destroyed bool
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	return time.Since(s.StartedAt)
}
