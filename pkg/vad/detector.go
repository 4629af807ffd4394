// Package vad turns a stream of capture metering samples into a single
// utterance-boundary decision.
//
// The detector never listens to raw audio. It polls a metering function
// at a fixed interval and treats growth in voiced duration as speech and
// a flat duration as silence. This keeps the algorithm identical across
// platforms that expose push-based audio callbacks and platforms that
// only expose coarse progress polling.
package vad

import (
	"sync"
	"time"

	"github.com/voiceloop-ai/voiceloop/pkg/capture"
)

// Config holds the utterance-boundary thresholds.
type Config struct {
	// PollInterval is how often the metering function is sampled.
	PollInterval time.Duration `json:"poll_interval"`

	// SilenceThreshold is how long duration must stay flat, after speech
	// was detected, before the utterance is considered complete.
	SilenceThreshold time.Duration `json:"silence_threshold"`

	// MinSpeechMs is the minimum voiced duration for a completed
	// utterance. Shorter bursts followed by silence are treated as noise
	// and the detector resets instead of firing.
	MinSpeechMs int `json:"min_speech_ms"`

	// NoSpeechTimeout abandons the session when no speech was ever
	// detected.
	NoSpeechTimeout time.Duration `json:"no_speech_timeout"`

	// MaxCaptureMs is the hard safety cutoff. Reaching it always
	// completes the utterance regardless of silence state.
	MaxCaptureMs int `json:"max_capture_ms"`
}

// DefaultConfig returns the standard turn-taking thresholds.
func DefaultConfig() Config {
	return Config{
		PollInterval:     50 * time.Millisecond,
		SilenceThreshold: 500 * time.Millisecond,
		MinSpeechMs:      300,
		NoSpeechTimeout:  3000 * time.Millisecond,
		MaxCaptureMs:     30000,
	}
}

// MeterFunc samples the capture session the detector is watching.
type MeterFunc func() (capture.MeterSample, error)

// Callbacks receive the detector's single outcome. At most one of
// OnComplete, OnAbandon or OnError is ever invoked per detector.
type Callbacks struct {
	// OnComplete fires when an utterance boundary is found. durationMs is
	// the voiced duration to submit.
	OnComplete func(durationMs int)

	// OnAbandon fires when the no-speech timeout elapses without any
	// speech being detected.
	OnAbandon func()

	// OnError fires when the metering function fails.
	OnError func(err error)
}

// Detector watches one capture session and fires exactly one outcome.
// A fresh detector is created for every listening session; instances are
// not reusable.
type Detector struct {
	config    Config
	meter     MeterFunc
	callbacks Callbacks

	mu             sync.Mutex
	running        bool
	fired          bool
	speechDetected bool
	silenceStart   time.Time
	lastDurationMs int
	startedAt      time.Time
	stopCh         chan struct{}

	onDebug func(category, message string)
}

// NewDetector creates a detector over the given metering function.
func NewDetector(config Config, meter MeterFunc, callbacks Callbacks) *Detector {
	return &Detector{
		config:    config,
		meter:     meter,
		callbacks: callbacks,
	}
}

// SetDebug installs an optional debug callback.
func (d *Detector) SetDebug(fn func(category, message string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDebug = fn
}

// Start begins polling. Returns immediately; the outcome arrives on a
// callback. Calling Start twice is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	if d.running || d.fired {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.startedAt = time.Now()
	d.stopCh = make(chan struct{})
	stopCh := d.stopCh
	d.mu.Unlock()

	go d.pollLoop(stopCh)
}

// Stop halts polling without firing any callback. Used when the session
// ends for reasons the detector did not decide (manual stop, teardown).
// Safe to call repeatedly and concurrently with a firing tick; whichever
// wins, no callback runs after Stop returns the guard set.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.haltLocked()
	d.fired = true
}

func (d *Detector) haltLocked() {
	if d.running {
		d.running = false
		close(d.stopCh)
	}
}

// Fired reports whether the detector has reached its outcome (or was
// stopped).
func (d *Detector) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

func (d *Detector) pollLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			if d.tick(now) {
				return
			}
		}
	}
}

// tick runs one poll step. Returns true when the detector has fired and
// polling must stop.
func (d *Detector) tick(now time.Time) bool {
	sample, err := d.meter()

	d.mu.Lock()
	if d.fired {
		d.mu.Unlock()
		return true
	}

	if err != nil {
		cb := d.callbacks.OnError
		d.fireLocked()
		d.mu.Unlock()
		if cb != nil {
			cb(err)
		}
		return true
	}

	// Hard cutoff applies regardless of silence state.
	if sample.DurationMs >= d.config.MaxCaptureMs {
		d.debugLocked("VAD", "Max capture duration reached, forcing completion")
		cb := d.callbacks.OnComplete
		duration := sample.DurationMs
		d.fireLocked()
		d.mu.Unlock()
		if cb != nil {
			cb(duration)
		}
		return true
	}

	if sample.DurationMs > d.lastDurationMs {
		// Fresh audio arriving.
		d.speechDetected = true
		d.silenceStart = time.Time{}
		d.lastDurationMs = sample.DurationMs
		d.mu.Unlock()
		return false
	}

	if d.speechDetected {
		if d.silenceStart.IsZero() {
			d.silenceStart = now
			d.mu.Unlock()
			return false
		}
		if now.Sub(d.silenceStart) >= d.config.SilenceThreshold {
			if d.lastDurationMs >= d.config.MinSpeechMs {
				cb := d.callbacks.OnComplete
				duration := d.lastDurationMs
				d.fireLocked()
				d.mu.Unlock()
				if cb != nil {
					cb(duration)
				}
				return true
			}
			// Too short to be speech. False start; keep polling.
			d.debugLocked("VAD", "Discarding false start, resuming silence watch")
			d.speechDetected = false
			d.silenceStart = time.Time{}
		}
		d.mu.Unlock()
		return false
	}

	if now.Sub(d.startedAt) >= d.config.NoSpeechTimeout {
		cb := d.callbacks.OnAbandon
		d.fireLocked()
		d.mu.Unlock()
		if cb != nil {
			cb()
		}
		return true
	}

	d.mu.Unlock()
	return false
}

func (d *Detector) fireLocked() {
	d.fired = true
	d.haltLocked()
}

// debugLocked is called with the mutex held; debug callbacks must not
// re-enter the detector.
func (d *Detector) debugLocked(category, message string) {
	if d.onDebug != nil {
		d.onDebug(category, message)
	}
}
