package engine

import (
	"time"

	"github.com/voiceloop-ai/voiceloop/pkg/backend"
	"github.com/voiceloop-ai/voiceloop/pkg/interrupt"
	"github.com/voiceloop-ai/voiceloop/pkg/vad"
)

// State is the engine's single source of truth. Every capture and
// playback lifecycle follows transitions of this value.
type State string

const (
	// StateIdle means the voice UI is closed and no resources are held.
	StateIdle State = "idle"
	// StateListening means a capture session is live and the detector is
	// watching for an utterance boundary.
	StateListening State = "listening"
	// StateThinking means an utterance was submitted and the engine is
	// waiting on the backend.
	StateThinking State = "thinking"
	// StateSpeaking means synthesized audio is playing, with the
	// interruption monitor watching when the platform allows it.
	StateSpeaking State = "speaking"
)

// Config tunes the conversation loop. Zero values fall back to the
// defaults from DefaultConfig.
type Config struct {
	// VAD holds the utterance-boundary thresholds for listening.
	VAD vad.Config `json:"vad"`

	// Interrupt holds the barge-in thresholds used during playback.
	Interrupt interrupt.Config `json:"interrupt"`

	// Voice is the synthesized voice preference sent with each turn.
	Voice backend.Voice `json:"voice"`

	// Language is the BCP-47 style language tag for transcription.
	Language string `json:"language"`

	// MinSubmitMs is the smallest utterance worth sending to the
	// backend. Shorter captures are discarded and listening re-arms.
	MinSubmitMs int `json:"min_submit_ms"`

	// RearmDelay is the pause before restarting capture after an error,
	// so a failing microphone or backend is not hammered in a tight loop.
	RearmDelay time.Duration `json:"rearm_delay"`

	// StopDebounce is the minimum spacing between accepted manual stop
	// taps.
	StopDebounce time.Duration `json:"stop_debounce"`

	// MinStopAge is how old a recording must be before a manual stop is
	// accepted; younger stops get ErrTooEarlyToStop so the UI can show a
	// "keep holding" hint instead of silently ignoring the tap.
	MinStopAge time.Duration `json:"min_stop_age"`

	// EventBuffer sizes the event channel. Events beyond it are dropped
	// rather than blocking the loop.
	EventBuffer int `json:"event_buffer"`
}

// DefaultConfig returns the standard conversation-loop tuning.
func DefaultConfig() Config {
	return Config{
		VAD:          vad.DefaultConfig(),
		Interrupt:    interrupt.DefaultConfig(),
		Voice:        backend.VoiceMale,
		Language:     "en",
		MinSubmitMs:  500,
		RearmDelay:   1500 * time.Millisecond,
		StopDebounce: 500 * time.Millisecond,
		MinStopAge:   800 * time.Millisecond,
		EventBuffer:  64,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.VAD == (vad.Config{}) {
		c.VAD = def.VAD
	}
	if c.Interrupt == (interrupt.Config{}) {
		c.Interrupt = def.Interrupt
	}
	if c.Voice == "" {
		c.Voice = def.Voice
	}
	if c.Language == "" {
		c.Language = def.Language
	}
	if c.MinSubmitMs == 0 {
		c.MinSubmitMs = def.MinSubmitMs
	}
	if c.RearmDelay == 0 {
		c.RearmDelay = def.RearmDelay
	}
	if c.StopDebounce == 0 {
		c.StopDebounce = def.StopDebounce
	}
	if c.MinStopAge == 0 {
		c.MinStopAge = def.MinStopAge
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}
