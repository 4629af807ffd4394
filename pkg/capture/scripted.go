package capture

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedRecorder replays a fixed sequence of meter samples. Each Meter
// call returns the next sample in the script; once the script is
// exhausted the final sample repeats. It exists so polling components
// can be driven deterministically in tests and simulations.
type ScriptedRecorder struct {
	mu       sync.Mutex
	script   []MeterSample
	idx      int
	began    bool
	ended    bool
	released bool

	// BeginErr, MeterErr and EndErr inject failures at each stage.
	BeginErr error
	MeterErr error
	EndErr   error

	// Audio is what End returns; if nil a ref is synthesized from the
	// last scripted sample.
	Audio *AudioRef
}

// NewScriptedRecorder returns a recorder that replays script in order.
func NewScriptedRecorder(script ...MeterSample) *ScriptedRecorder {
	return &ScriptedRecorder{script: script}
}

func (s *ScriptedRecorder) Begin(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BeginErr != nil {
		return s.BeginErr
	}
	s.began = true
	return nil
}

func (s *ScriptedRecorder) Meter() (MeterSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MeterErr != nil {
		return MeterSample{}, s.MeterErr
	}
	if !s.began || s.released {
		return MeterSample{}, fmt.Errorf("scripted recorder not recording")
	}
	if len(s.script) == 0 {
		return MeterSample{}, nil
	}
	sample := s.script[s.idx]
	if s.idx < len(s.script)-1 {
		s.idx++
	}
	return sample, nil
}

func (s *ScriptedRecorder) End() (*AudioRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndErr != nil {
		return nil, s.EndErr
	}
	if !s.began || s.ended {
		return nil, fmt.Errorf("scripted recorder not recording")
	}
	s.ended = true
	if s.Audio != nil {
		return s.Audio, nil
	}
	durationMs := 0
	if len(s.script) > 0 {
		durationMs = s.script[len(s.script)-1].DurationMs
	}
	return &AudioRef{Format: "pcm_s16le", DurationMs: durationMs}, nil
}

func (s *ScriptedRecorder) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

// Released reports whether Release has been called.
func (s *ScriptedRecorder) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
