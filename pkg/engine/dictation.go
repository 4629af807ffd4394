package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voiceloop-ai/voiceloop/pkg/capture"
)

// StartDictation begins a one-shot mic-to-text recording. Unlike the
// conversation loop there is no detector and no reply; the user taps to
// stop and the capture goes to the transcription endpoint. Dictation and
// the conversation loop are mutually exclusive because both need the
// listening capture slot.
func (e *Engine) StartDictation(ctx context.Context) error {
	e.mu.Lock()
	if e.open {
		e.mu.Unlock()
		return ErrAlreadyOpen
	}
	if e.dictSession != nil {
		e.mu.Unlock()
		return ErrDictationActive
	}
	e.mu.Unlock()

	session, err := e.capture.Start(ctx, capture.ModeListening)
	if err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("start dictation: %w", err)
	}

	e.mu.Lock()
	if e.open || e.dictSession != nil {
		// Raced with Open or another dictation start.
		e.mu.Unlock()
		e.capture.Destroy(session)
		return ErrAlreadyOpen
	}
	e.dictSession = session
	e.mu.Unlock()
	return nil
}

// StopDictation finalizes the dictation recording and returns the
// recognized text. The same tap rules as the conversation loop apply:
// rapid repeat taps are debounced and a recording younger than the
// minimum age is refused with ErrTooEarlyToStop, keeping the session
// alive for a later tap. A capture below the minimum submit duration is
// discarded and ErrTooShortToSubmit returned.
func (e *Engine) StopDictation(ctx context.Context) (string, error) {
	e.mu.Lock()
	session := e.dictSession
	if session == nil {
		e.mu.Unlock()
		return "", ErrNotListening
	}
	now := time.Now()
	if now.Sub(e.dictStopTap) < e.cfg.StopDebounce {
		e.mu.Unlock()
		return "", ErrStopDebounced
	}
	e.dictStopTap = now
	if session.Age() < e.cfg.MinStopAge {
		e.mu.Unlock()
		return "", ErrTooEarlyToStop
	}
	e.dictSession = nil
	e.mu.Unlock()

	ref, err := e.capture.Stop(session)
	e.capture.Destroy(session)
	if err != nil {
		return "", fmt.Errorf("finalize dictation: %w", err)
	}
	if ref.DurationMs < e.cfg.MinSubmitMs {
		return "", ErrTooShortToSubmit
	}

	text, err := e.client.Transcribe(ctx, ref)
	if err != nil {
		return "", err
	}
	e.emit(DictationTextEvent{Text: text})
	return text, nil
}

// CancelDictation discards an in-progress dictation recording without
// transcribing. Safe to call when none is active.
func (e *Engine) CancelDictation() {
	e.mu.Lock()
	session := e.dictSession
	e.dictSession = nil
	e.mu.Unlock()

	if session != nil {
		e.capture.Destroy(session)
	}
}
