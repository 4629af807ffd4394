// Package backend talks to the remote speech/chat service. The engine
// only sees the Client interface; the HTTP transport, retries and
// timeouts stay behind it.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/voiceloop-ai/voiceloop/pkg/capture"
)

// ErrUnavailable means the backend could not be reached after retries
// were exhausted. The conversation engine re-arms listening after a
// delay when it sees this.
var ErrUnavailable = errors.New("backend: unavailable")

// APIError is a non-transport failure reported by the service itself.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend: %s (status %d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("backend: request failed (status %d)", e.StatusCode)
}

// Voice is the synthesized voice preference.
type Voice string

const (
	VoiceMale   Voice = "male"
	VoiceFemale Voice = "female"
)

// ConverseRequest is one full conversational turn: the captured
// utterance plus delivery preferences.
type ConverseRequest struct {
	Audio    *capture.AudioRef
	Voice    Voice
	Language string

	// HistoryRef identifies prior turns held server-side. Empty for a
	// fresh conversation.
	HistoryRef string
}

// TurnResult is the backend's reply to a ConverseRequest.
type TurnResult struct {
	// Transcript is what the service heard the user say.
	Transcript string `json:"user_text"`

	// ResponseText is the assistant's textual reply.
	ResponseText string `json:"response_text"`

	// AudioURL resolves to synthesized speech for ResponseText. Empty
	// means a text-only reply and the engine goes straight back to
	// listening.
	AudioURL string `json:"audio_url,omitempty"`

	// HistoryRef carries the updated conversation reference, when the
	// service tracks one.
	HistoryRef string `json:"history_ref,omitempty"`
}

// Client is the speech/chat service contract.
type Client interface {
	// Transcribe converts captured speech to text without generating a
	// reply. Used by the plain dictation mode.
	Transcribe(ctx context.Context, audio *capture.AudioRef) (string, error)

	// Converse runs a full turn: transcription, reply generation and
	// speech synthesis.
	Converse(ctx context.Context, req ConverseRequest) (*TurnResult, error)
}
