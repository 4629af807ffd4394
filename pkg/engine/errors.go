package engine

import "errors"

var (
	// ErrNotOpen means an operation arrived while the voice UI is
	// closed.
	ErrNotOpen = errors.New("engine: not open")

	// ErrAlreadyOpen means Open was called while a conversation loop is
	// already running.
	ErrAlreadyOpen = errors.New("engine: already open")

	// ErrNotListening means a manual stop arrived outside the Listening
	// state.
	ErrNotListening = errors.New("engine: not listening")

	// ErrStopDebounced means a manual stop tap arrived too soon after
	// the previous accepted tap and was ignored.
	ErrStopDebounced = errors.New("engine: stop tap debounced")

	// ErrTooEarlyToStop means the recording is younger than the minimum
	// stop age. The UI should tell the user to keep going rather than
	// silently swallowing the tap.
	ErrTooEarlyToStop = errors.New("engine: recording too young to stop")

	// ErrTooShortToSubmit means the finished capture was below the
	// minimum utterance duration and was discarded.
	ErrTooShortToSubmit = errors.New("engine: capture too short to submit")

	// ErrDictationActive means a dictation session is already running.
	ErrDictationActive = errors.New("engine: dictation already active")
)
