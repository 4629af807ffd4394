package engine

// Event is a notification from the conversation loop. Consumers read
// them from Engine.Events; the channel is buffered and never blocks the
// loop, so a slow consumer loses events rather than stalling audio.
type Event interface {
	EventType() string
}

// StateChangedEvent reports a state transition.
type StateChangedEvent struct {
	From State
	To   State
}

func (StateChangedEvent) EventType() string { return "state_changed" }

// UserTranscriptEvent carries what the backend heard the user say.
type UserTranscriptEvent struct {
	Transcript string
	DurationMs int
}

func (UserTranscriptEvent) EventType() string { return "user_transcript" }

// AssistantReplyEvent carries the assistant's textual reply. HasAudio
// reports whether synthesized speech follows.
type AssistantReplyEvent struct {
	Text     string
	HasAudio bool
}

func (AssistantReplyEvent) EventType() string { return "assistant_reply" }

// InterruptedEvent reports that the user talked over playback and the
// engine preempted it. The UI should clear the in-progress reply.
type InterruptedEvent struct{}

func (InterruptedEvent) EventType() string { return "interrupted" }

// TurnErrorEvent reports a failure during a turn. UserVisible is set for
// conditions worth an explanatory message (permission denied, backend
// unreachable); everything else degrades to a silent retry.
type TurnErrorEvent struct {
	Stage       string // "capture", "backend", "playback"
	Err         error
	UserVisible bool
}

func (TurnErrorEvent) EventType() string { return "turn_error" }

// UtteranceDiscardedEvent reports a capture too short to submit. Not a
// user-facing error; listening re-arms immediately.
type UtteranceDiscardedEvent struct {
	DurationMs int
}

func (UtteranceDiscardedEvent) EventType() string { return "utterance_discarded" }

// DictationTextEvent carries recognized text from the plain dictation
// mode.
type DictationTextEvent struct {
	Text string
}

func (DictationTextEvent) EventType() string { return "dictation_text" }

// DebugEvent carries internal diagnostics from the engine's components.
type DebugEvent struct {
	Category string
	Message  string
}

func (DebugEvent) EventType() string { return "debug" }
