// Package engine drives hands-free conversational turn-taking over a
// microphone, a speaker and a remote speech/chat service.
//
// # Architecture
//
// The engine coordinates four collaborators:
//
//   - capture.Controller: single-writer access to the microphone
//   - vad.Detector: finds utterance boundaries by polling capture progress
//   - playback.Player: plays the synthesized reply
//   - interrupt.Monitor: watches for the user talking over playback
//
// # State Machine
//
// One conversation turn walks the loop:
//
//	IDLE → LISTENING → THINKING → SPEAKING → LISTENING
//	          ↑            │           │
//	          ├── no audio ┘           │
//	          └──── interruption ──────┘
//
// Listening re-arms automatically after every turn, after a no-speech
// timeout, and (after a short delay) after errors, so the conversation
// keeps flowing without the user touching anything. Closing the engine
// from any state releases every resource and returns to IDLE.
//
// # Usage
//
//	ctrl := capture.NewController(factory, permission)
//	eng := engine.New(engine.DefaultConfig(), engine.Deps{
//	    Capture: ctrl,
//	    Player:  player,
//	    Backend: client,
//	})
//
//	if err := eng.Open(ctx); err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	for ev := range eng.Events() {
//	    switch ev := ev.(type) {
//	    case engine.UserTranscriptEvent:
//	        fmt.Println("you:", ev.Transcript)
//	    case engine.AssistantReplyEvent:
//	        fmt.Println("assistant:", ev.Text)
//	    }
//	}
//
// A simpler one-shot dictation mode (StartDictation/StopDictation) records
// once and transcribes without generating a reply.
package engine
