package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voiceloop-ai/voiceloop/pkg/backend"
	"github.com/voiceloop-ai/voiceloop/pkg/capture"
	"github.com/voiceloop-ai/voiceloop/pkg/interrupt"
	"github.com/voiceloop-ai/voiceloop/pkg/playback"
	"github.com/voiceloop-ai/voiceloop/pkg/vad"
)

// Deps are the collaborators the engine orchestrates. The engine never
// touches microphone or speaker handles directly; every lifecycle goes
// through these.
type Deps struct {
	Capture *capture.Controller
	Player  playback.Player
	Backend backend.Client
}

// Engine runs the conversational turn loop: listen for an utterance,
// submit it, speak the reply, listen again. It also offers a plain
// dictation mode that records once and transcribes without a reply.
//
// All transitions are serialized under one mutex and stamped with a
// generation counter. Every asynchronous completion (detector firing,
// backend reply, playback finishing, a scheduled re-arm) revalidates the
// generation before applying its effects, so results that arrive after
// the engine has moved on are dropped instead of corrupting state.
type Engine struct {
	cfg     Config
	capture *capture.Controller
	player  playback.Player
	client  backend.Client

	events chan Event

	mu     sync.Mutex
	state  State
	gen    uint64
	open   bool
	ctx    context.Context
	cancel context.CancelFunc

	session  *capture.Session
	detector *vad.Detector

	monitor        *interrupt.Monitor
	monitorSession *capture.Session
	handle         *playback.Handle

	historyRef  string
	rearmTimer  *time.Timer
	lastStopTap time.Time

	dictSession *capture.Session
	dictStopTap time.Time
}

// New creates an engine in the Idle state.
func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		capture: deps.Capture,
		player:  deps.Player,
		client:  deps.Backend,
		state:   StateIdle,
		events:  make(chan Event, cfg.EventBuffer),
	}
	e.capture.SetDebug(func(category, message string) {
		e.emit(DebugEvent{Category: category, Message: message})
	})
	return e
}

// Events returns the engine's notification channel. It is never closed;
// consumers stop reading after Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Open starts the conversation loop: the engine transitions to Listening
// and arms the first capture. The context governs everything the loop
// does until Close.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open {
		return ErrAlreadyOpen
	}
	if e.dictSession != nil {
		return ErrDictationActive
	}

	e.open = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.setStateLocked(StateListening)
	e.gen++
	go e.armCapture(e.gen)
	return nil
}

// Close tears the engine down from any state: capture sessions are
// destroyed, playback stopped, pending timers cancelled, and the state
// returns to Idle. Idempotent; the engine can be opened again afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.open && e.dictSession == nil {
		e.mu.Unlock()
		return
	}

	e.gen++
	e.open = false
	if e.cancel != nil {
		e.cancel()
	}
	if e.rearmTimer != nil {
		e.rearmTimer.Stop()
		e.rearmTimer = nil
	}
	if e.detector != nil {
		e.detector.Stop()
		e.detector = nil
	}
	if e.monitor != nil {
		e.monitor.Stop()
		e.monitor = nil
	}
	handle := e.handle
	e.handle = nil
	e.session = nil
	e.monitorSession = nil
	e.dictSession = nil
	e.setStateLocked(StateIdle)
	e.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	e.capture.DestroyAll()
}

// ResetConversation drops the server-side history reference so the next
// turn starts a fresh conversation.
func (e *Engine) ResetConversation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.historyRef = ""
}

// StopListening is the manual tap-to-stop control. Taps within the
// debounce window of the previous accepted tap return ErrStopDebounced;
// taps on a recording younger than the minimum age return
// ErrTooEarlyToStop so the UI can ask the user to keep going. An accepted
// stop finalizes the capture and submits it like a detector-found
// boundary; a capture below the minimum submit duration is discarded and
// listening re-arms, reported as ErrTooShortToSubmit.
func (e *Engine) StopListening() error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return ErrNotOpen
	}
	if e.state != StateListening {
		e.mu.Unlock()
		return ErrNotListening
	}
	now := time.Now()
	if now.Sub(e.lastStopTap) < e.cfg.StopDebounce {
		e.mu.Unlock()
		return ErrStopDebounced
	}
	e.lastStopTap = now

	session := e.session
	if session == nil || session.Age() < e.cfg.MinStopAge {
		e.mu.Unlock()
		return ErrTooEarlyToStop
	}
	if e.detector != nil {
		e.detector.Stop()
		e.detector = nil
	}
	e.gen++
	gen := e.gen
	e.session = nil
	e.mu.Unlock()

	return e.submitCapture(gen, session)
}

// setStateLocked transitions the state and emits the change.
func (e *Engine) setStateLocked(to State) {
	if e.state == to {
		return
	}
	from := e.state
	e.state = to
	e.emit(StateChangedEvent{From: from, To: to})
}

// emit sends without blocking; a full buffer drops the event.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

// staleLocked reports whether a completion stamped with gen should be
// dropped.
func (e *Engine) staleLocked(gen uint64, want State) bool {
	return !e.open || e.gen != gen || e.state != want
}

// armCapture starts a listening session and its detector for the given
// generation. Runs off the loop because capture start suspends on
// permission prompts and device setup.
func (e *Engine) armCapture(gen uint64) {
	e.mu.Lock()
	if e.staleLocked(gen, StateListening) {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	session, err := e.capture.Start(ctx, capture.ModeListening)

	e.mu.Lock()
	if e.staleLocked(gen, StateListening) {
		e.mu.Unlock()
		if session != nil {
			e.capture.Destroy(session)
		}
		return
	}

	if err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			// Terminal for this attempt: surface and fold back to Idle.
			e.emit(TurnErrorEvent{Stage: "capture", Err: err, UserVisible: true})
			e.mu.Unlock()
			e.Close()
			return
		}
		e.emit(TurnErrorEvent{Stage: "capture", Err: err})
		e.scheduleRearmLocked(e.cfg.RearmDelay)
		e.mu.Unlock()
		return
	}

	e.session = session
	detector := vad.NewDetector(e.cfg.VAD,
		func() (capture.MeterSample, error) { return e.capture.Meter(session) },
		vad.Callbacks{
			OnComplete: func(int) { e.onUtteranceComplete(gen) },
			OnAbandon:  func() { e.onNoSpeech(gen) },
			OnError:    func(err error) { e.onListenError(gen, err) },
		})
	detector.SetDebug(func(category, message string) {
		e.emit(DebugEvent{Category: category, Message: message})
	})
	e.detector = detector
	detector.Start()
	e.mu.Unlock()
}

// onUtteranceComplete handles the detector finding an utterance boundary.
func (e *Engine) onUtteranceComplete(gen uint64) {
	e.mu.Lock()
	if e.staleLocked(gen, StateListening) {
		e.mu.Unlock()
		return
	}
	e.gen++
	next := e.gen
	session := e.session
	e.session = nil
	e.detector = nil
	e.mu.Unlock()

	e.submitCapture(next, session)
}

// submitCapture finalizes a listening session and either submits the
// utterance or discards it as too short. Shared by the detector path and
// the manual stop.
func (e *Engine) submitCapture(gen uint64, session *capture.Session) error {
	ref, err := e.capture.Stop(session)
	e.capture.Destroy(session)

	e.mu.Lock()
	if e.staleLocked(gen, StateListening) {
		e.mu.Unlock()
		return nil
	}

	if err != nil {
		e.emit(TurnErrorEvent{Stage: "capture", Err: err})
		e.scheduleRearmLocked(e.cfg.RearmDelay)
		e.mu.Unlock()
		return fmt.Errorf("finalize capture: %w", err)
	}
	if ref.DurationMs < e.cfg.MinSubmitMs {
		e.emit(UtteranceDiscardedEvent{DurationMs: ref.DurationMs})
		e.scheduleRearmLocked(0)
		e.mu.Unlock()
		return ErrTooShortToSubmit
	}

	e.setStateLocked(StateThinking)
	req := backend.ConverseRequest{
		Audio:      ref,
		Voice:      e.cfg.Voice,
		Language:   e.cfg.Language,
		HistoryRef: e.historyRef,
	}
	ctx := e.ctx
	e.mu.Unlock()

	go func() {
		result, err := e.client.Converse(ctx, req)
		e.onTurnResult(gen, ref.DurationMs, result, err)
	}()
	return nil
}

// onNoSpeech handles the no-speech timeout: the session is discarded and
// a fresh one armed immediately, staying in Listening.
func (e *Engine) onNoSpeech(gen uint64) {
	e.mu.Lock()
	if e.staleLocked(gen, StateListening) {
		e.mu.Unlock()
		return
	}
	session := e.session
	e.session = nil
	e.detector = nil
	// Free the listening slot before the re-arm is scheduled, or the
	// fresh Start can race the destroy and hit ErrBusy on its own slot.
	if session != nil {
		e.capture.Destroy(session)
	}
	e.emit(DebugEvent{Category: "ENGINE", Message: "No speech detected, re-arming"})
	e.scheduleRearmLocked(0)
	e.mu.Unlock()
}

// onListenError handles a metering failure mid-session. The capture
// controller has already destroyed the session.
func (e *Engine) onListenError(gen uint64, err error) {
	e.mu.Lock()
	if e.staleLocked(gen, StateListening) {
		e.mu.Unlock()
		return
	}
	e.session = nil
	e.detector = nil
	e.emit(TurnErrorEvent{Stage: "capture", Err: err})
	e.scheduleRearmLocked(e.cfg.RearmDelay)
	e.mu.Unlock()
}

// scheduleRearmLocked arms a fresh listening capture, immediately or
// after a delay. The delayed task carries the new generation, so it goes
// stale the moment anything else moves the engine on, and Close also
// stops the timer outright.
func (e *Engine) scheduleRearmLocked(delay time.Duration) {
	e.setStateLocked(StateListening)
	e.gen++
	gen := e.gen
	if delay <= 0 {
		go e.armCapture(gen)
		return
	}
	if e.rearmTimer != nil {
		e.rearmTimer.Stop()
	}
	e.rearmTimer = time.AfterFunc(delay, func() { e.armCapture(gen) })
}

// onTurnResult applies the backend's reply to a submitted utterance.
func (e *Engine) onTurnResult(gen uint64, durationMs int, result *backend.TurnResult, err error) {
	e.mu.Lock()
	if e.staleLocked(gen, StateThinking) {
		e.mu.Unlock()
		return
	}
	e.gen++
	next := e.gen

	if err != nil {
		e.emit(TurnErrorEvent{
			Stage:       "backend",
			Err:         err,
			UserVisible: errors.Is(err, backend.ErrUnavailable),
		})
		e.scheduleRearmLocked(e.cfg.RearmDelay)
		e.mu.Unlock()
		return
	}

	if result.HistoryRef != "" {
		e.historyRef = result.HistoryRef
	}
	e.emit(UserTranscriptEvent{Transcript: result.Transcript, DurationMs: durationMs})
	e.emit(AssistantReplyEvent{Text: result.ResponseText, HasAudio: result.AudioURL != ""})

	if result.AudioURL == "" {
		// Text-only reply: straight back to listening.
		e.scheduleRearmLocked(0)
		e.mu.Unlock()
		return
	}

	e.setStateLocked(StateSpeaking)
	ctx := e.ctx
	e.mu.Unlock()

	go e.speak(next, ctx, result.AudioURL)
}

// speak starts playback and the interruption monitor for one reply.
func (e *Engine) speak(gen uint64, ctx context.Context, audioURL string) {
	handle, err := e.player.Play(ctx, audioURL)

	e.mu.Lock()
	if e.staleLocked(gen, StateSpeaking) {
		e.mu.Unlock()
		if handle != nil {
			handle.Stop()
		}
		return
	}
	if err != nil {
		// Failed synthesis load is treated like a text-only reply.
		e.emit(TurnErrorEvent{Stage: "playback", Err: err})
		e.scheduleRearmLocked(0)
		e.mu.Unlock()
		return
	}
	e.handle = handle
	e.mu.Unlock()

	go e.armMonitor(gen)
	go func() {
		result := <-handle.Done()
		e.onPlaybackDone(gen, result)
	}()
}

// armMonitor starts the barge-in watcher. Platforms that cannot record
// while playing simply lose interruption support for this reply.
func (e *Engine) armMonitor(gen uint64) {
	e.mu.Lock()
	if e.staleLocked(gen, StateSpeaking) {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	session, err := e.capture.Start(ctx, capture.ModeInterruptionMonitor)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.staleLocked(gen, StateSpeaking) {
		if session != nil {
			e.capture.Destroy(session)
		}
		return
	}
	if err != nil {
		e.emit(DebugEvent{Category: "ENGINE", Message: fmt.Sprintf("Interruption monitor unavailable: %v", err)})
		return
	}

	e.monitorSession = session
	monitor := interrupt.NewMonitor(e.cfg.Interrupt,
		func() (capture.MeterSample, error) { return e.capture.Meter(session) },
		func() { e.onInterrupt(gen) })
	e.monitor = monitor
	monitor.Start()
}

// onInterrupt preempts playback because the user started talking.
func (e *Engine) onInterrupt(gen uint64) {
	e.mu.Lock()
	if e.staleLocked(gen, StateSpeaking) {
		e.mu.Unlock()
		return
	}
	handle := e.handle
	e.handle = nil
	e.teardownMonitorLocked()
	e.emit(InterruptedEvent{})
	e.scheduleRearmLocked(0)
	e.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
}

// onPlaybackDone handles the reply audio finishing or failing.
func (e *Engine) onPlaybackDone(gen uint64, result playback.Result) {
	e.mu.Lock()
	if e.staleLocked(gen, StateSpeaking) {
		e.mu.Unlock()
		return
	}
	e.handle = nil
	e.teardownMonitorLocked()
	if result.Err != nil {
		e.emit(TurnErrorEvent{Stage: "playback", Err: result.Err})
	}
	e.scheduleRearmLocked(0)
	e.mu.Unlock()
}

func (e *Engine) teardownMonitorLocked() {
	if e.monitor != nil {
		e.monitor.Stop()
		e.monitor = nil
	}
	if e.monitorSession != nil {
		session := e.monitorSession
		e.monitorSession = nil
		e.capture.Destroy(session)
	}
}
