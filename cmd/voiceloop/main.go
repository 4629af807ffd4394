// Package main provides a CLI demo for hands-free voice conversations.
//
// It wires the real microphone (malgo) and speaker (oto) to the
// conversation engine and prints transcripts and replies as they arrive.
//
// Usage:
//
//	go run ./cmd/voiceloop
//
// Environment variables:
//
//	VOICELOOP_BASE_URL - Required; speech/chat service root URL
//	VOICELOOP_TOKEN    - Optional bearer token
//	VOICELOOP_VOICE    - "male" (default) or "female"
//	VOICELOOP_LANGUAGE - Language tag, default "en"
//
// Controls:
//
//	<enter>  - Tap to stop the current recording manually
//	r        - Reset the conversation history
//	q        - Quit
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/voiceloop-ai/voiceloop/pkg/audio"
	"github.com/voiceloop-ai/voiceloop/pkg/backend"
	"github.com/voiceloop-ai/voiceloop/pkg/capture"
	"github.com/voiceloop-ai/voiceloop/pkg/engine"
	"github.com/voiceloop-ai/voiceloop/pkg/playback"
)

const (
	captureRate  = 16000
	playbackRate = 24000
)

func main() {
	_ = godotenv.Load()

	baseURL := os.Getenv("VOICELOOP_BASE_URL")
	if baseURL == "" {
		log.Fatal("VOICELOOP_BASE_URL required")
	}

	cfg := engine.DefaultConfig()
	if v := os.Getenv("VOICELOOP_VOICE"); v == "female" {
		cfg.Voice = backend.VoiceFemale
	}
	if lang := os.Getenv("VOICELOOP_LANGUAGE"); lang != "" {
		cfg.Language = lang
	}

	// Microphone context shared by every capture session.
	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		log.Fatalf("Failed to init audio context: %v", err)
	}
	defer malgoCtx.Uninit()

	captureCfg := audio.Config{SampleRate: captureRate, Channels: 1, BitsPerSample: 16}
	factory := capture.NewDeviceRecorderFactory(malgoCtx.Context, capture.DeviceRecorderConfig{
		Audio:         captureCfg,
		SpeechFloorDB: -38,
	})
	controller := capture.NewController(factory, nil)

	// Speaker for synthesized replies.
	speakerCfg := audio.Config{SampleRate: playbackRate, Channels: 1, BitsPerSample: 16}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   playbackRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		log.Fatalf("Failed to init speaker: %v", err)
	}
	<-ready
	player := playback.NewHTTPPlayer(nil, playback.NewSpeakerSinkFactory(otoCtx, speakerCfg))

	client := backend.NewHTTPClient(backend.HTTPConfig{
		BaseURL: baseURL,
		Token:   os.Getenv("VOICELOOP_TOKEN"),
	}, nil)

	eng := engine.New(cfg, engine.Deps{
		Capture: controller,
		Player:  player,
		Backend: client,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	fmt.Println("Voiceloop demo. Speak naturally; turn detection is automatic.")
	fmt.Println("Press <enter> to stop a recording manually, 'r' to reset, 'q' to quit.")
	fmt.Println()

	if err := eng.Open(ctx); err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer eng.Close()

	go printEvents(eng)
	go readCommands(eng, cancel)

	<-ctx.Done()
}

func printEvents(eng *engine.Engine) {
	for ev := range eng.Events() {
		switch ev := ev.(type) {
		case engine.StateChangedEvent:
			fmt.Printf("-- %s\n", ev.To)
		case engine.UserTranscriptEvent:
			fmt.Printf("you: %s\n", ev.Transcript)
		case engine.AssistantReplyEvent:
			fmt.Printf("assistant: %s\n", ev.Text)
		case engine.InterruptedEvent:
			fmt.Println("-- interrupted")
		case engine.TurnErrorEvent:
			if ev.UserVisible {
				fmt.Printf("!! %v\n", ev.Err)
			}
		case engine.DebugEvent:
			if os.Getenv("VOICELOOP_DEBUG") != "" {
				fmt.Printf("[%s] %s\n", ev.Category, ev.Message)
			}
		}
	}
}

func readCommands(eng *engine.Engine, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "q":
			quit()
			return
		case "r":
			eng.ResetConversation()
			fmt.Println("-- conversation reset")
		default:
			if err := eng.StopListening(); err != nil {
				switch {
				case errors.Is(err, engine.ErrTooEarlyToStop):
					fmt.Println("-- keep going, recording just started")
				case errors.Is(err, engine.ErrStopDebounced),
					errors.Is(err, engine.ErrNotListening):
					// Ignore stray taps.
				default:
					fmt.Printf("!! %v\n", err)
				}
			}
		}
	}
}
