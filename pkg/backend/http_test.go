package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceloop-ai/voiceloop/pkg/capture"
)

func testAudio() *capture.AudioRef {
	return &capture.AudioRef{
		Data:       []byte{0, 1, 2, 3, 4, 5, 6, 7},
		Format:     "wav",
		DurationMs: 1200,
	}
}

func TestConverseUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/voice-chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Missing bearer token, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("voice"); got != "female" {
			t.Errorf("Expected voice=female, got %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("Expected language=en, got %q", got)
		}
		file, header, err := r.FormFile("audio_file")
		if err != nil {
			t.Fatalf("Missing audio_file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "recording.wav" {
			t.Errorf("Unexpected filename %q", header.Filename)
		}

		json.NewEncoder(w).Encode(map[string]string{
			"user_text":     "hello",
			"response_text": "hi there",
			"audio_url":     "https://cdn.example.com/reply.wav",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Token: "secret-token"}, srv.Client())
	result, err := client.Converse(context.Background(), ConverseRequest{
		Audio:    testAudio(),
		Voice:    VoiceFemale,
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if result.Transcript != "hello" {
		t.Errorf("Expected transcript 'hello', got %q", result.Transcript)
	}
	if result.ResponseText != "hi there" {
		t.Errorf("Expected response 'hi there', got %q", result.ResponseText)
	}
	if result.AudioURL == "" {
		t.Error("Expected audio URL")
	}
}

func TestConverseTextOnlyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"user_text":     "hello",
			"response_text": "hi there",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, srv.Client())
	result, err := client.Converse(context.Background(), ConverseRequest{Audio: testAudio(), Voice: VoiceMale, Language: "en"})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if result.AudioURL != "" {
		t.Errorf("Expected empty audio URL, got %q", result.AudioURL)
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/voice-to-text" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "dictated words"})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, srv.Client())
	text, err := client.Transcribe(context.Background(), testAudio())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "dictated words" {
		t.Errorf("Expected 'dictated words', got %q", text)
	}
}

func TestConverseRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"user_text": "x", "response_text": "y"})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, srv.Client())
	if _, err := client.Converse(context.Background(), ConverseRequest{Audio: testAudio(), Voice: VoiceMale, Language: "en"}); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestConverseUnavailableAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, srv.Client())
	_, err := client.Converse(context.Background(), ConverseRequest{Audio: testAudio(), Voice: VoiceMale, Language: "en"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("Expected initial attempt plus two retries, got %d", got)
	}
}

func TestConverseClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"detail": "unsupported audio format"})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, srv.Client())
	_, err := client.Converse(context.Background(), ConverseRequest{Audio: testAudio(), Voice: VoiceMale, Language: "en"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", apiErr.StatusCode)
	}
	if apiErr.Detail != "unsupported audio format" {
		t.Errorf("Expected detail from body, got %q", apiErr.Detail)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("Client errors must not be retried, got %d attempts", got)
	}
}

func TestConverseEmptyAudioRejected(t *testing.T) {
	client := NewHTTPClient(HTTPConfig{BaseURL: "http://unused.invalid"}, nil)
	if _, err := client.Converse(context.Background(), ConverseRequest{Voice: VoiceMale, Language: "en"}); err == nil {
		t.Error("Expected error for empty audio")
	}
}

func TestDictationStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("Upgrade failed: %v", err)
		}
		defer conn.Close()

		// Expect one binary audio frame, then the finalize marker.
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("Read audio frame: %v", err)
			return
		}
		if mt != websocket.BinaryMessage || len(data) == 0 {
			t.Errorf("Expected binary audio frame, got type %d len %d", mt, len(data))
		}
		mt, data, err = conn.ReadMessage()
		if err != nil || mt != websocket.TextMessage || string(data) != "finalize" {
			t.Errorf("Expected finalize marker, got type %d %q err %v", mt, data, err)
		}

		conn.WriteJSON(dictationMessage{Type: "transcript", Text: "partial"})
		conn.WriteJSON(dictationMessage{Type: "transcript", Text: "partial words", IsFinal: true})
		conn.WriteJSON(dictationMessage{Type: "done"})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil)
	stream, err := client.OpenDictationStream(context.Background(), 16000)
	if err != nil {
		t.Fatalf("OpenDictationStream failed: %v", err)
	}
	defer stream.Close()

	if err := stream.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := stream.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	var texts []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case delta, ok := <-stream.Transcripts():
			if !ok {
				if len(texts) != 2 {
					t.Fatalf("Expected 2 deltas, got %v", texts)
				}
				if texts[1] != "partial words" {
					t.Errorf("Unexpected final transcript %q", texts[1])
				}
				return
			}
			texts = append(texts, delta.Text)
		case <-timeout:
			t.Fatal("Timed out waiting for transcripts")
		}
	}
}

func TestWSBaseURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":   "ws://localhost:8000",
		"https://api.example.com": "wss://api.example.com",
	}
	for in, want := range cases {
		if got := wsBaseURL(in); got != want {
			t.Errorf("wsBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
	if !strings.HasPrefix(wsBaseURL("https://x")+"/ws", "wss://") {
		t.Error("Expected wss scheme")
	}
}
