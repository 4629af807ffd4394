package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	vaudio "github.com/voiceloop-ai/voiceloop/pkg/audio"
)

// makeWAV encodes samples as a 16kHz mono 16-bit WAV file.
func makeWAV(t *testing.T, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create temp wav: %v", err)
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close encoder: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Read wav: %v", err)
	}
	return data
}

// memorySink collects written PCM. writeGate, when set, blocks each Write
// until the gate channel is closed.
type memorySink struct {
	mu        sync.Mutex
	written   int
	writes    int
	closes    int
	discards  int
	writeErr  error
	writeGate chan struct{}
}

func (s *memorySink) Write(pcm []byte) error {
	if s.writeGate != nil {
		<-s.writeGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written += len(pcm)
	s.writes++
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *memorySink) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discards++
}

func (s *memorySink) stats() (written, writes, closes, discards int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.writes, s.closes, s.discards
}

func wavServer(t *testing.T, samples []int) *httptest.Server {
	t.Helper()
	data := makeWAV(t, samples)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitResult(t *testing.T, h *Handle) Result {
	t.Helper()
	select {
	case res := <-h.Done():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for playback result")
		return Result{}
	}
}

func TestHTTPPlayerPlaysToCompletion(t *testing.T) {
	samples := make([]int, 16000) // one second
	for i := range samples {
		samples[i] = 1000
	}
	srv := wavServer(t, samples)

	sink := &memorySink{}
	player := NewHTTPPlayer(srv.Client(), func(cfg vaudio.Config) (Sink, error) {
		return sink, nil
	})

	handle, err := player.Play(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	res := waitResult(t, handle)
	if res.Err != nil {
		t.Errorf("Expected clean finish, got %v", res.Err)
	}
	if res.Stopped {
		t.Error("Expected natural completion, not stopped")
	}

	written, _, closes, _ := sink.stats()
	if written != len(samples)*2 {
		t.Errorf("Expected %d PCM bytes, got %d", len(samples)*2, written)
	}
	if closes != 1 {
		t.Errorf("Expected one sink close, got %d", closes)
	}
}

func TestHTTPPlayerPacesToAudioClock(t *testing.T) {
	samples := make([]int, 8000) // 500ms at 16kHz
	srv := wavServer(t, samples)

	sink := &memorySink{}
	player := NewHTTPPlayer(srv.Client(), func(cfg vaudio.Config) (Sink, error) {
		return sink, nil
	})
	player.chunkMs = 50
	player.leadMs = 100

	start := time.Now()
	handle, err := player.Play(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	res := waitResult(t, handle)
	elapsed := time.Since(start)

	if res.Err != nil || res.Stopped {
		t.Fatalf("Expected clean finish, got %+v", res)
	}
	// Completion must track the audio clock, not the decode speed: 500ms
	// of audio with a 100ms write lead cannot finish almost instantly.
	if elapsed < 300*time.Millisecond {
		t.Errorf("500ms of audio reported finished after %v", elapsed)
	}
	written, _, _, _ := sink.stats()
	if written != len(samples)*2 {
		t.Errorf("Expected %d PCM bytes, got %d", len(samples)*2, written)
	}
}

func TestHTTPPlayerStopPreemptsPlayback(t *testing.T) {
	samples := make([]int, 16000*5) // five seconds
	srv := wavServer(t, samples)

	gate := make(chan struct{})
	sink := &memorySink{writeGate: gate}
	player := NewHTTPPlayer(srv.Client(), func(cfg vaudio.Config) (Sink, error) {
		return sink, nil
	})

	handle, err := player.Play(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	handle.Stop()
	handle.Stop() // idempotent
	close(gate)

	res := waitResult(t, handle)
	if !res.Stopped {
		t.Error("Expected a stopped result")
	}
	if res.Err != nil {
		t.Errorf("Stop is not a failure, got %v", res.Err)
	}

	// Exactly one result: the channel must now be empty.
	select {
	case extra := <-handle.Done():
		t.Errorf("Unexpected second result: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	_, _, _, discards := sink.stats()
	if discards == 0 {
		t.Error("Stop must discard queued audio")
	}
}

func TestHTTPPlayerFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	player := NewHTTPPlayer(srv.Client(), func(cfg vaudio.Config) (Sink, error) {
		return &memorySink{}, nil
	})

	if _, err := player.Play(context.Background(), srv.URL); !errors.Is(err, ErrPlaybackFailed) {
		t.Errorf("Expected ErrPlaybackFailed, got %v", err)
	}
}

func TestHTTPPlayerRejectsInvalidAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not audio"))
	}))
	defer srv.Close()

	player := NewHTTPPlayer(srv.Client(), func(cfg vaudio.Config) (Sink, error) {
		return &memorySink{}, nil
	})

	if _, err := player.Play(context.Background(), srv.URL); !errors.Is(err, ErrPlaybackFailed) {
		t.Errorf("Expected ErrPlaybackFailed, got %v", err)
	}
}

func TestHTTPPlayerSinkWriteFailure(t *testing.T) {
	samples := make([]int, 16000)
	srv := wavServer(t, samples)

	sink := &memorySink{writeErr: fmt.Errorf("device gone")}
	player := NewHTTPPlayer(srv.Client(), func(cfg vaudio.Config) (Sink, error) {
		return sink, nil
	})

	handle, err := player.Play(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	res := waitResult(t, handle)
	if !errors.Is(res.Err, ErrPlaybackFailed) {
		t.Errorf("Expected ErrPlaybackFailed result, got %v", res.Err)
	}
}

func TestDecodeWAVFormat(t *testing.T) {
	samples := []int{0, 16384, -16384, 32767}
	data := makeWAV(t, samples)

	pcm, cfg, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("decodeWAV failed: %v", err)
	}
	if cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Errorf("Unexpected format: %+v", cfg)
	}
	if len(pcm) != len(samples)*2 {
		t.Errorf("Expected %d bytes, got %d", len(samples)*2, len(pcm))
	}
	// Spot-check the second sample (16384 -> 0x4000 little endian).
	if pcm[2] != 0x00 || pcm[3] != 0x40 {
		t.Errorf("Bad sample encoding: %x %x", pcm[2], pcm[3])
	}
}

func TestDecodeWAV8BitUnsigned(t *testing.T) {
	// 8-bit WAV stores unsigned samples with 128 as silence.
	path := filepath.Join(t.TempDir(), "test8.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create temp wav: %v", err)
	}
	enc := wav.NewEncoder(f, 16000, 8, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           []int{128, 192, 64},
		SourceBitDepth: 8,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close encoder: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Read wav: %v", err)
	}

	pcm, _, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("decodeWAV failed: %v", err)
	}
	want := []int16{0, 16384, -16384}
	for i, w := range want {
		got := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if got != w {
			t.Errorf("Sample %d: expected %d, got %d", i, w, got)
		}
	}
}

func TestSpeakerDrainBudgetScalesWithQueue(t *testing.T) {
	s := &SpeakerSink{cfg: vaudio.Config{SampleRate: 16000, Channels: 1, BitsPerSample: 16}}

	tenSeconds := 16000 * 2 * 10
	if got := s.drainBudget(tenSeconds); got < 10*time.Second {
		t.Errorf("10s of queued audio needs at least a 10s drain budget, got %v", got)
	}
	if got := s.drainBudget(0); got > 5*time.Second {
		t.Errorf("An empty queue should drain almost immediately, got %v", got)
	}
}
