package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	vaudio "github.com/voiceloop-ai/voiceloop/pkg/audio"
)

// SpeakerSink plays PCM through the speaker via oto. The oto player pulls
// from the sink's internal buffer, so Write never blocks on the device.
type SpeakerSink struct {
	player *oto.Player
	cfg    vaudio.Config

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

// NewSpeakerSinkFactory returns a SinkFactory bound to an oto context.
// An oto context has a fixed format for the life of the process, so the
// factory rejects streams whose format differs; the caller treats that
// like any other playback failure and carries on without audio.
func NewSpeakerSinkFactory(otoCtx *oto.Context, ctxCfg vaudio.Config) SinkFactory {
	return func(cfg vaudio.Config) (Sink, error) {
		if cfg.SampleRate != ctxCfg.SampleRate || cfg.Channels != ctxCfg.Channels {
			return nil, fmt.Errorf("speaker opened at %dHz/%dch, stream is %dHz/%dch",
				ctxCfg.SampleRate, ctxCfg.Channels, cfg.SampleRate, cfg.Channels)
		}
		s := &SpeakerSink{cfg: ctxCfg}
		s.cond = sync.NewCond(&s.mu)
		s.player = otoCtx.NewPlayer(s)
		s.player.Play()
		return s, nil
	}
}

// Write queues PCM for the speaker.
func (s *SpeakerSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker sink closed")
	}
	s.buf = append(s.buf, pcm...)
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for the oto player. Returns silence once the
// sink is closed so oto drains gracefully.
func (s *SpeakerSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Discard drops everything queued so playback halts at the next pull.
func (s *SpeakerSink) Discard() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Close waits for queued audio to drain, then releases the player. The
// wait is bounded by the queued duration plus a margin, so long replies
// play out in full while a wedged device cannot hang teardown forever.
func (s *SpeakerSink) Close() error {
	s.mu.Lock()
	pending := len(s.buf)
	s.mu.Unlock()
	pending += s.player.BufferedSize()

	deadline := time.Now().Add(s.drainBudget(pending))
	for time.Now().Before(deadline) {
		s.mu.Lock()
		queued := len(s.buf)
		s.mu.Unlock()
		if queued == 0 && s.player.BufferedSize() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	return s.player.Close()
}

// drainBudget is how long Close may wait for pending bytes to play out.
func (s *SpeakerSink) drainBudget(pendingBytes int) time.Duration {
	return time.Duration(s.cfg.DurationMs(pendingBytes))*time.Millisecond + 2*time.Second
}
