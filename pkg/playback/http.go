package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-audio/wav"

	vaudio "github.com/voiceloop-ai/voiceloop/pkg/audio"
)

// Sink receives decoded PCM and plays it. The production sink drives the
// speaker; tests substitute an in-memory one. Discard may be called from
// a different goroutine than Write, so implementations guard their queue.
type Sink interface {
	// Write queues little-endian 16-bit PCM for playback.
	Write(pcm []byte) error

	// Close drains queued audio and releases the sink. Called exactly
	// once per playback when it ends naturally.
	Close() error

	// Discard drops queued audio immediately. Called instead of a drain
	// when playback is stopped early.
	Discard()
}

// SinkFactory opens a sink for the decoded stream's format.
type SinkFactory func(cfg vaudio.Config) (Sink, error)

// HTTPPlayer fetches a WAV file over HTTP, decodes it and streams the
// PCM to a sink in small chunks so a stop request takes effect quickly.
type HTTPPlayer struct {
	client  *http.Client
	newSink SinkFactory
	// chunk duration per sink write
	chunkMs int
	// how far ahead of the audio clock writes may run
	leadMs int

	onDebug func(category, message string)
}

// NewHTTPPlayer creates a player that resolves refs with the given HTTP
// client. A nil client gets a 30s-timeout default.
func NewHTTPPlayer(client *http.Client, newSink SinkFactory) *HTTPPlayer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPlayer{
		client:  client,
		newSink: newSink,
		chunkMs: 100,
		leadMs:  300,
	}
}

// SetDebug installs an optional debug callback.
func (p *HTTPPlayer) SetDebug(fn func(category, message string)) {
	p.onDebug = fn
}

// Play fetches and decodes ref, then streams it to a fresh sink. Fetch,
// decode and sink-open failures are returned synchronously; later errors
// arrive on the handle.
func (p *HTTPPlayer) Play(ctx context.Context, ref string) (*Handle, error) {
	pcm, cfg, err := p.fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlaybackFailed, err)
	}

	sink, err := p.newSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open sink: %v", ErrPlaybackFailed, err)
	}

	handle := NewHandle(sink.Discard)
	go p.stream(handle, sink, pcm, cfg)
	return handle, nil
}

func (p *HTTPPlayer) fetch(ctx context.Context, ref string) ([]byte, vaudio.Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, vaudio.Config{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, vaudio.Config{}, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, vaudio.Config{}, fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vaudio.Config{}, fmt.Errorf("read audio: %w", err)
	}
	return decodeWAV(data)
}

// decodeWAV parses a WAV file into s16le PCM plus its format.
func decodeWAV(data []byte) ([]byte, vaudio.Config, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, vaudio.Config{}, fmt.Errorf("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, vaudio.Config{}, fmt.Errorf("decode wav: %w", err)
	}

	cfg := vaudio.Config{
		SampleRate:    buf.Format.SampleRate,
		Channels:      buf.Format.NumChannels,
		BitsPerSample: 16,
	}

	shift := 0
	if dec.BitDepth > 16 {
		shift = int(dec.BitDepth) - 16
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		var s int
		if dec.BitDepth == 8 {
			// 8-bit WAV samples are unsigned (0..255, 128 = silence).
			s = (sample - 128) << 8
		} else {
			s = sample >> shift
		}
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm, cfg, nil
}

func (p *HTTPPlayer) stream(handle *Handle, sink Sink, pcm []byte, cfg vaudio.Config) {
	chunkBytes := cfg.BytesForDurationMs(p.chunkMs)
	if chunkBytes <= 0 {
		chunkBytes = 3200
	}

	// Writes are paced against the audio clock with a small lead, so the
	// sink never queues more than the lead. A stop then falls silent
	// within the lead, the final drain is short, and completion reports
	// when the audio has actually played, not when it was decoded.
	start := time.Now()
	sentMs := 0
	for offset := 0; offset < len(pcm); offset += chunkBytes {
		if wait := time.Duration(sentMs-p.leadMs)*time.Millisecond - time.Since(start); wait > 0 {
			time.Sleep(wait)
		}
		if handle.wasStopped() {
			// Stop already discarded the queue; nothing left to deliver.
			sink.Close()
			return
		}
		end := offset + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := sink.Write(pcm[offset:end]); err != nil {
			sink.Discard()
			sink.Close()
			handle.Finish(Result{Err: fmt.Errorf("%w: %v", ErrPlaybackFailed, err)})
			return
		}
		sentMs += cfg.DurationMs(end - offset)
	}

	if handle.wasStopped() {
		sink.Close()
		return
	}
	if err := sink.Close(); err != nil {
		handle.Finish(Result{Err: fmt.Errorf("%w: %v", ErrPlaybackFailed, err)})
		return
	}
	p.debug("PLAYBACK", fmt.Sprintf("Finished streaming %d bytes", len(pcm)))
	handle.Finish(Result{})
}

func (p *HTTPPlayer) debug(category, message string) {
	if p.onDebug != nil {
		p.onDebug(category, message)
	}
}
