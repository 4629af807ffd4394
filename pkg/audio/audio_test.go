package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s & 0xFF)
		pcm[i*2+1] = byte((s >> 8) & 0xFF)
	}
	return pcm
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0.0},
		{name: "max amplitude", samples: []int16{32767, 32767, 32767, 32767}, expected: 1.0},
		{name: "half amplitude", samples: []int16{16384, 16384, 16384, 16384}, expected: 0.5},
		{name: "mixed signal", samples: []int16{16384, -16384, 16384, -16384}, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RMSEnergy(pcmFromSamples(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestLevelDB(t *testing.T) {
	tests := []struct {
		name     string
		rms      float64
		expected float64
	}{
		{name: "full scale", rms: 1.0, expected: 0.0},
		{name: "half scale", rms: 0.5, expected: -6.02},
		{name: "quiet", rms: 0.01, expected: -40.0},
		{name: "silence clamps to floor", rms: 0.0, expected: MinLevelDB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := LevelDB(tt.rms)
			if math.Abs(result-tt.expected) > 0.05 {
				t.Errorf("expected %.2f dB, got %.2f dB", tt.expected, result)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 16kHz, mono, 16-bit = 32000 bytes/second
	if cfg.BytesPerSecond() != 32000 {
		t.Errorf("expected 32000 bytes/sec, got %d", cfg.BytesPerSecond())
	}
	if cfg.BytesForDurationMs(1000) != 32000 {
		t.Errorf("expected 32000 bytes for 1s, got %d", cfg.BytesForDurationMs(1000))
	}
	if cfg.DurationMs(32000) != 1000 {
		t.Errorf("expected 1000ms for 32000 bytes, got %d", cfg.DurationMs(32000))
	}
}

func TestBuffer(t *testing.T) {
	cfg := DefaultConfig()
	buf := NewBuffer(cfg, 100)

	data50ms := make([]byte, cfg.BytesForDurationMs(50))
	for i := range data50ms {
		data50ms[i] = byte(i % 256)
	}
	buf.Write(data50ms)

	if buf.DurationMs() != 50 {
		t.Errorf("expected 50ms, got %dms", buf.DurationMs())
	}

	// Writing another 100ms trims to the 100ms cap
	buf.Write(make([]byte, cfg.BytesForDurationMs(100)))
	if buf.DurationMs() != 100 {
		t.Errorf("expected 100ms (capped), got %dms", buf.DurationMs())
	}

	buf.Clear()
	if buf.Len() != 0 {
		t.Errorf("expected 0 after clear, got %d", buf.Len())
	}
}

func TestRingBuffer(t *testing.T) {
	cfg := DefaultConfig()
	ring := NewRingBuffer(cfg, 100)

	data50ms := make([]byte, cfg.BytesForDurationMs(50))
	for i := range data50ms {
		data50ms[i] = byte(i % 256)
	}
	ring.Write(data50ms)

	if ring.Filled() != len(data50ms) {
		t.Errorf("expected %d filled, got %d", len(data50ms), ring.Filled())
	}
	if got := ring.Bytes(); len(got) != len(data50ms) {
		t.Errorf("expected %d bytes, got %d", len(data50ms), len(got))
	}

	// Writing 100ms more wraps around and leaves the buffer full
	ring.Write(make([]byte, cfg.BytesForDurationMs(100)))
	if got := ring.Bytes(); len(got) != cfg.BytesForDurationMs(100) {
		t.Errorf("expected %d bytes (full), got %d", cfg.BytesForDurationMs(100), len(got))
	}

	ring.Clear()
	if ring.Filled() != 0 {
		t.Errorf("expected 0 filled after clear, got %d", ring.Filled())
	}
}

func TestEncodeWAV(t *testing.T) {
	cfg := DefaultConfig()
	pcm := pcmFromSamples([]int16{0, 16384, -16384, 32767})
	out := EncodeWAV(cfg, pcm)

	if len(out) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != uint32(cfg.SampleRate) {
		t.Errorf("expected sample rate %d, got %d", cfg.SampleRate, got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Errorf("expected data size %d, got %d", len(pcm), got)
	}
	if string(out[44:46]) != string(pcm[:2]) {
		t.Error("payload does not follow header")
	}
}
