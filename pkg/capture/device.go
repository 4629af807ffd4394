package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/voiceloop-ai/voiceloop/pkg/audio"
)

// DeviceRecorderConfig configures a microphone-backed recorder.
type DeviceRecorderConfig struct {
	Audio audio.Config

	// SpeechFloorDB is the dBFS level above which a chunk counts as voice.
	// Metering duration advances only for voiced chunks, which is the
	// contract the VAD polls (duration growth == speech activity).
	SpeechFloorDB float64

	// MaxBufferMs bounds the capture buffer; 0 means 60s.
	MaxBufferMs int
}

// DeviceRecorder captures from the default microphone through malgo.
// Each chunk from the device callback is appended to the buffer and
// metered; Meter never touches the hardware.
//
// Interruption-monitor sessions are meter-only: they keep just a short
// trailing window in a ring buffer instead of accumulating the whole
// capture, since their audio is never submitted anywhere.
type DeviceRecorder struct {
	cfg       DeviceRecorderConfig
	malgoCtx  malgo.Context
	meterOnly bool

	mu       sync.Mutex
	device   *malgo.Device
	buf      *audio.Buffer
	ring     *audio.RingBuffer
	voicedMs int
	lastDB   float64
	started  bool
	released bool
}

// NewDeviceRecorderFactory returns a RecorderFactory that opens the
// default capture device for every session. The malgo context is shared;
// callers own its lifetime.
func NewDeviceRecorderFactory(malgoCtx malgo.Context, cfg DeviceRecorderConfig) RecorderFactory {
	if cfg.MaxBufferMs == 0 {
		cfg.MaxBufferMs = 60000
	}
	return func(mode Mode) (Recorder, error) {
		rec := &DeviceRecorder{
			cfg:       cfg,
			malgoCtx:  malgoCtx,
			meterOnly: mode == ModeInterruptionMonitor,
			lastDB:    audio.MinLevelDB,
		}
		if rec.meterOnly {
			rec.ring = audio.NewRingBuffer(cfg.Audio, 1000)
		} else {
			rec.buf = audio.NewBuffer(cfg.Audio, cfg.MaxBufferMs)
		}
		return rec, nil
	}
}

// Begin opens and starts the capture device.
func (d *DeviceRecorder) Begin(ctx context.Context) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.cfg.Audio.Channels)
	deviceConfig.SampleRate = uint32(d.cfg.Audio.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			d.onChunk(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(d.malgoCtx, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}

	d.mu.Lock()
	d.device = device
	d.started = true
	d.mu.Unlock()
	return nil
}

func (d *DeviceRecorder) onChunk(pcm []byte) {
	level := audio.LevelDB(audio.RMSEnergy(pcm))

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.released {
		return
	}
	if d.meterOnly {
		d.ring.Write(pcm)
	} else {
		d.buf.Write(pcm)
	}
	d.lastDB = level
	if level > d.cfg.SpeechFloorDB {
		d.voicedMs += d.cfg.Audio.DurationMs(len(pcm))
	}
}

// Meter returns the voiced duration and last chunk level.
func (d *DeviceRecorder) Meter() (MeterSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return MeterSample{}, fmt.Errorf("recorder released")
	}
	return MeterSample{DurationMs: d.voicedMs, LevelDB: d.lastDB}, nil
}

// End stops the device and returns the captured PCM.
func (d *DeviceRecorder) End() (*AudioRef, error) {
	d.mu.Lock()
	if d.released || !d.started {
		d.mu.Unlock()
		return nil, fmt.Errorf("recorder not recording")
	}
	d.started = false
	device := d.device
	d.mu.Unlock()

	if device != nil {
		device.Stop()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.meterOnly {
		// Monitor audio is never uploaded; return the trailing window.
		return &AudioRef{
			Data:       d.ring.Bytes(),
			Format:     "pcm_s16le",
			DurationMs: d.cfg.Audio.DurationMs(d.ring.Filled()),
		}, nil
	}
	// The finalized ref carries the recording's wall-clock length; the
	// voiced-only duration is a metering contract and stops mattering
	// once the capture is complete.
	return &AudioRef{
		Data:       audio.EncodeWAV(d.cfg.Audio, d.buf.Bytes()),
		Format:     "wav",
		DurationMs: d.buf.DurationMs(),
	}, nil
}

// Release frees the device. Safe to call repeatedly and after End.
func (d *DeviceRecorder) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.started = false
	device := d.device
	d.device = nil
	if d.buf != nil {
		d.buf.Clear()
	}
	if d.ring != nil {
		d.ring.Clear()
	}
	d.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
}
