package audio

// Config specifies the PCM format used throughout the engine.
type Config struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultConfig returns the standard capture configuration: 16 kHz mono
// 16-bit PCM.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds of the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
