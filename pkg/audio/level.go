package audio

import "math"

// MinLevelDB is the floor returned for silent or empty audio, in dBFS.
const MinLevelDB = -160.0

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM. Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// LevelDB converts an RMS energy value to dBFS. Full-scale audio maps to
// 0 dB; silence is clamped to MinLevelDB. Metering thresholds in the
// engine (speech floor, interrupt threshold) are expressed on this scale.
func LevelDB(rms float64) float64 {
	if rms <= 0 {
		return MinLevelDB
	}
	db := 20 * math.Log10(rms)
	if db < MinLevelDB {
		return MinLevelDB
	}
	return db
}
