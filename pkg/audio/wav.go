package audio

import "encoding/binary"

// EncodeWAV wraps raw little-endian PCM in a canonical 44-byte RIFF/WAVE
// header so the capture can be uploaded as a regular .wav file.
func EncodeWAV(cfg Config, pcm []byte) []byte {
	blockAlign := cfg.Channels * cfg.BitsPerSample / 8
	byteRate := cfg.SampleRate * blockAlign

	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(out[22:24], uint16(cfg.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(cfg.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(cfg.BitsPerSample))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
