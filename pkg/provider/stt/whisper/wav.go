package whisper

import (
	"encoding/binary"
	"math"
)

// bitsPerSample is fixed: whisper.cpp takes 16-bit signed little-endian PCM.
const bitsPerSample = 16

// encodeWAV wraps raw 16-bit PCM in a RIFF/WAV container ready for upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	frameSize := channels * bitsPerSample / 8

	out := make([]byte, 0, 44+len(pcm))
	tag := func(s string) { out = append(out, s...) }
	u16 := func(v int) { out = binary.LittleEndian.AppendUint16(out, uint16(v)) }
	u32 := func(v int) { out = binary.LittleEndian.AppendUint32(out, uint32(v)) }

	tag("RIFF")
	u32(36 + len(pcm)) // container size minus the first 8 bytes
	tag("WAVE")

	tag("fmt ")
	u32(16) // PCM sub-chunk size
	u16(1)  // PCM format
	u16(channels)
	u32(sampleRate)
	u32(sampleRate * frameSize)
	u16(frameSize)
	u16(bitsPerSample)

	tag("data")
	u32(len(pcm))
	return append(out, pcm...)
}

// computeRMS returns the root-mean-square energy of 16-bit little-endian
// PCM, in sample units (0 to 32767). Buffers shorter than one sample
// measure 0.
func computeRMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	samples := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		sum += v * v
		samples++
	}
	return math.Sqrt(sum / float64(samples))
}

// chunkDurationMs returns how many milliseconds of audio a PCM chunk holds.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	bytesPerSec := sampleRate * channels * bitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return len(chunk) * 1000 / bytesPerSec
}
