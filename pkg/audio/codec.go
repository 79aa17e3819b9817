package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// EncodeAudio encodes raw PCM bytes into the base64 form used on the live
// session wire. An empty input yields an empty string.
func EncodeAudio(pcm []byte) string {
	if len(pcm) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeAudio reverses [EncodeAudio]. An empty input yields an empty slice.
func DecodeAudio(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return pcm, nil
}

// Buffer holds decoded PCM as normalised float32 samples in [-1, 1],
// ready for playback scheduling.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// DecodeAudioBuffer converts little-endian int16 PCM into a [Buffer].
// A trailing odd byte is dropped rather than treated as an error; the
// live endpoint chunks audio mid-stream and alignment is not guaranteed
// at chunk boundaries.
func DecodeAudioBuffer(pcm []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// EncodePCM converts normalised float32 samples back to little-endian int16
// PCM, saturating out-of-range values at the int16 bounds.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int32(f * 32768.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
