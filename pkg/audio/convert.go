package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter normalizes capture frames to the format a session expects.
// The upload legs use one per stream to coerce whatever the host microphone
// produces into 16 kHz mono before sending. Not safe for concurrent use.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns the frame in the target format. Frames that already match
// pass through untouched. Misaligned PCM (odd byte count) is dropped with an
// empty Data slice so callers can skip it.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	out := AudioFrame{
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}

	// int16 PCM must be an even number of bytes.
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: dropping misaligned PCM frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return out
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	// Warn once per stream so a misconfigured host shows up in the logs
	// without flooding them at frame rate.
	c.warnedMismatch.Do(func() {
		slog.Warn("audio converter: capture format differs from target",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	// Resample before downmixing so a stereo source is never resampled twice.
	data := resample16(frame.Data, frame.Channels, frame.SampleRate, c.Target.SampleRate)
	switch {
	case frame.Channels == 1 && c.Target.Channels == 2:
		data = MonoToStereo(data)
	case frame.Channels == 2 && c.Target.Channels == 1:
		data = StereoToMono(data)
	}

	out.Data = data
	return out
}

// sample16 reads the little-endian int16 at sample index i.
func sample16(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// putSample16 writes v at sample index i, little-endian.
func putSample16(pcm []byte, i int, v int16) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples*4)
	for i := range samples {
		s := sample16(pcm, i)
		putSample16(out, i*2, s)
		putSample16(out, i*2+1, s)
	}
	return out
}

// StereoToMono averages each L+R pair. The sum runs in int32 and is clamped
// back to the int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		avg := (int32(sample16(pcm, i*2)) + int32(sample16(pcm, i*2+1))) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		putSample16(out, i, int16(avg))
	}
	return out
}

// resample16 linearly interpolates interleaved 16-bit PCM with the given
// channel count from srcRate to dstRate. Invalid rates, matching rates, and
// inputs shorter than one frame pass through untouched.
func resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	frameBytes := channels * 2
	srcFrames := len(pcm) / frameBytes
	if srcFrames < 1 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		next := srcIdx + 1
		if next >= srcFrames {
			// Hold the last frame at the tail.
			next = srcIdx
		}

		for ch := range channels {
			s0 := sample16(pcm, srcIdx*channels+ch)
			s1 := sample16(pcm, next*channels+ch)
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			putSample16(out, i*channels+ch, v)
		}
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples interleaved 16-bit stereo PCM from srcRate to
// dstRate.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 2, srcRate, dstRate)
}

// formatString renders a rate and channel count like "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
