package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from the microphone,
// measured for loudness, encoded for the live session, and played through the
// output sink.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for model output).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo synthesis output.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
