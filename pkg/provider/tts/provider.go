// Package tts abstracts speech synthesis backends. SynthesizeStream takes
// text fragments on a channel and yields PCM as soon as the backend produces
// it, so LLM output can be spoken while the model is still generating.
//
// Implementations must be safe for concurrent use; several sessions may
// synthesize at once.
package tts

import "context"

// Provider is one synthesis backend.
type Provider interface {
	// SynthesizeStream reads fragments from text until it closes and emits
	// raw PCM on the returned channel. The implementation closes the audio
	// channel when the text runs out or ctx is cancelled; the caller must
	// drain it.
	//
	// voice selects the profile. An unavailable voice fails the call.
	//
	// The error return covers stream setup only. A mid-synthesis failure
	// closes the audio channel early; ctx.Err() tells cancellation apart
	// from backend trouble.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices fetches the backend's current voice catalog.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// CloneVoice trains a new voice from the given audio samples (format
	// is backend-specific, typically WAV or MP3). Slow; keep it out of the
	// session hot path. Empty samples are an error, never a panic.
	CloneVoice(ctx context.Context, samples [][]byte) (*VoiceProfile, error)
}
