// Package stt abstracts streaming transcription backends. A session accepts
// raw PCM and emits two transcript streams: fast interim partials for UI
// feedback and committed finals for the conversation log.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional operations a backend does not
// implement, such as mid-session keyword updates.
var ErrNotSupported = errors.New("stt: operation not supported")

// StreamConfig is the audio format and recognition hints for a session.
type StreamConfig struct {
	// SampleRate in Hz. 16000 mono is the usual transcription format.
	SampleRate int

	// Channels in the PCM. Most backends want 1; implementations may
	// downmix stereo themselves.
	Channels int

	// Language is a BCP-47 tag ("fr", "ar-TN"). Empty asks the backend to
	// auto-detect where supported.
	Language string

	// Keywords bias recognition toward uncommon vocabulary, typically
	// product and brand names.
	Keywords []KeywordBoost
}

// SessionHandle is one open transcription stream. It is an interface so
// tests can stand in a double without a network connection.
//
// Close it when done or the implementation leaks goroutines and sockets.
// All methods tolerate concurrent use.
type SessionHandle interface {
	// SendAudio feeds a PCM chunk matching the StreamConfig format.
	// Fails after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim guesses. Good for UI, never for the
	// conversation log. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed results, the ones the conversation layer
	// stores and sends to the LLM. Closed when the session ends.
	Finals() <-chan Transcript

	// SetKeywords swaps the boost list mid-session. Backends without
	// live updates return ErrNotSupported. Audio already in flight may
	// still use the old list.
	SetKeywords(keywords []KeywordBoost) error

	// Close flushes pending audio, closes both transcript channels, and
	// frees resources. Idempotent.
	Close() error
}

// Provider opens transcription sessions. Several may run at once, one per
// connected caller.
type Provider interface {
	// StartStream opens a session ready to accept audio. The caller owns
	// the handle and must Close it. Setup failures (bad credentials,
	// unsupported format, dead ctx) surface here.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
