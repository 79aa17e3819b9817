// Package live defines the Provider interface for realtime voice backends.
//
// A live provider wraps a speech-to-speech AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session,
// bypassing the separate STT, LLM, and TTS stages entirely.
//
// The central abstraction is SessionHandle: a bidirectional connection whose
// server-side traffic (audio, transcriptions, tool calls, interruptions,
// errors) is surfaced as a single ordered stream of [Event] values. A session
// has exactly one consumer, the orchestrator, which processes events in
// arrival order; this keeps mode transitions deterministic without locking
// across event kinds.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sirine-ai/sirine/pkg/provider/llm"
)

// ErrSessionClosed is returned by session methods after Close.
var ErrSessionClosed = errors.New("live: session closed")

// TranscriptSource identifies which side of the conversation a
// transcription belongs to.
type TranscriptSource string

const (
	SourceUser      TranscriptSource = "user"
	SourceAssistant TranscriptSource = "assistant"
)

// ToolInvocation is a single function call requested by the model.
// Args is the raw JSON argument object; decoding into a typed request
// is the dispatcher's job, not the transport's.
type ToolInvocation struct {
	ID   string
	Name string
	Args json.RawMessage
}

// GroundingChunk is a web source the model grounded its answer on.
// Display-only metadata.
type GroundingChunk struct {
	URI   string
	Title string
}

// Event is the sealed union of everything a live session can report.
// Exactly one concrete type is delivered per value on [SessionHandle.Events].
type Event interface{ isEvent() }

// AudioChunkEvent carries one chunk of synthesised model speech as raw
// little-endian int16 PCM.
type AudioChunkEvent struct {
	PCM        []byte
	SampleRate int
}

// TranscriptionEvent carries incremental speech recognition text for either
// the user's input or the model's spoken output.
type TranscriptionEvent struct {
	Source TranscriptSource
	Text   string
}

// ToolCallEvent carries a batch of function calls. The model expects one
// response per invocation, in order.
type ToolCallEvent struct {
	Invocations []ToolInvocation
}

// GroundingEvent carries web grounding sources attached to the current turn.
type GroundingEvent struct {
	Chunks []GroundingChunk
}

// InterruptedEvent signals that the server cut the current model turn short,
// typically because it detected the user speaking.
type InterruptedEvent struct{}

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

// ErrorEvent carries a fatal or non-fatal error raised by the provider
// mid-session. The orchestrator classifies and decides whether to tear down.
type ErrorEvent struct {
	Err error
}

// ClosedEvent is the final event on the stream: the connection is gone and
// the event channel closes after its delivery.
type ClosedEvent struct{}

func (AudioChunkEvent) isEvent()    {}
func (TranscriptionEvent) isEvent() {}
func (ToolCallEvent) isEvent()      {}
func (GroundingEvent) isEvent()     {}
func (InterruptedEvent) isEvent()   {}
func (TurnCompleteEvent) isEvent()  {}
func (ErrorEvent) isEvent()         {}
func (ClosedEvent) isEvent()        {}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice is the provider's prebuilt voice name for synthesised output.
	Voice string

	// Instructions is the system-level prompt that defines the assistant's
	// persona and behavioural constraints.
	Instructions string

	// Tools is the set of tool definitions offered to the model. Tool calls
	// are surfaced as [ToolCallEvent] values; results go back through
	// [SessionHandle.SendToolResult].
	Tools []llm.ToolDefinition
}

// Capabilities describes static properties of a live provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// ContextWindow is the maximum token count the model can maintain
	// across the session.
	ContextWindow int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open live session. It is an interface so test
// code can supply scripted implementations without a network connection.
//
// The session is the hot path of the voice pipeline; every method must
// return quickly. Callers must call Close when the session is no longer
// needed; Close is idempotent.
type SessionHandle interface {
	// SendAudio delivers a raw PCM capture chunk (16 kHz, s16le, mono) to
	// the model. Returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// SendToolResult delivers the result of one tool invocation back to the
	// model. id and name must match the originating [ToolInvocation].
	SendToolResult(id, name, result string) error

	// SendInterrupt tells the model to stop generating the current response
	// and discard buffered output. Used on local barge-in detection.
	SendInterrupt() error

	// Events returns the ordered server event stream. The channel is owned
	// by the session's receive loop and closed after a [ClosedEvent] is
	// delivered. Consumers must drain promptly; a stalled consumer stalls
	// the provider's receive loop.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly. Valid after the Events channel closes.
	Err() error

	// Close terminates the session and releases all resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime voice backend.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned SessionHandle is ready to accept audio immediately.
	// The caller owns the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() Capabilities
}

// IsModelUnavailable reports whether err looks like the configured model is
// missing, retired, or not enabled for this API key, as opposed to a
// transient session failure. Providers signal this condition only through
// error text, so classification is substring-based.
func IsModelUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"implemented", "supported", "enabled", "404"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
