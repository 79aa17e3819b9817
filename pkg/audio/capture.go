// Package audio provides the PCM plumbing for voice sessions: the wire
// codec, capture framing, loudness measurement, and format conversion.
//
// The capture abstraction is [CaptureSource]: a muteable stream of
// [AudioFrame] values. Implementations wrap whatever the host embeds the
// engine in (a browser bridge, a sound card, a test harness); [MemSource]
// is the in-process implementation used by tests and by hosts that push
// their own PCM.
package audio

import (
	"sync"
	"sync/atomic"
)

// CaptureSource is a stream of microphone audio.
//
// SetEnabled(false) mutes at the source: the stream stays open and the
// channel stays live, but no frames are delivered until re-enabled. This
// mirrors disabling a hardware track rather than tearing the device down,
// so unmuting never needs a reconnect.
//
// Implementations must be safe for concurrent use.
type CaptureSource interface {
	// Frames returns the capture channel. It is closed by Close.
	Frames() <-chan AudioFrame

	// SetEnabled toggles frame delivery without closing the stream.
	SetEnabled(enabled bool)

	// Enabled reports whether frames are currently delivered.
	Enabled() bool

	// Close stops capture and closes the frame channel. Safe to call
	// more than once.
	Close() error
}

// MemSource is a push-driven [CaptureSource]. The owner feeds it normalised
// float32 sample blocks via [MemSource.Push]; the source frames them through
// a [Chunker] and delivers int16 PCM frames.
type MemSource struct {
	frames  chan AudioFrame
	done    chan struct{}
	chunker *Chunker

	enabled   atomic.Bool
	closeOnce sync.Once
	mu        sync.Mutex // guards chunker and closed
	closed    bool
}

// NewMemSource returns an enabled MemSource producing frames of chunkSize
// samples (0 for the default).
func NewMemSource(sampleRate, channels, chunkSize int) *MemSource {
	s := &MemSource{
		frames: make(chan AudioFrame, 16),
		done:   make(chan struct{}),
	}
	s.chunker = NewChunker(sampleRate, channels, chunkSize, s.emit)
	s.enabled.Store(true)
	return s
}

// emit delivers one chunked frame. When the buffer is full it waits for the
// consumer, but never past Close: a frame pushed after the consumer is gone
// is dropped rather than wedging the pusher inside s.mu.
func (s *MemSource) emit(f AudioFrame) {
	select {
	case s.frames <- f:
	default:
		select {
		case s.frames <- f:
		case <-s.done:
		}
	}
}

// Push feeds capture samples into the source. Samples pushed while the
// source is disabled or closed are discarded.
func (s *MemSource) Push(samples []float32) {
	if !s.enabled.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunker.Push(samples)
}

// Frames implements [CaptureSource].
func (s *MemSource) Frames() <-chan AudioFrame { return s.frames }

// SetEnabled implements [CaptureSource].
func (s *MemSource) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Enabled implements [CaptureSource].
func (s *MemSource) Enabled() bool { return s.enabled.Load() }

// Close implements [CaptureSource]. The buffered tail of the current frame
// is flushed before the channel closes. A Push blocked on a full buffer is
// released first, so Close returns even when nobody drains the frames.
func (s *MemSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		if s.enabled.Load() {
			s.chunker.Flush()
		}
		s.mu.Unlock()
		close(s.frames)
	})
	return nil
}

var _ CaptureSource = (*MemSource)(nil)

// FrameLevel computes the display loudness of a PCM frame. Odd trailing
// bytes are ignored.
func FrameLevel(f AudioFrame) float64 {
	n := len(f.Data) / 2
	if n == 0 {
		return 0
	}
	samples := make([]float32, n)
	for i := range n {
		s := int16(f.Data[i*2]) | int16(f.Data[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return Level(samples)
}
