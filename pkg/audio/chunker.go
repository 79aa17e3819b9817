package audio

import "time"

// DefaultChunkSamples is the capture frame size in samples per channel.
// It matches the block size delivered by the capture layer.
const DefaultChunkSamples = 4096

// Chunker accumulates capture samples into fixed-size frames of int16 PCM.
// Samples arrive as normalised float32 blocks of arbitrary length; the
// chunker carries partial frames across Push calls so no sample is dropped.
//
// Chunker is not safe for concurrent use; it is owned by the capture
// goroutine that feeds it.
type Chunker struct {
	sampleRate int
	channels   int
	size       int
	buf        []float32
	elapsed    time.Duration
	emit       func(AudioFrame)
}

// NewChunker returns a Chunker emitting frames of size samples through emit.
// A size of 0 uses [DefaultChunkSamples].
func NewChunker(sampleRate, channels, size int, emit func(AudioFrame)) *Chunker {
	if size <= 0 {
		size = DefaultChunkSamples
	}
	return &Chunker{
		sampleRate: sampleRate,
		channels:   channels,
		size:       size,
		buf:        make([]float32, 0, size),
		emit:       emit,
	}
}

// Push appends samples and emits as many complete frames as the buffer holds.
func (c *Chunker) Push(samples []float32) {
	c.buf = append(c.buf, samples...)
	for len(c.buf) >= c.size {
		frame := c.buf[:c.size]
		c.emit(AudioFrame{
			Data:       EncodePCM(frame),
			SampleRate: c.sampleRate,
			Channels:   c.channels,
			Timestamp:  c.elapsed,
		})
		c.elapsed += time.Duration(c.size/c.channels) * time.Second / time.Duration(c.sampleRate)
		c.buf = c.buf[:copy(c.buf, c.buf[c.size:])]
	}
}

// Flush emits any buffered partial frame. Used on capture shutdown so the
// tail of an utterance is not lost.
func (c *Chunker) Flush() {
	if len(c.buf) == 0 {
		return
	}
	c.emit(AudioFrame{
		Data:       EncodePCM(c.buf),
		SampleRate: c.sampleRate,
		Channels:   c.channels,
		Timestamp:  c.elapsed,
	})
	c.buf = c.buf[:0]
}
