package voice

import (
	"context"
	"sync"
	"time"

	"github.com/sirine-ai/sirine/internal/observe"
	"github.com/sirine-ai/sirine/pkg/audio"
)

const (
	// startLead is the headroom given to the first chunk of a response turn
	// so the transport can deliver it before its playback slot starts.
	startLead = 50 * time.Millisecond

	// stopFade is the ramp-down applied when playback is cut short, long
	// enough to avoid an audible click but short enough to feel immediate.
	stopFade = 50 * time.Millisecond
)

// Clock abstracts wall time for the scheduler so tests can drive playback
// without sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the stoppable handle returned by [Clock.AfterFunc].
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// ScheduledChunk is one piece of model speech together with its assigned
// playback slot.
type ScheduledChunk struct {
	Buffer  audio.Buffer
	StartAt time.Time
}

// SchedulerOption configures a [PlaybackScheduler].
type SchedulerOption func(*PlaybackScheduler)

// WithSchedulerClock replaces the wall clock. Tests use this to control
// chunk completion deterministically.
func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *PlaybackScheduler) {
		s.clock = c
	}
}

// WithSink registers the callback receiving every scheduled chunk. The sink
// is invoked synchronously from Enqueue and must not block.
func WithSink(fn func(ScheduledChunk)) SchedulerOption {
	return func(s *PlaybackScheduler) {
		s.sink = fn
	}
}

// WithDrainFunc registers the callback invoked when the last scheduled chunk
// finishes playing. The orchestrator uses it to return to idle.
func WithDrainFunc(fn func()) SchedulerOption {
	return func(s *PlaybackScheduler) {
		s.onDrained = fn
	}
}

// WithStopFunc registers the callback invoked by StopAll with the fade
// duration to apply before cutting output.
func WithStopFunc(fn func(fade time.Duration)) SchedulerOption {
	return func(s *PlaybackScheduler) {
		s.onStop = fn
	}
}

// WithSchedulerMetrics attaches metric instruments. Without it no metrics
// are recorded.
func WithSchedulerMetrics(m *observe.Metrics) SchedulerOption {
	return func(s *PlaybackScheduler) {
		s.metrics = m
	}
}

// PlaybackScheduler assigns gapless playback slots to streamed speech
// chunks. Chunks arrive faster than real time, so each one is scheduled at
// the point the previous one ends; the first chunk of a turn gets a small
// lead so the transport never starts behind the clock.
//
// PlaybackScheduler is safe for concurrent use.
type PlaybackScheduler struct {
	clock     Clock
	sink      func(ScheduledChunk)
	onDrained func()
	onStop    func(fade time.Duration)
	metrics   *observe.Metrics

	mu        sync.Mutex
	nextStart time.Time
	active    map[int]Timer
	seq       int
}

// NewPlaybackScheduler creates a scheduler with the given options.
func NewPlaybackScheduler(opts ...SchedulerOption) *PlaybackScheduler {
	s := &PlaybackScheduler{
		clock:  realClock{},
		active: make(map[int]Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue schedules buf for playback directly after the last queued chunk.
// If nothing is playing the chunk starts a fresh turn, offset by a small
// lead from now.
func (s *PlaybackScheduler) Enqueue(buf audio.Buffer) {
	now := s.clock.Now()

	s.mu.Lock()
	var start time.Time
	if len(s.active) == 0 {
		start = now.Add(startLead)
	} else {
		start = s.nextStart
		if start.Before(now) {
			start = now
		}
	}
	s.nextStart = start.Add(buf.Duration())

	s.seq++
	id := s.seq
	endsIn := s.nextStart.Sub(now)
	s.active[id] = s.clock.AfterFunc(endsIn, func() { s.finish(id) })
	sink := s.sink
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ScheduleLatency.Record(context.Background(), start.Sub(now).Seconds())
	}
	if sink != nil {
		sink(ScheduledChunk{Buffer: buf, StartAt: start})
	}
}

// finish removes a completed chunk and fires the drain callback when it was
// the last one.
func (s *PlaybackScheduler) finish(id int) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	drained := len(s.active) == 0
	fn := s.onDrained
	s.mu.Unlock()

	if drained && fn != nil {
		fn()
	}
}

// StopAll cancels every pending and playing chunk and resets the timeline to
// now. The drain callback is not invoked; the caller decides what state an
// interruption leads to.
func (s *PlaybackScheduler) StopAll() {
	s.mu.Lock()
	for id, timer := range s.active {
		timer.Stop()
		delete(s.active, id)
	}
	s.nextStart = s.clock.Now()
	fn := s.onStop
	s.mu.Unlock()

	if fn != nil {
		fn(stopFade)
	}
}

// Playing reports whether any chunk is currently scheduled or playing.
func (s *PlaybackScheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}
