package voice_test

import (
	"sync"
	"testing"
	"time"

	"github.com/sirine-ai/sirine/internal/voice"
	"github.com/sirine-ai/sirine/pkg/audio"
)

// makeBuf builds a mono 24 kHz buffer with the given playback length.
func makeBuf(d time.Duration) audio.Buffer {
	n := int(24000 * d / time.Second)
	return audio.Buffer{Samples: make([]float32, n), SampleRate: 24000, Channels: 1}
}

type sinkRecorder struct {
	mu     sync.Mutex
	chunks []voice.ScheduledChunk
}

func (r *sinkRecorder) record(c voice.ScheduledChunk) {
	r.mu.Lock()
	r.chunks = append(r.chunks, c)
	r.mu.Unlock()
}

func (r *sinkRecorder) all() []voice.ScheduledChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]voice.ScheduledChunk(nil), r.chunks...)
}

func TestScheduler_FirstChunkGetsLead(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rec := &sinkRecorder{}
	s := voice.NewPlaybackScheduler(
		voice.WithSchedulerClock(clock),
		voice.WithSink(rec.record),
	)

	base := clock.Now()
	s.Enqueue(makeBuf(100 * time.Millisecond))

	chunks := rec.all()
	if len(chunks) != 1 {
		t.Fatalf("sink got %d chunks, want 1", len(chunks))
	}
	if got, want := chunks[0].StartAt, base.Add(50*time.Millisecond); !got.Equal(want) {
		t.Errorf("StartAt = %v, want %v", got, want)
	}
	if !s.Playing() {
		t.Error("scheduler should be playing")
	}
}

func TestScheduler_ChunksAreContiguous(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rec := &sinkRecorder{}
	s := voice.NewPlaybackScheduler(
		voice.WithSchedulerClock(clock),
		voice.WithSink(rec.record),
	)

	s.Enqueue(makeBuf(100 * time.Millisecond))
	s.Enqueue(makeBuf(40 * time.Millisecond))
	s.Enqueue(makeBuf(60 * time.Millisecond))

	chunks := rec.all()
	if len(chunks) != 3 {
		t.Fatalf("sink got %d chunks, want 3", len(chunks))
	}
	if got, want := chunks[1].StartAt, chunks[0].StartAt.Add(100*time.Millisecond); !got.Equal(want) {
		t.Errorf("second StartAt = %v, want %v", got, want)
	}
	if got, want := chunks[2].StartAt, chunks[1].StartAt.Add(40*time.Millisecond); !got.Equal(want) {
		t.Errorf("third StartAt = %v, want %v", got, want)
	}
}

func TestScheduler_DrainFiresOnceAfterLastChunk(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	drains := 0
	s := voice.NewPlaybackScheduler(
		voice.WithSchedulerClock(clock),
		voice.WithDrainFunc(func() { drains++ }),
	)

	s.Enqueue(makeBuf(100 * time.Millisecond))
	s.Enqueue(makeBuf(100 * time.Millisecond))

	clock.Advance(120 * time.Millisecond)
	if drains != 0 {
		t.Fatalf("drain fired with a chunk still playing (drains = %d)", drains)
	}
	if !s.Playing() {
		t.Error("scheduler should still be playing")
	}

	clock.Advance(200 * time.Millisecond)
	if drains != 1 {
		t.Errorf("drains = %d, want 1", drains)
	}
	if s.Playing() {
		t.Error("scheduler should be drained")
	}
}

func TestScheduler_NewTurnAfterDrainGetsFreshLead(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rec := &sinkRecorder{}
	s := voice.NewPlaybackScheduler(
		voice.WithSchedulerClock(clock),
		voice.WithSink(rec.record),
	)

	s.Enqueue(makeBuf(100 * time.Millisecond))
	clock.Advance(time.Second)

	base := clock.Now()
	s.Enqueue(makeBuf(100 * time.Millisecond))

	chunks := rec.all()
	if got, want := chunks[1].StartAt, base.Add(50*time.Millisecond); !got.Equal(want) {
		t.Errorf("new turn StartAt = %v, want %v", got, want)
	}
}

func TestScheduler_StopAllCancelsEverything(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	drains := 0
	var fade time.Duration
	s := voice.NewPlaybackScheduler(
		voice.WithSchedulerClock(clock),
		voice.WithDrainFunc(func() { drains++ }),
		voice.WithStopFunc(func(d time.Duration) { fade = d }),
	)

	s.Enqueue(makeBuf(100 * time.Millisecond))
	s.Enqueue(makeBuf(100 * time.Millisecond))
	s.StopAll()

	if s.Playing() {
		t.Error("scheduler should be empty after StopAll")
	}
	if fade != 50*time.Millisecond {
		t.Errorf("fade = %v, want 50ms", fade)
	}

	clock.Advance(time.Second)
	if drains != 0 {
		t.Errorf("drain fired after StopAll (drains = %d)", drains)
	}
}

func TestScheduler_StopAllResetsTimeline(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	rec := &sinkRecorder{}
	s := voice.NewPlaybackScheduler(
		voice.WithSchedulerClock(clock),
		voice.WithSink(rec.record),
	)

	s.Enqueue(makeBuf(500 * time.Millisecond))
	s.StopAll()

	base := clock.Now()
	s.Enqueue(makeBuf(100 * time.Millisecond))

	chunks := rec.all()
	if got, want := chunks[1].StartAt, base.Add(50*time.Millisecond); !got.Equal(want) {
		t.Errorf("StartAt after StopAll = %v, want %v", got, want)
	}
}
