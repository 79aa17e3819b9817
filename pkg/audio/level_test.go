package audio_test

import (
	"math"
	"testing"

	"github.com/sirine-ai/sirine/pkg/audio"
)

func TestLevel_Silence(t *testing.T) {
	if got := audio.Level(make([]float32, 1024)); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
	if got := audio.Level(nil); got != 0 {
		t.Errorf("empty input: got %v, want 0", got)
	}
}

func TestLevel_ScalesRMS(t *testing.T) {
	// Constant amplitude 0.05 has RMS 0.05, so level should be 0.5.
	samples := make([]float32, 512)
	for i := range samples {
		samples[i] = 0.05
	}
	got := audio.Level(samples)
	if math.Abs(got-0.5) > 1e-6 {
		t.Errorf("got %v, want 0.5", got)
	}
}

func TestLevel_ClampsToOne(t *testing.T) {
	samples := make([]float32, 512)
	for i := range samples {
		samples[i] = 0.9
	}
	if got := audio.Level(samples); got != 1 {
		t.Errorf("got %v, want 1 (clamped)", got)
	}
}

func TestFrameLevel(t *testing.T) {
	f := audio.AudioFrame{Data: samplesToBytes([]int16{0, 0, 0, 0}), SampleRate: 16000, Channels: 1}
	if got := audio.FrameLevel(f); got != 0 {
		t.Errorf("silent frame: got %v, want 0", got)
	}
	if got := audio.FrameLevel(audio.AudioFrame{}); got != 0 {
		t.Errorf("empty frame: got %v, want 0", got)
	}
}
