package audio

import "math"

// Level computes a display-friendly loudness value for a block of normalised
// samples: the RMS scaled by 10 and clamped to [0, 1]. The scaling keeps
// typical speech well inside the visible range of a level meter while still
// saturating on shouting.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	level := rms * 10
	if level > 1 {
		level = 1
	}
	return level
}
