package voice

import (
	"sync"
	"time"

	"github.com/sirine-ai/sirine/internal/store"
)

// Barge-in tuning defaults matching the capture pipeline's 16 kHz mono
// frames. The threshold is on the normalized level scale of
// [audio.Level], not raw RMS.
const (
	DefaultBargeInThreshold = 0.15
	DefaultBargeInCooldown  = 500 * time.Millisecond
	DefaultBargeInInterval  = 100 * time.Millisecond
)

// BargeInDetector decides when the user speaking over the assistant should
// cut playback. It fires at most once per cooldown window and only while
// the assistant holds the floor, so breathing noise during the user's own
// turn never triggers it.
//
// BargeInDetector is safe for concurrent use.
type BargeInDetector struct {
	threshold float64
	cooldown  time.Duration

	mu      sync.Mutex
	firedAt time.Time
}

// NewBargeInDetector creates a detector. Non-positive arguments fall back
// to the package defaults.
func NewBargeInDetector(threshold float64, cooldown time.Duration) *BargeInDetector {
	if threshold <= 0 {
		threshold = DefaultBargeInThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBargeInCooldown
	}
	return &BargeInDetector{threshold: threshold, cooldown: cooldown}
}

// Observe evaluates one sampled input level. It returns true exactly when an
// interruption should fire: the assistant is talking, the level crosses the
// threshold, and no interruption fired within the cooldown window.
func (d *BargeInDetector) Observe(now time.Time, mode store.Mode, level float64) bool {
	if mode != store.ModeTalking || level <= d.threshold {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.firedAt.IsZero() && now.Sub(d.firedAt) < d.cooldown {
		return false
	}
	d.firedAt = now
	return true
}

// Reset re-arms the detector immediately, discarding any running cooldown.
// Called when playback drains normally so the next turn starts clean.
func (d *BargeInDetector) Reset() {
	d.mu.Lock()
	d.firedAt = time.Time{}
	d.mu.Unlock()
}
