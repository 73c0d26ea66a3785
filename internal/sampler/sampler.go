// Package sampler turns raw amplitude sources (microphone analysis while
// listening, a synthetic curve while the agent speaks) into one smoothed
// level stream with rate-limited peak events.
package sampler

import (
	"sync"
	"time"

	"github.com/aurelia-labs/voiceorb/internal/metrics"
)

// Frame is one sampler output: the smoothed level and whether this tick
// fired a peak. Frames are ephemeral; nothing retains them.
type Frame struct {
	Level float64
	Peak  bool
}

// Config tunes the smoothing and peak behavior. Zero values pick the
// defaults.
type Config struct {
	Smoothing     float64
	PeakThreshold float64
	PeakInterval  time.Duration
}

func (c *Config) normalize() {
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = 0.15
	}
	if c.PeakThreshold <= 0 {
		c.PeakThreshold = 0.6
	}
	if c.PeakInterval <= 0 {
		c.PeakInterval = 150 * time.Millisecond
	}
}

// Sampler applies exponential smoothing and peak detection. It is passive:
// the render loop calls Tick at frame cadence with the current raw value.
type Sampler struct {
	mu       sync.Mutex
	cfg      Config
	level    float64
	lastPeak time.Time
	sink     func(Frame)
}

func New(cfg Config) *Sampler {
	cfg.normalize()
	return &Sampler{cfg: cfg}
}

// SetSink registers a consumer invoked on every tick after smoothing.
func (s *Sampler) SetSink(fn func(Frame)) {
	s.mu.Lock()
	s.sink = fn
	s.mu.Unlock()
}

// Tick folds one raw amplitude into the smoothed level and reports whether
// it crossed the peak threshold outside the rate-limit window.
func (s *Sampler) Tick(now time.Time, raw float64) Frame {
	raw = clamp(raw, 0, 1)

	s.mu.Lock()
	s.level += (raw - s.level) * s.cfg.Smoothing
	s.level = clamp(s.level, 0, 1)

	peak := false
	if s.level >= s.cfg.PeakThreshold && now.Sub(s.lastPeak) >= s.cfg.PeakInterval {
		peak = true
		s.lastPeak = now
	}
	frame := Frame{Level: s.level, Peak: peak}
	sink := s.sink
	s.mu.Unlock()

	metrics.AudioLevel.Set(frame.Level)
	if peak {
		metrics.PeaksTotal.Inc()
	}
	if sink != nil {
		sink(frame)
	}
	return frame
}

// Level returns the current smoothed value.
func (s *Sampler) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Reset drops smoothing history, used when the amplitude source changes.
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.level = 0
	s.lastPeak = time.Time{}
	s.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
