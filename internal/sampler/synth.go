package sampler

import (
	"math"
	"math/rand"
	"time"
)

// Synthetic speaking amplitude bounds. Output audio is never analyzed; the
// curve only has to read as plausible speech, so it is modeled and kept
// clamped above a visible floor.
const (
	synthFloor = 0.30
	synthCeil  = 0.90
)

// Synth models a speech-like amplitude: superimposed sines at syllable,
// word and sentence rates under a slow breathing envelope, with bounded
// jitter.
type Synth struct {
	start time.Time
	rng   *rand.Rand
}

func NewSynth() *Synth {
	return &Synth{
		start: time.Now(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Sample returns the synthetic amplitude at now, always within
// [synthFloor, synthCeil].
func (s *Synth) Sample(now time.Time) float64 {
	t := now.Sub(s.start).Seconds()

	syllable := math.Sin(2 * math.Pi * 4.2 * t)
	word := math.Sin(2*math.Pi*1.7*t + 0.8)
	sentence := math.Sin(2*math.Pi*0.35*t + 2.1)
	breath := 0.5 + 0.5*math.Sin(2*math.Pi*0.18*t)
	jitter := (s.rng.Float64()*2 - 1) * 0.06

	v := 0.55 + 0.18*syllable + 0.12*word + 0.08*sentence
	v = v*(0.75+0.25*breath) + jitter
	return clamp(v, synthFloor, synthCeil)
}
