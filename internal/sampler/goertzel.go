package sampler

import (
	"math"
	"sync"
)

// Analysis bands span the speech-relevant range, geometrically spaced from
// 100 Hz to 4 kHz.
const (
	bandCount = 8
	bandLowHz = 100
	bandTopHz = 4000

	// Speech energy per band is a small fraction of full scale; the gain
	// lifts typical voice frames into the visible range before clamping.
	bandGain = 8.0
)

// BandAnalyzer computes per-frame Goertzel magnitudes over fixed bands and
// keeps the normalized average as the current microphone level.
type BandAnalyzer struct {
	sampleRate int
	bands      [bandCount]float64

	mu    sync.Mutex
	level float64
}

func NewBandAnalyzer(sampleRate int) *BandAnalyzer {
	a := &BandAnalyzer{sampleRate: sampleRate}
	ratio := math.Pow(float64(bandTopHz)/float64(bandLowHz), 1/float64(bandCount-1))
	freq := float64(bandLowHz)
	for i := range a.bands {
		a.bands[i] = freq
		freq *= ratio
	}
	return a
}

// Analyze folds one PCM frame into the level and returns the raw (pre-
// smoothing) value in [0,1].
func (a *BandAnalyzer) Analyze(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, freq := range a.bands {
		sum += goertzel(pcm, a.sampleRate, freq)
	}
	raw := clamp(sum/bandCount*bandGain, 0, 1)

	a.mu.Lock()
	a.level = raw
	a.mu.Unlock()
	return raw
}

// Level returns the most recent analyzed value.
func (a *BandAnalyzer) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

// goertzel returns the normalized magnitude of one frequency bin over the
// frame, 0..1 relative to a full-scale sine.
func goertzel(pcm []int16, sampleRate int, freq float64) float64 {
	n := len(pcm)
	k := math.Round(float64(n) * freq / float64(sampleRate))
	omega := 2 * math.Pi * k / float64(n)
	coeff := 2 * math.Cos(omega)

	var s1, s2 float64
	for _, sample := range pcm {
		s := float64(sample)/32768 + coeff*s1 - s2
		s2 = s1
		s1 = s
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) / (float64(n) / 2)
}
