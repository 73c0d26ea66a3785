package viz

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-labs/voiceorb/internal/metrics"
	"github.com/aurelia-labs/voiceorb/internal/sampler"
	"github.com/aurelia-labs/voiceorb/internal/session/fsm"
)

// QualityTier selects how much of the scene is rendered.
type QualityTier string

const (
	TierFull QualityTier = "full"
	TierLite QualityTier = "lite"
)

func normalizeTier(raw string) QualityTier {
	if QualityTier(raw) == TierLite {
		return TierLite
	}
	return TierFull
}

// Config sizes and paces the engine.
type Config struct {
	Width     int
	Height    int
	FrameRate int
	Quality   string
	Theme     Theme
}

// Engine runs the continuous render loop: every tick it samples the
// amplitude source for the current turn state, advances ring and particle
// lifetimes, and emits one Frame of draw commands.
type Engine struct {
	logger *zap.Logger
	smp    *sampler.Sampler
	synth  *sampler.Synth
	turnFn func() fsm.State
	period time.Duration

	mu       sync.Mutex
	w, h     float64
	tier     QualityTier
	theme    Theme
	micLevel func() float64
	sink     func(Frame)
	rings    *ringPool
	field    *particleField
	seq      uint64
	start    time.Time
	lastTick time.Time
}

func NewEngine(cfg Config, turnFn func() fsm.State, smp *sampler.Sampler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 60
	}
	if cfg.Theme.Name == "" {
		cfg.Theme = DefaultTheme
	}

	e := &Engine{
		logger: logger,
		smp:    smp,
		synth:  sampler.NewSynth(),
		turnFn: turnFn,
		period: time.Second / time.Duration(cfg.FrameRate),
		tier:   normalizeTier(cfg.Quality),
		theme:  cfg.Theme,
		rings:  newRingPool(0, 0),
		field:  newParticleField(time.Now().UnixNano()),
		start:  time.Now(),
	}
	e.Resize(cfg.Width, cfg.Height)
	return e
}

// SetSink registers the frame consumer.
func (e *Engine) SetSink(fn func(Frame)) {
	e.mu.Lock()
	e.sink = fn
	e.mu.Unlock()
}

// SetMicLevel installs the microphone level source used while listening.
// nil reads as silence.
func (e *Engine) SetMicLevel(fn func() float64) {
	e.mu.Lock()
	e.micLevel = fn
	e.mu.Unlock()
}

// SetQuality switches the tier at runtime; lite drops the particle layer.
func (e *Engine) SetQuality(raw string) {
	e.mu.Lock()
	e.tier = normalizeTier(raw)
	e.mu.Unlock()
}

// SetTheme swaps the palette set.
func (e *Engine) SetTheme(theme Theme) {
	e.mu.Lock()
	e.theme = theme
	e.mu.Unlock()
}

// Resize reinitializes size-dependent state: the ring pool is cleared and
// particles are rescattered for the new geometry.
func (e *Engine) Resize(width, height int) {
	e.mu.Lock()
	e.w = float64(width)
	e.h = float64(height)
	base := e.w
	if e.h < base {
		base = e.h
	}
	e.rings.reset(base*0.10, base*0.48)
	if e.w > 0 && e.h > 0 {
		e.field.init(e.w, e.h)
	}
	e.mu.Unlock()
}

// Run drives the loop until ctx is canceled. Always returns nil; render
// errors are recovered per frame, never fatal to the loop.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.renderFrame(now)
		}
	}
}

func (e *Engine) renderFrame(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RenderErrorsTotal.Inc()
			e.logger.Error("render frame panicked", zap.Any("panic", r))
		}
	}()

	out, sink, ok := e.buildFrame(now)
	if !ok {
		return
	}

	metrics.FramesRenderedTotal.Inc()
	if sink != nil {
		sink(out)
	}
}

// buildFrame does the locked portion of a tick. The deferred unlock keeps
// the mutex released even when the amplitude source or scene render panics.
func (e *Engine) buildFrame(now time.Time) (Frame, func(Frame), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.w <= 0 || e.h <= 0 {
		// Not sized yet; skip and retry on the next tick.
		return Frame{}, nil, false
	}

	dt := e.period.Seconds()
	if !e.lastTick.IsZero() {
		if measured := now.Sub(e.lastTick).Seconds(); measured > 0 && measured < 0.25 {
			dt = measured
		}
	}
	e.lastTick = now

	turn := e.turnFn()
	var raw float64
	switch turn {
	case fsm.StateSpeaking:
		raw = e.synth.Sample(now)
	case fsm.StateListening:
		if e.micLevel != nil {
			raw = e.micLevel()
		}
	}
	frame := e.smp.Tick(now, raw)

	if frame.Peak && (turn == fsm.StateListening || turn == fsm.StateSpeaking) {
		e.rings.spawn()
	}
	e.rings.step(dt)
	if turn == fsm.StateThinking && e.tier == TierFull {
		e.field.step(dt)
	}

	field := e.field
	if e.tier == TierLite {
		field = nil
	}
	cmds := renderScene(e.theme, sceneState{
		turn:    turn,
		level:   frame.Level,
		elapsed: now.Sub(e.start).Seconds(),
		w:       e.w,
		h:       e.h,
		rings:   e.rings.rings,
		field:   field,
	})
	e.seq++
	out := Frame{Seq: e.seq, Level: frame.Level, Peak: frame.Peak, Commands: cmds}
	return out, e.sink, true
}
