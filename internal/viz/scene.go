package viz

import (
	"math"

	"github.com/aurelia-labs/voiceorb/internal/session/fsm"
)

const speakingBarCount = 17

// sceneState is everything a frame is a function of. renderScene reads no
// clocks and no RNG; identical states render identical frames.
type sceneState struct {
	turn    fsm.State
	level   float64
	elapsed float64
	w, h    float64
	rings   []ring
	field   *particleField
}

// renderScene paints the layers back to front: ambient glow, ring pool,
// particle network, state-specific indicators, core orb.
func renderScene(theme Theme, s sceneState) []DrawCommand {
	pal := theme.palette(string(s.turn))
	cx := s.w / 2
	cy := s.h / 2
	base := math.Min(s.w, s.h)

	cmds := make([]DrawCommand, 0, 64)
	cmds = append(cmds, DrawCommand{Op: OpClear, W: s.w, H: s.h})

	// Ambient glow; breathes on a slow sinusoid while idle, swells with
	// level otherwise.
	glowR := base * 0.42
	if s.turn == fsm.StateIdle {
		glowR *= 1 + 0.05*math.Sin(2*math.Pi*0.2*s.elapsed)
	} else {
		glowR *= 1 + 0.15*s.level
	}
	cmds = append(cmds, DrawCommand{Op: OpGlow, X: cx, Y: cy, R: glowR, Color: pal.Glow, Alpha: 0.8})

	for _, r := range s.rings {
		cmds = append(cmds, DrawCommand{Op: OpRing, X: cx, Y: cy, R: r.radius, Color: pal.Primary, Alpha: r.alpha, Width: 2})
	}

	if s.turn == fsm.StateThinking && s.field != nil {
		cmds = appendParticleLayer(cmds, s.field, s.elapsed, pal)
	}
	if s.turn == fsm.StateSpeaking {
		cmds = appendSpeakingBars(cmds, s, pal)
	}
	if s.turn == fsm.StateListening {
		cmds = appendListeningIndicator(cmds, s, pal)
	}

	orbR := base * 0.08 * (1 + 0.35*s.level)
	cmds = append(cmds, DrawCommand{Op: OpCircle, X: cx, Y: cy, R: orbR, Color: pal.Primary, Alpha: 1})
	return cmds
}

// pulseSpeed is how many edge traversals the travelling dot completes per
// second; each edge is phase-offset so the pulses stay desynchronized.
const pulseSpeed = 0.6

func appendParticleLayer(cmds []DrawCommand, f *particleField, elapsed float64, pal Palette) []DrawCommand {
	for _, e := range f.edges {
		a := f.particles[e.a]
		b := f.particles[e.b]
		cmds = append(cmds, DrawCommand{Op: OpLine, X: a.x, Y: a.y, X2: b.x, Y2: b.y, Color: pal.Secondary, Alpha: 0.35, Width: 1})
	}
	for i, e := range f.edges {
		a := f.particles[e.a]
		b := f.particles[e.b]
		phase := float64(i) / float64(len(f.edges))
		t := math.Mod(elapsed*pulseSpeed+phase, 1)
		cmds = append(cmds, DrawCommand{Op: OpDot, X: a.x + (b.x-a.x)*t, Y: a.y + (b.y-a.y)*t, R: 1.6, Color: pal.Secondary, Alpha: 0.7})
	}
	for _, p := range f.particles {
		cmds = append(cmds, DrawCommand{Op: OpDot, X: p.x, Y: p.y, R: 2.2, Color: pal.Primary, Alpha: 0.9})
	}
	return cmds
}

// appendSpeakingBars draws the waveform line: layered sines plus the
// current level, biased so center bars read taller than edge bars.
func appendSpeakingBars(cmds []DrawCommand, s sceneState, pal Palette) []DrawCommand {
	cx := s.w / 2
	cy := s.h / 2
	span := math.Min(s.w, s.h) * 0.55
	barW := span / float64(speakingBarCount) * 0.6
	step := span / float64(speakingBarCount-1)

	for i := 0; i < speakingBarCount; i++ {
		pos := float64(i)/float64(speakingBarCount-1) - 0.5
		centerBias := math.Cos(pos * math.Pi)
		wave := 0.6 +
			0.25*math.Sin(2*math.Pi*2.3*s.elapsed+float64(i)*0.9) +
			0.15*math.Sin(2*math.Pi*5.1*s.elapsed+float64(i)*1.7)
		height := math.Min(s.h*0.28, math.Max(3, s.h*0.22*wave*centerBias*(0.35+0.65*s.level)))

		x := cx - span/2 + float64(i)*step - barW/2
		cmds = append(cmds, DrawCommand{Op: OpBar, X: x, Y: cy - height/2, W: barW, H: height, Color: pal.Primary, Alpha: 0.9})
	}
	return cmds
}

// appendListeningIndicator draws paired arcs and short side bars reacting
// to level, plus a central pulse ring.
func appendListeningIndicator(cmds []DrawCommand, s sceneState, pal Palette) []DrawCommand {
	cx := s.w / 2
	cy := s.h / 2
	base := math.Min(s.w, s.h)
	arcR := base * (0.18 + 0.05*s.level)

	spread := 0.5 + 0.4*s.level
	cmds = append(cmds,
		DrawCommand{Op: OpArc, X: cx, Y: cy, R: arcR, Start: -spread, End: spread, Color: pal.Primary, Alpha: 0.9, Width: 3},
		DrawCommand{Op: OpArc, X: cx, Y: cy, R: arcR, Start: math.Pi - spread, End: math.Pi + spread, Color: pal.Primary, Alpha: 0.9, Width: 3},
	)

	for i := 0; i < 3; i++ {
		h := base * (0.03 + 0.05*s.level*float64(3-i)/3)
		offset := arcR + base*0.04*float64(i+1)
		cmds = append(cmds,
			DrawCommand{Op: OpBar, X: cx + offset, Y: cy - h/2, W: 3, H: h, Color: pal.Secondary, Alpha: 0.8},
			DrawCommand{Op: OpBar, X: cx - offset - 3, Y: cy - h/2, W: 3, H: h, Color: pal.Secondary, Alpha: 0.8},
		)
	}

	pulse := 1 + 0.1*math.Sin(2*math.Pi*1.1*s.elapsed)
	cmds = append(cmds, DrawCommand{Op: OpRing, X: cx, Y: cy, R: base * 0.12 * pulse, Color: pal.Primary, Alpha: 0.5, Width: 1.5})
	return cmds
}
