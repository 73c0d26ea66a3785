package viz

import (
	"math"
	"math/rand"
)

const (
	particleCount = 24
	edgeCount     = 18
)

type particle struct {
	x, y   float64
	vx, vy float64
}

type edge struct {
	a, b int
}

// particleField is the "thinking" neural layer: particles orbiting the
// center under tangential velocity with damping, connected by a sparse
// random edge graph with a pulse dot travelling each edge.
type particleField struct {
	particles []particle
	edges     []edge
	cx, cy    float64
	orbit     float64
	rng       *rand.Rand
}

func newParticleField(seed int64) *particleField {
	return &particleField{rng: rand.New(rand.NewSource(seed))}
}

// init scatters particles on a ring around the center and rebuilds the
// edge graph. Called on construction and on every resize.
func (f *particleField) init(w, h float64) {
	f.cx = w / 2
	f.cy = h / 2
	f.orbit = math.Min(w, h) * 0.32

	f.particles = f.particles[:0]
	for i := 0; i < particleCount; i++ {
		angle := f.rng.Float64() * 2 * math.Pi
		radius := f.orbit * (0.8 + f.rng.Float64()*0.4)
		speed := 18 + f.rng.Float64()*22
		f.particles = append(f.particles, particle{
			x:  f.cx + radius*math.Cos(angle),
			y:  f.cy + radius*math.Sin(angle),
			vx: -math.Sin(angle) * speed,
			vy: math.Cos(angle) * speed,
		})
	}

	f.edges = f.edges[:0]
	for i := 0; i < edgeCount; i++ {
		a := f.rng.Intn(particleCount)
		b := f.rng.Intn(particleCount)
		if a == b {
			b = (b + 1) % particleCount
		}
		f.edges = append(f.edges, edge{a: a, b: b})
	}
}

// step integrates one tick: tangential drift, a soft pull toward the orbit
// radius, and velocity damping.
func (f *particleField) step(dt float64) {
	for i := range f.particles {
		p := &f.particles[i]
		dx := p.x - f.cx
		dy := p.y - f.cy
		dist := math.Hypot(dx, dy)
		if dist > 1e-6 {
			pull := (f.orbit - dist) * 0.6
			p.vx += dx / dist * pull * dt
			p.vy += dy / dist * pull * dt
		}
		damp := 1 - 0.4*dt
		if damp < 0 {
			damp = 0
		}
		p.vx *= damp
		p.vy *= damp
		p.x += p.vx * dt
		p.y += p.vy * dt
	}
}
