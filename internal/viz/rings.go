package viz

// ringCap bounds the pool; spawn requests beyond it are dropped. Combined
// with the sampler's peak rate limit this caps ring churn.
const ringCap = 10

type ring struct {
	radius float64
	alpha  float64
}

// ringPool is a finite-lifetime pool of expanding, fading rings. Each ring
// grows and fades every step until it hits the max radius or full
// transparency, then leaves the pool.
type ringPool struct {
	rings     []ring
	baseR     float64
	maxRadius float64
}

func newRingPool(baseR, maxRadius float64) *ringPool {
	return &ringPool{baseR: baseR, maxRadius: maxRadius}
}

func (p *ringPool) spawn() {
	if len(p.rings) >= ringCap {
		return
	}
	p.rings = append(p.rings, ring{radius: p.baseR, alpha: 1})
}

// step advances every ring by dt seconds and compacts the pool in place.
func (p *ringPool) step(dt float64) {
	growth := (p.maxRadius - p.baseR) / 1.2
	kept := p.rings[:0]
	for _, r := range p.rings {
		r.radius += growth * dt
		r.alpha -= 0.9 * dt
		if r.radius >= p.maxRadius || r.alpha <= 0 {
			continue
		}
		kept = append(kept, r)
	}
	p.rings = kept
}

func (p *ringPool) reset(baseR, maxRadius float64) {
	p.baseR = baseR
	p.maxRadius = maxRadius
	p.rings = p.rings[:0]
}

func (p *ringPool) len() int { return len(p.rings) }
