package viz

import "testing"

func TestRingPoolCap(t *testing.T) {
	p := newRingPool(10, 100)
	for i := 0; i < 50; i++ {
		p.spawn()
	}
	if got := p.len(); got != ringCap {
		t.Fatalf("len = %d, want %d", got, ringCap)
	}
}

func TestRingGrowsAndFades(t *testing.T) {
	p := newRingPool(10, 100)
	p.spawn()
	r0 := p.rings[0]
	p.step(0.1)
	if p.rings[0].radius <= r0.radius {
		t.Fatalf("radius = %v, want > %v", p.rings[0].radius, r0.radius)
	}
	if p.rings[0].alpha >= r0.alpha {
		t.Fatalf("alpha = %v, want < %v", p.rings[0].alpha, r0.alpha)
	}
}

func TestRingPoolDrainsAfterQuietPeriod(t *testing.T) {
	p := newRingPool(10, 100)

	// Two peaks 150ms apart, then two seconds of 60Hz ticks with no
	// further spawns.
	p.spawn()
	for i := 0; i < 9; i++ {
		p.step(1.0 / 60)
	}
	p.spawn()
	if got := p.len(); got != 2 {
		t.Fatalf("len after two peaks = %d, want 2", got)
	}
	for i := 0; i < 120; i++ {
		p.step(1.0 / 60)
	}
	if got := p.len(); got != 0 {
		t.Fatalf("len after 2s decay = %d, want 0", got)
	}
}

func TestRingPoolResetClears(t *testing.T) {
	p := newRingPool(10, 100)
	p.spawn()
	p.spawn()
	p.reset(5, 50)
	if got := p.len(); got != 0 {
		t.Fatalf("len after reset = %d, want 0", got)
	}
}
