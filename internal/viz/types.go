// Package viz renders the layered orb visualization: a continuous frame
// loop that turns session state and audio level into draw commands the
// shell replays onto its canvas.
package viz

// Draw ops understood by the shell renderer.
const (
	OpClear  = "clear"
	OpGlow   = "glow"
	OpCircle = "circle"
	OpRing   = "ring"
	OpBar    = "bar"
	OpArc    = "arc"
	OpLine   = "line"
	OpDot    = "dot"
)

// DrawCommand is one canvas instruction. Fields are op-specific; unused
// ones are omitted on the wire.
type DrawCommand struct {
	Op    string  `json:"op"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
	X2    float64 `json:"x2,omitempty"`
	Y2    float64 `json:"y2,omitempty"`
	R     float64 `json:"r,omitempty"`
	W     float64 `json:"w,omitempty"`
	H     float64 `json:"h,omitempty"`
	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`
	Color string  `json:"color,omitempty"`
	Alpha float64 `json:"alpha,omitempty"`
	Width float64 `json:"width,omitempty"`
}

// Frame is one rendered frame pushed to the shell.
type Frame struct {
	Seq      uint64        `json:"seq"`
	Level    float64       `json:"level"`
	Peak     bool          `json:"peak,omitempty"`
	Commands []DrawCommand `json:"commands"`
}
