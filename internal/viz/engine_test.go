package viz

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-labs/voiceorb/internal/sampler"
	"github.com/aurelia-labs/voiceorb/internal/session/fsm"
)

func newTestEngine(quality string, turn fsm.State) (*Engine, *[]Frame) {
	frames := &[]Frame{}
	e := NewEngine(
		Config{Width: 480, Height: 480, Quality: quality},
		func() fsm.State { return turn },
		sampler.New(sampler.Config{}),
		zap.NewNop(),
	)
	e.SetSink(func(f Frame) { *frames = append(*frames, f) })
	return e, frames
}

func countOps(frame Frame, op string) int {
	n := 0
	for _, cmd := range frame.Commands {
		if cmd.Op == op {
			n++
		}
	}
	return n
}

func TestLiteTierSkipsParticles(t *testing.T) {
	now := time.Now()

	full, fullFrames := newTestEngine("full", fsm.StateThinking)
	full.renderFrame(now)
	// One dot per particle plus one travelling pulse per edge.
	if got := countOps((*fullFrames)[0], OpDot); got != particleCount+edgeCount {
		t.Fatalf("full tier dots = %d, want %d", got, particleCount+edgeCount)
	}

	lite, liteFrames := newTestEngine("lite", fsm.StateThinking)
	lite.renderFrame(now)
	if got := countOps((*liteFrames)[0], OpDot); got != 0 {
		t.Fatalf("lite tier particle dots = %d, want 0", got)
	}
}

func TestZeroSizeSkipsFrame(t *testing.T) {
	e, frames := newTestEngine("full", fsm.StateIdle)
	e.Resize(0, 0)
	e.renderFrame(time.Now())
	if len(*frames) != 0 {
		t.Fatalf("frames rendered at zero size = %d, want 0", len(*frames))
	}

	// A later resize recovers without restarting the loop.
	e.Resize(320, 240)
	e.renderFrame(time.Now())
	if len(*frames) != 1 {
		t.Fatalf("frames after resize = %d, want 1", len(*frames))
	}
}

func TestResizeClearsRingPool(t *testing.T) {
	e, _ := newTestEngine("full", fsm.StateListening)
	e.rings.spawn()
	e.rings.spawn()
	e.Resize(640, 640)
	if got := e.rings.len(); got != 0 {
		t.Fatalf("rings after resize = %d, want 0", got)
	}
}

func TestRenderFrameRecoversFromPanic(t *testing.T) {
	panics := true
	e := NewEngine(
		Config{Width: 480, Height: 480},
		func() fsm.State {
			if panics {
				panic("boom")
			}
			return fsm.StateIdle
		},
		sampler.New(sampler.Config{}),
		zap.NewNop(),
	)
	var frames []Frame
	e.SetSink(func(f Frame) { frames = append(frames, f) })

	e.renderFrame(time.Now())
	if len(frames) != 0 {
		t.Fatalf("frames after panic = %d, want 0", len(frames))
	}

	panics = false
	e.renderFrame(time.Now())
	if len(frames) != 1 {
		t.Fatalf("frames after recovery = %d, want 1", len(frames))
	}

	// The engine mutex must come out of the panic released, so runtime
	// controls stay usable.
	e.SetQuality("lite")
	e.Resize(320, 240)
	e.renderFrame(time.Now())
	if len(frames) != 2 {
		t.Fatalf("frames after resize = %d, want 2", len(frames))
	}
}

func TestParticlePulsesTravelWithTime(t *testing.T) {
	field := newParticleField(1)
	field.init(480, 480)

	state := sceneState{turn: fsm.StateThinking, level: 0.2, w: 480, h: 480, field: field}
	at := func(elapsed float64) []DrawCommand {
		state.elapsed = elapsed
		dots := []DrawCommand{}
		for _, cmd := range renderScene(DefaultTheme, state) {
			if cmd.Op == OpDot {
				dots = append(dots, cmd)
			}
		}
		return dots
	}

	first := at(0)
	later := at(0.4)
	if len(first) != particleCount+edgeCount || len(later) != len(first) {
		t.Fatalf("dots = %d then %d, want %d", len(first), len(later), particleCount+edgeCount)
	}

	// The particle field is untouched between renders, so any moved dot is
	// a pulse advancing along its edge.
	moved := 0
	for i := range first {
		if first[i].X != later[i].X || first[i].Y != later[i].Y {
			moved++
		}
	}
	if moved == 0 {
		t.Fatalf("no dots moved between elapsed times, want travelling pulses")
	}
}

func TestRenderSceneIsPure(t *testing.T) {
	state := sceneState{
		turn:    fsm.StateSpeaking,
		level:   0.7,
		elapsed: 1.25,
		w:       480,
		h:       480,
		rings:   []ring{{radius: 40, alpha: 0.5}},
	}
	a := renderScene(DefaultTheme, state)
	b := renderScene(DefaultTheme, state)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("renderScene not deterministic for identical state")
	}
}

func TestSpeakingSceneHasBars(t *testing.T) {
	cmds := renderScene(DefaultTheme, sceneState{turn: fsm.StateSpeaking, level: 0.5, w: 480, h: 480})
	bars := 0
	for _, cmd := range cmds {
		if cmd.Op == OpBar {
			bars++
		}
	}
	if bars != speakingBarCount {
		t.Fatalf("speaking bars = %d, want %d", bars, speakingBarCount)
	}
}

func TestThemeScanAndLoad(t *testing.T) {
	dir := t.TempDir()
	body := []byte("name: ember\nspeaking:\n  primary: \"#ff0000\"\n")
	if err := os.WriteFile(filepath.Join(dir, "ember.yaml"), body, 0o644); err != nil {
		t.Fatalf("write theme: %v", err)
	}

	themes := ScanThemes(dir)
	if len(themes) != 2 {
		t.Fatalf("themes = %d, want builtin + 1", len(themes))
	}

	theme := LoadTheme(dir, "ember")
	if theme.Name != "ember" {
		t.Fatalf("Name = %q, want %q", theme.Name, "ember")
	}
	if got := theme.Speaking.Primary; got != "#ff0000" {
		t.Fatalf("Speaking.Primary = %q, want %q", got, "#ff0000")
	}
	// Palettes absent from the file inherit the builtin colors.
	if got := theme.Idle.Primary; got != DefaultTheme.Idle.Primary {
		t.Fatalf("Idle.Primary = %q, want inherited %q", got, DefaultTheme.Idle.Primary)
	}

	if got := LoadTheme(dir, "missing").Name; got != DefaultTheme.Name {
		t.Fatalf("LoadTheme(missing) = %q, want builtin", got)
	}
}
