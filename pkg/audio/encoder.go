package audio

import (
	"fmt"
	"sync"

	"github.com/godeps/opus"
)

// Encoder wraps an Opus encoder at a fixed sample rate, channel count and
// frame duration. Safe for concurrent use.
type Encoder struct {
	mu            sync.Mutex
	enc           *opus.Encoder
	sampleRate    int
	channels      int
	frameDuration int
	frameSize     int
	outBuf        []byte
}

func NewEncoder(sampleRate, channels, frameDurationMs int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &Encoder{
		enc:           enc,
		sampleRate:    sampleRate,
		channels:      channels,
		frameDuration: frameDurationMs,
		frameSize:     sampleRate * frameDurationMs / 1000,
		outBuf:        make([]byte, 4000),
	}, nil
}

// Encode compresses exactly one frame of samples. Short input is zero-
// padded, long input truncated to the frame size.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return nil, fmt.Errorf("encoder is closed")
	}

	want := e.frameSize * e.channels
	if len(pcm) < want {
		padded := AcquireInt16(want)
		n := copy(padded, pcm)
		for i := n; i < want; i++ {
			padded[i] = 0
		}
		defer ReleaseInt16(padded)
		pcm = padded
	} else if len(pcm) > want {
		pcm = pcm[:want]
	}

	n, err := e.enc.Encode(pcm, e.outBuf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, e.outBuf[:n])
	return out, nil
}

// SetBitrate adjusts the target bitrate in bits per second.
func (e *Encoder) SetBitrate(bitrate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return fmt.Errorf("encoder is closed")
	}
	return e.enc.SetBitrate(bitrate)
}

// FrameSize returns samples per frame per channel.
func (e *Encoder) FrameSize() int { return e.frameSize }

// FrameDuration returns the frame duration in milliseconds.
func (e *Encoder) FrameDuration() int { return e.frameDuration }

// Close releases the encoder. Further Encode calls fail.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc = nil
	e.outBuf = nil
	return nil
}
