package sampler

import (
	"fmt"
	"sync"

	"github.com/aurelia-labs/voiceorb/internal/metrics"
	"github.com/aurelia-labs/voiceorb/pkg/audio"
)

// ChainConfig describes one microphone ingest chain: browser capture rate
// in, backend rate out.
type ChainConfig struct {
	InputRate       int
	OutputRate      int
	Channels        int
	FrameDurationMs int
}

// Chain is the per-listening-turn microphone pipeline: resample to the
// backend rate, analyze each frame for the level signal, Opus-encode and
// hand off. A chain is built when listening starts and closed when it
// ends; no filter or encoder state survives across turns.
type Chain struct {
	mu        sync.Mutex
	resampler *audio.StreamResampler
	analyzer  *BandAnalyzer
	encoder   *audio.Encoder
	send      func(encoded []byte) error
	frameSize int
	closed    bool
}

func NewChain(cfg ChainConfig, analyzer *BandAnalyzer, send func(encoded []byte) error) (*Chain, error) {
	resampler, err := audio.NewStreamResampler(cfg.InputRate, cfg.OutputRate)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	encoder, err := audio.NewEncoder(cfg.OutputRate, cfg.Channels, cfg.FrameDurationMs)
	if err != nil {
		resampler.Close()
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	return &Chain{
		resampler: resampler,
		analyzer:  analyzer,
		encoder:   encoder,
		send:      send,
		frameSize: encoder.FrameSize() * cfg.Channels,
	}, nil
}

// Push feeds raw little-endian PCM16 capture bytes through the chain,
// emitting every complete output frame.
func (c *Chain) Push(pcmBytes []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("chain is closed")
	}

	if err := c.resampler.AppendPCM(audio.BytesToInt16(pcmBytes)); err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	return c.drainLocked()
}

func (c *Chain) drainLocked() error {
	for {
		frame, ok := c.resampler.PopFrame(c.frameSize)
		if !ok {
			return nil
		}
		err := c.emitLocked(frame)
		audio.ReleaseInt16(frame)
		if err != nil {
			return err
		}
	}
}

func (c *Chain) emitLocked(frame []int16) error {
	if c.analyzer != nil {
		c.analyzer.Analyze(frame)
	}
	encoded, err := c.encoder.Encode(frame)
	if err != nil {
		metrics.EncodeErrorsTotal.Inc()
		return err
	}
	if len(encoded) == 0 {
		return nil
	}
	return c.send(encoded)
}

// Close flushes the resampler tail as one final padded frame and releases
// the chain. Idempotent.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if err := c.resampler.Flush(); err == nil {
		if err := c.drainLocked(); err != nil && firstErr == nil {
			firstErr = err
		}
		if tail := c.resampler.PopRemainderPadded(c.frameSize); tail != nil {
			if err := c.emitLocked(tail); err != nil && firstErr == nil {
				firstErr = err
			}
			audio.ReleaseInt16(tail)
		}
	} else if firstErr == nil {
		firstErr = err
	}

	c.resampler.Close()
	if err := c.encoder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
