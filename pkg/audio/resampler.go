package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
}

var soxrPools sync.Map

func getSoxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	pool := &sync.Pool{}
	actual, _ := soxrPools.LoadOrStore(key, pool)
	return actual.(*sync.Pool)
}

func acquireSoxr(inRate, outRate int) (*resampler.SimpleResamplerFloat32, error) {
	key := soxrKey{inRate: inRate, outRate: outRate}
	if v := getSoxrPool(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return r, nil
		}
	}
	return resampler.NewEngineFloat32(float64(inRate), float64(outRate), resampler.QualityHigh)
}

func releaseSoxr(inRate, outRate int, r *resampler.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	getSoxrPool(soxrKey{inRate: inRate, outRate: outRate}).Put(r)
}

// StreamResampler converts a continuous PCM16 stream between sample rates,
// keeping filter state across frames. Instances are bound to one stream;
// Close returns the underlying engine to a pool.
type StreamResampler struct {
	inRate  int
	outRate int
	r       *resampler.SimpleResamplerFloat32
	outBuf  []float32
}

func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	r, err := acquireSoxr(inRate, outRate)
	if err != nil {
		return nil, err
	}
	return &StreamResampler{inRate: inRate, outRate: outRate, r: r}, nil
}

// AppendPCM feeds samples into the resampler.
func (s *StreamResampler) AppendPCM(pcm []int16) error {
	if s == nil || s.r == nil {
		return errors.New("resampler is closed")
	}
	if len(pcm) == 0 {
		return nil
	}
	tmp := AcquireFloat32(len(pcm))
	tmp = Int16ToFloat32Into(tmp, pcm)
	out, err := s.r.Process(tmp)
	ReleaseFloat32(tmp)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		s.outBuf = append(s.outBuf, out...)
	}
	return nil
}

// Flush drains samples still held in the filter.
func (s *StreamResampler) Flush() error {
	if s == nil || s.r == nil {
		return errors.New("resampler is closed")
	}
	out, err := s.r.Flush()
	if err != nil {
		return err
	}
	if len(out) > 0 {
		s.outBuf = append(s.outBuf, out...)
	}
	return nil
}

// PopFrame returns one frameSize output frame if enough samples are
// buffered. The returned slice comes from the int16 pool.
func (s *StreamResampler) PopFrame(frameSize int) ([]int16, bool) {
	if s == nil || frameSize <= 0 || len(s.outBuf) < frameSize {
		return nil, false
	}
	frame := AcquireInt16(frameSize)
	frame = Float32ToInt16Into(frame, s.outBuf[:frameSize])
	s.outBuf = s.outBuf[frameSize:]
	return frame, true
}

// PopRemainderPadded returns the final partial frame zero-padded to
// frameSize, or nil when nothing is buffered.
func (s *StreamResampler) PopRemainderPadded(frameSize int) []int16 {
	if s == nil || frameSize <= 0 || len(s.outBuf) == 0 {
		return nil
	}
	if len(s.outBuf) > frameSize {
		s.outBuf = s.outBuf[:frameSize]
	}
	frame := AcquireInt16(frameSize)
	n := len(s.outBuf)
	Float32ToInt16Into(frame[:n], s.outBuf)
	for i := n; i < frameSize; i++ {
		frame[i] = 0
	}
	s.outBuf = nil
	return frame
}

// Close releases the engine back to the pool.
func (s *StreamResampler) Close() {
	if s == nil || s.r == nil {
		return
	}
	releaseSoxr(s.inRate, s.outRate, s.r)
	s.r = nil
	s.outBuf = nil
}
