// Package audio holds the PCM primitives for the microphone ingest path:
// sample format conversion, pooled scratch buffers, a streaming resampler
// and an Opus frame encoder.
package audio

import (
	"math"
	"sync"
)

var (
	int16Pool   sync.Pool
	float32Pool sync.Pool
)

// AcquireInt16 returns an int16 slice with length size from the pool.
func AcquireInt16(size int) []int16 {
	if size <= 0 {
		return nil
	}
	if v := int16Pool.Get(); v != nil {
		buf := v.([]int16)
		if cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]int16, size)
}

// ReleaseInt16 puts an int16 slice back to the pool.
func ReleaseInt16(buf []int16) {
	if buf == nil {
		return
	}
	int16Pool.Put(buf[:0])
}

// AcquireFloat32 returns a float32 slice with length size from the pool.
func AcquireFloat32(size int) []float32 {
	if size <= 0 {
		return nil
	}
	if v := float32Pool.Get(); v != nil {
		buf := v.([]float32)
		if cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]float32, size)
}

// ReleaseFloat32 puts a float32 slice back to the pool.
func ReleaseFloat32(buf []float32) {
	if buf == nil {
		return
	}
	float32Pool.Put(buf[:0])
}

func float32ToInt16(sample float32) int16 {
	if sample > 1.0 {
		return math.MaxInt16
	}
	if sample < -1.0 {
		return math.MinInt16
	}
	return int16(sample * math.MaxInt16)
}

// Float32ToInt16Into fills dst with float32 samples converted to int16.
func Float32ToInt16Into(dst []int16, samples []float32) []int16 {
	if cap(dst) < len(samples) {
		dst = make([]int16, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32ToInt16(sample)
	}
	return dst
}

// Int16ToFloat32Into fills dst with int16 samples converted to float32.
func Int16ToFloat32Into(dst []float32, samples []int16) []float32 {
	if cap(dst) < len(samples) {
		dst = make([]float32, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32(sample) / float32(math.MaxInt16)
	}
	return dst
}

// BytesToInt16 decodes little-endian PCM bytes into samples. An odd
// trailing byte is zero-padded.
func BytesToInt16(data []byte) []int16 {
	result := make([]int16, (len(data)+1)/2)
	for i := range result {
		low := data[i*2]
		high := byte(0)
		if i*2+1 < len(data) {
			high = data[i*2+1]
		}
		result[i] = int16(low) | int16(high)<<8
	}
	return result
}

// Int16ToBytesInto encodes samples as little-endian PCM bytes.
func Int16ToBytesInto(dst []byte, samples []int16) []byte {
	needed := len(samples) * 2
	if cap(dst) < needed {
		dst = make([]byte, needed)
	} else {
		dst = dst[:needed]
	}
	for i, sample := range samples {
		dst[i*2] = byte(sample)
		dst[i*2+1] = byte(sample >> 8)
	}
	return dst
}
