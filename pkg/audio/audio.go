// Package audio provides the fixed-format PCM plumbing for the live
// translator pipeline: a byte-stream framer that cuts inbound audio into
// fixed-size analysis windows, and sample-format conversion helpers.
//
// The input contract is fixed across the whole system: 16 kHz mono signed
// 16-bit little-endian PCM. Windows are 512 samples (32 ms) because that is
// the inference window Silero VAD v5 requires at 16 kHz.
package audio

import "encoding/binary"

const (
	// SampleRate is the fixed input sample rate in Hz.
	SampleRate = 16000

	// WindowSamples is the number of int16 samples per analysis window.
	WindowSamples = 512

	// WindowBytes is the size of one analysis window in bytes (2 bytes per
	// sample).
	WindowBytes = WindowSamples * 2

	// WindowDuration is the length of one analysis window in seconds.
	WindowDuration = float64(WindowSamples) / float64(SampleRate)
)

// Framer accumulates an inbound PCM byte stream and yields fixed-size
// analysis windows. Bytes are never dropped: a tail shorter than one window
// persists until the next Push call completes it.
//
// A Framer is owned by a single session goroutine and is not safe for
// concurrent use.
type Framer struct {
	buf []byte
}

// Push appends chunk to the internal accumulator and returns every complete
// window now available, in order. Each returned window is an independent
// copy of exactly WindowBytes bytes; chunk may be reused by the caller.
func (f *Framer) Push(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var windows [][]byte
	for len(f.buf) >= WindowBytes {
		w := make([]byte, WindowBytes)
		copy(w, f.buf[:WindowBytes])
		windows = append(windows, w)
		f.buf = f.buf[WindowBytes:]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return windows
}

// Buffered reports how many tail bytes are waiting for the next window.
func (f *Framer) Buffered() int { return len(f.buf) }

// BytesToInt16 decodes little-endian 16-bit PCM bytes into int16 samples.
// A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := range n {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return samples
}

// Int16ToFloat32 converts int16 samples to float32 normalised to
// [-1.0, 1.0) by dividing by 32768.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// BytesToFloat32 decodes little-endian 16-bit PCM bytes straight to
// normalised float32 samples.
func BytesToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// DurationMs returns the duration in milliseconds of a buffer of int16
// samples at the fixed sample rate.
func DurationMs(sampleCount int) float64 {
	return float64(sampleCount) / float64(SampleRate) * 1000.0
}
