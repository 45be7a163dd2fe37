package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"livetalk/internal/domain"
)

// SampleWidth is the byte width of one linear16 sample.
const SampleWidth = 2

// Buffer is a decoded, playback-ready block of mono samples.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the buffer length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// NewFrame encodes samples into an outbound frame tagged with its format.
func NewFrame(samples []float32, sampleRate int) domain.Frame {
	return domain.Frame{
		Data:       EncodeFrame(samples),
		SampleRate: sampleRate,
		Encoding:   domain.EncodingLinear16,
	}
}

// EncodeFrame writes samples as signed 16-bit little-endian PCM. Samples
// outside [-1, 1] are clamped before scaling.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*SampleWidth:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(math.Round(float64(s) * 32768))
	}
	return int16(math.Round(float64(s) * 32767))
}

// DecodeSamples parses signed 16-bit little-endian PCM into floats in [-1, 1).
func DecodeSamples(data []byte) ([]float32, error) {
	if len(data)%SampleWidth != 0 {
		return nil, fmt.Errorf("%w: pcm length %d is not a multiple of %d", domain.ErrDecode, len(data), SampleWidth)
	}
	out := make([]float32, len(data)/SampleWidth)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*SampleWidth:]))
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// DecodeFragment converts an inbound payload into a buffer for a device
// running at targetRate. A non-positive targetRate keeps the source rate.
func DecodeFragment(data []byte, sourceRate, targetRate int) (Buffer, error) {
	if sourceRate <= 0 {
		return Buffer{}, fmt.Errorf("%w: invalid sample rate %d", domain.ErrDecode, sourceRate)
	}
	samples, err := DecodeSamples(data)
	if err != nil {
		return Buffer{}, err
	}
	if targetRate <= 0 || targetRate == sourceRate {
		return Buffer{Samples: samples, SampleRate: sourceRate}, nil
	}
	return Buffer{Samples: Resample(samples, sourceRate, targetRate), SampleRate: targetRate}, nil
}

// Resample converts samples between rates with linear interpolation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}
