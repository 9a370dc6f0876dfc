package dsp

import (
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// Signal holds multichannel audio organized as [channel][sample].
// A mono signal has exactly one channel.
type Signal [][]float64

// NewSignal allocates a zeroed signal with the given shape.
func NewSignal(channels, samples int) Signal {
	s := make(Signal, channels)
	for ch := range s {
		s[ch] = make([]float64, samples)
	}
	return s
}

// Mono wraps a single sample slice as a one-channel signal. The slice is not copied.
func Mono(samples []float64) Signal {
	return Signal{samples}
}

// Channels returns the number of channels.
func (s Signal) Channels() int {
	return len(s)
}

// Len returns the number of samples per channel (0 for an empty signal).
func (s Signal) Len() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

// Clone returns a deep copy of the signal.
func (s Signal) Clone() Signal {
	out := make(Signal, len(s))
	for ch, data := range s {
		out[ch] = append([]float64(nil), data...)
	}
	return out
}

// Validate checks that the signal has at least one channel, a non-zero
// length, and equal-length channels.
func (s Signal) Validate() error {
	if len(s) == 0 || len(s[0]) == 0 {
		return ErrEmptySignal
	}
	n := len(s[0])
	for ch, data := range s {
		if len(data) != n {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrRaggedSignal, ch, len(data), n)
		}
	}
	return nil
}

// Peaks returns the peak absolute amplitude of every channel.
func (s Signal) Peaks() []float64 {
	peaks := make([]float64, len(s))
	for ch, data := range s {
		peaks[ch] = PeakAbs(data)
	}
	return peaks
}

// PeakAbs returns max(|x|). Returns 0 for an empty slice.
func PeakAbs(x []float64) float64 {
	return vecmath.MaxAbs(x)
}

// SumAbs returns the sum of |x|, the bound on how much a kernel can
// amplify a signal's peak.
func SumAbs(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += math.Abs(v)
	}
	return sum
}

// roundoffFloor is the level, relative to the largest value an operation
// could produce, below which a result is floating-point residue.
const roundoffFloor = 1e-12

// negligible reports whether level is round-off relative to bound. A zero
// bound makes every level negligible.
func negligible(level, bound float64) bool {
	return level <= bound*roundoffFloor
}

// Mean returns the arithmetic mean of x. Returns 0 for an empty slice.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return vecmath.Sum(x) / float64(len(x))
}

// Power returns the average power (mean of squared samples) of x.
func Power(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return vecmath.DotProduct(x, x) / float64(len(x))
}

// Tile repeats x end to end until it covers n samples, then truncates to n.
// A slice already at least n long is truncated (copied).
func Tile(x []float64, n int) ([]float64, error) {
	if len(x) == 0 {
		return nil, ErrEmptySignal
	}
	out := make([]float64, n)
	for off := 0; off < n; off += len(x) {
		copy(out[off:], x)
	}
	return out, nil
}
