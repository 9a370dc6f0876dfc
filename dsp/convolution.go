package dsp

import (
	"errors"
	"fmt"
	"math"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"
)

// Convolver computes the full linear convolution of a and b.
// The result has length len(a)+len(b)-1. Implementations must not modify
// their inputs and must be safe for concurrent use.
type Convolver interface {
	Convolve(a, b []float64) ([]float64, error)
}

// DirectThreshold is the kernel length at or below which AutoConvolver
// uses time-domain convolution.
const DirectThreshold = 64

// DirectConvolver performs O(N*M) time-domain convolution.
type DirectConvolver struct{}

// Convolve implements Convolver.
func (DirectConvolver) Convolve(a, b []float64) ([]float64, error) {
	if len(a) == 0 {
		return nil, ErrEmptySignal
	}
	if len(b) == 0 {
		return nil, ErrEmptyKernel
	}

	// Iterate over the shorter operand so the vector kernel runs on the longer one.
	if len(b) > len(a) {
		a, b = b, a
	}

	out := make([]float64, len(a)+len(b)-1)
	scratch := make([]float64, len(a))
	for j, tap := range b {
		if tap == 0 {
			continue
		}
		vecmath.ScaleBlock(scratch, a, tap)
		vecmath.AddBlockInPlace(out[j:j+len(a)], scratch)
	}
	return out, nil
}

// FFTConvolver performs spectral convolution: both operands are zero-padded
// to a power of two, transformed, multiplied, and transformed back.
// FFT plans are cached per size and reused across calls.
type FFTConvolver struct {
	mu    sync.Mutex
	plans map[int]*sync.Pool
}

// NewFFTConvolver creates an FFT convolver with an empty plan cache.
func NewFFTConvolver() *FFTConvolver {
	return &FFTConvolver{plans: make(map[int]*sync.Pool)}
}

func (c *FFTConvolver) pool(size int) *sync.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.plans == nil {
		c.plans = make(map[int]*sync.Pool)
	}
	p, ok := c.plans[size]
	if !ok {
		p = &sync.Pool{}
		c.plans[size] = p
	}
	return p
}

func (c *FFTConvolver) acquire(size int) (*algofft.Plan[complex128], error) {
	if plan, ok := c.pool(size).Get().(*algofft.Plan[complex128]); ok {
		return plan, nil
	}
	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("dsp: failed to create FFT plan for size %d: %w", size, err)
	}
	return plan, nil
}

func (c *FFTConvolver) release(size int, plan *algofft.Plan[complex128]) {
	c.pool(size).Put(plan)
}

// Convolve implements Convolver.
func (c *FFTConvolver) Convolve(a, b []float64) ([]float64, error) {
	if len(a) == 0 {
		return nil, ErrEmptySignal
	}
	if len(b) == 0 {
		return nil, ErrEmptyKernel
	}

	resultLen := len(a) + len(b) - 1
	fftSize := nextPowerOf2(resultLen)

	plan, err := c.acquire(fftSize)
	if err != nil {
		return nil, err
	}
	defer c.release(fftSize, plan)

	specA := make([]complex128, fftSize)
	for i, v := range a {
		specA[i] = complex(v, 0)
	}
	specB := make([]complex128, fftSize)
	for i, v := range b {
		specB[i] = complex(v, 0)
	}

	if err := plan.Forward(specA, specA); err != nil {
		return nil, fmt.Errorf("dsp: forward FFT failed: %w", err)
	}
	if err := plan.Forward(specB, specB); err != nil {
		return nil, fmt.Errorf("dsp: forward FFT failed: %w", err)
	}

	for i := range specA {
		specA[i] *= specB[i]
	}

	// algo-fft normalizes the inverse transform by 1/N.
	if err := plan.Inverse(specA, specA); err != nil {
		return nil, fmt.Errorf("dsp: inverse FFT failed: %w", err)
	}

	out := make([]float64, resultLen)
	for i := range out {
		out[i] = real(specA[i])
	}
	return out, nil
}

// AutoConvolver picks direct convolution for short operands and FFT
// convolution otherwise.
type AutoConvolver struct {
	Direct DirectConvolver
	FFT    *FFTConvolver
}

// NewAutoConvolver returns the default convolver used by the synthesis pipeline.
func NewAutoConvolver() *AutoConvolver {
	return &AutoConvolver{FFT: NewFFTConvolver()}
}

// Convolve implements Convolver.
func (c *AutoConvolver) Convolve(a, b []float64) ([]float64, error) {
	if min(len(a), len(b)) <= DirectThreshold || c.FFT == nil {
		return c.Direct.Convolve(a, b)
	}
	return c.FFT.Convolve(a, b)
}

// ConvolveRIR reverberates signal with rir.
//
// Each output channel is the full convolution of the matching signal and
// RIR channels truncated to the signal's length, then rescaled so that its
// peak absolute amplitude equals the peak of the source channel. A
// one-channel operand is broadcast against the other operand's channels.
//
// A channel that is silent after convolution, or holds only round-off
// residue, cannot be rescaled and is reported as ErrDegenerateSignal. Inputs are not modified. A nil conv
// uses an AutoConvolver.
func ConvolveRIR(signal, rir Signal, conv Convolver) (Signal, error) {
	if err := signal.Validate(); err != nil {
		return nil, err
	}
	if err := rir.Validate(); err != nil {
		if errors.Is(err, ErrEmptySignal) {
			return nil, ErrEmptyKernel
		}
		return nil, err
	}
	if conv == nil {
		conv = NewAutoConvolver()
	}

	channels, err := broadcastChannels(signal.Channels(), rir.Channels())
	if err != nil {
		return nil, err
	}

	origLen := signal.Len()
	origPeaks := signal.Peaks()

	out := make(Signal, channels)
	for ch := range channels {
		srcCh := broadcastIndex(ch, signal.Channels())

		kernel := rir[broadcastIndex(ch, rir.Channels())]
		full, err := conv.Convolve(signal[srcCh], kernel)
		if err != nil {
			return nil, fmt.Errorf("dsp: channel %d: %w", ch, err)
		}

		wet := make([]float64, origLen)
		copy(wet, full)

		// FFT convolution leaves residue where the exact result is zero.
		peak := PeakAbs(wet)
		if negligible(peak, origPeaks[srcCh]*SumAbs(kernel)) || math.IsNaN(peak) || math.IsInf(peak, 0) {
			return nil, fmt.Errorf("%w: channel %d has peak %v after convolution", ErrDegenerateSignal, ch, peak)
		}

		vecmath.ScaleBlockInPlace(wet, origPeaks[srcCh]/peak)
		out[ch] = wet
	}

	return out, nil
}

// broadcastChannels returns the channel count of an operation between
// operands with a and b channels.
func broadcastChannels(a, b int) (int, error) {
	switch {
	case a == b:
		return a, nil
	case a == 1:
		return b, nil
	case b == 1:
		return a, nil
	default:
		return 0, fmt.Errorf("%w: %d and %d", ErrChannelMismatch, a, b)
	}
}

func broadcastIndex(ch, channels int) int {
	if channels == 1 {
		return 0
	}
	return ch
}

// nextPowerOf2 returns the next power of 2 >= n.
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
