package dsp

import (
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// Mix is the result of mixing one channel of speech and noise at a target SNR.
// After the clip guard, Speech[i]+Noise[i] == Mixture[i] up to rounding and
// the mixture peak equals the peak of the centered speech.
type Mix struct {
	Speech  []float64
	Noise   []float64
	Mixture []float64

	// NoiseGain is sqrt(c), the factor applied to the centered noise.
	NoiseGain float64
	// Scale is the clip-guard factor applied to all three buffers.
	Scale float64
}

// MixAtSNR mixes reverberated speech and noise so that the speech-to-noise
// power ratio equals snrDB.
//
// Both inputs are centered (DC removed) on private copies. The noise is
// scaled by sqrt((Ps/Pn) * 10^(-snrDB/10)), the two are summed, and all
// three outputs are rescaled so the mixture peak equals the peak of the
// centered speech. Speech or noise with no power left after centering, or a
// silent mixture, yields ErrDegenerateSignal instead of amplified residue.
func MixAtSNR(speech, noise []float64, snrDB float64) (*Mix, error) {
	if len(speech) == 0 || len(noise) == 0 {
		return nil, ErrEmptySignal
	}
	if len(speech) != len(noise) {
		return nil, fmt.Errorf("%w: speech has %d samples, noise has %d", ErrLengthMismatch, len(speech), len(noise))
	}
	if math.IsNaN(snrDB) || math.IsInf(snrDB, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidSNR, snrDB)
	}

	s := center(speech)
	n := center(noise)

	origMax := PeakAbs(s)
	speechPower := Power(s)
	noisePower := Power(n)

	// Centering constant input leaves rounding residue, not signal.
	if negligible(math.Sqrt(noisePower), math.Sqrt(Power(noise))) {
		return nil, fmt.Errorf("%w: noise has zero power after centering", ErrDegenerateSignal)
	}
	if negligible(math.Sqrt(speechPower), math.Sqrt(Power(speech))) {
		return nil, fmt.Errorf("%w: speech has zero power after centering", ErrDegenerateSignal)
	}

	c := (speechPower / noisePower) * math.Pow(10, -snrDB/10)
	gain := math.Sqrt(c)
	if math.IsNaN(gain) || math.IsInf(gain, 0) {
		return nil, fmt.Errorf("%w: noise gain %v", ErrDegenerateSignal, gain)
	}
	vecmath.ScaleBlockInPlace(n, gain)

	mixture := make([]float64, len(s))
	vecmath.AddBlock(mixture, s, n)

	mixPeak := PeakAbs(mixture)
	if mixPeak == 0 {
		return nil, fmt.Errorf("%w: mixture is silent", ErrDegenerateSignal)
	}

	scalar := origMax / mixPeak
	vecmath.ScaleBlockInPlace(s, scalar)
	vecmath.ScaleBlockInPlace(n, scalar)
	vecmath.ScaleBlockInPlace(mixture, scalar)

	return &Mix{
		Speech:    s,
		Noise:     n,
		Mixture:   mixture,
		NoiseGain: gain,
		Scale:     scalar,
	}, nil
}

// MeasureSNR returns 10*log10(Ps/Pn) for the given buffers. It returns +Inf
// for silent noise.
func MeasureSNR(speech, noise []float64) float64 {
	ps, pn := Power(speech), Power(noise)
	if pn == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(ps/pn)
}

// center returns a copy of x with its mean removed.
func center(x []float64) []float64 {
	out := make([]float64, len(x))
	mean := Mean(x)
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}
