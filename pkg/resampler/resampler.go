// Package resampler converts multichannel audio between sample rates with
// Blackman-windowed sinc interpolation.
package resampler

import (
	"errors"
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// ErrInvalidRate is returned for a non-positive or non-finite sample rate.
var ErrInvalidRate = errors.New("resampler: invalid sample rate")

const (
	DefaultLobes = 16
	minLobes     = 4
	maxLobes     = 64
)

// Resampler performs windowed-sinc sample rate conversion. It holds no
// per-call state and is safe for concurrent use.
type Resampler struct {
	lobes int
}

// New returns a Resampler with DefaultLobes sinc lobes per side.
func New() *Resampler {
	return &Resampler{lobes: DefaultLobes}
}

// NewWithQuality returns a Resampler with the given number of sinc lobes
// per side, clamped to [4, 64]. More lobes trade speed for a sharper
// anti-aliasing filter.
func NewWithQuality(lobes int) *Resampler {
	return &Resampler{lobes: max(minLobes, min(maxLobes, lobes))}
}

// Lobes returns the configured lobe count.
func (r *Resampler) Lobes() int {
	return r.lobes
}

// OutputLength returns the number of samples Resample produces for an
// input of n samples.
func OutputLength(n int, srcRate, dstRate float64) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(n) * dstRate / srcRate))
}

// Resample converts every channel of data from srcRate to dstRate. The
// input is not modified. Equal rates return a copy.
func (r *Resampler) Resample(data [][]float64, srcRate, dstRate float64) ([][]float64, error) {
	if err := checkRate(srcRate); err != nil {
		return nil, err
	}
	if err := checkRate(dstRate); err != nil {
		return nil, err
	}

	out := make([][]float64, len(data))
	if srcRate == dstRate {
		for ch := range data {
			out[ch] = append([]float64(nil), data[ch]...)
		}
		return out, nil
	}

	n := 0
	if len(data) > 0 {
		n = len(data[0])
	}
	for ch := range data {
		if len(data[ch]) != n {
			return nil, fmt.Errorf("resampler: channel %d has %d samples, channel 0 has %d", ch, len(data[ch]), n)
		}
	}

	outLen := OutputLength(n, srcRate, dstRate)
	for ch := range out {
		out[ch] = make([]float64, outLen)
	}
	if outLen == 0 {
		return out, nil
	}

	ratio := dstRate / srcRate
	// Downsampling narrows the sinc to the destination Nyquist.
	cutoff := min(1, ratio)
	radius := float64(r.lobes) / cutoff
	weights := make([]float64, int(2*math.Ceil(radius))+2)

	for i := range outLen {
		pos := float64(i) / ratio
		start := max(0, int(math.Floor(pos-radius)))
		end := min(n-1, int(math.Ceil(pos+radius)))
		if end < start {
			continue
		}

		w := weights[:end-start+1]
		var total float64
		for j := range w {
			d := pos - float64(start+j)
			w[j] = sinc(d*cutoff) * blackman(d/radius)
			total += w[j]
		}
		if total <= 0 {
			continue
		}

		// Normalizing by the weight sum keeps DC gain at unity near the edges.
		for ch := range data {
			out[ch][i] = vecmath.DotProduct(data[ch][start:end+1], w) / total
		}
	}

	return out, nil
}

func checkRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	return nil
}

// sinc computes sin(pi*x)/(pi*x).
func sinc(x float64) float64 {
	if math.Abs(x) < 1e-10 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackman evaluates the Blackman window on [-1, 1]; it is zero outside.
func blackman(x float64) float64 {
	if x < -1 || x > 1 {
		return 0
	}
	t := (x + 1) / 2
	return 0.42 - 0.5*math.Cos(2*math.Pi*t) + 0.08*math.Cos(4*math.Pi*t)
}
