// Package f16 converts between float64 samples and IEEE 754 half-precision
// values stored little-endian, two bytes per sample.
package f16

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidLayout is returned when a buffer does not match the requested
// channel layout.
var ErrInvalidLayout = errors.New("f16: invalid sample layout")

const (
	signBit  = 0x8000
	expMask  = 0x7C00
	fracMask = 0x03FF
	quietNaN = 0x7E00

	// maxFinite rounds up to infinity at and above this magnitude.
	overflow = 65520.0
)

// FromFloat64 converts v to half precision with round-half-to-even.
// Values below the smallest subnormal flush to signed zero.
func FromFloat64(v float64) uint16 {
	if math.IsNaN(v) {
		return quietNaN
	}

	var sign uint16
	if math.Signbit(v) {
		sign = signBit
		v = -v
	}

	switch {
	case v >= overflow:
		return sign | expMask
	case v < 0x1p-14:
		// Subnormal range: units of 2^-24. A result of 0x400 is the
		// smallest normal number, which has the same encoding.
		return sign | uint16(math.RoundToEven(v*0x1p24))
	}

	frac, exp := math.Frexp(v)
	e := exp - 1
	mant := math.RoundToEven((frac*2 - 1) * 1024)
	if mant == 1024 {
		mant = 0
		e++
	}
	if e+15 >= 31 {
		return sign | expMask
	}
	return sign | uint16(e+15)<<10 | uint16(mant)
}

// ToFloat64 converts a half-precision value to float64. The conversion is exact.
func ToFloat64(h uint16) float64 {
	exp := int(h&expMask) >> 10
	mant := float64(h & fracMask)

	var v float64
	switch exp {
	case 0:
		v = math.Ldexp(mant, -24)
	case 31:
		if mant != 0 {
			return math.NaN()
		}
		v = math.Inf(1)
	default:
		v = math.Ldexp(1+mant/1024, exp-15)
	}

	if h&signBit != 0 {
		return -v
	}
	return v
}

// AppendInterleaved appends channels to dst as interleaved half-precision
// frames: ch0[0], ch1[0], ..., ch0[1], ch1[1], ...
func AppendInterleaved(dst []byte, channels [][]float64) ([]byte, error) {
	if len(channels) == 0 {
		return dst, nil
	}

	n := len(channels[0])
	for ch := range channels {
		if len(channels[ch]) != n {
			return nil, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrInvalidLayout, ch, len(channels[ch]), n)
		}
	}

	dst = append(dst, make([]byte, 2*n*len(channels))...)
	out := dst[len(dst)-2*n*len(channels):]
	pos := 0
	for i := range n {
		for ch := range channels {
			binary.LittleEndian.PutUint16(out[pos:], FromFloat64(channels[ch][i]))
			pos += 2
		}
	}
	return dst, nil
}

// DecodeInterleaved splits interleaved half-precision frames into
// [channel][sample] float64 slices.
func DecodeInterleaved(data []byte, channels int) ([][]float64, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidLayout, channels)
	}
	if len(data)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames", ErrInvalidLayout, len(data), channels)
	}

	n := len(data) / (2 * channels)
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = make([]float64, n)
	}

	pos := 0
	for i := range n {
		for ch := range channels {
			out[ch][i] = ToFloat64(binary.LittleEndian.Uint16(data[pos:]))
			pos += 2
		}
	}
	return out, nil
}
