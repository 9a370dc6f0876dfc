// Package audiofile decodes WAV, AIFF and RIR-library audio into
// dsp.Signal values and encodes signals as WAV.
package audiofile

import (
	"errors"
	"fmt"
	"strings"
)

// Errors.
var (
	ErrUnsupportedFormat    = errors.New("audiofile: unsupported sample format")
	ErrUnsupportedContainer = errors.New("audiofile: unsupported file type")
	ErrInvalidFile          = errors.New("audiofile: invalid audio file")
	ErrEmptyWindow          = errors.New("audiofile: requested window is empty")
)

// SampleFormat is the on-disk sample representation of written audio.
type SampleFormat int

const (
	Int16 SampleFormat = iota + 1
	Int24
	Int32
	Float32
)

var formatNames = map[SampleFormat]string{
	Int16:   "int16",
	Int24:   "int24",
	Int32:   "int32",
	Float32: "float32",
}

// ParseSampleFormat maps a format name ("int16", "int24", "int32",
// "float32") to a SampleFormat.
func ParseSampleFormat(name string) (SampleFormat, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for f, n := range formatNames {
		if n == want {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (supported: int16, int24, int32, float32)", ErrUnsupportedFormat, name)
}

func (f SampleFormat) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// BitDepth returns the bits per sample.
func (f SampleFormat) BitDepth() int {
	switch f {
	case Int16:
		return 16
	case Int24:
		return 24
	case Int32, Float32:
		return 32
	}
	return 0
}

// IsFloat reports whether samples are stored as IEEE floats.
func (f SampleFormat) IsFloat() bool {
	return f == Float32
}

// fullScale is the magnitude of the most negative integer sample, the
// factor that maps [-1, 1) onto the integer range.
func (f SampleFormat) fullScale() float64 {
	return float64(int64(1) << (f.BitDepth() - 1))
}

// wavFormatTag is the WAVE fmt chunk format code.
func (f SampleFormat) wavFormatTag() int {
	if f.IsFloat() {
		return 3
	}
	return 1
}
