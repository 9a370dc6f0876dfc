package audiofile

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"rirmix/dsp"
)

// Encode writes sig to w as a WAV file in the given sample format.
//
// Integer formats multiply by the magnitude of the type's minimum value
// (32768, 8388608, 2147483648) and truncate toward zero; a sample of
// exactly +1.0 or above is clamped to the type's maximum instead of
// wrapping. Float32 writes IEEE float samples unscaled.
func Encode(w io.WriteSeeker, sampleRate int, sig dsp.Signal, format SampleFormat) error {
	if _, ok := formatNames[format]; !ok {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("audiofile: %w", err)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("audiofile: invalid sample rate %d", sampleRate)
	}

	channels := sig.Channels()
	frames := sig.Len()
	data := make([]int, frames*channels)

	quantize := integerQuantizer(format)
	if format.IsFloat() {
		quantize = func(v float64) int { return int(int32(math.Float32bits(float32(v)))) }
	}

	for i := range frames {
		for ch := range channels {
			data[i*channels+ch] = quantize(sig[ch][i])
		}
	}

	enc := wav.NewEncoder(w, sampleRate, format.BitDepth(), channels, format.wavFormatTag())
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: format.BitDepth(),
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audiofile: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audiofile: finalize WAV: %w", err)
	}
	return nil
}

func integerQuantizer(format SampleFormat) func(float64) int {
	scale := format.fullScale()
	hi, lo := scale-1, -scale
	return func(v float64) int {
		if math.IsNaN(v) {
			return 0
		}
		return int(max(lo, min(hi, math.Trunc(v*scale))))
	}
}

// EncodeBytes encodes sig into an in-memory WAV file.
func EncodeBytes(sampleRate int, sig dsp.Signal, format SampleFormat) ([]byte, error) {
	var buf WriteBuffer
	if err := Encode(&buf, sampleRate, sig, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back
// to patch chunk sizes, which bytes.Buffer cannot do.
type WriteBuffer struct {
	data []byte
	pos  int
}

var errNegativeOffset = errors.New("audiofile: seek to negative offset")

// Write implements io.Writer, overwriting or extending at the current position.
func (b *WriteBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

// Seek implements io.Seeker.
func (b *WriteBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, fmt.Errorf("audiofile: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errNegativeOffset
	}
	b.pos = int(next)
	return next, nil
}

// Bytes returns the written contents.
func (b *WriteBuffer) Bytes() []byte {
	return b.data
}
