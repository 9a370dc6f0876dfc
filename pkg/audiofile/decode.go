package audiofile

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"

	"rirmix/dsp"
	"rirmix/internal/aiff"
	"rirmix/pkg/resampler"
)

// LoadOptions control how a file is turned into a Signal.
type LoadOptions struct {
	// SampleRate resamples the result to this rate. Zero keeps the file's rate.
	SampleRate int
	// Offset skips this many seconds from the start, measured at the
	// file's native rate.
	Offset float64
	// Duration keeps at most this many seconds after Offset. Zero keeps
	// the rest of the file.
	Duration float64
	// Mono averages all channels into one.
	Mono bool
}

// Clip is decoded audio with its sample rate.
type Clip struct {
	Signal     dsp.Signal
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Signal.Len()) / float64(c.SampleRate)
}

var defaultResampler = resampler.New()

// Load decodes the WAV or AIFF file at path. A missing file yields an
// error wrapping os.ErrNotExist.
func Load(path string, opts LoadOptions) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	clip, err := Decode(f, filepath.Ext(path), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return clip, nil
}

// Decode reads audio of the container named by ext (".wav", ".aif",
// ".aiff") from r and applies opts.
func Decode(r io.ReadSeeker, ext string, opts LoadOptions) (*Clip, error) {
	var (
		clip *Clip
		err  error
	)
	switch strings.ToLower(ext) {
	case ".wav", ".wave":
		clip, err = decodeWAV(r)
	case ".aif", ".aiff", ".aifc":
		clip, err = decodeAIFF(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContainer, ext)
	}
	if err != nil {
		return nil, err
	}
	return clip.apply(opts)
}

func decodeWAV(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a WAV file", ErrInvalidFile)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("%w: no channels", ErrInvalidFile)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	sig := dsp.NewSignal(channels, frames)

	var convert func(int) float64
	switch {
	case dec.WavAudioFormat == 3 && buf.SourceBitDepth == 32:
		convert = func(v int) float64 { return float64(math.Float32frombits(uint32(int32(v)))) }
	case dec.WavAudioFormat == 3:
		return nil, fmt.Errorf("%w: %d-bit float WAV", ErrUnsupportedFormat, buf.SourceBitDepth)
	case buf.SourceBitDepth == 8:
		// 8-bit WAV is unsigned with a 128 midpoint.
		convert = func(v int) float64 { return float64(v-128) / 128 }
	case buf.SourceBitDepth == 16 || buf.SourceBitDepth == 24 || buf.SourceBitDepth == 32:
		scale := float64(int64(1) << (buf.SourceBitDepth - 1))
		convert = func(v int) float64 { return float64(v) / scale }
	default:
		return nil, fmt.Errorf("%w: %d-bit PCM WAV", ErrUnsupportedFormat, buf.SourceBitDepth)
	}

	for i := range frames {
		for ch := range channels {
			sig[ch][i] = convert(buf.Data[i*channels+ch])
		}
	}

	return &Clip{Signal: sig, SampleRate: buf.Format.SampleRate}, nil
}

func decodeAIFF(r io.Reader) (*Clip, error) {
	a, err := aiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return &Clip{Signal: dsp.Signal(a.Data), SampleRate: int(math.Round(a.SampleRate))}, nil
}

// apply windows, downmixes and resamples the clip in that order.
func (c *Clip) apply(opts LoadOptions) (*Clip, error) {
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidFile, c.SampleRate)
	}

	sig := c.Signal
	if opts.Offset > 0 || opts.Duration > 0 {
		start := int(math.Round(opts.Offset * float64(c.SampleRate)))
		end := sig.Len()
		if opts.Duration > 0 {
			end = min(end, start+int(math.Round(opts.Duration*float64(c.SampleRate))))
		}
		if start >= end {
			return nil, fmt.Errorf("%w: offset %.3fs, duration %.3fs of a %.3fs file",
				ErrEmptyWindow, opts.Offset, opts.Duration, c.Duration())
		}
		windowed := make(dsp.Signal, len(sig))
		for ch := range sig {
			windowed[ch] = sig[ch][start:end]
		}
		sig = windowed
	}

	if opts.Mono && sig.Channels() > 1 {
		sig = downmix(sig)
	}

	rate := c.SampleRate
	if opts.SampleRate > 0 && opts.SampleRate != rate {
		data, err := defaultResampler.Resample(sig, float64(rate), float64(opts.SampleRate))
		if err != nil {
			return nil, fmt.Errorf("audiofile: %w", err)
		}
		sig, rate = data, opts.SampleRate
	}

	return &Clip{Signal: sig, SampleRate: rate}, nil
}

// downmix averages channels into a mono signal.
func downmix(sig dsp.Signal) dsp.Signal {
	out := make([]float64, sig.Len())
	inv := 1 / float64(sig.Channels())
	for _, data := range sig {
		for i, v := range data {
			out[i] += v * inv
		}
	}
	return dsp.Mono(out)
}
