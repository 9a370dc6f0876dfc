// Package aiff reads and writes uncompressed AIFF and AIFF-C audio.
//
// Supported: 8, 16, 24 and 32-bit integer PCM, any channel count from 1 to
// 8, big-endian ("NONE") and little-endian ("sowt") AIFF-C payloads.
// Samples are exchanged as float64 in [-1, 1) organized [channel][sample].
package aiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Errors.
var (
	ErrNotAIFF           = errors.New("aiff: not an AIFF file")
	ErrUnsupportedFormat = errors.New("aiff: unsupported format")
	ErrInvalidFile       = errors.New("aiff: invalid file structure")
	ErrMissingChunk      = errors.New("aiff: missing required chunk")
)

// Clip is a decoded AIFF file.
type Clip struct {
	SampleRate    float64
	BitsPerSample int
	Data          [][]float64
}

// Channels returns the channel count.
func (c *Clip) Channels() int { return len(c.Data) }

// Frames returns the number of sample frames.
func (c *Clip) Frames() int {
	if len(c.Data) == 0 {
		return 0
	}
	return len(c.Data[0])
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / c.SampleRate
}

type header struct {
	channels     int
	frames       int
	bits         int
	sampleRate   float64
	littleEndian bool
}

// Decode reads an AIFF or AIFF-C stream.
func Decode(r io.Reader) (*Clip, error) {
	var form [12]byte
	if _, err := io.ReadFull(r, form[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if string(form[0:4]) != "FORM" {
		return nil, ErrNotAIFF
	}
	formType := string(form[8:12])
	if formType != "AIFF" && formType != "AIFC" {
		return nil, ErrNotAIFF
	}

	var (
		hdr     *header
		payload []byte
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}

		id := string(chunk[0:4])
		size := int64(binary.BigEndian.Uint32(chunk[4:8]))

		body := io.LimitReader(r, size)
		var err error
		switch id {
		case "COMM":
			hdr, err = readCOMM(body, size, formType == "AIFC")
		case "SSND":
			payload, err = readSSND(body, size)
		}
		if err != nil {
			return nil, err
		}

		// Drain whatever the chunk handler left, plus the pad byte.
		if _, err := io.Copy(io.Discard, body); err != nil {
			return nil, fmt.Errorf("%w: chunk %s: %w", ErrInvalidFile, id, err)
		}
		if size&1 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
			}
		}
	}

	if hdr == nil {
		return nil, fmt.Errorf("%w: COMM", ErrMissingChunk)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: SSND", ErrMissingChunk)
	}

	return &Clip{
		SampleRate:    hdr.sampleRate,
		BitsPerSample: hdr.bits,
		Data:          decodeFrames(hdr, payload),
	}, nil
}

func readCOMM(r io.Reader, size int64, compressed bool) (*header, error) {
	if size < 18 {
		return nil, fmt.Errorf("%w: COMM chunk too small", ErrInvalidFile)
	}

	var comm [18]byte
	if _, err := io.ReadFull(r, comm[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	hdr := &header{
		channels:   int(binary.BigEndian.Uint16(comm[0:2])),
		frames:     int(binary.BigEndian.Uint32(comm[2:6])),
		bits:       int(binary.BigEndian.Uint16(comm[6:8])),
		sampleRate: extendedToFloat64(comm[8:18]),
	}

	if hdr.channels < 1 || hdr.channels > 8 {
		return nil, fmt.Errorf("%w: channel count %d", ErrUnsupportedFormat, hdr.channels)
	}
	switch hdr.bits {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, hdr.bits)
	}
	if hdr.sampleRate <= 0 || hdr.sampleRate > 384000 {
		return nil, fmt.Errorf("%w: sample rate %v", ErrUnsupportedFormat, hdr.sampleRate)
	}

	if compressed && size >= 22 {
		var kind [4]byte
		if _, err := io.ReadFull(r, kind[:]); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}
		switch string(kind[:]) {
		case "NONE", "none":
		case "sowt":
			hdr.littleEndian = true
		default:
			return nil, fmt.Errorf("%w: AIFF-C compression %q", ErrUnsupportedFormat, string(kind[:]))
		}
	}

	return hdr, nil
}

func readSSND(r io.Reader, size int64) ([]byte, error) {
	if size < 8 {
		return nil, fmt.Errorf("%w: SSND chunk too small", ErrInvalidFile)
	}

	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	offset := int64(binary.BigEndian.Uint32(prefix[0:4]))
	if offset > size-8 {
		return nil, fmt.Errorf("%w: SSND offset %d exceeds chunk", ErrInvalidFile, offset)
	}
	if _, err := io.CopyN(io.Discard, r, offset); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	data := make([]byte, size-8-offset)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return data, nil
}

func decodeFrames(hdr *header, data []byte) [][]float64 {
	width := hdr.bits / 8
	frames := len(data) / (width * hdr.channels)
	// Some writers overstate the frame count in COMM.
	if hdr.frames < frames {
		frames = hdr.frames
	}

	var order binary.ByteOrder = binary.BigEndian
	if hdr.littleEndian {
		order = binary.LittleEndian
	}

	out := make([][]float64, hdr.channels)
	for ch := range out {
		out[ch] = make([]float64, frames)
	}

	pos := 0
	for i := range frames {
		for ch := range hdr.channels {
			b := data[pos : pos+width]
			switch hdr.bits {
			case 8:
				out[ch][i] = float64(int8(b[0])) / 128
			case 16:
				out[ch][i] = float64(int16(order.Uint16(b))) / 32768
			case 24:
				out[ch][i] = float64(int24(b, hdr.littleEndian)) / 8388608
			case 32:
				out[ch][i] = float64(int32(order.Uint32(b))) / 2147483648
			}
			pos += width
		}
	}
	return out
}

func int24(b []byte, littleEndian bool) int32 {
	if littleEndian {
		b = []byte{b[2], b[1], b[0]}
	}
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

// Encode writes data as a big-endian AIFF file with the given bit depth.
// Samples are clamped to [-1, 1].
func Encode(w io.Writer, sampleRate float64, bits int, data [][]float64) error {
	switch bits {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, bits)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidFile)
	}

	frames := len(data[0])
	width := bits / 8
	payload := frames * len(data) * width
	pad := payload & 1

	var buf []byte
	buf = append(buf, "FORM"...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(4+8+18+8+8+payload+pad))
	buf = append(buf, "AIFF"...)

	buf = append(buf, "COMM"...)
	buf = binary.BigEndian.AppendUint32(buf, 18)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(data)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(frames))
	buf = binary.BigEndian.AppendUint16(buf, uint16(bits))
	buf = append(buf, float64ToExtended(sampleRate)...)

	buf = append(buf, "SSND"...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(8+payload))
	buf = binary.BigEndian.AppendUint32(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, 0)

	scale := math.Ldexp(1, bits-1)
	for i := range frames {
		for ch := range data {
			v := math.Round(max(-1, min(1, data[ch][i])) * scale)
			v = min(v, scale-1)
			s := int32(v)
			switch bits {
			case 8:
				buf = append(buf, byte(int8(s)))
			case 16:
				buf = binary.BigEndian.AppendUint16(buf, uint16(int16(s)))
			case 24:
				buf = append(buf, byte(s>>16), byte(s>>8), byte(s))
			case 32:
				buf = binary.BigEndian.AppendUint32(buf, uint32(s))
			}
		}
	}
	if pad > 0 {
		buf = append(buf, 0)
	}

	_, err := w.Write(buf)
	return err
}

// extendedToFloat64 converts an 80-bit IEEE 754 extended float, the
// format AIFF uses for the sample rate.
func extendedToFloat64(b []byte) float64 {
	if len(b) != 10 {
		return 0
	}

	sign := b[0] >> 7
	exponent := int(binary.BigEndian.Uint16(b[0:2]) & 0x7FFF)
	mantissa := binary.BigEndian.Uint64(b[2:10])

	switch {
	case exponent == 0 && mantissa == 0:
		return 0
	case exponent == 0:
		// Denormal; never a real sample rate.
		return 0
	case exponent == 0x7FFF:
		return math.Inf(1)
	}

	// The mantissa carries an explicit integer bit: value = m/2^63 * 2^(e-bias).
	v := math.Ldexp(float64(mantissa)/(1<<63), exponent-16383)
	if sign == 1 {
		v = -v
	}
	return v
}

// float64ToExtended is the inverse of extendedToFloat64.
func float64ToExtended(f float64) []byte {
	out := make([]byte, 10)
	if f == 0 {
		return out
	}

	var sign uint16
	if f < 0 {
		sign = 0x8000
		f = -f
	}

	// Frexp yields mant in [0.5, 1); the extended format normalizes to [1, 2).
	mant, exp := math.Frexp(f)
	binary.BigEndian.PutUint16(out[0:2], sign|uint16(exp-1+16383))
	binary.BigEndian.PutUint64(out[2:10], uint64(mant*(1<<64)))
	return out
}
