package rirlib

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encoder appends little-endian fields to a byte slice.
type encoder struct {
	buf []byte
}

func (e *encoder) tag(id string)  { e.buf = append(e.buf, id...) }
func (e *encoder) u16(v uint16)  { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32)  { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64)  { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }
func (e *encoder) raw(b []byte)  { e.buf = append(e.buf, b...) }

func (e *encoder) str(s string) {
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder consumes little-endian fields from a byte slice. The first
// out-of-bounds read sets err and every later read returns zero values.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes, have %d", ErrCorruptedData, n, len(d.buf))
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) tag() string {
	b := d.take(4)
	if b == nil {
		return ""
	}
	return string(b)
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }

func (d *decoder) str() string {
	n := int(d.u16())
	if b := d.take(n); b != nil {
		return string(b)
	}
	return ""
}

func (d *decoder) expect(id string) {
	if got := d.tag(); d.err == nil && got != id {
		d.err = fmt.Errorf("%w: expected %q, got %q", ErrInvalidChunk, id, got)
	}
}
