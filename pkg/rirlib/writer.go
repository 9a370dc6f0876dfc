package rirlib

import (
	"errors"
	"fmt"
	"io"

	"lukechampine.com/blake3"

	"rirmix/pkg/f16"
)

// Writer streams RIRs into a library. The index and trailer are written
// by Close, so the destination does not need to be seekable.
type Writer struct {
	w     io.Writer
	pos   uint64
	index []IndexEntry
	names map[string]struct{}
	err   error
}

// NewWriter writes the library header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	lw := &Writer{w: w, names: make(map[string]struct{})}

	var e encoder
	e.tag(magic)
	e.u16(Version)
	if err := lw.emit(e.buf); err != nil {
		return nil, err
	}
	return lw, nil
}

func (w *Writer) emit(b []byte) error {
	if w.err != nil {
		return w.err
	}
	n, err := w.w.Write(b)
	w.pos += uint64(n)
	if err != nil {
		w.err = fmt.Errorf("rirlib: write failed: %w", err)
	}
	return w.err
}

// Add appends one RIR. Names must be unique and non-empty.
func (w *Writer) Add(rir *RIR) error {
	if rir.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidChunk)
	}
	if _, dup := w.names[rir.Name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, rir.Name)
	}
	if rir.Channels() == 0 || rir.Length() == 0 {
		return fmt.Errorf("%w: %q has no audio", ErrInvalidChunk, rir.Name)
	}

	audio, err := f16.AppendInterleaved(nil, rir.Data)
	if err != nil {
		return fmt.Errorf("rirlib: %q: %w", rir.Name, err)
	}

	var meta encoder
	meta.f64(rir.SampleRate)
	meta.u32(uint32(rir.Channels()))
	meta.u32(uint32(rir.Length()))
	meta.str(rir.Name)
	meta.str(rir.Room)
	meta.str(rir.Description)
	meta.u16(uint16(len(rir.Tags)))
	for _, tag := range rir.Tags {
		meta.str(tag)
	}

	var chunk encoder
	chunk.tag(chunkEntry)
	chunk.u64(uint64(2*subHeaderLen + len(meta.buf) + len(audio)))
	chunk.tag(chunkMeta)
	chunk.u32(uint32(len(meta.buf)))
	chunk.raw(meta.buf)
	chunk.tag(chunkAudio)
	chunk.u32(uint32(len(audio)))
	chunk.raw(audio)

	entry := IndexEntry{
		Name:       rir.Name,
		Room:       rir.Room,
		SampleRate: rir.SampleRate,
		Channels:   rir.Channels(),
		Length:     rir.Length(),
		Offset:     w.pos,
		Digest:     digest(audio),
	}

	if err := w.emit(chunk.buf); err != nil {
		return err
	}
	w.index = append(w.index, entry)
	w.names[rir.Name] = struct{}{}
	return nil
}

// Close writes the index and trailer. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}

	var body encoder
	body.u32(uint32(len(w.index)))
	for _, entry := range w.index {
		body.u64(entry.Offset)
		body.f64(entry.SampleRate)
		body.u32(uint32(entry.Channels))
		body.u32(uint32(entry.Length))
		body.str(entry.Name)
		body.str(entry.Room)
		body.raw(entry.Digest[:])
	}

	indexOffset := w.pos

	var e encoder
	e.tag(chunkIndex)
	e.u64(uint64(len(body.buf)))
	e.raw(body.buf)
	e.u64(indexOffset)
	e.tag(magic)

	if err := w.emit(e.buf); err != nil {
		return err
	}
	w.err = errors.New("rirlib: writer is closed")
	return nil
}

// WriteLibrary writes rirs to w as a complete library.
func WriteLibrary(w io.Writer, rirs []*RIR) error {
	lw, err := NewWriter(w)
	if err != nil {
		return err
	}
	for _, rir := range rirs {
		if err := lw.Add(rir); err != nil {
			return err
		}
	}
	return lw.Close()
}

func digest(b []byte) [digestSize]byte {
	return blake3.Sum256(b)
}
