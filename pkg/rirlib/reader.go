package rirlib

import (
	"fmt"
	"io"
	"os"

	"rirmix/pkg/f16"
)

// Reader gives random access to a library's entries. It reads through an
// io.ReaderAt and holds no cursor, so it is safe for concurrent use.
type Reader struct {
	r       io.ReaderAt
	size    int64
	version uint16
	index   []IndexEntry
	byName  map[string]int
}

// NewReader validates the header and trailer of a library of the given
// size and loads its index.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size < headerSize+chunkHeaderLen+4+trailerSize {
		return nil, ErrInvalidMagic
	}

	lr := &Reader{r: r, size: size}

	head, err := lr.read(0, headerSize)
	if err != nil {
		return nil, err
	}
	d := decoder{buf: head}
	if d.tag() != magic {
		return nil, ErrInvalidMagic
	}
	lr.version = d.u16()
	if lr.version != Version {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, lr.version, Version)
	}

	tail, err := lr.read(size-trailerSize, trailerSize)
	if err != nil {
		return nil, err
	}
	d = decoder{buf: tail}
	indexOffset := d.u64()
	if d.tag() != magic {
		return nil, fmt.Errorf("%w: missing trailer", ErrCorruptedData)
	}

	if err := lr.readIndex(indexOffset); err != nil {
		return nil, err
	}
	return lr, nil
}

func (r *Reader) read(off int64, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > r.size {
		return nil, fmt.Errorf("%w: range [%d, %d) outside file of %d bytes", ErrCorruptedData, off, off+n, r.size)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(r.r, off, n), buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptedData, err)
	}
	return buf, nil
}

// chunk reads the chunk at off and returns its body.
func (r *Reader) chunk(off uint64, id string) ([]byte, error) {
	head, err := r.read(int64(off), chunkHeaderLen)
	if err != nil {
		return nil, err
	}
	d := decoder{buf: head}
	d.expect(id)
	size := d.u64()
	if d.err != nil {
		return nil, d.err
	}
	if size > uint64(r.size) {
		return nil, fmt.Errorf("%w: %s chunk of %d bytes", ErrCorruptedData, id, size)
	}
	return r.read(int64(off)+chunkHeaderLen, int64(size))
}

func (r *Reader) readIndex(off uint64) error {
	body, err := r.chunk(off, chunkIndex)
	if err != nil {
		return err
	}

	d := decoder{buf: body}
	count := int(d.u32())
	if d.err != nil {
		return d.err
	}

	r.index = make([]IndexEntry, 0, min(count, len(body)))
	r.byName = make(map[string]int, count)
	for i := range count {
		var e IndexEntry
		e.Offset = d.u64()
		e.SampleRate = d.f64()
		e.Channels = int(d.u32())
		e.Length = int(d.u32())
		e.Name = d.str()
		e.Room = d.str()
		copy(e.Digest[:], d.take(digestSize))
		if d.err != nil {
			return fmt.Errorf("index record %d: %w", i, d.err)
		}
		if _, dup := r.byName[e.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
		}
		r.byName[e.Name] = i
		r.index = append(r.index, e)
	}
	return nil
}

// Version returns the format version of the library.
func (r *Reader) Version() uint16 { return r.version }

// Len returns the number of entries.
func (r *Reader) Len() int { return len(r.index) }

// Entries returns a copy of the index.
func (r *Reader) Entries() []IndexEntry {
	return append([]IndexEntry(nil), r.index...)
}

// Lookup returns the index entry for name.
func (r *Reader) Lookup(name string) (IndexEntry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return IndexEntry{}, false
	}
	return r.index[i], true
}

// LoadByName decodes the entry called name. It returns ErrNotFound when
// the library has no such entry.
func (r *Reader) LoadByName(name string) (*RIR, error) {
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.Load(i)
}

// Load decodes the i-th entry and verifies its audio checksum.
func (r *Reader) Load(i int) (*RIR, error) {
	if i < 0 || i >= len(r.index) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNotFound, i, len(r.index))
	}
	entry := r.index[i]

	body, err := r.chunk(entry.Offset, chunkEntry)
	if err != nil {
		return nil, err
	}

	d := decoder{buf: body}
	d.expect(chunkMeta)
	meta := decoder{buf: d.take(int(d.u32()))}
	d.expect(chunkAudio)
	audio := d.take(int(d.u32()))
	if d.err != nil {
		return nil, fmt.Errorf("rirlib: entry %q: %w", entry.Name, d.err)
	}

	rir := &RIR{}
	rir.SampleRate = meta.f64()
	channels := int(meta.u32())
	length := int(meta.u32())
	rir.Name = meta.str()
	rir.Room = meta.str()
	rir.Description = meta.str()
	if tags := int(meta.u16()); tags > 0 {
		rir.Tags = make([]string, 0, min(tags, len(meta.buf)))
		for range tags {
			rir.Tags = append(rir.Tags, meta.str())
		}
	}
	if meta.err != nil {
		return nil, fmt.Errorf("rirlib: entry %q metadata: %w", entry.Name, meta.err)
	}

	if digest(audio) != entry.Digest {
		return nil, fmt.Errorf("%w: entry %q", ErrChecksumMismatch, entry.Name)
	}

	rir.Data, err = f16.DecodeInterleaved(audio, channels)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %q: %w", ErrCorruptedData, entry.Name, err)
	}
	if rir.Length() != length {
		return nil, fmt.Errorf("%w: entry %q declares %d samples, holds %d", ErrCorruptedData, entry.Name, length, rir.Length())
	}
	return rir, nil
}

// File is a Reader over an open library file.
type File struct {
	*Reader
	f *os.File
}

// Open opens the library at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{Reader: r, f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}
