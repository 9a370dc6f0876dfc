// Package rirlib reads and writes RIR libraries (.irlib): many room impulse
// responses packed into one file with a name index.
//
// Layout (all integers little-endian):
//
//	header   "IRLB" | version u16
//	entry*   "RIR-" | size u64 | META sub-chunk | AUDI sub-chunk
//	index    "INDX" | size u64 | count u32 | index record*
//	trailer  index offset u64 | "IRLB"
//
// Audio is stored as interleaved half-precision floats. Each index record
// carries a BLAKE3-256 digest of its entry's AUDI payload, which is checked
// on load.
package rirlib

import "errors"

const (
	magic = "IRLB"

	// Version is the format version written by this package.
	Version uint16 = 2

	chunkEntry = "RIR-"
	chunkIndex = "INDX"
	chunkMeta  = "META"
	chunkAudio = "AUDI"

	headerSize     = 6  // magic + version
	trailerSize    = 12 // index offset + magic
	chunkHeaderLen = 12 // id + u64 size
	subHeaderLen   = 8  // id + u32 size
	digestSize     = 32
)

// Errors.
var (
	ErrInvalidMagic       = errors.New("rirlib: not an RIR library")
	ErrUnsupportedVersion = errors.New("rirlib: unsupported format version")
	ErrInvalidChunk       = errors.New("rirlib: invalid chunk")
	ErrCorruptedData      = errors.New("rirlib: corrupted data")
	ErrChecksumMismatch   = errors.New("rirlib: audio checksum mismatch")
	ErrNotFound           = errors.New("rirlib: RIR not found")
	ErrDuplicateName      = errors.New("rirlib: duplicate RIR name")
)

// Metadata describes one impulse response.
type Metadata struct {
	Name        string
	Room        string
	Description string
	Tags        []string
	SampleRate  float64
}

// RIR is an impulse response with its metadata. Data is [channel][sample].
type RIR struct {
	Metadata
	Data [][]float64
}

// Channels returns the channel count.
func (r *RIR) Channels() int { return len(r.Data) }

// Length returns the number of samples per channel.
func (r *RIR) Length() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// Duration returns the impulse response length in seconds.
func (r *RIR) Duration() float64 {
	if r.SampleRate <= 0 {
		return 0
	}
	return float64(r.Length()) / r.SampleRate
}

// IndexEntry locates an entry without decoding its audio.
type IndexEntry struct {
	Name       string
	Room       string
	SampleRate float64
	Channels   int
	Length     int
	Offset     uint64
	Digest     [digestSize]byte
}

// Duration returns the indexed entry's length in seconds.
func (e *IndexEntry) Duration() float64 {
	if e.SampleRate <= 0 {
		return 0
	}
	return float64(e.Length) / e.SampleRate
}
