package rirlib

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func decay(n int, rate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Exp(-float64(i)/(rate*0.05)) * math.Cos(float64(i)*0.3)
	}
	return out
}

func testRIRs() []*RIR {
	return []*RIR{
		{
			Metadata: Metadata{Name: "office_a", Room: "office", Description: "small office, mic 1 m", Tags: []string{"dry", "small"}, SampleRate: 16000},
			Data:     [][]float64{decay(800, 16000)},
		},
		{
			Metadata: Metadata{Name: "hall_stereo", Room: "hall", SampleRate: 48000},
			Data:     [][]float64{decay(2400, 48000), decay(2400, 24000)},
		},
		{
			Metadata: Metadata{Name: "booth", SampleRate: 16000},
			Data:     [][]float64{{1}},
		},
	}
}

func build(t *testing.T, rirs []*RIR) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := WriteLibrary(&buf, rirs); err != nil {
		t.Fatalf("WriteLibrary failed: %v", err)
	}
	return buf.Bytes()
}

func open(t *testing.T, data []byte) *Reader {
	t.Helper()

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	return r
}

func TestWriteRead(t *testing.T) {
	t.Parallel()

	rirs := testRIRs()
	r := open(t, build(t, rirs))

	if r.Version() != Version {
		t.Errorf("Expected version %d, got %d", Version, r.Version())
	}
	if r.Len() != len(rirs) {
		t.Fatalf("Expected %d entries, got %d", len(rirs), r.Len())
	}

	for i, want := range rirs {
		got, err := r.Load(i)
		if err != nil {
			t.Fatalf("Load(%d) failed: %v", i, err)
		}

		if got.Name != want.Name || got.Room != want.Room || got.Description != want.Description {
			t.Errorf("entry %d: metadata mismatch: got %+v, want %+v", i, got.Metadata, want.Metadata)
		}
		if got.SampleRate != want.SampleRate {
			t.Errorf("entry %d: sample rate: got %v, want %v", i, got.SampleRate, want.SampleRate)
		}
		if len(got.Tags) != len(want.Tags) {
			t.Errorf("entry %d: tags: got %v, want %v", i, got.Tags, want.Tags)
		}
		if got.Channels() != want.Channels() || got.Length() != want.Length() {
			t.Fatalf("entry %d: shape %dx%d, want %dx%d", i, got.Channels(), got.Length(), want.Channels(), want.Length())
		}

		// Half precision keeps 11 significant bits.
		for ch := range want.Data {
			for j, v := range want.Data[ch] {
				if d := math.Abs(got.Data[ch][j] - v); d > math.Abs(v)/2048+1e-7 {
					t.Fatalf("entry %d ch %d sample %d: got %v, want %v", i, ch, j, got.Data[ch][j], v)
				}
			}
		}
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()

	r := open(t, build(t, testRIRs()))

	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 index entries, got %d", len(entries))
	}

	hall, ok := r.Lookup("hall_stereo")
	if !ok {
		t.Fatal("Lookup(hall_stereo) failed")
	}
	if hall.Channels != 2 || hall.Length != 2400 || hall.Room != "hall" {
		t.Errorf("Unexpected index entry: %+v", hall)
	}
	if math.Abs(hall.Duration()-0.05) > 1e-12 {
		t.Errorf("Expected 0.05 s, got %v", hall.Duration())
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup(missing) succeeded")
	}
}

func TestLoadByName(t *testing.T) {
	t.Parallel()

	r := open(t, build(t, testRIRs()))

	rir, err := r.LoadByName("booth")
	if err != nil {
		t.Fatalf("LoadByName failed: %v", err)
	}
	if rir.Length() != 1 || rir.Data[0][0] != 1 {
		t.Errorf("Expected a unit impulse, got %v", rir.Data)
	}

	if _, err := r.LoadByName("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := r.Load(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEmptyLibrary(t *testing.T) {
	r := open(t, build(t, nil))
	if r.Len() != 0 {
		t.Errorf("Expected an empty index, got %d entries", r.Len())
	}
}

func TestChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := build(t, testRIRs()[:1])

	// Flip a bit in the last audio byte; the index chunk follows it directly.
	indexStart := bytes.LastIndex(data, []byte(chunkIndex))
	data[indexStart-1] ^= 0x01

	if _, err := open(t, data).Load(0); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got %v", err)
	}
}

func TestWriterRejects(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	rir := testRIRs()[0]
	if err := w.Add(rir); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := w.Add(rir); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}
	if err := w.Add(&RIR{Metadata: Metadata{Name: "empty"}}); !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("Expected ErrInvalidChunk, got %v", err)
	}
	if err := w.Add(&RIR{Data: [][]float64{{1}}}); !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("Expected ErrInvalidChunk for an unnamed RIR, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Add(testRIRs()[1]); err == nil {
		t.Error("Expected Add after Close to fail")
	}
}

func TestReaderRejects(t *testing.T) {
	t.Parallel()

	valid := build(t, testRIRs())

	badVersion := append([]byte(nil), valid...)
	badVersion[4] = 9

	noTrailer := append([]byte(nil), valid...)
	copy(noTrailer[len(noTrailer)-4:], "XXXX")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"too short", []byte("IRLB"), ErrInvalidMagic},
		{"wrong magic", append([]byte("RIFF"), valid[4:]...), ErrInvalidMagic},
		{"wrong version", badVersion, ErrUnsupportedVersion},
		{"missing trailer", noTrailer, ErrCorruptedData},
		{"truncated", valid[:len(valid)-20], ErrCorruptedData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReader(bytes.NewReader(tt.data), int64(len(tt.data))); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rooms.irlib")
	if err := os.WriteFile(path, build(t, testRIRs()), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	if _, err := f.LoadByName("office_a"); err != nil {
		t.Errorf("LoadByName failed: %v", err)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.irlib")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	rir := &RIR{Metadata: Metadata{SampleRate: 16000}, Data: [][]float64{make([]float64, 8000)}}
	if math.Abs(rir.Duration()-0.5) > 1e-12 {
		t.Errorf("Expected 0.5 s, got %v", rir.Duration())
	}
}
