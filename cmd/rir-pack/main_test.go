package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"rirmix/dsp"
	"rirmix/internal/testutil"
	"rirmix/pkg/audiofile"
	"rirmix/pkg/rirlib"
)

func writeRIR(t *testing.T, path string, rate int, sig dsp.Signal) {
	t.Helper()
	data, err := audiofile.EncodeBytes(rate, sig, audiofile.Float32)
	if err != nil {
		t.Fatalf("EncodeBytes failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestPackDirectory(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rirs")
	stereo := dsp.Signal{testutil.DecayingRIR(1, 800, 0.01), testutil.DecayingRIR(2, 800, 0.01)}
	writeRIR(t, filepath.Join(in, "office_near.wav"), 16000, stereo)
	writeRIR(t, filepath.Join(in, "hall_far.wav"), 8000, dsp.Mono(testutil.DecayingRIR(3, 400, 0.02)))
	writeRIR(t, filepath.Join(in, "Lecture", "lecture_1.wav"), 16000, dsp.Mono(testutil.DecayingRIR(4, 300, 0.02)))
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "lib", "rirs.irlib")
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		t.Fatal(err)
	}
	stdout, _, err := runCmd(t, in, out)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	if !strings.Contains(stdout, "with 2 RIRs") {
		t.Errorf("stdout = %q", stdout)
	}

	lib, err := rirlib.Open(out)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer lib.Close()

	if lib.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (subdirectory not scanned)", lib.Len())
	}
	rir, err := lib.LoadByName("office_near")
	if err != nil {
		t.Fatalf("LoadByName failed: %v", err)
	}
	if rir.Channels() != 2 || rir.Length() != 800 || rir.SampleRate != 16000 {
		t.Errorf("office_near = %d ch, %d samples, %g Hz", rir.Channels(), rir.Length(), rir.SampleRate)
	}
	if !slices.Contains(rir.Tags, "office") || !slices.Contains(rir.Tags, "near") {
		t.Errorf("tags = %v", rir.Tags)
	}
	testutil.RequireSliceNearlyEqual(t, rir.Data[1], stereo[1], 2e-3)

	if e, ok := lib.Lookup("hall_far"); !ok || e.SampleRate != 8000 {
		t.Errorf("hall_far entry = %+v, %v", e, ok)
	}
}

func TestPackRecursiveWithOptions(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rirs")
	writeRIR(t, filepath.Join(in, "Lecture", "lecture_1.wav"), 8000, dsp.Mono(testutil.DecayingRIR(4, 300, 0.02)))
	writeRIR(t, filepath.Join(in, "Booth", "booth_1.wav"), 8000, dsp.Mono(testutil.DecayingRIR(5, 300, 0.02)))

	out := filepath.Join(dir, "rirs.irlib")
	if _, _, err := runCmd(t, "--recursive", "--fs", "16000", "--normalize", in, out); err != nil {
		t.Fatalf("pack failed: %v", err)
	}

	lib, err := rirlib.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer lib.Close()

	rir, err := lib.LoadByName("lecture_1")
	if err != nil {
		t.Fatal(err)
	}
	if rir.Room != "Lecture" {
		t.Errorf("room = %q, want Lecture", rir.Room)
	}
	if rir.SampleRate != 16000 {
		t.Errorf("rate = %g, want 16000", rir.SampleRate)
	}
	if peak := dsp.PeakAbs(rir.Data[0]); math.Abs(peak-0.891) > 0.01 {
		t.Errorf("peak = %g, want ~0.891", peak)
	}
}

func TestPackRoomOverride(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rirs")
	writeRIR(t, filepath.Join(in, "a.wav"), 16000, dsp.Mono(testutil.DecayingRIR(1, 100, 0.05)))

	out := filepath.Join(dir, "rirs.irlib")
	if _, _, err := runCmd(t, "--room", "simulated", in, out); err != nil {
		t.Fatal(err)
	}
	lib, err := rirlib.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer lib.Close()
	if e, _ := lib.Lookup("a"); e.Room != "simulated" {
		t.Errorf("room = %q", e.Room)
	}
}

func TestPackSkipsBadAndDuplicateFiles(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rirs")
	writeRIR(t, filepath.Join(in, "room1.wav"), 16000, dsp.Mono(testutil.DecayingRIR(1, 100, 0.05)))
	writeRIR(t, filepath.Join(in, "Lecture", "room1.wav"), 16000, dsp.Mono(testutil.DecayingRIR(2, 100, 0.05)))
	if err := os.WriteFile(filepath.Join(in, "broken.wav"), []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "rirs.irlib")
	stdout, stderr, err := runCmd(t, "--recursive", in, out)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	if !strings.Contains(stdout, "with 1 RIRs") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "broken.wav") {
		t.Errorf("stderr does not mention the broken file: %q", stderr)
	}
	if !strings.Contains(stderr, `name "room1" already taken`) {
		t.Errorf("stderr does not report the duplicate: %q", stderr)
	}
}

func TestPackErrors(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.irlib")

	if _, _, err := runCmd(t, dir, out); err == nil || !strings.Contains(err.Error(), "no .wav") {
		t.Errorf("empty dir: err = %v", err)
	}
	if _, _, err := runCmd(t, filepath.Join(dir, "absent"), out); err == nil {
		t.Error("missing dir: expected an error")
	}
	if _, _, err := runCmd(t, dir); err == nil {
		t.Error("one argument: expected an error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output created on failure: %v", err)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "rirs")
	writeRIR(t, filepath.Join(in, "kitchen.wav"), 16000, dsp.Mono(testutil.DecayingRIR(1, 1600, 0.01)))
	out := filepath.Join(dir, "rirs.irlib")
	if _, _, err := runCmd(t, in, out); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := runCmd(t, "list", out)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, want := range []string{"NAME", "kitchen", "16000", "0.100", "1 RIRs"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("list output missing %q:\n%s", want, stdout)
		}
	}
}

func TestInferName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/path/to/office_near.wav", "office_near"},
		{"Large Hall.aif", "Large Hall"},
		{"/some/dir/rir.v2.aiff", "rir.v2"},
	}
	for _, tc := range tests {
		if got := inferName(tc.input); got != tc.expected {
			t.Errorf("inferName(%q): got %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestInferRoom(t *testing.T) {
	tests := []struct {
		path     string
		baseDir  string
		expected string
	}{
		{"/base/file.wav", "/base", ""},
		{"/base/Hall/file.wav", "/base", "Hall"},
		{"/base/Office/Small/file.wav", "/base", "Office"},
	}
	for _, tc := range tests {
		if got := inferRoom(tc.path, tc.baseDir); got != tc.expected {
			t.Errorf("inferRoom(%q, %q): got %q, want %q", tc.path, tc.baseDir, got, tc.expected)
		}
	}
}

func TestInferTags(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
	}{
		{"large_hall_far", []string{"hall", "large", "far"}},
		{"Meeting Room 2", []string{"meeting", "room"}},
		{"rir_0001", nil},
	}
	for _, tc := range tests {
		got := inferTags(tc.name)
		for _, exp := range tc.expected {
			if !slices.Contains(got, exp) {
				t.Errorf("inferTags(%q): missing %q in %v", tc.name, exp, got)
			}
		}
		if tc.expected == nil && len(got) != 0 {
			t.Errorf("inferTags(%q) = %v, want none", tc.name, got)
		}
	}
}

func TestNormalizePeak(t *testing.T) {
	input := [][]float64{
		{0.5, -0.8, 0.3, 0.8},
		{0.2, 0.6, -0.4, 0.1},
	}
	got := normalizePeak(input)

	want := math.Pow(10, -1.0/20.0)
	if peak := math.Max(dsp.PeakAbs(got[0]), dsp.PeakAbs(got[1])); math.Abs(peak-want) > 1e-12 {
		t.Errorf("peak = %v, want %v", peak, want)
	}
	if input[0][1] != -0.8 {
		t.Error("input modified")
	}

	silent := [][]float64{{0, 0}}
	if out := normalizePeak(silent); out[0][0] != 0 {
		t.Error("silent input changed")
	}
}
