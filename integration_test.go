package main

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rirmix/dsp"
	"rirmix/internal/simulate"
	"rirmix/internal/testutil"
	"rirmix/pkg/audiofile"
	"rirmix/pkg/catalog"
)

const testRate = 16000

func writeWAV(t *testing.T, path string, sig dsp.Signal) {
	t.Helper()
	data, err := audiofile.EncodeBytes(testRate, sig, audiofile.Float32)
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

// corpus lays out a small corpus with one row whose speech is missing and
// returns its root directory.
func corpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeWAV(t, filepath.Join(root, "speech", "s1.wav"), dsp.Mono(testutil.Sine(3200, 200, testRate, 0.5)))
	writeWAV(t, filepath.Join(root, "noise", "n1.wav"), dsp.Mono(testutil.Noise(9, 8000, 0.2)))
	writeWAV(t, filepath.Join(root, "rirs", "r1.wav"), dsp.Signal{
		testutil.DecayingRIR(1, 128, 5),
		testutil.DecayingRIR(2, 128, 5),
	})
	defs := "speech,noise,speech_RIR,noise_RIR,SNR,noise_start,noise_end\n" +
		"s1,n1,r1,r1,5,0,4000\n" +
		"ghost,n1,r1,r1,5,0,4000\n"
	if err := os.WriteFile(filepath.Join(root, "defs.csv"), []byte(defs), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func simulateArgs(root string, extra ...string) []string {
	args := []string{
		"simulate",
		"-s", filepath.Join(root, "speech"),
		"-n", filepath.Join(root, "noise"),
		"-r", filepath.Join(root, "rirs"),
		"-c", filepath.Join(root, "defs.csv"),
		"-o", filepath.Join(root, "out"),
		"--log", filepath.Join(root, "rirmix.log"),
	}
	return append(args, extra...)
}

func TestSimulateCommand(t *testing.T) {
	root := corpus(t)

	out, err := execute(t, simulateArgs(root)...)
	if err != nil {
		t.Fatalf("simulate failed: %v\n%s", err, out)
	}
	for _, want := range []string{"Simulation finished", "2 of 2 processed", "1 (6 files)", "1 examples with missing inputs", "ghost"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	for _, name := range []string{"s1_0_speech.wav", "s1_1_noise.wav", "mix/s1_0.wav", "mix/s1_1.wav"} {
		path := filepath.Join(root, "out", filepath.FromSlash(name))
		clip, err := audiofile.Load(path, audiofile.LoadOptions{})
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if clip.SampleRate != testRate || clip.Signal.Len() != 3200 {
			t.Errorf("%s: %d Hz, %d samples", name, clip.SampleRate, clip.Signal.Len())
		}
	}
	if _, err := os.Stat(filepath.Join(root, "out", "ghost_0_speech.wav")); !os.IsNotExist(err) {
		t.Errorf("missing row produced output: %v", err)
	}

	log, err := os.ReadFile(filepath.Join(root, "rirmix.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "ghost") {
		t.Errorf("log does not mention the missing row:\n%s", log)
	}
}

func TestSimulateCommandResume(t *testing.T) {
	root := corpus(t)

	if out, err := execute(t, simulateArgs(root, "--resume", "--no-mix")...); err != nil {
		t.Fatalf("first run failed: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(root, "out", ".rirmix-journal")); err != nil {
		t.Fatalf("journal not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "mix")); !os.IsNotExist(err) {
		t.Errorf("--no-mix wrote mixtures: %v", err)
	}

	out, err := execute(t, simulateArgs(root, "--resume", "--no-mix")...)
	if err != nil {
		t.Fatalf("second run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 already simulated") {
		t.Errorf("second run did not resume:\n%s", out)
	}
}

func TestSimulateCommandConfigFile(t *testing.T) {
	root := corpus(t)
	yml := "speech_dir: " + filepath.Join(root, "speech") + "\n" +
		"noise_dir: " + filepath.Join(root, "noise") + "\n" +
		"rir_dir: " + filepath.Join(root, "rirs") + "\n" +
		"catalog: " + filepath.Join(root, "defs.csv") + "\n" +
		"out_dir: " + filepath.Join(root, "from-config") + "\n" +
		"out_format: float32\n" +
		"save_separate: false\n"
	cfgPath := filepath.Join(root, "rirmix.yaml")
	if err := os.WriteFile(cfgPath, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "simulate", "--config", cfgPath, "-o", filepath.Join(root, "from-flag"), "--log", filepath.Join(root, "log"))
	if err != nil {
		t.Fatalf("simulate failed: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(root, "from-flag", "mix", "s1_0.wav")); err != nil {
		t.Errorf("flag did not override out_dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "from-flag", "s1_0_speech.wav")); !os.IsNotExist(err) {
		t.Errorf("save_separate: false ignored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "from-config")); !os.IsNotExist(err) {
		t.Errorf("config out_dir used despite the flag: %v", err)
	}
}

func TestSimulateCommandRejects(t *testing.T) {
	root := corpus(t)

	tests := []struct {
		name string
		args []string
		want error
		msg  string
	}{
		{name: "nothing to save", args: simulateArgs(root, "--no-mix", "--no-separate"), want: simulate.ErrNothingToSave},
		{name: "bad format", args: simulateArgs(root, "--out-format", "int8"), want: audiofile.ErrUnsupportedFormat},
		{name: "bad workers", args: simulateArgs(root, "-j", "0"), want: simulate.ErrInvalidConfig},
		{name: "no catalog", args: []string{"simulate", "-s", "a", "-n", "b", "-r", "c", "-o", "d"}, msg: "catalog is required"},
		{name: "no output", args: []string{"simulate", "-s", "a", "-n", "b", "-r", "c", "-c", "d"}, msg: "output directory"},
		{name: "stray argument", args: append(simulateArgs(root), "extra"), msg: "unknown command"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			if tc.msg != "" && !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("err = %v, want it to mention %q", err, tc.msg)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(root, "out")); !os.IsNotExist(err) {
		t.Errorf("rejected runs created output: %v", err)
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUnzipCommand(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "corpus.zip")
	writeZip(t, archive, map[string]string{
		"corpus/speech/s1.txt": "speech",
		"corpus/defs.csv":      "speech,noise\n",
		"corpus/empty/":        "",
	})

	dest := filepath.Join(dir, "data")
	out, err := execute(t, "unzip", archive, "-d", dest)
	if err != nil {
		t.Fatalf("unzip failed: %v", err)
	}
	if !strings.Contains(out, "Extracted 2 files") {
		t.Errorf("output = %q", out)
	}
	got, err := os.ReadFile(filepath.Join(dest, "corpus", "speech", "s1.txt"))
	if err != nil || string(got) != "speech" {
		t.Errorf("s1.txt = %q, %v", got, err)
	}
	if info, err := os.Stat(filepath.Join(dest, "corpus", "empty")); err != nil || !info.IsDir() {
		t.Errorf("directory entry not created: %v", err)
	}
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{"../escape.txt": "x"})

	_, err := extractZip(archive, filepath.Join(dir, "out"))
	if !errors.Is(err, errUnsafePath) {
		t.Fatalf("err = %v, want errUnsafePath", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("entry escaped the output directory")
	}
}

func TestUnzipMissingArchive(t *testing.T) {
	_, err := execute(t, "unzip", filepath.Join(t.TempDir(), "absent.zip"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("err = %v", err)
	}
}

func TestRenderReport(t *testing.T) {
	cfg := simulate.DefaultConfig()
	cfg.S3.Bucket = "corpus"
	cfg.S3.Prefix = "train/"

	r := &simulate.Report{
		RunID:     "run-1",
		Total:     15,
		Done:      2,
		Missing:   12,
		Failed:    1,
		Artifacts: 12,
		Elapsed:   1500 * time.Millisecond,
	}
	for i := 0; i < 12; i++ {
		r.Failures = append(r.Failures, simulate.RowResult{
			Row:     catalog.Row{Index: i + 1, Speech: "s", Noise: "n"},
			Status:  simulate.StatusMissing,
			Missing: []string{"speech/s.wav"},
		})
	}
	r.Failures = append(r.Failures, simulate.RowResult{
		Row:    catalog.Row{Index: 13, Speech: "x", Noise: "n"},
		Status: simulate.StatusFailed,
		Err:    dsp.ErrDegenerateSignal,
	})

	out := renderReport(r, cfg)
	for _, want := range []string{"run-1", "s3://corpus/train", "15 of 15 processed", "2 (12 files)", "12 examples with missing inputs", "1.5s", "and 3 more"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "resumed") {
		t.Errorf("report lists resumed rows without any:\n%s", out)
	}
}
