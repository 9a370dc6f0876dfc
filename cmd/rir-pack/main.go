// Command rir-pack packs a directory of WAV or AIFF room impulse responses
// into an RIR library (.irlib) that rirmix can read with --rir-library.
//
// Usage:
//
//	rir-pack [options] <input-directory> <output-file>
//	rir-pack list <library>
//
// Each RIR is stored under its file name without extension, which is the
// id catalogs refer to in the speech_RIR and noise_RIR columns.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rirmix/internal/storage"
	"rirmix/pkg/audiofile"
	"rirmix/pkg/rirlib"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type packOptions struct {
	recursive  bool
	room       string
	normalize  bool
	sampleRate int
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var opts packOptions

	cmd := &cobra.Command{
		Use:   "rir-pack [options] <input-directory> <output-file>",
		Short: "Pack WAV/AIFF room impulse responses into an .irlib library",
		Example: "  rir-pack ./rirs ./rirs.irlib\n" +
			"  rir-pack --recursive --fs 16000 --normalize ./measured ./measured.irlib",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pack(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], args[1], opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.recursive, "recursive", "r", false, "Scan the input directory recursively")
	cmd.Flags().StringVar(&opts.room, "room", "", "Room label for all RIRs (default: first directory level)")
	cmd.Flags().BoolVar(&opts.normalize, "normalize", false, "Normalize each RIR to a -1 dBFS peak")
	cmd.Flags().IntVar(&opts.sampleRate, "fs", 0, "Resample RIRs to this rate before packing (default: keep)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show progress and details")

	cmd.AddCommand(newListCmd())
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <library>",
		Short: "List the RIRs in a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return list(cmd.OutOrStdout(), args[0])
		},
	}
}

func pack(ctx context.Context, stdout, stderr io.Writer, inputDir, outputFile string, opts packOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.sampleRate < 0 {
		return fmt.Errorf("invalid sample rate %d", opts.sampleRate)
	}

	files, err := findAudioFiles(inputDir, opts.recursive)
	if err != nil {
		return fmt.Errorf("failed to scan directory: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no .wav or .aif files found in %s", inputDir)
	}
	if opts.verbose {
		fmt.Fprintf(stdout, "Found %d audio files\n", len(files))
	}

	var (
		rirs []*rirlib.RIR
		seen = make(map[string]string)
	)
	for i, path := range files {
		if opts.verbose {
			fmt.Fprintf(stdout, "[%d/%d] %s\n", i+1, len(files), filepath.Base(path))
		}

		rir, err := convertFile(path, inputDir, opts)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: skipping %s: %v\n", path, err)
			continue
		}
		if prev, ok := seen[rir.Name]; ok {
			fmt.Fprintf(stderr, "Warning: skipping %s: name %q already taken by %s\n", path, rir.Name, prev)
			continue
		}
		seen[rir.Name] = path
		rirs = append(rirs, rir)

		if opts.verbose {
			fmt.Fprintf(stdout, "    %s: %d ch, %.0f Hz, %d samples (%.2fs)\n",
				rir.Name, rir.Channels(), rir.SampleRate, rir.Length(), rir.Duration())
		}
	}
	if len(rirs) == 0 {
		return errors.New("no files were successfully converted")
	}

	store, err := storage.NewLocal(filepath.Dir(outputFile))
	if err != nil {
		return err
	}
	w, err := store.Write(ctx, filepath.Base(outputFile))
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := rirlib.WriteLibrary(w, rirs); err != nil {
		w.Close()
		return fmt.Errorf("failed to write library: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write library: %w", err)
	}

	fmt.Fprintf(stdout, "Created %s with %d RIRs\n", outputFile, len(rirs))
	return nil
}

func findAudioFiles(dir string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".wav", ".aif", ".aiff":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func convertFile(path, baseDir string, opts packOptions) (*rirlib.RIR, error) {
	clip, err := audiofile.Load(path, audiofile.LoadOptions{SampleRate: opts.sampleRate})
	if err != nil {
		return nil, err
	}
	if clip.Signal.Len() == 0 {
		return nil, errors.New("no audio samples")
	}

	data := [][]float64(clip.Signal)
	if opts.normalize {
		data = normalizePeak(data)
	}

	name := inferName(path)
	room := opts.room
	if room == "" {
		room = inferRoom(path, baseDir)
	}

	return &rirlib.RIR{
		Metadata: rirlib.Metadata{
			Name:       name,
			Room:       room,
			Tags:       inferTags(name),
			SampleRate: float64(clip.SampleRate),
		},
		Data: data,
	}, nil
}

// inferName returns the RIR id for a file: its base name without extension.
func inferName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// inferRoom uses the first directory level below baseDir as the room label.
func inferRoom(path, baseDir string) string {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return ""
	}
	dir := filepath.Dir(rel)
	if dir == "." || dir == "" {
		return ""
	}
	return strings.Split(dir, string(filepath.Separator))[0]
}

var tagKeywords = []string{
	"hall", "room", "office", "meeting", "lecture", "classroom", "stairway",
	"corridor", "kitchen", "bathroom", "car", "church", "booth", "studio",
	"small", "medium", "large", "near", "far", "simulated", "measured",
}

// inferTags picks known acoustic keywords out of the name.
func inferTags(name string) []string {
	lower := strings.ToLower(name)
	var tags []string
	for _, kw := range tagKeywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, kw)
		}
	}
	return tags
}

// normalizePeak scales all channels so the loudest sample sits at -1 dBFS.
func normalizePeak(data [][]float64) [][]float64 {
	var peak float64
	for _, ch := range data {
		for _, v := range ch {
			peak = math.Max(peak, math.Abs(v))
		}
	}
	if peak == 0 {
		return data
	}

	gain := math.Pow(10, -1.0/20.0) / peak
	out := make([][]float64, len(data))
	for c, ch := range data {
		out[c] = make([]float64, len(ch))
		for i, v := range ch {
			out[c][i] = v * gain
		}
	}
	return out
}

func list(w io.Writer, path string) error {
	lib, err := rirlib.Open(path)
	if err != nil {
		return err
	}
	defer lib.Close()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROOM\tCH\tRATE\tSECONDS")
	for _, e := range lib.Entries() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f\t%.3f\n", e.Name, e.Room, e.Channels, e.SampleRate, e.Duration())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d RIRs, format version %d\n", lib.Len(), lib.Version())
	return nil
}
