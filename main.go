// Command rirmix synthesizes reverberant, noise-mixed speech for training
// speech-processing models.
//
// Usage:
//
//	rirmix simulate -s speech/ -n noise/ -r rirs/ -c defs.csv -o out/
//	rirmix unzip corpus.zip -d data/
//
// Every catalog row names a speech clip, a noise clip with a sample window,
// an RIR for each, and a target SNR. Each RIR channel yields one example:
// <speech>_<ch>_speech.wav, <speech>_<ch>_noise.wav and mix/<speech>_<ch>.wav.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rirmix/internal/journal"
	"rirmix/internal/simulate"
	"rirmix/internal/storage"
	"rirmix/pkg/catalog"
	"rirmix/pkg/rirlib"
	"rirmix/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rirmix",
		Short:         "Synthesize reverberant noisy speech for training data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSimulateCmd(), newUnzipCmd())
	return root
}

type simulateFlags struct {
	config     string
	speechDir  string
	noiseDir   string
	rirDir     string
	rirLibrary string
	catalog    string
	outDir     string
	fs         int
	speechExt  string
	noiseExt   string
	rirExt     string
	outFormat  string
	noMix      bool
	noSeparate bool
	workers    int
	resume     bool
	journal    string
	s3Bucket   string
	s3Prefix   string
	s3Region   string
	s3Endpoint string
	logFile    string
	tui        bool
	webPort    int
}

func newSimulateCmd() *cobra.Command {
	var f simulateFlags
	defaults := simulate.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Convolve, mix and write every row of a catalog",
		Long: `Simulate reads a CSV catalog with the columns speech, noise, speech_RIR,
noise_RIR, SNR, noise_start and noise_end. For each row it convolves the
speech and noise with their room impulse responses, scales the noise to
the target SNR and writes the separate and mixed signals.

Rows whose input files are missing are skipped and counted. Options can
also come from a YAML file (--config); explicit flags override it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			return runSimulate(cmd, cfg, &f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "YAML file with simulation options")
	fl.StringVarP(&f.speechDir, "speech-dir", "s", "", "Directory containing speech data")
	fl.StringVarP(&f.noiseDir, "noise-dir", "n", "", "Directory containing noise data")
	fl.StringVarP(&f.rirDir, "rir-dir", "r", "", "Directory containing room impulse responses")
	fl.StringVar(&f.rirLibrary, "rir-library", "", "Resolve RIR ids in this .irlib library instead of --rir-dir")
	fl.StringVarP(&f.catalog, "csv", "c", "", "CSV catalog defining the simulated files")
	fl.StringVarP(&f.outDir, "out-dir", "o", "", "Directory the simulated files are stored in")
	fl.IntVar(&f.fs, "fs", defaults.SampleRate, "Target sampling frequency")
	fl.StringVar(&f.speechExt, "speech-ext", defaults.SpeechExt, "Extension of speech audio files")
	fl.StringVar(&f.noiseExt, "noise-ext", defaults.NoiseExt, "Extension of noise audio files")
	fl.StringVar(&f.rirExt, "rir-ext", defaults.RIRExt, "Extension of RIR audio files")
	fl.StringVar(&f.outFormat, "out-format", defaults.OutFormat, "Output sample format: int16, int24, int32 or float32")
	fl.BoolVar(&f.noMix, "no-mix", false, "Do not save mixed signals")
	fl.BoolVar(&f.noSeparate, "no-separate", false, "Do not save separate speech and noise signals")
	fl.IntVarP(&f.workers, "workers", "j", defaults.Workers, "Rows processed in parallel")
	fl.BoolVar(&f.resume, "resume", false, "Skip rows finished by an earlier run")
	fl.StringVar(&f.journal, "journal", "", "Journal directory (default <out-dir>/.rirmix-journal)")
	fl.StringVar(&f.s3Bucket, "s3-bucket", "", "Write outputs to this S3 bucket instead of --out-dir")
	fl.StringVar(&f.s3Prefix, "s3-prefix", "", "Key prefix inside the S3 bucket")
	fl.StringVar(&f.s3Region, "s3-region", "", "S3 region (default $AWS_REGION)")
	fl.StringVar(&f.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL")
	fl.StringVar(&f.logFile, "log", "", "Log file (default stderr; rirmix.log with --tui)")
	fl.BoolVar(&f.tui, "tui", false, "Show an interactive progress view")
	fl.IntVar(&f.webPort, "web-port", 0, "Serve a progress dashboard on this port")
	return cmd
}

// resolve builds the run configuration: defaults, then the YAML file, then
// explicitly set flags.
func (f *simulateFlags) resolve(cmd *cobra.Command) (simulate.Config, error) {
	cfg := simulate.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = simulate.LoadConfig(f.config); err != nil {
			return cfg, err
		}
	}

	fl := cmd.Flags()
	setString := func(name string, dst *string, v string) {
		if fl.Changed(name) {
			*dst = v
		}
	}
	setString("speech-dir", &cfg.SpeechDir, f.speechDir)
	setString("noise-dir", &cfg.NoiseDir, f.noiseDir)
	setString("rir-dir", &cfg.RIRDir, f.rirDir)
	setString("rir-library", &cfg.RIRLibrary, f.rirLibrary)
	setString("csv", &cfg.Catalog, f.catalog)
	setString("out-dir", &cfg.OutDir, f.outDir)
	setString("speech-ext", &cfg.SpeechExt, f.speechExt)
	setString("noise-ext", &cfg.NoiseExt, f.noiseExt)
	setString("rir-ext", &cfg.RIRExt, f.rirExt)
	setString("out-format", &cfg.OutFormat, f.outFormat)
	setString("journal", &cfg.Journal, f.journal)
	setString("s3-bucket", &cfg.S3.Bucket, f.s3Bucket)
	setString("s3-prefix", &cfg.S3.Prefix, f.s3Prefix)
	setString("s3-region", &cfg.S3.Region, f.s3Region)
	setString("s3-endpoint", &cfg.S3.Endpoint, f.s3Endpoint)
	if fl.Changed("fs") {
		cfg.SampleRate = f.fs
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("no-mix") {
		cfg.SaveMix = !f.noMix
	}
	if fl.Changed("no-separate") {
		cfg.SaveSeparate = !f.noSeparate
	}
	if fl.Changed("resume") {
		cfg.Resume = f.resume
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.Catalog == "" {
		return cfg, errors.New("a catalog is required (--csv)")
	}
	if cfg.OutDir == "" && cfg.S3.Bucket == "" {
		return cfg, errors.New("an output directory (--out-dir) or S3 bucket (--s3-bucket) is required")
	}
	if cfg.Resume && cfg.Journal == "" {
		cfg.Journal = filepath.Join(orDefault(cfg.OutDir, "."), ".rirmix-journal")
	}
	return cfg, nil
}

func orDefault(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func runSimulate(cmd *cobra.Command, cfg simulate.Config, f *simulateFlags) error {
	logFile := f.logFile
	if f.tui && logFile == "" {
		logFile = "rirmix.log"
	}
	logger, closeLog, err := newLogger(cmd.ErrOrStderr(), logFile)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)
	slog.Info("Starting rirmix simulate", "args", os.Args)

	rows, err := catalog.ReadFile(cfg.Catalog)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	opts := []simulate.Option{simulate.WithLogger(logger)}

	if cfg.RIRLibrary != "" {
		lib, err := rirlib.Open(cfg.RIRLibrary)
		if err != nil {
			return err
		}
		defer lib.Close()
		slog.Info("RIR library loaded", "path", cfg.RIRLibrary, "entries", lib.Len())
		opts = append(opts, simulate.WithLibrary(lib.Reader))
	}

	if cfg.Journal != "" {
		j, err := journal.Open(journal.Options{Dir: cfg.Journal, Logger: logger})
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, simulate.WithJournal(j))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var webServer *web.Server
	if f.webPort > 0 {
		webServer = web.NewServer(f.webPort)
		opts = append(opts, simulate.WithObserver(webServer))
		go func() {
			if err := webServer.Start(); err != nil {
				slog.Error("Web server error", "error", err)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Progress dashboard at http://localhost:%d\n", f.webPort)
	}

	var progress *progressView
	if f.tui {
		progress = newProgressView()
		opts = append(opts, simulate.WithObserver(progress))
	}

	sim, err := simulate.New(cfg, store, opts...)
	if err != nil {
		return err
	}

	var report *simulate.Report
	if progress != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			report, err = sim.Run(ctx, rows)
		}()
		if tuiErr := progress.run(cancel, done); tuiErr != nil {
			slog.Error("TUI failed", "error", tuiErr)
			<-done
		}
	} else {
		report, err = sim.Run(ctx, rows)
	}

	if webServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Web server shutdown error", "error", err)
		}
	}

	if report != nil {
		fmt.Fprint(cmd.OutOrStdout(), renderReport(report, cfg))
	}
	return err
}

func newLogger(stderr io.Writer, path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(stderr, nil)), func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(file, nil)), func() { file.Close() }, nil
}

func openStore(cfg simulate.Config) (storage.FileStore, error) {
	if cfg.S3.Bucket != "" {
		client := storage.NewS3Client(storage.S3Config{Region: cfg.S3.Region, Endpoint: cfg.S3.Endpoint})
		slog.Info("Writing to S3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
		return storage.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	}
	return storage.NewLocal(cfg.OutDir)
}
