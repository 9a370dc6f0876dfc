package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"rirmix/dsp"
	"rirmix/internal/journal"
	"rirmix/internal/storage"
	"rirmix/pkg/audiofile"
	"rirmix/pkg/catalog"
	"rirmix/pkg/rirlib"
)

// Status is the outcome of one row.
type Status int

// Row outcomes.
const (
	StatusDone Status = iota
	StatusMissing
	StatusFailed
	StatusSkipped // already journaled by an earlier run
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusMissing:
		return "missing"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// RowResult describes how a row went.
type RowResult struct {
	Row       catalog.Row
	Status    Status
	Missing   []string // inputs that could not be located
	Artifacts []journal.Artifact
	Err       error
	Elapsed   time.Duration
}

// Report summarises a run.
type Report struct {
	RunID     string
	Total     int
	Done      int
	Missing   int
	Failed    int
	Skipped   int
	Artifacts int
	Failures  []RowResult // missing and failed rows, in catalog order
	Elapsed   time.Duration
}

// Processed returns the number of rows that reached an outcome.
func (r *Report) Processed() int {
	return r.Done + r.Missing + r.Failed + r.Skipped
}

func (r *Report) add(res RowResult) {
	switch res.Status {
	case StatusDone:
		r.Done++
		r.Artifacts += len(res.Artifacts)
	case StatusMissing:
		r.Missing++
		r.Failures = append(r.Failures, res)
	case StatusFailed:
		r.Failed++
		r.Failures = append(r.Failures, res)
	case StatusSkipped:
		r.Skipped++
	}
}

// Observer receives progress events. Calls are serialized.
type Observer interface {
	RunStarted(runID string, total int)
	RowStarted(row catalog.Row)
	RowFinished(res RowResult)
	RunFinished(report *Report)
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithJournal records finished rows and, when the config enables resume,
// skips rows recorded earlier.
func WithJournal(j *journal.Journal) Option {
	return func(s *Simulator) { s.journal = j }
}

// WithLibrary resolves RIR ids against an .irlib library.
func WithLibrary(lib *rirlib.Reader) Option {
	return func(s *Simulator) { s.lib = lib }
}

// WithObserver adds a progress observer.
func WithObserver(o Observer) Option {
	return func(s *Simulator) { s.observers = append(s.observers, o) }
}

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// WithConvolver replaces the default AutoConvolver.
func WithConvolver(c dsp.Convolver) Option {
	return func(s *Simulator) { s.conv = c }
}

// Simulator runs catalog rows through the synthesis pipeline.
type Simulator struct {
	cfg       Config
	format    audiofile.SampleFormat
	store     storage.FileStore
	resolver  *Resolver
	lib       *rirlib.Reader
	journal   *journal.Journal
	conv      dsp.Convolver
	log       *slog.Logger
	runID     string
	observers []Observer
	obsMu     sync.Mutex
}

// New validates cfg and builds a Simulator that writes to store.
func New(cfg Config, store storage.FileStore, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("simulate: nil store")
	}

	s := &Simulator{
		cfg:    cfg,
		format: cfg.Format(),
		store:  store,
		runID:  uuid.NewString(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.conv == nil {
		s.conv = dsp.NewAutoConvolver()
	}
	if s.cfg.Resume && s.journal == nil {
		return nil, fmt.Errorf("%w: resume needs a journal", ErrInvalidConfig)
	}
	s.log = s.log.With("run_id", s.runID)
	s.resolver = NewResolver(&s.cfg, s.lib)
	return s, nil
}

// RunID identifies this run in logs and journal entries.
func (s *Simulator) RunID() string { return s.runID }

// Run processes rows with a bounded pool of workers. Missing inputs and
// per-row failures are counted in the report and do not stop the batch.
// Cancelling ctx stops dispatching new rows; rows already started finish,
// and the partial report is returned with ctx's error.
func (s *Simulator) Run(ctx context.Context, rows []catalog.Row) (*Report, error) {
	start := time.Now()
	s.notify(func(o Observer) { o.RunStarted(s.runID, len(rows)) })
	s.log.Info("Simulation started", "rows", len(rows), "workers", s.cfg.Workers,
		"sample_rate", s.cfg.SampleRate, "format", s.format)

	results := make([]*RowResult, len(rows))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range min(s.cfg.Workers, max(len(rows), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := s.processRow(ctx, rows[i])
				results[i] = &res
			}
		}()
	}

dispatch:
	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	report := &Report{RunID: s.runID, Total: len(rows)}
	for _, res := range results {
		if res != nil {
			report.add(*res)
		}
	}
	report.Elapsed = time.Since(start)

	s.log.Info("Simulation finished", "done", report.Done, "missing", report.Missing,
		"failed", report.Failed, "skipped", report.Skipped, "artifacts", report.Artifacts,
		"elapsed", report.Elapsed)
	if report.Missing > 0 {
		s.log.Warn("Missing examples detected", "count", report.Missing)
	}
	s.notify(func(o Observer) { o.RunFinished(report) })

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Simulator) notify(fn func(Observer)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for _, o := range s.observers {
		fn(o)
	}
}

func (s *Simulator) processRow(ctx context.Context, row catalog.Row) RowResult {
	start := time.Now()
	s.notify(func(o Observer) { o.RowStarted(row) })

	res := s.simulateRow(ctx, row)
	res.Row = row
	res.Elapsed = time.Since(start)

	s.notify(func(o Observer) { o.RowFinished(res) })
	return res
}

func (s *Simulator) simulateRow(ctx context.Context, row catalog.Row) RowResult {
	log := s.log.With("row", row.Index, "line", row.Line, "speech", row.Speech)
	if row.Err != nil {
		log.Error("Malformed catalog row, skipping", "error", row.Err)
		return RowResult{Status: StatusFailed, Err: row.Err}
	}
	key := s.Fingerprint(row)

	if s.cfg.Resume {
		done, err := s.journal.Done(key)
		if err != nil {
			return RowResult{Status: StatusFailed, Err: err}
		}
		if done {
			log.Debug("Already simulated, skipping")
			return RowResult{Status: StatusSkipped}
		}
	}

	missing, err := s.resolver.Missing(row)
	if err != nil {
		return RowResult{Status: StatusFailed, Err: err}
	}
	if len(missing) > 0 {
		log.Warn("Missing files detected, skipping example", "noise", row.Noise, "missing", missing)
		return RowResult{Status: StatusMissing, Missing: missing}
	}

	log.Info("Simulating", "noise", row.Noise, "snr", row.SNR)

	src, err := s.resolver.Load(row)
	if err != nil {
		log.Error("Failed to load inputs", "error", err)
		return RowResult{Status: StatusFailed, Err: err}
	}

	mixes, err := Synthesize(src, row.SNR, s.conv)
	if err != nil {
		log.Error("Failed to synthesize", "error", err)
		return RowResult{Status: StatusFailed, Err: err}
	}

	artifacts, err := s.save(ctx, row, mixes)
	if err != nil {
		log.Error("Failed to save outputs", "error", err)
		return RowResult{Status: StatusFailed, Err: err, Artifacts: artifacts}
	}

	if s.journal != nil {
		err := s.journal.Record(&journal.Entry{
			Key:       key,
			RunID:     s.runID,
			Row:       row.Index,
			Speech:    row.Speech,
			Noise:     row.Noise,
			Artifacts: artifacts,
		})
		if err != nil {
			log.Error("Failed to journal row", "error", err)
			return RowResult{Status: StatusFailed, Err: err, Artifacts: artifacts}
		}
	}

	return RowResult{Status: StatusDone, Artifacts: artifacts}
}

// ArtifactNames returns the output paths for channel ch of a row whose
// speech id is speech.
func ArtifactNames(speech string, ch int) (speechPath, noisePath, mixPath string) {
	return fmt.Sprintf("%s_%d_speech.wav", speech, ch),
		fmt.Sprintf("%s_%d_noise.wav", speech, ch),
		fmt.Sprintf("mix/%s_%d.wav", speech, ch)
}

// save writes the row's outputs. Files written before an error stay in the
// store; the row is not journaled, so a later run overwrites them.
func (s *Simulator) save(ctx context.Context, row catalog.Row, mixes []*dsp.Mix) ([]journal.Artifact, error) {
	var artifacts []journal.Artifact
	write := func(path string, data []float64) error {
		wav, err := audiofile.EncodeBytes(s.cfg.SampleRate, dsp.Mono(data), s.format)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := storage.WriteFile(ctx, s.store, path, wav); err != nil {
			return err
		}
		artifacts = append(artifacts, journal.Artifact{Path: path, Hash: journal.Hash(wav), Size: len(wav)})
		return nil
	}

	for ch, m := range mixes {
		speechPath, noisePath, mixPath := ArtifactNames(row.Speech, ch)
		if s.cfg.SaveSeparate {
			if err := write(speechPath, m.Speech); err != nil {
				return artifacts, err
			}
			if err := write(noisePath, m.Noise); err != nil {
				return artifacts, err
			}
		}
		if s.cfg.SaveMix {
			if err := write(mixPath, m.Mixture); err != nil {
				return artifacts, err
			}
		}
	}
	return artifacts, nil
}

// Fingerprint is the journal key of a row: a hash of the row and every
// option that shapes its outputs.
func (s *Simulator) Fingerprint(row catalog.Row) string {
	c := &s.cfg
	return journal.Fingerprint(
		row.Speech, row.Noise, row.SpeechRIR, row.NoiseRIR,
		strconv.FormatFloat(row.SNR, 'g', -1, 64),
		strconv.FormatInt(row.NoiseStart, 10), strconv.FormatInt(row.NoiseEnd, 10),
		strconv.Itoa(c.SampleRate), c.SpeechExt, c.NoiseExt, c.RIRExt, c.RIRLibrary,
		s.format.String(),
		strconv.FormatBool(c.SaveMix), strconv.FormatBool(c.SaveSeparate),
	)
}
