package simulate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"rirmix/dsp"
	"rirmix/pkg/audiofile"
	"rirmix/pkg/catalog"
	"rirmix/pkg/resampler"
	"rirmix/pkg/rirlib"
)

// Sources are the decoded inputs of one row, all at the target rate.
type Sources struct {
	Speech    dsp.Signal // mono
	Noise     dsp.Signal // mono, cut to the row's noise window
	SpeechRIR dsp.Signal
	NoiseRIR  dsp.Signal
}

// RowPaths names the four inputs of a row. RIR paths are library entry
// names when a library is in use.
type RowPaths struct {
	Speech    string
	Noise     string
	SpeechRIR string
	NoiseRIR  string
}

// Resolver maps catalog ids to inputs and loads them.
type Resolver struct {
	cfg *Config
	lib *rirlib.Reader
	rs  *resampler.Resampler
}

// NewResolver creates a resolver. lib may be nil, in which case RIRs are
// read from cfg.RIRDir.
func NewResolver(cfg *Config, lib *rirlib.Reader) *Resolver {
	return &Resolver{cfg: cfg, lib: lib, rs: resampler.New()}
}

// Paths returns where the row's inputs live: dir/id.ext for files.
func (r *Resolver) Paths(row catalog.Row) RowPaths {
	p := RowPaths{
		Speech: filepath.Join(r.cfg.SpeechDir, row.Speech+"."+r.cfg.SpeechExt),
		Noise:  filepath.Join(r.cfg.NoiseDir, row.Noise+"."+r.cfg.NoiseExt),
	}
	if r.lib != nil {
		p.SpeechRIR, p.NoiseRIR = row.SpeechRIR, row.NoiseRIR
	} else {
		p.SpeechRIR = filepath.Join(r.cfg.RIRDir, row.SpeechRIR+"."+r.cfg.RIRExt)
		p.NoiseRIR = filepath.Join(r.cfg.RIRDir, row.NoiseRIR+"."+r.cfg.RIRExt)
	}
	return p
}

// Missing lists the row's inputs that cannot be located, in the order
// speech, noise, speech RIR, noise RIR.
func (r *Resolver) Missing(row catalog.Row) ([]string, error) {
	p := r.Paths(row)

	var missing []string
	for _, path := range []string{p.Speech, p.Noise} {
		ok, err := fileExists(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, path)
		}
	}
	for _, id := range []string{p.SpeechRIR, p.NoiseRIR} {
		var ok bool
		if r.lib != nil {
			_, ok = r.lib.Lookup(id)
		} else {
			var err error
			if ok, err = fileExists(id); err != nil {
				return nil, err
			}
		}
		if !ok {
			if r.lib != nil {
				id = r.cfg.RIRLibrary + "#" + id
			}
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Load decodes the row's inputs. Speech is loaded mono; noise is loaded
// mono from its window, which is measured at the native rate before
// resampling; RIRs keep all channels.
func (r *Resolver) Load(row catalog.Row) (*Sources, error) {
	p := r.Paths(row)
	rate := r.cfg.SampleRate

	speech, err := audiofile.Load(p.Speech, audiofile.LoadOptions{SampleRate: rate, Mono: true})
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}

	offset, duration := row.NoiseWindow(rate)
	noise, err := audiofile.Load(p.Noise, audiofile.LoadOptions{
		SampleRate: rate,
		Offset:     offset,
		Duration:   duration,
		Mono:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("noise: %w", err)
	}

	speechRIR, err := r.loadRIR(p.SpeechRIR)
	if err != nil {
		return nil, fmt.Errorf("speech RIR: %w", err)
	}
	noiseRIR, err := r.loadRIR(p.NoiseRIR)
	if err != nil {
		return nil, fmt.Errorf("noise RIR: %w", err)
	}

	return &Sources{
		Speech:    speech.Signal,
		Noise:     noise.Signal,
		SpeechRIR: speechRIR,
		NoiseRIR:  noiseRIR,
	}, nil
}

func (r *Resolver) loadRIR(id string) (dsp.Signal, error) {
	rate := r.cfg.SampleRate
	if r.lib == nil {
		clip, err := audiofile.Load(id, audiofile.LoadOptions{SampleRate: rate})
		if err != nil {
			return nil, err
		}
		return clip.Signal, nil
	}

	rir, err := r.lib.LoadByName(id)
	if err != nil {
		return nil, err
	}
	if rir.SampleRate == float64(rate) {
		return dsp.Signal(rir.Data), nil
	}
	data, err := r.rs.Resample(rir.Data, rir.SampleRate, float64(rate))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return dsp.Signal(data), nil
}
