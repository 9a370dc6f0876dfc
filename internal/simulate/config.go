// Package simulate turns catalog rows into reverberant, noise-mixed
// training examples: it resolves and loads a row's inputs, convolves speech
// and noise with their room impulse responses, mixes them at the row's SNR
// and stores the results.
package simulate

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"rirmix/pkg/audiofile"
)

// ErrNothingToSave is returned when both mixture and separate outputs are
// disabled.
var ErrNothingToSave = errors.New("simulate: nothing to save: both mixture and separate outputs are disabled")

// ErrInvalidConfig wraps other configuration problems.
var ErrInvalidConfig = errors.New("simulate: invalid config")

// Config controls a simulation run.
type Config struct {
	SpeechDir string `yaml:"speech_dir"`
	NoiseDir  string `yaml:"noise_dir"`
	RIRDir    string `yaml:"rir_dir"`
	// RIRLibrary resolves RIR ids to entries of an .irlib file instead of
	// files in RIRDir.
	RIRLibrary string `yaml:"rir_library"`
	Catalog    string `yaml:"catalog"`
	OutDir     string `yaml:"out_dir"`

	SampleRate int    `yaml:"sample_rate"`
	SpeechExt  string `yaml:"speech_ext"`
	NoiseExt   string `yaml:"noise_ext"`
	RIRExt     string `yaml:"rir_ext"`
	OutFormat  string `yaml:"out_format"`

	SaveMix      bool `yaml:"save_mix"`
	SaveSeparate bool `yaml:"save_separate"`

	Workers int    `yaml:"workers"`
	Resume  bool   `yaml:"resume"`
	Journal string `yaml:"journal"`

	S3 S3Config `yaml:"s3"`
}

// S3Config selects an object store for the outputs. An empty Bucket
// writes to OutDir on local disk.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns the defaults for every option.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		SpeechExt:    "wav",
		NoiseExt:     "wav",
		RIRExt:       "wav",
		OutFormat:    audiofile.Int16.String(),
		SaveMix:      true,
		SaveSeparate: true,
		Workers:      1,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks option values. It does not touch the filesystem.
func (c *Config) Validate() error {
	if !c.SaveMix && !c.SaveSeparate {
		return ErrNothingToSave
	}
	if _, err := audiofile.ParseSampleFormat(c.OutFormat); err != nil {
		return err
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	}
	if c.SpeechDir == "" || c.NoiseDir == "" {
		return fmt.Errorf("%w: speech and noise directories are required", ErrInvalidConfig)
	}
	if c.RIRDir == "" && c.RIRLibrary == "" {
		return fmt.Errorf("%w: an RIR directory or library is required", ErrInvalidConfig)
	}
	for _, ext := range []*string{&c.SpeechExt, &c.NoiseExt, &c.RIRExt} {
		*ext = strings.TrimPrefix(*ext, ".")
		if *ext == "" {
			return fmt.Errorf("%w: empty file extension", ErrInvalidConfig)
		}
	}
	return nil
}

// Format returns the parsed output sample format.
func (c *Config) Format() audiofile.SampleFormat {
	f, err := audiofile.ParseSampleFormat(c.OutFormat)
	if err != nil {
		return audiofile.Int16
	}
	return f
}
