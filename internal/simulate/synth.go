package simulate

import (
	"fmt"

	"rirmix/dsp"
)

// Synthesize reverberates and mixes one row's sources.
//
// The noise is tiled end to end and truncated to the speech length before
// reverberation. Speech and noise are convolved with their RIRs and the
// reverberant channels are paired by index; one Mix is produced per pair,
// so the result has min(speech RIR channels, noise RIR channels) entries.
func Synthesize(src *Sources, snrDB float64, conv dsp.Convolver) ([]*dsp.Mix, error) {
	if src.Speech.Channels() != 1 || src.Noise.Channels() != 1 {
		return nil, fmt.Errorf("synthesize: speech and noise must be mono, got %d and %d channels",
			src.Speech.Channels(), src.Noise.Channels())
	}

	speech := src.Speech[0]
	if len(speech) == 0 {
		return nil, fmt.Errorf("synthesize: speech: %w", dsp.ErrEmptySignal)
	}
	noise, err := dsp.Tile(src.Noise[0], len(speech))
	if err != nil {
		return nil, fmt.Errorf("synthesize: noise: %w", err)
	}

	revSpeech, err := dsp.ConvolveRIR(src.Speech, src.SpeechRIR, conv)
	if err != nil {
		return nil, fmt.Errorf("synthesize: speech: %w", err)
	}
	revNoise, err := dsp.ConvolveRIR(dsp.Mono(noise), src.NoiseRIR, conv)
	if err != nil {
		return nil, fmt.Errorf("synthesize: noise: %w", err)
	}

	n := min(revSpeech.Channels(), revNoise.Channels())
	mixes := make([]*dsp.Mix, n)
	for ch := range n {
		m, err := dsp.MixAtSNR(revSpeech[ch], revNoise[ch], snrDB)
		if err != nil {
			return nil, fmt.Errorf("synthesize: channel %d: %w", ch, err)
		}
		mixes[ch] = m
	}
	return mixes, nil
}
