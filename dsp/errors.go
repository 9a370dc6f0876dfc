package dsp

import "errors"

// Errors returned by the convolution engine and the SNR mixer.
var (
	ErrEmptySignal      = errors.New("dsp: empty signal")
	ErrEmptyKernel      = errors.New("dsp: empty impulse response")
	ErrRaggedSignal     = errors.New("dsp: channels differ in length")
	ErrChannelMismatch  = errors.New("dsp: incompatible channel counts")
	ErrLengthMismatch   = errors.New("dsp: buffer length mismatch")
	ErrInvalidSNR       = errors.New("dsp: SNR must be finite")
	ErrDegenerateSignal = errors.New("dsp: degenerate signal")
)
