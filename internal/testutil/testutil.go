// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"
)

// RequireSliceNearlyEqual fails t if got and want differ in length or if
// any element pair differs by more than eps.
func RequireSliceNearlyEqual(t *testing.T, got, want []float64, eps float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if diff := math.Abs(got[i] - want[i]); diff > eps {
			t.Fatalf("index %d: got %v, want %v (diff %v > eps %v)", i, got[i], want[i], diff, eps)
		}
	}
}

// RequireFinite fails t if any element is NaN or Inf.
func RequireFinite(t *testing.T, data []float64) {
	t.Helper()
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("index %d: non-finite value %v", i, v)
		}
	}
}

// Noise returns n deterministic uniform samples in [-amp, amp].
func Noise(seed uint64, n int, amp float64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amp
	}
	return out
}

// Sine returns n samples of a sine wave at freq Hz.
func Sine(n int, freq, sampleRate, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return out
}

// DecayingRIR returns a synthetic room impulse response: a unit direct
// path followed by exponentially decaying noise.
func DecayingRIR(seed uint64, n int, decay float64) []float64 {
	ir := Noise(seed, n, 0.5)
	ir[0] = 1
	for i := 1; i < n; i++ {
		ir[i] *= math.Exp(-decay * float64(i) / float64(n))
	}
	return ir
}
