// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package dsp

import (
	"math"
	"math/cmplx"
)

// Goertzel evaluates the DFT of x at a single frequency and returns the
// complex result. Cheaper than an FFT when only a handful of bins are
// needed, which is all the discrimination methods ever ask for.
func Goertzel(x []float64, freqHz, sampleRate float64) complex128 {
	if len(x) == 0 {
		return 0
	}
	w := 2 * math.Pi * freqHz / sampleRate
	coeff := 2 * math.Cos(w)

	var s0, s1, s2 float64
	for _, v := range x {
		s0 = v + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	re := s1 - s2*math.Cos(w)
	im := s2 * math.Sin(w)
	return complex(re, im)
}

// GoertzelPower is the normalized power of x at freqHz.
func GoertzelPower(x []float64, freqHz, sampleRate float64) float64 {
	if len(x) == 0 {
		return 0
	}
	g := Goertzel(x, freqHz, sampleRate)
	mag := cmplx.Abs(g) / float64(len(x))
	return mag * mag
}

// GoertzelPhase is the phase of x at freqHz, in radians.
func GoertzelPhase(x []float64, freqHz, sampleRate float64) float64 {
	return cmplx.Phase(Goertzel(x, freqHz, sampleRate))
}

// PowerDB converts a linear power ratio to dB with a floor to keep the
// result finite on silent windows.
func PowerDB(p float64) float64 {
	if p < 1e-30 {
		p = 1e-30
	}
	return 10 * math.Log10(p)
}
