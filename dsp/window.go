// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package dsp

import (
	"math"
)

// Tukey returns a tapered-cosine window of length n with taper fraction
// alpha (0 = rectangular, 1 = Hann).
func Tukey(n int, alpha float64) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	taper := alpha * float64(n-1) / 2
	for i := range w {
		x := float64(i)
		switch {
		case x < taper:
			w[i] = 0.5 * (1 + math.Cos(math.Pi*(x/taper-1)))
		case x > float64(n-1)-taper:
			w[i] = 0.5 * (1 + math.Cos(math.Pi*((x-float64(n-1)+taper)/taper)))
		default:
			w[i] = 1
		}
	}
	return w
}

// ToneRefs builds unit-energy sine and cosine references at freqHz,
// shaped by a Tukey window. Both share the same envelope so their
// quadrature magnitude is phase invariant.
func ToneRefs(freqHz float64, sampleRate float64, n int, alpha float64) (sinRef, cosRef []float64) {
	w := Tukey(n, alpha)
	sinRef = make([]float64, n)
	cosRef = make([]float64, n)
	var es, ec float64
	for i := 0; i < n; i++ {
		ph := 2 * math.Pi * freqHz * float64(i) / sampleRate
		sinRef[i] = w[i] * math.Sin(ph)
		cosRef[i] = w[i] * math.Cos(ph)
		es += sinRef[i] * sinRef[i]
		ec += cosRef[i] * cosRef[i]
	}
	normalize(sinRef, math.Sqrt(es))
	normalize(cosRef, math.Sqrt(ec))
	return sinRef, cosRef
}

func normalize(x []float64, norm float64) {
	if norm == 0 {
		return
	}
	for i := range x {
		x[i] /= norm
	}
}
