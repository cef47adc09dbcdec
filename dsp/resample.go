// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package dsp

import (
	"math"
)

// LowpassFIR designs a windowed-sinc lowpass with the given cutoff (Hz)
// at sampleRate, taps must be odd. Hamming window, unit DC gain.
func LowpassFIR(taps int, cutoffHz, sampleRate float64) []float64 {
	if taps%2 == 0 {
		taps++
	}
	h := make([]float64, taps)
	fc := cutoffHz / sampleRate
	mid := taps / 2

	var sum float64
	for i := range h {
		n := float64(i - mid)
		var v float64
		if n == 0 {
			v = 2 * math.Pi * fc
		} else {
			v = math.Sin(2*math.Pi*fc*n) / n
		}
		// Hamming
		v *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(taps-1))
		h[i] = v
		sum += v
	}
	for i := range h {
		h[i] /= sum
	}
	return h
}

// Filter convolves x with h (same-length output, zero-padded edges).
func Filter(dst, x, h []float64) []float64 {
	dst = grow(dst, len(x))
	mid := len(h) / 2
	for i := range x {
		var acc float64
		for k, c := range h {
			j := i + k - mid
			if j < 0 || j >= len(x) {
				continue
			}
			acc += c * x[j]
		}
		dst[i] = acc
	}
	return dst
}

// Resample converts x from srIn to srOut: anti-alias lowpass when
// decimating, then linear interpolation onto the output grid. The
// detector runs at 3 kHz, which is not an integer divisor of the
// 20 kHz capture rate, so a rational-grid interpolation is used rather
// than plain decimation.
func Resample(x []float64, srIn, srOut int) []float64 {
	if srIn == srOut || len(x) == 0 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}

	src := x
	if srOut < srIn {
		// Cut at 80% of the output Nyquist.
		h := LowpassFIR(63, 0.4*float64(srOut), float64(srIn))
		src = Filter(nil, x, h)
	}

	n := int(float64(len(x)) * float64(srOut) / float64(srIn))
	out := make([]float64, n)
	ratio := float64(srIn) / float64(srOut)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(src)-1 {
			out[i] = src[len(src)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = src[j]*(1-frac) + src[j+1]*frac
	}
	return out
}
