// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package dsp

import (
	"math"
)

// QuadratureMagnitude computes the phase-invariant matched-filter
// output sqrt(cs²+cc²) of x against the sin/cos reference pair, at lags
// start..end (exclusive) with the given stride. Out-of-range reference
// taps see zeros. The result has one value per evaluated lag.
func QuadratureMagnitude(dst, x, sinRef, cosRef []float64, start, end, stride int) []float64 {
	if stride <= 0 {
		stride = 1
	}
	n := 0
	if end > start {
		n = (end - start + stride - 1) / stride
	}
	dst = grow(dst, n)

	for oi := 0; oi < n; oi++ {
		lag := start + oi*stride
		var cs, cc float64
		lo := 0
		if lag < 0 {
			lo = -lag
		}
		hi := len(sinRef)
		if lag+hi > len(x) {
			hi = len(x) - lag
		}
		for k := lo; k < hi; k++ {
			v := x[lag+k]
			cs += v * sinRef[k]
			cc += v * cosRef[k]
		}
		dst[oi] = math.Hypot(cs, cc)
	}
	return dst
}

// CrossCorrelate computes plain correlation of x against ref at lags
// start..end with stride, zero-padded at the edges.
func CrossCorrelate(dst, x, ref []float64, start, end, stride int) []float64 {
	if stride <= 0 {
		stride = 1
	}
	n := 0
	if end > start {
		n = (end - start + stride - 1) / stride
	}
	dst = grow(dst, n)

	for oi := 0; oi < n; oi++ {
		lag := start + oi*stride
		var acc float64
		lo := 0
		if lag < 0 {
			lo = -lag
		}
		hi := len(ref)
		if lag+hi > len(x) {
			hi = len(x) - lag
		}
		for k := lo; k < hi; k++ {
			acc += x[lag+k] * ref[k]
		}
		dst[oi] = acc
	}
	return dst
}

// QuadraticPeakOffset refines a discrete peak by fitting a parabola
// through (y0,y1,y2) where y1 is the peak sample. The returned offset
// is in samples, clamped to [-0.5, 0.5].
func QuadraticPeakOffset(y0, y1, y2 float64) float64 {
	den := y0 - 2*y1 + y2
	if den == 0 {
		return 0
	}
	off := 0.5 * (y0 - y2) / den
	if off > 0.5 {
		off = 0.5
	}
	if off < -0.5 {
		off = -0.5
	}
	return off
}

// PeakFWHM measures the full width at half maximum around peak index p,
// in samples, by linear interpolation on both flanks.
func PeakFWHM(y []float64, p int) float64 {
	if p < 0 || p >= len(y) || y[p] <= 0 {
		return 0
	}
	half := y[p] / 2

	left := 0.0
	for i := p; i > 0; i-- {
		if y[i-1] <= half {
			span := y[i] - y[i-1]
			frac := 0.0
			if span > 0 {
				frac = (y[i] - half) / span
			}
			left = float64(p-i) + frac
			break
		}
		if i == 1 {
			left = float64(p)
		}
	}

	right := 0.0
	for i := p; i < len(y)-1; i++ {
		if y[i+1] <= half {
			span := y[i] - y[i+1]
			frac := 0.0
			if span > 0 {
				frac = (y[i] - half) / span
			}
			right = float64(i-p) + frac
			break
		}
		if i == len(y)-2 {
			right = float64(len(y) - 1 - p)
		}
	}
	return left + right
}
