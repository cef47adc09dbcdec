// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package dsp

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// UnwrapPhase removes 2π discontinuities in place and returns the
// slice.
func UnwrapPhase(ph []float64) []float64 {
	for i := 1; i < len(ph); i++ {
		d := ph[i] - ph[i-1]
		for d > math.Pi {
			ph[i] -= 2 * math.Pi
			d = ph[i] - ph[i-1]
		}
		for d < -math.Pi {
			ph[i] += 2 * math.Pi
			d = ph[i] - ph[i-1]
		}
	}
	return ph
}

// LinearFit fits y = a + b*x and returns intercept, slope and the RMS
// residual of the fit.
func LinearFit(x, y []float64) (a, b, rms float64) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, 0, math.Inf(1)
	}
	a, b = stat.LinearRegression(x, y, nil, false)

	var ss float64
	for i := range x {
		r := y[i] - (a + b*x[i])
		ss += r * r
	}
	return a, b, math.Sqrt(ss / float64(len(x)))
}
