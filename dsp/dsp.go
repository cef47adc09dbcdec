// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

// Package dsp holds the signal-processing kernels the timing stack is
// built from. Everything here is synchronous. Kernels that take a dst
// slice reuse it when it has the capacity, so callers can pre-size
// buffers per channel; the window, filter-design and Resample helpers
// allocate their results.
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/stat"
)

// Envelope writes |iq| into dst and returns it. dst is grown as needed.
func Envelope(dst []float64, iq []complex64) []float64 {
	dst = grow(dst, len(iq))
	for i, s := range iq {
		dst[i] = cmplx.Abs(complex128(s))
	}
	return dst
}

// RemoveMean subtracts the mean in place and returns the removed mean.
func RemoveMean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	m := stat.Mean(x, nil)
	for i := range x {
		x[i] -= m
	}
	return m
}

// Mean of x; zero for empty input.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

// StdDev is the population standard deviation; zero for n < 2.
func StdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return math.Sqrt(stat.PopVariance(x, nil))
}

// MaxIndex returns the index and value of the maximum element.
func MaxIndex(x []float64) (int, float64) {
	idx, best := -1, math.Inf(-1)
	for i, v := range x {
		if v > best {
			idx, best = i, v
		}
	}
	return idx, best
}

func grow(dst []float64, n int) []float64 {
	if cap(dst) < n {
		return make([]float64, n)
	}
	return dst[:n]
}
