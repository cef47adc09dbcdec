// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math"

	"github.com/mijahauan/signal-recorder-sub006/dsp"
)

// DopplerEstimate is the per-minute ionospheric Doppler shift derived
// from the phase progression of consecutive second ticks.
type DopplerEstimate struct {
	ShiftHz    float64
	Confidence float64
	Valid      bool
}

// CoherenceTimeSec is the usable coherent-integration span 1/(8*|Δf|).
// Infinite when the estimate is invalid or the shift is zero.
func (d DopplerEstimate) CoherenceTimeSec() float64 {
	if !d.Valid || d.ShiftHz == 0 {
		return math.Inf(1)
	}
	return 1.0 / (8.0 * math.Abs(d.ShiftHz))
}

const tickDurationSec = 0.005

// EstimateDoppler regresses unwrapped tick phases at tickFreq over the
// minute. Seconds 0 (minute tone) and the silent seconds 29/59 are
// skipped; low-energy ticks are dropped before the fit.
func EstimateDoppler(audio []float64, rate int, tickFreq float64) DopplerEstimate {
	tickLen := int(tickDurationSec * float64(rate))
	if tickLen < 4 {
		return DopplerEstimate{}
	}

	var times, phases, powers []float64
	for s := 1; s < 59; s++ {
		if s == 29 {
			continue
		}
		start := s * rate
		if start+tickLen > len(audio) {
			break
		}
		win := audio[start : start+tickLen]
		powers = append(powers, dsp.GoertzelPower(win, tickFreq, float64(rate)))
		times = append(times, float64(s))
		phases = append(phases, dsp.GoertzelPhase(win, tickFreq, float64(rate)))
	}
	if len(powers) < 8 {
		return DopplerEstimate{}
	}

	// Keep ticks above the median power; the rest is mostly noise.
	med := medianOf(powers)
	var ft, fp []float64
	for i := range powers {
		if powers[i] >= med {
			ft = append(ft, times[i])
			fp = append(fp, phases[i])
		}
	}
	if len(ft) < 8 {
		return DopplerEstimate{}
	}

	dsp.UnwrapPhase(fp)
	_, slope, rms := dsp.LinearFit(ft, fp)
	if math.IsInf(rms, 1) {
		return DopplerEstimate{}
	}

	return DopplerEstimate{
		ShiftHz:    slope / (2 * math.Pi),
		Confidence: 1.0 / (1.0 + rms),
		Valid:      true,
	}
}

func medianOf(x []float64) float64 {
	cp := append([]float64(nil), x...)
	// insertion sort; the slices here are tiny
	for i := 1; i < len(cp); i++ {
		for j := i; j > 0 && cp[j] < cp[j-1]; j-- {
			cp[j], cp[j-1] = cp[j-1], cp[j]
		}
	}
	if len(cp) == 0 {
		return 0
	}
	return cp[len(cp)/2]
}
