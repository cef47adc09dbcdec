// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math/cmplx"

	"github.com/mijahauan/signal-recorder-sub006/dsp"
)

// tickWindowsMethod (M2) integrates the 5 ms second ticks over six 10 s
// sub-windows, comparing the 1000 Hz (WWV) and 1200 Hz (WWVH) tick
// energies. Integration is coherent only while the channel's coherence
// time 1/(8*Δf_D) covers a sub-window; otherwise it falls back to
// incoherent summation.
type tickWindowsMethod struct {
	SubWindowSec int
	RatioDB      float64
}

func newTickWindowsMethod() *tickWindowsMethod {
	return &tickWindowsMethod{SubWindowSec: 10, RatioDB: 3.0}
}

func (m *tickWindowsMethod) Name() string { return "tick_windows" }

func (m *tickWindowsMethod) Analyze(ctx *MinuteContext) MethodVote {
	coherent := ctx.Doppler.Valid && ctx.Doppler.CoherenceTimeSec() >= float64(m.SubWindowSec)

	eWWV := m.integrate(ctx, ToneWWV.FreqHz, coherent)
	eWWVH := m.integrate(ctx, ToneWWVH.FreqHz, coherent)

	ratioDB := dsp.PowerDB(eWWV) - dsp.PowerDB(eWWVH)
	metrics := map[string]float64{
		"tick_energy_1000": eWWV,
		"tick_energy_1200": eWWVH,
		"ratio_db":         ratioDB,
		"coherent":         boolMetric(coherent),
	}

	// Both energies near the off-tick background mean no ticks at all.
	bg := m.background(ctx)
	if eWWV < 3*bg+minSignalPower && eWWVH < 3*bg+minSignalPower {
		return abstain(m.Name(), metrics)
	}

	var station Station
	switch {
	case ratioDB >= m.RatioDB:
		station = StationWWV
	case ratioDB <= -m.RatioDB:
		station = StationWWVH
	default:
		return abstain(m.Name(), metrics)
	}

	conf := ratioConfidence(absF(ratioDB), m.RatioDB)
	return MethodVote{
		Method:     m.Name(),
		Station:    station,
		Weight:     WeightTickWindows,
		Confidence: conf,
		Metrics:    metrics,
	}
}

// integrate sums tick power at freq over six sub-windows.
func (m *tickWindowsMethod) integrate(ctx *MinuteContext, freq float64, coherent bool) float64 {
	tickLen := int(tickDurationSec * float64(ctx.Rate))
	rate := float64(ctx.Rate)

	var total float64
	for w := 0; w < 6; w++ {
		var acc complex128
		var inc float64
		for s := w * m.SubWindowSec; s < (w+1)*m.SubWindowSec && s < 60; s++ {
			if s == 0 || s == 29 || s == 59 {
				continue
			}
			start := s * ctx.Rate
			if start+tickLen > len(ctx.Audio) {
				break
			}
			g := dsp.Goertzel(ctx.Audio[start:start+tickLen], freq, rate)
			if coherent {
				acc += g
			} else {
				inc += cmplx.Abs(g)
			}
		}
		if coherent {
			total += cmplx.Abs(acc)
		} else {
			total += inc
		}
	}
	return total
}

// background estimates the same integration offset mid-second, where
// no tick energy exists.
func (m *tickWindowsMethod) background(ctx *MinuteContext) float64 {
	tickLen := int(tickDurationSec * float64(ctx.Rate))
	rate := float64(ctx.Rate)
	half := ctx.Rate / 2

	var acc float64
	n := 0
	for s := 1; s < 59; s += 3 {
		start := s*ctx.Rate + half
		if start+tickLen > len(ctx.Audio) {
			break
		}
		acc += cmplx.Abs(dsp.Goertzel(ctx.Audio[start:start+tickLen], 1100, rate))
		n++
	}
	if n == 0 {
		return 0
	}
	// Scale to the 6-window, ~56-tick integration above.
	return acc / float64(n) * 56
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
