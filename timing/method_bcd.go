// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math"

	"github.com/mijahauan/signal-recorder-sub006/dsp"
)

// bcdMethod (M4) cross-correlates the minute's audio against the WWV
// and WWVH 100 Hz time-code templates. The correlation window adapts
// to the channel coherence time, clamped to [10 s, min(60 s,
// 1/(8*Δf_D))]. The method also yields the differential delay between
// the stations and the delay spread (FWHM of the winning peak).
type bcdMethod struct {
	SearchMS float64
	Stride   int
	AmpRatio float64
	// MinNCC is the minimum normalized correlation against either
	// template for the minute to count as carrying a readable code.
	MinNCC float64

	// Measured per minute, read by the engine after Analyze.
	differentialDelayMS float64
	delaySpreadMS       float64
	windowSec           int
}

func newBCDMethod() *bcdMethod {
	return &bcdMethod{
		SearchMS: 500,
		Stride:   2,
		AmpRatio: 1.15,
		MinNCC:   0.3,
	}
}

func (m *bcdMethod) Name() string { return "bcd_discrimination" }

type bcdPeak struct {
	lag   float64 // samples
	value float64
	ncc   float64 // peak normalized by the window energy
	fwhm  float64 // samples
}

func (m *bcdMethod) Analyze(ctx *MinuteContext) MethodVote {
	m.differentialDelayMS = 0
	m.delaySpreadMS = 0

	window := m.adaptWindow(ctx)
	m.windowSec = window
	span := ctx.span(0, float64(window))
	if len(span) == 0 {
		return abstain(m.Name(), nil)
	}

	// No point correlating when there is no subcarrier at all.
	rate := float64(ctx.Rate)
	pSub := dsp.GoertzelPower(span, BCDSubcarrierHz, rate)
	pRef := (dsp.GoertzelPower(span, 70, rate) + dsp.GoertzelPower(span, 130, rate)) / 2
	if dsp.PowerDB(pSub)-dsp.PowerDB(pRef) < 3 {
		return abstain(m.Name(), map[string]float64{
			"subcarrier_db": dsp.PowerDB(pSub) - dsp.PowerDB(pRef),
		})
	}

	minuteOfDay := int((ctx.Minute.BoundaryUTC / 60) % (24 * 60))
	wwv := m.correlate(ctx, span, StationWWV, minuteOfDay, window)
	wwvh := m.correlate(ctx, span, StationWWVH, minuteOfDay, window)

	metrics := map[string]float64{
		"window_sec":  float64(window),
		"peak_wwv":    wwv.value,
		"peak_wwvh":   wwvh.value,
		"ncc_wwv":     wwv.ncc,
		"ncc_wwvh":    wwvh.ncc,
		"lag_wwv_ms":  wwv.lag / float64(ctx.Rate) * 1000,
		"lag_wwvh_ms": wwvh.lag / float64(ctx.Rate) * 1000,
	}

	if wwv.ncc < m.MinNCC && wwvh.ncc < m.MinNCC {
		return abstain(m.Name(), metrics)
	}

	m.differentialDelayMS = (wwvh.lag - wwv.lag) / float64(ctx.Rate) * 1000.0
	metrics["differential_delay_ms"] = m.differentialDelayMS

	var station Station
	var winner bcdPeak
	switch {
	case wwv.value >= wwvh.value*m.AmpRatio:
		station, winner = StationWWV, wwv
	case wwvh.value >= wwv.value*m.AmpRatio:
		station, winner = StationWWVH, wwvh
	default:
		// Peaks too close to call; still report the stronger one's
		// spread for the propagation diagnostics.
		if wwv.value >= wwvh.value {
			m.delaySpreadMS = wwv.fwhm / float64(ctx.Rate) * 1000.0
		} else {
			m.delaySpreadMS = wwvh.fwhm / float64(ctx.Rate) * 1000.0
		}
		return abstain(m.Name(), metrics)
	}

	m.delaySpreadMS = winner.fwhm / float64(ctx.Rate) * 1000.0
	metrics["delay_spread_ms"] = m.delaySpreadMS

	conf := winner.ncc
	if conf > 1 {
		conf = 1
	}
	return MethodVote{
		Method:     m.Name(),
		Station:    station,
		Weight:     WeightBCD,
		Confidence: conf,
		Metrics:    metrics,
	}
}

// adaptWindow clamps the coherence time into [10, min(60, coherence)].
func (m *bcdMethod) adaptWindow(ctx *MinuteContext) int {
	w := 60.0
	if ctx.Doppler.Valid {
		if ct := ctx.Doppler.CoherenceTimeSec(); ct < w {
			w = ct
		}
	}
	if w < 10 {
		w = 10
	}
	return int(w)
}

func (m *bcdMethod) correlate(ctx *MinuteContext, span []float64, station Station, minuteOfDay, window int) bcdPeak {
	tpl := BCDTemplate(station, minuteOfDay, ctx.Rate, window)

	half := int(m.SearchMS / 1000.0 * float64(ctx.Rate))
	c := dsp.CrossCorrelate(nil, span, tpl, -half, half+1, m.Stride)
	for i, v := range c {
		c[i] = math.Abs(v)
	}

	pi, peak := dsp.MaxIndex(c)

	var energy float64
	for _, v := range span {
		energy += v * v
	}
	ncc := 0.0
	if energy > 0 {
		ncc = peak / math.Sqrt(energy)
	}

	frac := 0.0
	if pi > 0 && pi < len(c)-1 {
		frac = dsp.QuadraticPeakOffset(c[pi-1], c[pi], c[pi+1])
	}

	return bcdPeak{
		lag:   float64(-half+pi*m.Stride) + frac*float64(m.Stride),
		value: peak,
		ncc:   ncc,
		fwhm:  dsp.PeakFWHM(c, pi) * float64(m.Stride),
	}
}

// DifferentialDelayMS reports the last minute's WWVH-WWV peak offset.
func (m *bcdMethod) DifferentialDelayMS() float64 { return m.differentialDelayMS }

// DelaySpreadMS reports the last minute's winning-peak FWHM.
func (m *bcdMethod) DelaySpreadMS() float64 { return m.delaySpreadMS }
