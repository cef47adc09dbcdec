// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"github.com/mijahauan/signal-recorder-sub006/dsp"
)

// timingTonesMethod (M1) compares 1000 Hz and 1200 Hz power over the
// 800 ms minute marker. A ±6 dB ratio decides; anything between is
// ambiguous and abstains.
type timingTonesMethod struct {
	// RatioThresholdDB is the decision margin (default 6).
	RatioThresholdDB float64
}

func newTimingTonesMethod() *timingTonesMethod {
	return &timingTonesMethod{RatioThresholdDB: 6.0}
}

func (m *timingTonesMethod) Name() string { return "timing_tones" }

func (m *timingTonesMethod) Analyze(ctx *MinuteContext) MethodVote {
	win := ctx.span(0, 0.8)
	if len(win) == 0 {
		return abstain(m.Name(), nil)
	}

	rate := float64(ctx.Rate)
	pWWV := dsp.GoertzelPower(win, ToneWWV.FreqHz, rate)
	pWWVH := dsp.GoertzelPower(win, ToneWWVH.FreqHz, rate)
	ratioDB := dsp.PowerDB(pWWV) - dsp.PowerDB(pWWVH)

	metrics := map[string]float64{
		"power_1000_db": dsp.PowerDB(pWWV),
		"power_1200_db": dsp.PowerDB(pWWVH),
		"ratio_db":      ratioDB,
	}

	// Either tone must actually stand above the surrounding spectrum,
	// otherwise the ratio is just noise against noise.
	pRef := dsp.GoertzelPower(win, 1100, rate)
	if (pWWV < 4*pRef && pWWVH < 4*pRef) || (pWWV < minSignalPower && pWWVH < minSignalPower) {
		return abstain(m.Name(), metrics)
	}

	switch {
	case ratioDB >= m.RatioThresholdDB:
		return MethodVote{
			Method:     m.Name(),
			Station:    StationWWV,
			Weight:     WeightTimingTones,
			Confidence: ratioConfidence(ratioDB, m.RatioThresholdDB),
			Metrics:    metrics,
		}
	case ratioDB <= -m.RatioThresholdDB:
		return MethodVote{
			Method:     m.Name(),
			Station:    StationWWVH,
			Weight:     WeightTimingTones,
			Confidence: ratioConfidence(-ratioDB, m.RatioThresholdDB),
			Metrics:    metrics,
		}
	}
	return abstain(m.Name(), metrics)
}

// ratioConfidence maps a dB margin above the threshold into (0,1].
func ratioConfidence(ratioDB, thresholdDB float64) float64 {
	c := ratioDB / (thresholdDB * 3)
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}
