// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"github.com/mijahauan/signal-recorder-sub006/dsp"
)

// stationIDMethod (M3) keys off the hourly station identification
// tones: minute 1 of the hour belongs to WWVH, minute 2 to WWV. On any
// other minute the method is skipped. Because only one station
// transmits its ID tone in its slot, a positive detection is the
// strongest single discriminator and carries the largest weight.
type stationIDMethod struct {
	// IDFreqsHz are the candidate identification tones searched in the
	// slot.
	IDFreqsHz []float64
	RatioDB   float64
}

func newStationIDMethod() *stationIDMethod {
	return &stationIDMethod{
		IDFreqsHz: []float64{440, 600},
		RatioDB:   6.0,
	}
}

func (m *stationIDMethod) Name() string { return "station_id_440hz" }

func (m *stationIDMethod) Analyze(ctx *MinuteContext) MethodVote {
	var station Station
	switch ctx.MinuteOfHour {
	case 1:
		station = StationWWVH
	case 2:
		station = StationWWV
	default:
		return abstain(m.Name(), nil)
	}

	// The ID tone occupies the body of the minute, clear of the minute
	// marker and the end-of-minute silence.
	win := ctx.span(1, 44)
	if len(win) == 0 {
		return abstain(m.Name(), nil)
	}
	rate := float64(ctx.Rate)

	best := 0.0
	bestFreq := 0.0
	for _, f := range m.IDFreqsHz {
		p := dsp.GoertzelPower(win, f, rate)
		if p > best {
			best, bestFreq = p, f
		}
	}

	// Reference bins away from any scheduled tone.
	ref := (dsp.GoertzelPower(win, 520, rate) + dsp.GoertzelPower(win, 680, rate)) / 2
	ratioDB := dsp.PowerDB(best) - dsp.PowerDB(ref)

	metrics := map[string]float64{
		"id_freq_hz":  bestFreq,
		"id_power_db": dsp.PowerDB(best),
		"ratio_db":    ratioDB,
	}

	if ratioDB < m.RatioDB || best < minSignalPower {
		return abstain(m.Name(), metrics)
	}

	return MethodVote{
		Method:     m.Name(),
		Station:    station,
		Weight:     WeightStationID,
		Confidence: ratioConfidence(ratioDB, m.RatioDB),
		Metrics:    metrics,
	}
}
