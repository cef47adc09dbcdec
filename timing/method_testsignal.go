// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math"

	"github.com/mijahauan/signal-recorder-sub006/dsp"
)

// Scientific test-signal schedule: WWV transmits during minute 8 of
// the hour, WWVH during minute 44. The signature is a multi-tone comb
// followed by a linear chirp.
const (
	TestSignalMinuteWWV  = 8
	TestSignalMinuteWWVH = 44

	testChirpStartSec = 25.0
	testChirpDurSec   = 2.0
	testChirpF0Hz     = 300.0
	testChirpF1Hz     = 900.0
)

// TestSignalToneFreqs is the multi-tone comb, seconds 15-25.
var TestSignalToneFreqs = []float64{425, 625, 1125, 1475}

// testSignalMethod (M5) scores the test-signal signature: multi-tone
// comb at 70%, chirp correlation at 30%, accepted at a combined 0.20.
type testSignalMethod struct {
	Accept float64
}

func newTestSignalMethod() *testSignalMethod {
	return &testSignalMethod{Accept: 0.20}
}

func (m *testSignalMethod) Name() string { return "test_signal" }

func (m *testSignalMethod) Analyze(ctx *MinuteContext) MethodVote {
	var station Station
	switch ctx.MinuteOfHour {
	case TestSignalMinuteWWV:
		station = StationWWV
	case TestSignalMinuteWWVH:
		station = StationWWVH
	default:
		return abstain(m.Name(), nil)
	}

	multi := m.multiToneScore(ctx)
	chirp := m.chirpScore(ctx)
	combined := 0.7*multi + 0.3*chirp

	metrics := map[string]float64{
		"multitone_score": multi,
		"chirp_score":     chirp,
		"combined_score":  combined,
	}

	if combined < m.Accept {
		return abstain(m.Name(), metrics)
	}

	conf := combined
	if conf > 1 {
		conf = 1
	}
	return MethodVote{
		Method:     m.Name(),
		Station:    station,
		Weight:     WeightTestSignal,
		Confidence: conf,
		Metrics:    metrics,
	}
}

// multiToneScore is the mean on-tone to off-tone power contrast over
// the comb, mapped to [0,1].
func (m *testSignalMethod) multiToneScore(ctx *MinuteContext) float64 {
	win := ctx.span(15, 25)
	if len(win) == 0 {
		return 0
	}
	rate := float64(ctx.Rate)

	var score float64
	for _, f := range TestSignalToneFreqs {
		on := dsp.GoertzelPower(win, f, rate)
		off := (dsp.GoertzelPower(win, f-35, rate) + dsp.GoertzelPower(win, f+35, rate)) / 2
		ratioDB := dsp.PowerDB(on) - dsp.PowerDB(off)
		// 0 dB -> 0, 20 dB -> 1 per tone.
		s := ratioDB / 20
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		score += s
	}
	return score / float64(len(TestSignalToneFreqs))
}

// chirpScore correlates against the quadrature pair of the expected
// chirp so the score does not depend on received phase.
func (m *testSignalMethod) chirpScore(ctx *MinuteContext) float64 {
	rate := float64(ctx.Rate)
	n := int(testChirpDurSec * rate)
	sinRef := make([]float64, n)
	cosRef := make([]float64, n)
	k := (testChirpF1Hz - testChirpF0Hz) / testChirpDurSec
	var energy float64
	for i := 0; i < n; i++ {
		t := float64(i) / rate
		ph := 2 * math.Pi * (testChirpF0Hz*t + 0.5*k*t*t)
		sinRef[i] = math.Sin(ph)
		cosRef[i] = math.Cos(ph)
		energy += sinRef[i] * sinRef[i]
	}
	norm := math.Sqrt(energy)
	for i := range sinRef {
		sinRef[i] /= norm
		cosRef[i] /= norm
	}

	// Search ±500 ms around the nominal chirp start.
	start := int((testChirpStartSec - 0.5) * rate)
	end := int((testChirpStartSec + 0.5) * rate)
	c := dsp.QuadratureMagnitude(nil, ctx.Audio, sinRef, cosRef, start, end, 2)
	if len(c) == 0 {
		return 0
	}

	_, peak := dsp.MaxIndex(c)
	mean := dsp.Mean(c)
	std := dsp.StdDev(c)
	if std <= 0 {
		return 0
	}
	z := (peak - mean) / std
	// z of 1 -> 0, z of 15 -> 1.
	s := (z - 1) / 14
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}
