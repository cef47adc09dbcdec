// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridToLatLng(t *testing.T) {
	// FN25 covers Ottawa.
	ll, err := GridToLatLng("FN25")
	require.NoError(t, err)
	assert.InDelta(t, 45.5, ll.Lat.Degrees(), 0.6)
	assert.InDelta(t, -75.0, ll.Lng.Degrees(), 1.1)

	// DN70 covers Fort Collins.
	ll, err = GridToLatLng("DN70")
	require.NoError(t, err)
	assert.InDelta(t, 40.5, ll.Lat.Degrees(), 0.6)
	assert.InDelta(t, -105.0, ll.Lng.Degrees(), 1.1)

	// Six characters narrow the square.
	ll, err = GridToLatLng("FN25ki")
	require.NoError(t, err)
	assert.InDelta(t, 45.35, ll.Lat.Degrees(), 0.1)

	_, err = GridToLatLng("Z")
	assert.Error(t, err)
	_, err = GridToLatLng("12AB")
	assert.Error(t, err)
}

func TestModeDelays(t *testing.T) {
	// 1500 km single F hop: slant = 2*sqrt(750^2+300^2) = 1615.5 km.
	d := ModeDelayMS(Mode1F, 1500)
	assert.InDelta(t, 5.389, d, 0.01)

	// Ground wave is straight-line.
	assert.InDelta(t, 1500.0/299792.458*1000, ModeDelayMS(ModeGW, 1500), 1e-9)

	// More hops always means more delay.
	assert.Greater(t, ModeDelayMS(Mode2F, 1500), ModeDelayMS(Mode1F, 1500))
	assert.Greater(t, ModeDelayMS(Mode3F, 1500), ModeDelayMS(Mode2F, 1500))
	assert.Greater(t, ModeDelayMS(Mode1F, 1500), ModeDelayMS(Mode1E, 1500))
}

func TestSolverSelectsPlausibleMode(t *testing.T) {
	// Receiver near Kansas City, roughly 900 km from WWV.
	s, err := NewSolver("EM28")
	require.NoError(t, err)

	dKm := s.DistanceKm(StationWWV)
	assert.InDelta(t, 900, dKm, 120)

	// Observed timing error matching a 1F hop with a small clock
	// offset on top.
	expected := ModeDelayMS(Mode1F, dKm)
	det := ToneDetection{
		Station:        StationWWV,
		TimingErrorMS:  expected + 0.2,
		SNRdB:          25,
		TimestampUTC:   1700000000 + 17*3600, // daytime over the path
		UseForTimeSnap: true,
	}

	meas, ok := s.Solve(det, 10e6, 1.0)
	require.True(t, ok)
	assert.Equal(t, Mode1F, meas.Mode)
	assert.InDelta(t, 0.2, meas.DClockMS, 0.1)
	assert.Contains(t, []QualityGrade{GradeB, GradeC}, meas.Grade)
	assert.Greater(t, meas.UncertaintyMS, 0.0)
	assert.InDelta(t, det.TimestampUTC-det.TimingErrorMS/1000.0, meas.ExpectedUTC, 1e-9)
}

func TestSolverGrades(t *testing.T) {
	s, err := NewSolver("EM28")
	require.NoError(t, err)
	dKm := s.DistanceKm(StationWWV)
	day := 1700000000 + 17*3600.0

	// Exactly the 3F delay and strong SNR: the fit dominates every
	// other candidate by better than 3x.
	det := ToneDetection{Station: StationWWV, TimingErrorMS: ModeDelayMS(Mode3F, dKm), SNRdB: 35, TimestampUTC: day}
	meas, ok := s.Solve(det, 10e6, 1.0)
	require.True(t, ok)
	assert.Equal(t, Mode3F, meas.Mode)
	assert.Equal(t, GradeA, meas.Grade)

	// Clean 2F fit at moderate SNR grades B.
	det = ToneDetection{Station: StationWWV, TimingErrorMS: ModeDelayMS(Mode2F, dKm) + 0.05, SNRdB: 25, TimestampUTC: day}
	meas, ok = s.Solve(det, 10e6, 1.0)
	require.True(t, ok)
	assert.Equal(t, Mode2F, meas.Mode)
	assert.Equal(t, GradeB, meas.Grade)

	// Weak signal grades C regardless of fit dominance.
	det = ToneDetection{Station: StationWWV, TimingErrorMS: ModeDelayMS(Mode1F, dKm) + 0.5, SNRdB: 12, TimestampUTC: day}
	meas, ok = s.Solve(det, 10e6, 1.0)
	require.True(t, ok)
	assert.Equal(t, GradeC, meas.Grade)

	det.SNRdB = 5
	meas, ok = s.Solve(det, 10e6, 1.0)
	require.True(t, ok)
	assert.Contains(t, []QualityGrade{GradeD, GradeF}, meas.Grade)
}

func TestGradeWeights(t *testing.T) {
	assert.Equal(t, 1.0, GradeA.Weight())
	assert.Equal(t, 0.2, GradeD.Weight())
	assert.Equal(t, 0.0, GradeF.Weight())
	assert.Greater(t, GradeB.Weight(), GradeC.Weight())
}
