// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Feeding 30 identical raw values through a fresh calibration at
// alpha 0.5 must drive the offset to -raw within raw*2^-29.
func TestCalibrationConvergence(t *testing.T) {
	raw := 3.7
	cal := StationCalibration{Station: StationWWV, Alpha: 0.5}
	for i := 0; i < 30; i++ {
		cal.Update(raw)
	}
	assert.Less(t, math.Abs(cal.OffsetMS-(-raw)), raw*math.Pow(2, -29))
	assert.Equal(t, 30, cal.NSamples)
}

func measAt(st Station, freq, dclock, snr float64, grade QualityGrade) Measurement {
	return Measurement{
		Station:            st,
		FrequencyHz:        freq,
		DClockMS:           dclock,
		UncertaintyMS:      0.3,
		SNRdB:              snr,
		Grade:              grade,
		DiscriminationConf: 1.0,
	}
}

// Scenario: 30 minutes of three stations around a true D_clock of
// +2.5 ms. By minute 10 the fused value is within ±0.5 ms and the
// anchor reaches LOCKED.
func TestFusionLock(t *testing.T) {
	f := NewFusor(DefaultFusorConfig())

	bias := map[Station]float64{StationWWV: 0.0, StationWWVH: 0.3, StationCHU: -0.2}
	base := 1700000040.0

	var last *FusedClock
	for minute := 0; minute < 30; minute++ {
		utc := base + float64(minute)*60
		jitter := 0.1 * math.Sin(float64(minute)*1.3)

		var ms []Measurement
		ms = append(ms, measAt(StationWWV, 10e6, 2.5+bias[StationWWV]+jitter, 40, GradeA))
		ms = append(ms, measAt(StationWWVH, 10e6, 2.5+bias[StationWWVH]-jitter, 25, GradeB))
		ms = append(ms, measAt(StationCHU, 7.85e6, 2.5+bias[StationCHU]+0.5*jitter, 20, GradeB))

		fc := f.FuseMinute(utc, ms)
		require.NotNil(t, fc)
		assert.Equal(t, 3, fc.NBroadcasts)
		assert.Len(t, fc.PerStation, 3)

		if minute >= 10 {
			assert.InDelta(t, 2.5, fc.DClockFusedMS, 0.5, "minute %d", minute)
		}
		last = fc
	}
	assert.Equal(t, StateLocked, last.State)
	assert.Less(t, last.UncertaintyMS, 1.0)
}

func TestFusionIgnoresGradeDF(t *testing.T) {
	f := NewFusor(DefaultFusorConfig())

	fc := f.FuseMinute(1700000040, []Measurement{
		measAt(StationWWV, 10e6, 2.0, 8, GradeD),
		measAt(StationWWV, 10e6, 99.0, 5, GradeF),
	})
	assert.Nil(t, fc, "no usable measurements and no holdover history")
}

func TestFusionAnomalyFlagged(t *testing.T) {
	cfg := DefaultFusorConfig()
	f := NewFusor(cfg)

	base := 1700000040.0
	for minute := 0; minute < 12; minute++ {
		utc := base + float64(minute)*60
		fc := f.FuseMinute(utc, []Measurement{
			measAt(StationWWV, 10e6, 2.5+0.01*math.Sin(float64(minute)), 35, GradeA),
		})
		require.NotNil(t, fc)
	}

	// A 5 ms jump violates both the 3-sigma window and the GPSDO slew
	// bound; the value is still emitted but flagged.
	fc := f.FuseMinute(base+12*60, []Measurement{
		measAt(StationWWV, 10e6, 7.5, 35, GradeA),
	})
	require.NotNil(t, fc)
	assert.Equal(t, StateAnomaly, fc.State)
	assert.Equal(t, StateAnomaly, f.State())
}

func TestFusionHoldover(t *testing.T) {
	cfg := DefaultFusorConfig()
	cfg.HoldoverAfterMinutes = 3
	f := NewFusor(cfg)

	base := 1700000040.0
	for minute := 0; minute < 6; minute++ {
		fc := f.FuseMinute(base+float64(minute)*60, []Measurement{
			measAt(StationWWV, 10e6, 1.0, 30, GradeA),
		})
		require.NotNil(t, fc)
	}

	// Dry minutes: nothing emitted before the holdover threshold.
	assert.Nil(t, f.FuseMinute(base+6*60, nil))
	assert.Nil(t, f.FuseMinute(base+7*60, nil))

	fc := f.FuseMinute(base+9*60, nil)
	require.NotNil(t, fc)
	assert.Equal(t, StateHoldover, fc.State)
	assert.InDelta(t, 1.0, fc.DClockFusedMS, 0.2, "holdover holds the last value")
	assert.Greater(t, fc.UncertaintyMS, 0.0)
	assert.Zero(t, fc.NBroadcasts)
}

func TestFusionStateProgression(t *testing.T) {
	f := NewFusor(DefaultFusorConfig())
	assert.Equal(t, StateLearn, f.State())

	base := 1700000040.0
	states := map[AnchorState]bool{}
	for minute := 0; minute < 12; minute++ {
		fc := f.FuseMinute(base+float64(minute)*60, []Measurement{
			measAt(StationWWV, 10e6, 1.0, 35, GradeA),
			measAt(StationCHU, 7.85e6, 1.1, 30, GradeA),
		})
		require.NotNil(t, fc)
		states[fc.State] = true
	}
	assert.True(t, states[StateLearn])
	assert.True(t, states[StateLocked])
	assert.Equal(t, StateLocked, f.State())
}

func TestFusorSnapshotRestore(t *testing.T) {
	f := NewFusor(DefaultFusorConfig())
	f.FuseMinute(1700000040, []Measurement{measAt(StationWWV, 10e6, 2.0, 30, GradeA)})

	snap := f.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StationWWV, snap[0].Station)

	f2 := NewFusor(DefaultFusorConfig())
	f2.Restore(snap)
	got := f2.Calibration(StationWWV)
	assert.Equal(t, snap[0].OffsetMS, got.OffsetMS)
	assert.Equal(t, snap[0].NSamples, got.NSamples)
}

func TestTimeSnapAdoption(t *testing.T) {
	ts := NewTimeSnap(50)

	// Unconverged or out-of-bounds offers are rejected.
	assert.False(t, ts.Offer(&FusedClock{State: StateLearn, DClockFusedMS: 1}))
	assert.False(t, ts.Offer(&FusedClock{State: StateLocked, DClockFusedMS: 500}))
	assert.Equal(t, 100.0, ts.Refine(100.0), "identity before adoption")

	require.True(t, ts.Offer(&FusedClock{State: StateLocked, DClockFusedMS: 2.0, UTC: 99.0}))
	assert.InDelta(t, 100.0-0.002, ts.Refine(100.0), 1e-9)

	off, at, ok := ts.Current()
	assert.True(t, ok)
	assert.Equal(t, 2.0, off)
	assert.Equal(t, 99.0, at)
}
