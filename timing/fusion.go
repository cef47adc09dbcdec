// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mijahauan/signal-recorder-sub006/dsp"
)

// AnchorState is the fused-clock machine's phase.
type AnchorState string

const (
	StateLearn    AnchorState = "LEARN"
	StateConverge AnchorState = "CONVERGE"
	StateLocked   AnchorState = "LOCKED"
	StateHoldover AnchorState = "HOLDOVER"
	StateAnomaly  AnchorState = "ANOMALY"
)

// StationCalibration is the per-station EMA toward -raw D_clock. It
// absorbs the station-specific systematic bias so the broadcasts
// become comparable.
type StationCalibration struct {
	Station  Station `json:"station"`
	OffsetMS float64 `json:"offset_ms"`
	NSamples int     `json:"n_samples"`
	Alpha    float64 `json:"alpha"`
}

// Update moves the offset toward -rawDClockMS by Alpha.
func (c *StationCalibration) Update(rawDClockMS float64) {
	c.OffsetMS += c.Alpha * (-rawDClockMS - c.OffsetMS)
	c.NSamples++
}

// StationContribution is the per-station breakdown inside a fused
// value.
type StationContribution struct {
	Station          Station `json:"station"`
	N                int     `json:"n"`
	MeanCalibratedMS float64 `json:"mean_calibrated_ms"`
	WeightSum        float64 `json:"weight_sum"`
}

// FusedClock is the per-minute multi-broadcast clock offset.
type FusedClock struct {
	UTC           float64               `json:"utc"`
	DClockFusedMS float64               `json:"d_clock_fused_ms"`
	UncertaintyMS float64               `json:"uncertainty_ms"`
	NBroadcasts   int                   `json:"n_broadcasts"`
	PerStation    []StationContribution `json:"per_station"`
	State         AnchorState           `json:"anchor_state"`
}

// FusorConfig tunes the fusion and the anchor state machine.
type FusorConfig struct {
	// Alpha is the calibration EMA constant.
	Alpha float64
	// LockUncertaintyMS and LockMinutes gate the LOCKED transition.
	LockUncertaintyMS float64
	LockMinutes       int
	// HoldoverAfterMinutes of no measurements switches to HOLDOVER.
	HoldoverAfterMinutes int
	// SlewLimitPPM bounds the credible minute-to-minute rate (GPSDO
	// disciplined local clock).
	SlewLimitPPM float64
	// RecentDepth is the anomaly reference window.
	RecentDepth int
}

func DefaultFusorConfig() FusorConfig {
	return FusorConfig{
		Alpha:                0.5,
		LockUncertaintyMS:    1.0,
		LockMinutes:          5,
		HoldoverAfterMinutes: 10,
		SlewLimitPPM:         1.0,
		RecentDepth:          10,
	}
}

// Fusor fuses grade-A/B/C measurements across up to 13 broadcasts into
// one clock offset per minute. It is shared across channels and safe
// for concurrent use; updates hold its mutex only briefly.
type Fusor struct {
	mu  sync.Mutex
	cfg FusorConfig

	cals map[Station]*StationCalibration

	recent     []float64
	state      AnchorState
	lockStreak int

	last        *FusedClock
	lastDataUTC float64

	log zerolog.Logger
}

func NewFusor(cfg FusorConfig) *Fusor {
	if cfg.Alpha == 0 {
		cfg = DefaultFusorConfig()
	}
	return &Fusor{
		cfg:   cfg,
		cals:  make(map[Station]*StationCalibration),
		state: StateLearn,
		log:   log.With().Str("caller", "timing").Str("engine", "fusion").Logger(),
	}
}

// Calibration returns a copy of one station's calibration.
func (f *Fusor) Calibration(st Station) StationCalibration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cals[st]; ok {
		return *c
	}
	return StationCalibration{Station: st, Alpha: f.cfg.Alpha}
}

// Snapshot exports all calibrations for persistence.
func (f *Fusor) Snapshot() []StationCalibration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StationCalibration, 0, len(f.cals))
	for _, c := range f.cals {
		out = append(out, *c)
	}
	return out
}

// Restore reloads persisted calibrations at startup.
func (f *Fusor) Restore(cals []StationCalibration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range cals {
		c := cals[i]
		if c.Alpha == 0 {
			c.Alpha = f.cfg.Alpha
		}
		f.cals[c.Station] = &c
	}
	if len(cals) > 0 {
		f.state = StateConverge
	}
}

// State returns the current anchor state.
func (f *Fusor) State() AnchorState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// FuseMinute folds one minute's measurements into a fused clock
// offset. With no usable measurements it returns a HOLDOVER record
// once the configured dry spell is exceeded, nil before that.
func (f *Fusor) FuseMinute(utc float64, measurements []Measurement) *FusedClock {
	f.mu.Lock()
	defer f.mu.Unlock()

	var usable []Measurement
	for _, m := range measurements {
		if m.Grade == GradeA || m.Grade == GradeB || m.Grade == GradeC {
			usable = append(usable, m)
		}
	}

	if len(usable) == 0 {
		return f.holdover(utc)
	}
	f.lastDataUTC = utc

	// Update per-station EMAs, then weight the calibrated values.
	perStation := map[Station]*StationContribution{}
	var sumW, sumWV float64
	type weighted struct {
		value float64
		w     float64
	}
	var vals []weighted

	for _, m := range usable {
		cal := f.cals[m.Station]
		if cal == nil {
			cal = &StationCalibration{Station: m.Station, Alpha: f.cfg.Alpha}
			f.cals[m.Station] = cal
		}
		cal.Update(m.DClockMS)
		if perStation[m.Station] == nil {
			perStation[m.Station] = &StationContribution{Station: m.Station}
		}
	}

	// The station offsets absorb per-station systematics; their mean is
	// the ensemble anchor that carries the common clock offset, so
	// calibration equalizes the broadcasts without zeroing D_clock.
	var anchorMS float64
	for st := range perStation {
		anchorMS -= f.cals[st].OffsetMS
	}
	anchorMS /= float64(len(perStation))

	for _, m := range usable {
		cal := f.cals[m.Station]
		calibrated := m.DClockMS + cal.OffsetMS + anchorMS
		w := measurementWeight(m)
		vals = append(vals, weighted{value: calibrated, w: w})
		sumW += w
		sumWV += w * calibrated

		pc := perStation[m.Station]
		pc.N++
		pc.WeightSum += w
		pc.MeanCalibratedMS += calibrated
	}

	if sumW == 0 {
		return f.holdover(utc)
	}

	fused := sumWV / sumW
	var sumWR float64
	for _, v := range vals {
		r := v.value - fused
		sumWR += v.w * r * r
	}
	unc := math.Sqrt(sumWR/sumW) / math.Sqrt(float64(len(vals)))

	out := &FusedClock{
		UTC:           utc,
		DClockFusedMS: fused,
		UncertaintyMS: unc,
		NBroadcasts:   len(vals),
	}
	for _, pc := range perStation {
		pc.MeanCalibratedMS /= float64(pc.N)
		out.PerStation = append(out.PerStation, *pc)
	}

	anomalous := f.isAnomalous(fused, utc)
	f.advanceState(out, anomalous)
	if !anomalous {
		f.recent = append(f.recent, fused)
		if len(f.recent) > f.cfg.RecentDepth {
			f.recent = f.recent[1:]
		}
	}
	f.last = out

	f.log.Debug().
		Float64("d_clock_fused_ms", out.DClockFusedMS).
		Float64("uncertainty_ms", out.UncertaintyMS).
		Int("n", out.NBroadcasts).
		Str("state", string(out.State)).
		Msg("Clock fused")
	return out
}

func measurementWeight(m Measurement) float64 {
	w := m.Grade.Weight()
	w *= 1.0 / (1.0 + math.Exp(-(m.SNRdB-15.0)/5.0))
	if m.UncertaintyMS > 0 {
		w *= 1.0 / m.UncertaintyMS
	}
	conf := m.DiscriminationConf
	if conf <= 0 {
		conf = 1.0
	}
	w *= conf
	return w
}

// isAnomalous flags a fused value outside 3 sigma of the recent window
// or slewing faster than the GPSDO bound allows.
func (f *Fusor) isAnomalous(fused, utc float64) bool {
	if len(f.recent) >= f.cfg.RecentDepth {
		mean := dsp.Mean(f.recent)
		std := dsp.StdDev(f.recent)
		if std > 0 && math.Abs(fused-mean) > 3*std {
			return true
		}
	}
	if f.last != nil && len(f.recent) >= 3 {
		dtMin := (utc - f.last.UTC) / 60.0
		if dtMin > 0 {
			// The GPSDO cannot slew faster than the ppm bound; anything
			// beyond that plus the measurement-noise allowance is not a
			// clock movement.
			boundMS := f.cfg.SlewLimitPPM * 60.0 * 1e-3 * dtMin
			boundMS += 3 * dsp.StdDev(f.recent)
			if boundMS > 0 && math.Abs(fused-f.last.DClockFusedMS) > boundMS {
				return true
			}
		}
	}
	return false
}

func (f *Fusor) advanceState(out *FusedClock, anomalous bool) {
	if anomalous {
		f.state = StateAnomaly
		f.lockStreak = 0
		out.State = f.state
		return
	}

	learning := true
	for _, c := range f.cals {
		if c.NSamples >= 5 {
			learning = false
			break
		}
	}

	switch {
	case learning:
		f.state = StateLearn
	case out.UncertaintyMS < f.cfg.LockUncertaintyMS:
		f.lockStreak++
		if f.lockStreak >= f.cfg.LockMinutes {
			f.state = StateLocked
		} else if f.state != StateLocked {
			f.state = StateConverge
		}
	default:
		f.lockStreak = 0
		f.state = StateConverge
	}
	out.State = f.state
}

// holdover emits the held value with growing uncertainty once the dry
// spell exceeds the configured duration.
func (f *Fusor) holdover(utc float64) *FusedClock {
	if f.last == nil || f.lastDataUTC == 0 {
		return nil
	}
	dryMin := (utc - f.lastDataUTC) / 60.0
	if dryMin < float64(f.cfg.HoldoverAfterMinutes) {
		return nil
	}

	f.state = StateHoldover
	f.lockStreak = 0
	out := &FusedClock{
		UTC:           utc,
		DClockFusedMS: f.last.DClockFusedMS,
		UncertaintyMS: f.last.UncertaintyMS + 0.1*dryMin,
		NBroadcasts:   0,
		State:         StateHoldover,
	}
	return out
}
