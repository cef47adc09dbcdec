// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PropagationMode labels ground wave vs the number and layer of
// ionospheric reflections.
type PropagationMode string

const (
	ModeGW PropagationMode = "GW"
	Mode1E PropagationMode = "1E"
	Mode1F PropagationMode = "1F"
	Mode2F PropagationMode = "2F"
	Mode3F PropagationMode = "3F"
)

// Virtual reflection heights, km. Fixed constants; coupling to a live
// ionospheric model is out of scope.
const (
	HeightEKm = 110.0
	HeightFKm = 300.0

	earthRadiusKm = 6371.0
	lightSpeedKms = 299792.458
)

var modeTable = []struct {
	mode     PropagationMode
	hops     int
	heightKm float64
	idealSNR float64
	// dispersionMS is the ionospheric contribution to uncertainty.
	dispersionMS float64
}{
	{ModeGW, 0, 0, 35, 0.01},
	{Mode1E, 1, HeightEKm, 30, 0.10},
	{Mode1F, 1, HeightFKm, 25, 0.15},
	{Mode2F, 2, HeightFKm, 18, 0.30},
	{Mode3F, 3, HeightFKm, 12, 0.50},
}

// Transmitter sites.
var stationSites = map[Station]s2.LatLng{
	StationWWV:  s2.LatLngFromDegrees(40.6808, -105.0384), // Fort Collins, CO
	StationWWVH: s2.LatLngFromDegrees(21.9886, -159.7631), // Kekaha, HI
	StationCHU:  s2.LatLngFromDegrees(45.2944, -75.7566),  // Ottawa, ON
}

// GridToLatLng converts a Maidenhead locator (2, 4 or 6 characters) to
// the center of its square.
func GridToLatLng(grid string) (s2.LatLng, error) {
	g := strings.ToUpper(strings.TrimSpace(grid))
	if len(g) < 2 || len(g)%2 != 0 || len(g) > 8 {
		return s2.LatLng{}, fmt.Errorf("timing: bad grid locator %q", grid)
	}

	lon := -180.0
	lat := -90.0
	lonStep := 20.0
	latStep := 10.0

	for pair := 0; pair*2 < len(g); pair++ {
		cLon := g[pair*2]
		cLat := g[pair*2+1]

		var vLon, vLat int
		if pair%2 == 0 { // letter pairs
			if cLon < 'A' || cLon > 'X' || cLat < 'A' || cLat > 'X' {
				return s2.LatLng{}, fmt.Errorf("timing: bad grid locator %q", grid)
			}
			vLon, vLat = int(cLon-'A'), int(cLat-'A')
		} else { // digit pairs
			if cLon < '0' || cLon > '9' || cLat < '0' || cLat > '9' {
				return s2.LatLng{}, fmt.Errorf("timing: bad grid locator %q", grid)
			}
			vLon, vLat = int(cLon-'0'), int(cLat-'0')
		}

		lon += float64(vLon) * lonStep
		lat += float64(vLat) * latStep

		if pair*2+2 < len(g) {
			if pair%2 == 0 {
				lonStep /= 10
				latStep /= 10
			} else {
				lonStep /= 24
				latStep /= 24
			}
		}
	}

	// Center of the final square.
	lon += lonStep / 2
	lat += latStep / 2
	return s2.LatLngFromDegrees(lat, lon), nil
}

// QualityGrade ranks a measurement for fusion. F is excluded entirely.
type QualityGrade byte

const (
	GradeA QualityGrade = 'A'
	GradeB QualityGrade = 'B'
	GradeC QualityGrade = 'C'
	GradeD QualityGrade = 'D'
	GradeF QualityGrade = 'F'
)

func (g QualityGrade) String() string { return string(rune(g)) }

// Weight is the fusion weight of the grade.
func (g QualityGrade) Weight() float64 {
	switch g {
	case GradeA:
		return 1.0
	case GradeB:
		return 0.7
	case GradeC:
		return 0.4
	case GradeD:
		return 0.2
	}
	return 0
}

// Measurement is one per-broadcast clock-offset estimate.
type Measurement struct {
	Station     Station
	FrequencyHz float64

	ArrivalUTC  float64
	ExpectedUTC float64

	Mode              PropagationMode
	PropagationDelay  float64 // ms
	DClockMS          float64
	UncertaintyMS     float64
	SNRdB             float64
	Grade             QualityGrade
	DiscriminationConf float64
}

// Solver scores the propagation mode candidates for each detection and
// derives the local clock offset from UTC(NIST).
type Solver struct {
	receiver s2.LatLng

	// ResidualSigmaMS shapes the mode-fit Gaussian.
	ResidualSigmaMS float64

	log zerolog.Logger
}

// NewSolver builds a solver for a receiver at the given Maidenhead
// locator.
func NewSolver(grid string) (*Solver, error) {
	ll, err := GridToLatLng(grid)
	if err != nil {
		return nil, err
	}
	return &Solver{
		receiver:        ll,
		ResidualSigmaMS: 1.0,
		log:             log.With().Str("caller", "timing").Str("engine", "solver").Logger(),
	}, nil
}

// DistanceKm is the great-circle distance to a station.
func (s *Solver) DistanceKm(station Station) float64 {
	site, ok := stationSites[station]
	if !ok {
		return 0
	}
	return site.Distance(s.receiver).Radians() * earthRadiusKm
}

// ModeDelayMS is the one-way delay for a mode over distance d km:
// slant = 2n*sqrt((d/2n)^2 + h^2).
func ModeDelayMS(mode PropagationMode, dKm float64) float64 {
	for _, m := range modeTable {
		if m.mode != mode {
			continue
		}
		if m.hops == 0 {
			return dKm / lightSpeedKms * 1000
		}
		n := float64(m.hops)
		slant := 2 * n * math.Sqrt(math.Pow(dKm/(2*n), 2)+m.heightKm*m.heightKm)
		return slant / lightSpeedKms * 1000
	}
	return 0
}

// Solve turns one time-snap detection into a graded measurement.
// ok is false when no candidate mode is usable.
func (s *Solver) Solve(det ToneDetection, freqHz float64, discConf float64) (Measurement, bool) {
	dKm := s.DistanceKm(det.Station)
	if dKm == 0 {
		return Measurement{}, false
	}

	night := s.pathIsNight(det)

	type scored struct {
		mode    PropagationMode
		delayMS float64
		score   float64
		fit     float64
		disp    float64
	}
	var candidates []scored
	var best scored
	for _, m := range modeTable {
		delay := ModeDelayMS(m.mode, dKm)
		resid := det.TimingErrorMS - delay
		fit := math.Exp(-resid * resid / (2 * s.ResidualSigmaMS * s.ResidualSigmaMS))
		snr := 1 - math.Abs(det.SNRdB-m.idealSNR)/30
		if snr < 0 {
			snr = 0
		}
		tod := timeOfDayScore(m.mode, night, freqHz)

		sc := scored{
			mode:    m.mode,
			delayMS: delay,
			score:   0.6*fit + 0.25*snr + 0.15*tod,
			fit:     fit,
			disp:    m.dispersionMS,
		}
		candidates = append(candidates, sc)
		if sc.score > best.score {
			best = sc
		}
	}

	if best.score <= 0 {
		return Measurement{}, false
	}

	dclock := det.TimingErrorMS - best.delayMS
	residual := math.Abs(dclock)

	// Mode dominance is judged on the residual fit alone: the SNR and
	// time-of-day priors are shared context, not evidence that this
	// particular delay was observed.
	otherFit := 0.0
	for _, sc := range candidates {
		if sc.mode != best.mode && sc.fit > otherFit {
			otherFit = sc.fit
		}
	}
	ratio := math.Inf(1)
	if otherFit > 0 {
		ratio = best.fit / otherFit
	}
	grade := gradeOf(det.SNRdB, ratio, best.score)

	unc := math.Sqrt(0.1*0.1 + residual*residual*0.01 + best.disp*best.disp)

	m := Measurement{
		Station:            det.Station,
		FrequencyHz:        freqHz,
		ArrivalUTC:         det.TimestampUTC,
		ExpectedUTC:        det.TimestampUTC - det.TimingErrorMS/1000.0,
		Mode:               best.mode,
		PropagationDelay:   best.delayMS,
		DClockMS:           dclock,
		UncertaintyMS:      unc,
		SNRdB:              det.SNRdB,
		Grade:              grade,
		DiscriminationConf: discConf,
	}

	s.log.Debug().
		Str("station", string(det.Station)).
		Str("mode", string(best.mode)).
		Float64("d_clock_ms", dclock).
		Str("grade", grade.String()).
		Msg("Clock offset solved")
	return m, true
}

func gradeOf(snrDB, modeRatio, bestScore float64) QualityGrade {
	if bestScore < 0.05 {
		// Timing error inconsistent with every candidate mode.
		return GradeF
	}
	switch {
	case snrDB >= 30 && modeRatio >= 3:
		return GradeA
	case snrDB >= 20 && modeRatio >= 2:
		return GradeB
	case snrDB >= 10:
		return GradeC
	}
	return GradeD
}

func timeOfDayScore(mode PropagationMode, night bool, freqHz float64) float64 {
	high := freqHz >= 10e6
	if night {
		switch mode {
		case Mode1E:
			// The E layer decays after sunset.
			return 0.2
		case Mode2F, Mode3F:
			if high {
				return 1.0
			}
			return 0.8
		}
		return 0.6
	}
	switch mode {
	case Mode1E:
		return 1.0
	case Mode3F:
		return 0.5
	}
	return 0.8
}

// pathIsNight approximates day/night from local solar time at the path
// midpoint.
func (s *Solver) pathIsNight(det ToneDetection) bool {
	site, ok := stationSites[det.Station]
	if !ok {
		return false
	}
	midLonDeg := (site.Lng.Degrees() + s.receiver.Lng.Degrees()) / 2

	utcHours := math.Mod(det.TimestampUTC/3600.0, 24)
	if utcHours < 0 {
		utcHours += 24
	}
	solar := math.Mod(utcHours+midLonDeg/15.0+24, 24)
	return solar < 6 || solar > 18
}
