// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mijahauan/signal-recorder-sub006/archive"
)

// Dominant is the per-minute station determination.
type Dominant string

const (
	DominantWWV      Dominant = "WWV"
	DominantWWVH     Dominant = "WWVH"
	DominantBalanced Dominant = "BALANCED"
	DominantUnknown  Dominant = "UNKNOWN"
)

// ConfidenceLevel grades the vote margin.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// DiscriminationResult is one minute's fused station determination on
// a shared channel.
type DiscriminationResult struct {
	BoundaryUTC int64
	Votes       []MethodVote

	DominantStation Dominant
	Confidence      ConfidenceLevel

	// DifferentialDelayMS is the WWVH-WWV BCD correlation peak offset.
	DifferentialDelayMS float64
	Doppler             DopplerEstimate
	DelaySpreadMS       float64
}

// Discriminator runs the five analyses on WWV_shared channels, once
// per minute, and fuses them by weighted vote.
type Discriminator struct {
	methods []Method
	bcd     *bcdMethod

	// HighFraction/MediumFraction are the vote-share cutoffs.
	HighFraction   float64
	MediumFraction float64

	log zerolog.Logger
}

func NewDiscriminator() *Discriminator {
	bcd := newBCDMethod()
	return &Discriminator{
		methods: []Method{
			newTimingTonesMethod(),
			newTickWindowsMethod(),
			newStationIDMethod(),
			bcd,
			newTestSignalMethod(),
		},
		bcd:            bcd,
		HighFraction:   0.7,
		MediumFraction: 0.55,
		log:            log.With().Str("caller", "timing").Str("engine", "discrimination").Logger(),
	}
}

// Analyze fuses the five methods for one minute. Any method may
// abstain without invalidating the minute.
func (d *Discriminator) Analyze(m *archive.Minute, audio []float64, rate int, detections []ToneDetection) DiscriminationResult {
	ctx := &MinuteContext{
		Minute:       m,
		Audio:        audio,
		Rate:         rate,
		Detections:   detections,
		MinuteOfHour: m.MinuteOfHour(),
		Doppler:      EstimateDoppler(audio, rate, ToneWWV.FreqHz),
	}

	res := DiscriminationResult{
		BoundaryUTC: m.BoundaryUTC,
		Doppler:     ctx.Doppler,
	}

	for _, meth := range d.methods {
		res.Votes = append(res.Votes, meth.Analyze(ctx))
	}

	res.DifferentialDelayMS = d.bcd.DifferentialDelayMS()
	res.DelaySpreadMS = d.bcd.DelaySpreadMS()

	res.DominantStation, res.Confidence = d.tally(res.Votes)

	d.log.Debug().
		Int64("minute", m.BoundaryUTC).
		Str("dominant", string(res.DominantStation)).
		Str("confidence", string(res.Confidence)).
		Msg("Discrimination complete")
	return res
}

func (d *Discriminator) tally(votes []MethodVote) (Dominant, ConfidenceLevel) {
	var wwv, wwvh float64
	for _, v := range votes {
		switch v.Station {
		case StationWWV:
			wwv += v.Weight
		case StationWWVH:
			wwvh += v.Weight
		}
	}

	cast := wwv + wwvh
	if cast == 0 {
		return DominantUnknown, ConfidenceLow
	}
	if wwv == wwvh {
		return DominantBalanced, ConfidenceLow
	}

	top := wwv
	dom := DominantWWV
	if wwvh > wwv {
		top = wwvh
		dom = DominantWWVH
	}

	frac := top / cast
	switch {
	case frac >= d.HighFraction:
		return dom, ConfidenceHigh
	case frac >= d.MediumFraction:
		return dom, ConfidenceMedium
	}
	return dom, ConfidenceLow
}
