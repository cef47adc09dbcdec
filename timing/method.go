// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"github.com/mijahauan/signal-recorder-sub006/archive"
)

// Method vote weights. The vote is weighted, not unanimous: any method
// may abstain without invalidating the minute.
const (
	WeightTimingTones = 10.0
	WeightTickWindows = 8.0
	WeightStationID   = 15.0
	WeightBCD         = 10.0
	WeightTestSignal  = 12.0
)

// MinuteContext is the shared input every discrimination method sees.
type MinuteContext struct {
	Minute *archive.Minute
	// Audio is the minute's envelope at Rate (the detector's 3 kHz).
	Audio []float64
	Rate  int

	Detections   []ToneDetection
	MinuteOfHour int
	Doppler      DopplerEstimate
}

// minSignalPower is the absolute floor below which a Goertzel bin is
// numeric residue, not signal. Keeps silent minutes from producing
// noise-against-noise ratios.
const minSignalPower = 1e-12

func (c *MinuteContext) span(startSec, endSec float64) []float64 {
	start := int(startSec * float64(c.Rate))
	end := int(endSec * float64(c.Rate))
	if start < 0 {
		start = 0
	}
	if end > len(c.Audio) {
		end = len(c.Audio)
	}
	if start >= end {
		return nil
	}
	return c.Audio[start:end]
}

// MethodVote is one method's contribution. An empty Station abstains.
type MethodVote struct {
	Method     string
	Station    Station
	Weight     float64
	Confidence float64
	// Metrics carries method-specific numbers for the quality sink.
	Metrics map[string]float64
}

func abstain(method string, metrics map[string]float64) MethodVote {
	return MethodVote{Method: method, Metrics: metrics}
}

// Method is one independent discrimination analysis. Adding a sixth
// method is purely additive: implement and append to the engine list.
type Method interface {
	Name() string
	Analyze(ctx *MinuteContext) MethodVote
}
