// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

// Package timing extracts UTC(NIST) timing and propagation diagnostics
// from HF time-standard broadcasts: tone detection, WWV/WWVH
// discrimination, transmission-time solving and multi-broadcast fusion.
package timing

import (
	"fmt"
)

// Station is an HF time-standard transmitter.
type Station string

const (
	StationWWV  Station = "WWV"
	StationWWVH Station = "WWVH"
	StationCHU  Station = "CHU"
)

// StationFamily classifies what a channel can carry.
type StationFamily int

const (
	// FamilyWWVOnly: 20/25 MHz, WWV only.
	FamilyWWVOnly StationFamily = iota
	// FamilyWWVShared: 2.5/5/10/15 MHz, WWV and WWVH share the channel.
	FamilyWWVShared
	// FamilyCHU: CHU frequencies.
	FamilyCHU
)

func (f StationFamily) String() string {
	switch f {
	case FamilyWWVOnly:
		return "wwv_only"
	case FamilyWWVShared:
		return "wwv_shared"
	case FamilyCHU:
		return "chu"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// FamilyForFrequency derives the family from the channel frequency.
func FamilyForFrequency(freqHz float64) StationFamily {
	mhz := freqHz / 1e6
	switch {
	case mhz == 3.33 || mhz == 7.85 || mhz == 14.67:
		return FamilyCHU
	case mhz >= 20:
		return FamilyWWVOnly
	default:
		return FamilyWWVShared
	}
}

// ToneTemplate describes one minute-marker tone.
type ToneTemplate struct {
	Station     Station
	FreqHz      float64
	DurationSec float64
}

var (
	// ToneWWV is the 800 ms 1000 Hz minute marker.
	ToneWWV = ToneTemplate{Station: StationWWV, FreqHz: 1000, DurationSec: 0.8}
	// ToneWWVH is the 800 ms 1200 Hz minute marker.
	ToneWWVH = ToneTemplate{Station: StationWWVH, FreqHz: 1200, DurationSec: 0.8}
	// ToneCHU is the 500 ms 1000 Hz top-of-minute marker.
	ToneCHU = ToneTemplate{Station: StationCHU, FreqHz: 1000, DurationSec: 0.5}
)

// TemplatesForFamily selects which templates a channel is searched
// with. Shared channels search both stations at once; both may be
// present.
func TemplatesForFamily(f StationFamily) []ToneTemplate {
	switch f {
	case FamilyWWVOnly:
		return []ToneTemplate{ToneWWV}
	case FamilyWWVShared:
		return []ToneTemplate{ToneWWV, ToneWWVH}
	case FamilyCHU:
		return []ToneTemplate{ToneCHU}
	}
	return nil
}

// ToneDetection is one accepted matched-filter peak.
type ToneDetection struct {
	Station     Station
	FrequencyHz float64
	DurationSec float64
	// TimestampUTC is the refined tone onset in the time-base frame.
	TimestampUTC float64
	// TimingErrorMS is onset minus the nominal minute boundary.
	TimingErrorMS   float64
	SNRdB           float64
	Confidence      float64
	CorrelationPeak float64
	NoiseFloor      float64
	TonePowerDB     float64
	// UseForTimeSnap is false for WWVH: its detections feed propagation
	// diagnostics only.
	UseForTimeSnap bool
}
