// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math"
)

// The 100 Hz BCD subcarrier carries the time code at one bit per
// second: 0.2 s pulse for 0, 0.5 s for 1, 0.8 s for position markers.
const (
	BCDSubcarrierHz = 100.0

	bcdPulseZero   = 0.2
	bcdPulseOne    = 0.5
	bcdPulseMarker = 0.8
)

// Seconds with no usable subcarrier per station (announcement and
// station-specific segments). These masks are what makes the two
// templates distinguishable by correlation.
var (
	wwvQuietSeconds  = secondsSet(43, 44, 45, 46, 47, 48, 49, 50, 51, 52)
	wwvhQuietSeconds = secondsSet(5, 6, 7, 8, 9, 10, 11, 12, 13, 14)
)

func secondsSet(ss ...int) map[int]bool {
	m := make(map[int]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// bcdBit returns the code bit transmitted in second s for the given
// minute of day: BCD minute units/tens, then hour units/tens.
func bcdBit(minuteOfDay, s int) (bit bool, marker bool) {
	if s == 0 || s%10 == 9 {
		return false, true
	}
	minute := minuteOfDay % 60
	hour := minuteOfDay / 60

	switch {
	case s >= 1 && s <= 4: // minute units, LSB first
		return (minute%10)>>(s-1)&1 == 1, false
	case s >= 5 && s <= 7: // minute tens
		return (minute/10)>>(s-5)&1 == 1, false
	case s >= 11 && s <= 14: // hour units
		return (hour%10)>>(s-11)&1 == 1, false
	case s >= 15 && s <= 16: // hour tens
		return (hour/10)>>(s-15)&1 == 1, false
	}
	return false, false
}

// BCDTemplate renders the station's expected 100 Hz subcarrier
// waveform for the given minute, seconds long at rate, unit energy.
func BCDTemplate(station Station, minuteOfDay int, rate int, seconds int) []float64 {
	out := make([]float64, seconds*rate)
	quiet := wwvQuietSeconds
	if station == StationWWVH {
		quiet = wwvhQuietSeconds
	}

	for s := 0; s < seconds; s++ {
		if quiet[s] {
			continue
		}
		bit, marker := bcdBit(minuteOfDay, s)
		dur := bcdPulseZero
		if marker {
			dur = bcdPulseMarker
		} else if bit {
			dur = bcdPulseOne
		}
		n := int(dur * float64(rate))
		base := s * rate
		for i := 0; i < n && base+i < len(out); i++ {
			out[base+i] = math.Sin(2 * math.Pi * BCDSubcarrierHz * float64(i) / float64(rate))
		}
	}

	var energy float64
	for _, v := range out {
		energy += v * v
	}
	if energy > 0 {
		norm := math.Sqrt(energy)
		for i := range out {
			out[i] /= norm
		}
	}
	return out
}
