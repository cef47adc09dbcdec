// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

// Package recorder wires the data plane and the timing stack into the
// per-channel pipelines and owns their lifecycles.
package recorder

import (
	"fmt"
	"strings"

	"github.com/mijahauan/signal-recorder-sub006/config"
	"github.com/mijahauan/signal-recorder-sub006/timing"
)

// Channel is one configured capture: an SSRC bound to a frequency and
// a station family.
type Channel struct {
	config.Channel
	Family timing.StationFamily
}

func NewChannel(cc config.Channel) Channel {
	return Channel{Channel: cc, Family: timing.FamilyForFrequency(cc.FrequencyHz)}
}

// DisplayName is the human form, e.g. "WWV 10 MHz". The configured
// description wins; otherwise it is derived from family and frequency.
func (c Channel) DisplayName() string {
	if c.Description != "" {
		return c.Description
	}
	station := "WWV"
	if c.Family == timing.FamilyCHU {
		station = "CHU"
	}
	return fmt.Sprintf("%s %s MHz", station, trimMHz(c.FrequencyHz))
}

// DirName is the filesystem form of the display name: "WWV_10_MHz".
func (c Channel) DirName() string {
	return DirNameFor(c.DisplayName())
}

// Key is the compact form: "wwv10".
func (c Channel) Key() string {
	return KeyFor(c.DisplayName())
}

// DirNameFor converts a display name to its directory form.
func DirNameFor(display string) string {
	return strings.ReplaceAll(strings.TrimSpace(display), " ", "_")
}

// KeyFor converts a display name to its key form: lowercase station
// letters plus the frequency with "." spelled as "p".
// "WWV 10 MHz" -> wwv10, "WWV 2.5 MHz" -> wwv2p5.
func KeyFor(display string) string {
	fields := strings.Fields(display)
	if len(fields) == 0 {
		return ""
	}
	key := strings.ToLower(fields[0])
	if len(fields) > 1 {
		num := strings.ReplaceAll(fields[1], ".", "p")
		num = strings.TrimSuffix(num, "p0")
		key += num
	}
	return key
}

func trimMHz(freqHz float64) string {
	s := fmt.Sprintf("%g", freqHz/1e6)
	return s
}
