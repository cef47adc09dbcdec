// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mijahauan/signal-recorder-sub006/config"
	"github.com/mijahauan/signal-recorder-sub006/timing"
)

func TestChannelNaming(t *testing.T) {
	cases := []struct {
		display string
		dir     string
		key     string
	}{
		{"WWV 10 MHz", "WWV_10_MHz", "wwv10"},
		{"WWV 2.5 MHz", "WWV_2.5_MHz", "wwv2p5"},
		{"WWVH 15 MHz", "WWVH_15_MHz", "wwvh15"},
		{"CHU 7.85 MHz", "CHU_7.85_MHz", "chu7p85"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.dir, DirNameFor(tc.display))
		assert.Equal(t, tc.key, KeyFor(tc.display))
	}
}

func TestChannelDerivedNames(t *testing.T) {
	ch := NewChannel(config.Channel{SSRC: 1, FrequencyHz: 10e6, Enabled: true})
	assert.Equal(t, "WWV 10 MHz", ch.DisplayName())
	assert.Equal(t, "WWV_10_MHz", ch.DirName())
	assert.Equal(t, "wwv10", ch.Key())

	chu := NewChannel(config.Channel{SSRC: 2, FrequencyHz: 3.33e6, Enabled: true})
	assert.Equal(t, timing.FamilyCHU, chu.Family)
	assert.Equal(t, "CHU 3.33 MHz", chu.DisplayName())

	// A configured description wins over derivation.
	named := NewChannel(config.Channel{SSRC: 3, FrequencyHz: 10e6, Description: "WWV 10 MHz backup"})
	assert.Equal(t, "WWV 10 MHz backup", named.DisplayName())
}

func TestChannelFamilies(t *testing.T) {
	assert.Equal(t, timing.FamilyWWVShared, NewChannel(config.Channel{FrequencyHz: 2.5e6}).Family)
	assert.Equal(t, timing.FamilyWWVShared, NewChannel(config.Channel{FrequencyHz: 15e6}).Family)
	assert.Equal(t, timing.FamilyWWVOnly, NewChannel(config.Channel{FrequencyHz: 20e6}).Family)
	assert.Equal(t, timing.FamilyWWVOnly, NewChannel(config.Channel{FrequencyHz: 25e6}).Family)
	assert.Equal(t, timing.FamilyCHU, NewChannel(config.Channel{FrequencyHz: 7.85e6}).Family)
	assert.Equal(t, timing.FamilyCHU, NewChannel(config.Channel{FrequencyHz: 14.67e6}).Family)
}
