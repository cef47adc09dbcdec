// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
station:
  callsign: AB0QK
  grid: EM28
  site_id: test-site
status_addr: "239.251.200.1:5006"
data_addr: "239.251.200.2:5004"
data_root: /tmp/recorder
channels:
  - ssrc: 10000000
    frequency_hz: 10000000
    preset: iq
    sample_rate: 20000
    description: WWV 10 MHz
    enabled: true
  - ssrc: 5000000
    frequency_hz: 5000000
    preset: iq
    enabled: false
capture:
  catastrophic_gap_sec: 25
timing:
  fusion_alpha: 0.25
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recorder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "AB0QK", cfg.Station.Callsign)
	assert.Equal(t, "EM28", cfg.Station.Grid)
	assert.Equal(t, "/tmp/recorder", cfg.DataRoot)

	// File overrides merge over defaults.
	assert.Equal(t, 25.0, cfg.Capture.CatastrophicGapSec)
	assert.Equal(t, 64, cfg.Capture.ResequenceBuffer)
	assert.Equal(t, 0.25, cfg.Timing.FusionAlpha)
	assert.Equal(t, 50.0, cfg.Timing.TimeSnapErrorMS)

	enabled := cfg.EnabledChannels()
	require.Len(t, enabled, 1)
	assert.Equal(t, uint32(10000000), enabled[0].SSRC)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no data root", func(c *Config) { c.DataRoot = "" }},
		{"no data addr", func(c *Config) { c.DataAddr = "" }},
		{"bad data addr", func(c *Config) { c.DataAddr = "not-an-addr" }},
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"zero ssrc", func(c *Config) { c.Channels[0].SSRC = 0 }},
		{"no frequency", func(c *Config) { c.Channels[0].FrequencyHz = 0 }},
		{"duplicate ssrc", func(c *Config) {
			c.Channels = append(c.Channels, c.Channels[0])
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleYAML))
			require.NoError(t, err)
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateDefaultsSampleRate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	cfg.Channels[0].SampleRate = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(20000), cfg.Channels[0].SampleRate)
}
