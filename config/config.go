// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

// Package config defines the typed configuration record the recorder
// core consumes, with YAML unmarshalling, defaults and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Station identifies the receiving site.
type Station struct {
	Callsign string `yaml:"callsign"`
	// Grid is the Maidenhead locator of the antenna.
	Grid   string `yaml:"grid"`
	SiteID string `yaml:"site_id"`
}

// Channel configures one SSRC to capture.
type Channel struct {
	SSRC        uint32  `yaml:"ssrc"`
	FrequencyHz float64 `yaml:"frequency_hz"`
	Preset      string  `yaml:"preset"`
	SampleRate  uint32  `yaml:"sample_rate"`
	Description string  `yaml:"description"`
	Enabled     bool    `yaml:"enabled"`
	// Float32 marks streams radiod emits as float32 pairs.
	Float32 bool `yaml:"float32"`
}

// Capture tunes the data plane.
type Capture struct {
	ResequenceBuffer   int     `yaml:"resequence_buffer"`
	CatastrophicGapSec float64 `yaml:"catastrophic_gap_sec"`
	HoldoverMS         int     `yaml:"holdover_ms"`
	SubscriberMinutes  int     `yaml:"subscriber_minutes"`
	Interface          string  `yaml:"interface"`
}

// Timing tunes the analytics stack.
type Timing struct {
	TimeSnapErrorMS float64 `yaml:"time_snap_error_ms"`
	FusionAlpha     float64 `yaml:"fusion_alpha"`
	TemplateSeconds float64 `yaml:"template_seconds"`
}

// Config is the opaque record handed to the recorder.
type Config struct {
	Station Station `yaml:"station"`
	// StatusAddr is radiod's status/control multicast address.
	StatusAddr string `yaml:"status_addr"`
	// DataAddr is the RTP multicast group the channels arrive on.
	DataAddr string `yaml:"data_addr"`
	// DataRoot anchors all persisted state.
	DataRoot string `yaml:"data_root"`

	Channels []Channel `yaml:"channels"`
	Capture  Capture   `yaml:"capture"`
	Timing   Timing    `yaml:"timing"`
}

// Default returns the production defaults; the YAML file overrides.
func Default() Config {
	return Config{
		Capture: Capture{
			ResequenceBuffer:   64,
			CatastrophicGapSec: 20,
			HoldoverMS:         100,
			SubscriberMinutes:  8,
		},
		Timing: Timing{
			TimeSnapErrorMS: 50,
			FusionAlpha:     0.5,
		},
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the record. Violations are fatal at startup.
func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("%w: data_root must be set", ErrInvalidConfig)
	}
	if c.DataAddr == "" {
		return fmt.Errorf("%w: data_addr must be set", ErrInvalidConfig)
	}
	if _, err := net.ResolveUDPAddr("udp4", c.DataAddr); err != nil {
		return fmt.Errorf("%w: data_addr %q: %v", ErrInvalidConfig, c.DataAddr, err)
	}
	if c.StatusAddr != "" {
		if _, err := net.ResolveUDPAddr("udp4", c.StatusAddr); err != nil {
			return fmt.Errorf("%w: status_addr %q: %v", ErrInvalidConfig, c.StatusAddr, err)
		}
	}

	enabled := 0
	seen := map[uint32]bool{}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if !ch.Enabled {
			continue
		}
		enabled++
		if ch.SSRC == 0 {
			return fmt.Errorf("%w: channel %d needs a nonzero ssrc", ErrInvalidConfig, i)
		}
		if seen[ch.SSRC] {
			return fmt.Errorf("%w: duplicate ssrc %d", ErrInvalidConfig, ch.SSRC)
		}
		seen[ch.SSRC] = true
		if ch.FrequencyHz <= 0 {
			return fmt.Errorf("%w: channel ssrc %d needs a frequency", ErrInvalidConfig, ch.SSRC)
		}
		if ch.SampleRate == 0 {
			ch.SampleRate = 20000
		}
	}
	if enabled == 0 {
		return fmt.Errorf("%w: no enabled channels", ErrInvalidConfig)
	}
	return nil
}

// EnabledChannels returns the channels that should run.
func (c *Config) EnabledChannels() []Channel {
	var out []Channel
	for _, ch := range c.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}
