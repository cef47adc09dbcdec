// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mijahauan/signal-recorder-sub006/timing"
)

// ChannelStatus is the rolling per-channel operator view, written to
// phase2/{CHANNEL}/state/channel-status.json.
type ChannelStatus struct {
	UpdatedUTC float64 `json:"updated_utc"`

	SSRC        uint32  `json:"ssrc"`
	FrequencyHz float64 `json:"frequency_hz"`

	TimeBaseAnchorUTC float64 `json:"timebase_anchor_utc"`
	TimeBaseEpoch     int     `json:"timebase_epoch"`

	CompletenessPct float64 `json:"completeness_pct"`
	PacketLossPct   float64 `json:"packet_loss_pct"`
	LastMinuteUTC   int64   `json:"last_minute_utc"`

	LatestSNRdB    float64 `json:"latest_snr_db"`
	LatestStation  string  `json:"latest_station"`
	TimeSnapMS     float64 `json:"time_snap_ms"`
	TimeSnapValid  bool    `json:"time_snap_valid"`
	SenderReportNTP uint64 `json:"sender_report_ntp,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// GPSDOStatus is the system-wide anchor view, status/gpsdo_status.json.
type GPSDOStatus struct {
	UpdatedUTC    float64            `json:"updated_utc"`
	State         timing.AnchorState `json:"anchor_state"`
	DClockFusedMS float64            `json:"d_clock_fused_ms"`
	UncertaintyMS float64            `json:"uncertainty_ms"`
	NBroadcasts   int                `json:"n_broadcasts"`
}

// TimingStatus summarizes the timing stack, status/timing_status.json.
type TimingStatus struct {
	UpdatedUTC   float64                     `json:"updated_utc"`
	State        timing.AnchorState          `json:"anchor_state"`
	Calibrations []timing.StationCalibration `json:"calibrations"`
	LastFused    *timing.FusedClock          `json:"last_fused,omitempty"`
}

// writeJSONAtomic writes through a temp file and renames, so readers
// never observe a torn document.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WriteChannelStatus updates the per-channel rolling status file.
func WriteChannelStatus(root, channelDir string, st *ChannelStatus) error {
	return writeJSONAtomic(filepath.Join(root, "phase2", channelDir, "state", "channel-status.json"), st)
}

// ReadChannelStatus loads the rolling status, zero value when absent.
func ReadChannelStatus(root, channelDir string) (ChannelStatus, error) {
	var st ChannelStatus
	data, err := os.ReadFile(filepath.Join(root, "phase2", channelDir, "state", "channel-status.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}

// WriteGPSDOStatus updates status/gpsdo_status.json.
func WriteGPSDOStatus(root string, st *GPSDOStatus) error {
	return writeJSONAtomic(filepath.Join(root, "status", "gpsdo_status.json"), st)
}

// WriteTimingStatus updates status/timing_status.json.
func WriteTimingStatus(root string, st *TimingStatus) error {
	return writeJSONAtomic(filepath.Join(root, "status", "timing_status.json"), st)
}
