// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mijahauan/signal-recorder-sub006/timing"
)

// AnalyticsState is the per-channel service persistence: calibration
// tables and the resume point, state/analytics-{key}.json.
type AnalyticsState struct {
	ChannelKey    string                      `json:"channel_key"`
	LastMinuteUTC int64                       `json:"last_minute_utc"`
	Calibrations  []timing.StationCalibration `json:"calibrations"`

	TimeSnapMS    float64 `json:"time_snap_ms"`
	TimeSnapValid bool    `json:"time_snap_valid"`
}

func statePath(root, key string) string {
	return filepath.Join(root, "state", fmt.Sprintf("analytics-%s.json", key))
}

// SaveAnalyticsState persists atomically.
func SaveAnalyticsState(root string, st *AnalyticsState) error {
	if st.ChannelKey == "" {
		return fmt.Errorf("store: analytics state needs a channel key")
	}
	return writeJSONAtomic(statePath(root, st.ChannelKey), st)
}

// LoadAnalyticsState returns the persisted state, or a zero state when
// none exists yet.
func LoadAnalyticsState(root, key string) (AnalyticsState, error) {
	st := AnalyticsState{ChannelKey: key}
	data, err := os.ReadFile(statePath(root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("store: corrupt analytics state for %s: %w", key, err)
	}
	return st, nil
}
