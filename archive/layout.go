// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package archive

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"
)

var (
	dayPattern  = mustPattern("%Y%m%d")
	hourPattern = mustPattern("%Y-%m-%dT%H")
)

func mustPattern(p string) *strftime.Strftime {
	f, err := strftime.New(p)
	if err != nil {
		panic(err)
	}
	return f
}

// DayKey renders a UTC instant as YYYYMMDD.
func DayKey(t time.Time) string {
	return dayPattern.FormatString(t.UTC())
}

// HourKey renders a UTC instant as YYYY-MM-DDTHH.
func HourKey(t time.Time) string {
	return hourPattern.FormatString(t.UTC())
}

// MinuteDir is raw_archive/{CHANNEL}/{YYYYMMDD}/{YYYY-MM-DDTHH} for the
// given minute boundary.
func MinuteDir(root, channelDir string, boundaryUTC int64) string {
	t := time.Unix(boundaryUTC, 0).UTC()
	return filepath.Join(root, "raw_archive", channelDir, DayKey(t), HourKey(t))
}

// MinutePath names a record by the absolute sample index of its first
// real sample.
func MinutePath(root, channelDir string, m *Minute) string {
	return filepath.Join(MinuteDir(root, channelDir, m.BoundaryUTC), fmt.Sprintf("%020d.wav", m.StartPosition))
}

// SidecarPath is the metadata record alongside a minute file.
func SidecarPath(wavPath string) string {
	return wavPath[:len(wavPath)-len(".wav")] + ".json"
}
