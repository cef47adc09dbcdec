// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package timing

import (
	"math"
	"sync"
)

// TimeSnap is the refined RTP-to-UTC overlay derived from tone
// arrivals. It is consulted by analytics for UTC(NIST) alignment and
// never mutates the segmentation time-base.
type TimeSnap struct {
	mu sync.Mutex

	// ErrorThresholdMS rejects fused offsets too large to be clock
	// error; a jump beyond it is propagation, not time.
	ErrorThresholdMS float64

	offsetMS   float64
	updatedUTC float64
	valid      bool
}

func NewTimeSnap(errorThresholdMS float64) *TimeSnap {
	if errorThresholdMS == 0 {
		errorThresholdMS = 50.0
	}
	return &TimeSnap{ErrorThresholdMS: errorThresholdMS}
}

// Offer proposes a fused clock offset. Only confident, in-bounds
// values are adopted.
func (ts *TimeSnap) Offer(fc *FusedClock) bool {
	if fc == nil {
		return false
	}
	if fc.State != StateLocked && fc.State != StateConverge {
		return false
	}
	if math.Abs(fc.DClockFusedMS) > ts.ErrorThresholdMS {
		return false
	}

	ts.mu.Lock()
	ts.offsetMS = fc.DClockFusedMS
	ts.updatedUTC = fc.UTC
	ts.valid = true
	ts.mu.Unlock()
	return true
}

// Refine maps a time-base UTC into the UTC(NIST) frame. Identity until
// the first adopted offset.
func (ts *TimeSnap) Refine(utc float64) float64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.valid {
		return utc
	}
	return utc - ts.offsetMS/1000.0
}

// Current returns the adopted offset and whether one exists.
func (ts *TimeSnap) Current() (offsetMS, updatedUTC float64, ok bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.offsetMS, ts.updatedUTC, ts.valid
}
