// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"errors"
	"math"
)

var ErrTimeBaseNotBootstrapped = errors.New("media: time-base not bootstrapped")

// TimeBase is the authoritative mapping from 32-bit RTP timestamps to
// absolute UTC for one SSRC. The anchor is set exactly once per epoch
// at stream start, so archive segmentation boundaries never jitter with
// the system clock. An epoch covers one 32-bit RTP wrap centred on the
// anchor: timestamps up to 2^31 samples either side of it (~29.8 h each
// way at 20 kHz) convert monotonically; further out the signed
// difference wraps. A catastrophic stream interruption discards the
// epoch and the next first packet bootstraps a new one.
type TimeBase struct {
	anchorRTP  uint32
	anchorUTC  float64 // seconds since Unix epoch
	sampleRate uint32
	epoch      int
	valid      bool
}

func NewTimeBase(sampleRate uint32) *TimeBase {
	return &TimeBase{sampleRate: sampleRate}
}

// Bootstrap sets the anchor for a new epoch. Calling it while an epoch
// is live is a programming error; Reset first.
func (tb *TimeBase) Bootstrap(rtpTS uint32, sysUTC float64) {
	tb.anchorRTP = rtpTS
	tb.anchorUTC = sysUTC
	tb.epoch++
	tb.valid = true
}

// Reset discards the current epoch.
func (tb *TimeBase) Reset() {
	tb.valid = false
}

// Valid reports whether an epoch is live.
func (tb *TimeBase) Valid() bool { return tb.valid }

// Epoch returns the bootstrap generation, starting at 1.
func (tb *TimeBase) Epoch() int { return tb.epoch }

// SampleRate returns the stream sample rate the mapping is scaled by.
func (tb *TimeBase) SampleRate() uint32 { return tb.sampleRate }

// ToUTC converts an RTP timestamp to absolute UTC seconds. The signed
// 32-bit difference keeps the conversion exact across counter wrap.
func (tb *TimeBase) ToUTC(rtpTS uint32) float64 {
	d := int32(rtpTS - tb.anchorRTP)
	return tb.anchorUTC + float64(d)/float64(tb.sampleRate)
}

// SampleIndexForUTC inverts ToUTC: the signed sample offset from the
// anchor of the sample nearest to utc.
func (tb *TimeBase) SampleIndexForUTC(utc float64) int64 {
	return int64(math.Round((utc - tb.anchorUTC) * float64(tb.sampleRate)))
}

// RTPTimestampForUTC returns the (wrapped) RTP timestamp at utc.
func (tb *TimeBase) RTPTimestampForUTC(utc float64) uint32 {
	return tb.anchorRTP + uint32(tb.SampleIndexForUTC(utc))
}

// AnchorUTC returns the epoch anchor in UTC seconds.
func (tb *TimeBase) AnchorUTC() float64 { return tb.anchorUTC }

// AnchorRTP returns the epoch anchor RTP timestamp.
func (tb *TimeBase) AnchorRTP() uint32 { return tb.anchorRTP }
