// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"time"
)

// GapSource classifies why a stretch of samples was not delivered.
type GapSource string

const (
	GapNetworkLoss        GapSource = "network_loss"
	GapResequenceTimeout  GapSource = "resequence_timeout"
	GapEmptyPayload       GapSource = "empty_payload"
	GapStreamStart        GapSource = "stream_start"
	GapStreamInterruption GapSource = "stream_interruption"
)

// GapEvent describes a zero-filled hole in the reconstructed stream.
// PositionSamples is strictly increasing within one stream.
type GapEvent struct {
	Source          GapSource
	PositionSamples uint64
	DurationSamples uint32
	// TimestampUTC is filled by the assembler once the time-base exists.
	TimestampUTC    float64
	PacketsAffected int
}

// StreamQuality is cumulative accounting over a stream lifetime.
// Invariant once the stream has progressed past a position:
//
//	SamplesDelivered + GapSamples == SamplesExpected
type StreamQuality struct {
	SamplesDelivered uint64
	SamplesExpected  uint64
	GapCount         uint64
	GapSamples       uint64

	PacketsReceived  uint64
	PacketsExpected  uint64
	PacketsLost      uint64
	PacketsLate      uint64
	PacketsDuplicate uint64

	StreamStart time.Time
	LastPacket  time.Time
}

// CompletenessPct is delivered/expected in percent. 100 when no samples
// were expected yet.
func (q *StreamQuality) CompletenessPct() float64 {
	if q.SamplesExpected == 0 {
		return 100.0
	}
	return 100.0 * float64(q.SamplesDelivered) / float64(q.SamplesExpected)
}

func (q *StreamQuality) PacketLossPct() float64 {
	if q.PacketsExpected == 0 {
		return 0.0
	}
	return 100.0 * float64(q.PacketsLost) / float64(q.PacketsExpected)
}

// Sub returns the delta accumulated since prev. Time fields carry the
// current values.
func (q StreamQuality) Sub(prev StreamQuality) StreamQuality {
	return StreamQuality{
		SamplesDelivered: q.SamplesDelivered - prev.SamplesDelivered,
		SamplesExpected:  q.SamplesExpected - prev.SamplesExpected,
		GapCount:         q.GapCount - prev.GapCount,
		GapSamples:       q.GapSamples - prev.GapSamples,
		PacketsReceived:  q.PacketsReceived - prev.PacketsReceived,
		PacketsExpected:  q.PacketsExpected - prev.PacketsExpected,
		PacketsLost:      q.PacketsLost - prev.PacketsLost,
		PacketsLate:      q.PacketsLate - prev.PacketsLate,
		PacketsDuplicate: q.PacketsDuplicate - prev.PacketsDuplicate,
		StreamStart:      q.StreamStart,
		LastPacket:       q.LastPacket,
	}
}
