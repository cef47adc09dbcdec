// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssembler(t *testing.T) (*Assembler, <-chan Segment) {
	t.Helper()
	a := NewAssembler(StreamConfig{SSRC: 7, SampleRate: 20000, SubscriberMinutes: 1})
	sub := a.Subscribe("test")
	return a, sub
}

func drainSegments(ch <-chan Segment) []Segment {
	var out []Segment
	for {
		select {
		case s := <-ch:
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestAssemblerBootstrapAndPublish(t *testing.T) {
	a, sub := newTestAssembler(t)
	now := time.Now()

	res := a.rs.Submit(1000, testSamples(0), false, now)
	require.NoError(t, a.publish(res, now))

	segs := drainSegments(sub)
	require.Len(t, segs, 2)

	// First a stream_start marker, then the samples.
	require.NotNil(t, segs[0].Gap)
	assert.Equal(t, GapStreamStart, segs[0].Gap.Source)
	assert.Empty(t, segs[0].Samples)

	assert.Len(t, segs[1].Samples, testPacketSamples)
	assert.Equal(t, 1, segs[1].Epoch)
	assert.Equal(t, a.tb.AnchorUTC(), segs[1].UTC)

	require.True(t, a.tb.Valid())
	assert.Equal(t, uint32(1000), a.tb.AnchorRTP())
}

func TestAssemblerSegmentUTCAdvances(t *testing.T) {
	a, sub := newTestAssembler(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		res := a.rs.Submit(uint32(1000+i*testPacketSamples), testSamples(i), false, now)
		require.NoError(t, a.publish(res, now))
	}

	segs := drainSegments(sub)
	require.Len(t, segs, 6) // start marker + 5 batches

	// UTC is float64 seconds since 1970; near 1.7e9 s one unit in the
	// last place is ~2.4e-7 s, so the step is checked to 1e-6 s.
	step := float64(testPacketSamples) / 20000.0
	for i := 2; i < len(segs); i++ {
		assert.InDelta(t, step, segs[i].UTC-segs[i-1].UTC, 1e-6)
	}
}

func TestAssemblerInterruptionRebootstraps(t *testing.T) {
	a, sub := newTestAssembler(t)
	now := time.Now()

	require.NoError(t, a.publish(a.rs.Submit(1000, testSamples(0), false, now), now))
	firstAnchor := a.tb.AnchorUTC()
	drainSegments(sub)

	// 25 s jump: catastrophic.
	jump := uint32(1000 + testPacketSamples + 25*20000)
	res := a.rs.Submit(jump, testSamples(1), false, now.Add(time.Second))
	require.True(t, res.Interrupted)
	require.NoError(t, a.publish(res, now.Add(time.Second)))

	segs := drainSegments(sub)
	// Interruption marker, new stream_start marker, then the batch.
	require.Len(t, segs, 3)
	assert.Equal(t, GapStreamInterruption, segs[0].Gap.Source)
	assert.Equal(t, GapStreamStart, segs[1].Gap.Source)
	assert.Equal(t, 2, segs[2].Epoch)

	require.True(t, a.tb.Valid())
	assert.Equal(t, 2, a.tb.Epoch())
	assert.Equal(t, jump, a.tb.AnchorRTP())
	assert.Greater(t, a.tb.AnchorUTC(), firstAnchor)
}

func TestAssemblerGapSegmentsCarryEvents(t *testing.T) {
	a, sub := newTestAssembler(t)
	a.rs.Capacity = 2
	now := time.Now()

	require.NoError(t, a.publish(a.rs.Submit(0, testSamples(0), false, now), now))
	// Drop one packet, then overflow the tiny buffer.
	for i := 2; i <= 5; i++ {
		require.NoError(t, a.publish(a.rs.Submit(uint32(i*testPacketSamples), testSamples(i), false, now), now))
	}

	segs := drainSegments(sub)
	var gapSegs []Segment
	for _, s := range segs {
		if s.Gap != nil && s.Fill {
			gapSegs = append(gapSegs, s)
		}
	}
	require.Len(t, gapSegs, 1)
	g := gapSegs[0]
	assert.Equal(t, GapNetworkLoss, g.Gap.Source)
	assert.Equal(t, uint32(testPacketSamples), g.Gap.DurationSamples)
	assert.NotZero(t, g.Gap.TimestampUTC)
	// The fill segment's zeros stand in for the lost packet.
	assert.Len(t, g.Samples, testPacketSamples)
}

func TestAssemblerSubscriberOverflowIsFatal(t *testing.T) {
	a := NewAssembler(StreamConfig{SSRC: 7, SampleRate: 20000, SubscriberMinutes: 1})
	// A one-slot subscriber that nobody drains.
	a.subs = append(a.subs, subscriber{name: "stuck", ch: make(chan Segment, 1)})
	now := time.Now()

	err := a.publish(a.rs.Submit(0, testSamples(0), false, now), now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscriberOverflow)
}
