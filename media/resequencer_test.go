// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const testPacketSamples = 320

func testSamples(seed int) []complex64 {
	s := make([]complex64, testPacketSamples)
	for i := range s {
		s[i] = complex(float32(seed), float32(i))
	}
	return s
}

func collectSamples(res SubmitResult) []complex64 {
	var out []complex64
	for _, b := range res.Batches {
		out = append(out, b.Samples...)
	}
	return out
}

func TestResequencerInOrder(t *testing.T) {
	rs := NewResequencer(20000)
	now := time.Now()

	var total int
	for i := 0; i < 10; i++ {
		res := rs.Submit(uint32(i*testPacketSamples), testSamples(i), false, now)
		require.Len(t, res.Batches, 1)
		require.Empty(t, res.Gaps)
		assert.Equal(t, uint64(i*testPacketSamples), res.Batches[0].Position)
		total += len(res.Batches[0].Samples)
	}

	q := rs.Quality()
	assert.Equal(t, uint64(total), q.SamplesDelivered)
	assert.Equal(t, uint64(total), q.SamplesExpected)
	assert.Equal(t, uint64(10), q.PacketsReceived)
	assert.Zero(t, q.GapCount)
}

func TestResequencerReorderWithinWindow(t *testing.T) {
	rs := NewResequencer(20000)
	now := time.Now()

	rs.Submit(0, testSamples(0), false, now)

	// Packet 2 before packet 1: buffered, nothing emitted yet.
	res := rs.Submit(2*testPacketSamples, testSamples(2), false, now)
	require.Empty(t, res.Batches)

	// Packet 1 arrives: both drain in order.
	res = rs.Submit(1*testPacketSamples, testSamples(1), false, now)
	require.Len(t, res.Batches, 2)
	assert.Equal(t, uint32(1*testPacketSamples), res.Batches[0].RTPTimestamp)
	assert.Equal(t, uint32(2*testPacketSamples), res.Batches[1].RTPTimestamp)
	assert.Empty(t, res.Gaps)
}

func TestResequencerOverflowEmitsNetworkLoss(t *testing.T) {
	rs := NewResequencer(20000)
	rs.Capacity = 4
	now := time.Now()

	rs.Submit(0, testSamples(0), false, now)

	// Packet 1 lost. Packets 2..6 overflow the 4 slot buffer.
	var res SubmitResult
	for i := 2; i <= 6; i++ {
		res = rs.Submit(uint32(i*testPacketSamples), testSamples(i), false, now)
	}

	require.Len(t, res.Gaps, 1)
	g := res.Gaps[0]
	assert.Equal(t, GapNetworkLoss, g.Source)
	assert.Equal(t, uint32(testPacketSamples), g.DurationSamples)
	assert.Equal(t, uint64(testPacketSamples), g.PositionSamples)
	assert.Equal(t, 1, g.PacketsAffected)

	// The fill batch plus the five drained packets.
	require.Len(t, res.Batches, 6)
	assert.True(t, res.Batches[0].Fill)
	for _, s := range res.Batches[0].Samples {
		assert.Zero(t, s)
	}

	q := rs.Quality()
	assert.Equal(t, uint64(1), q.PacketsLost)
	assert.Equal(t, q.SamplesExpected, q.SamplesDelivered+q.GapSamples)
	assert.InDelta(t, 100.0*1.0/7.0, q.PacketLossPct(), 0.01)
}

func TestResequencerHoldoverTimeout(t *testing.T) {
	rs := NewResequencer(20000)
	now := time.Now()

	rs.Submit(0, testSamples(0), false, now)
	rs.Submit(2*testPacketSamples, testSamples(2), false, now)

	// Before the holdover deadline nothing fills.
	res := rs.Tick(now.Add(50 * time.Millisecond))
	require.Empty(t, res.Batches)

	res = rs.Tick(now.Add(150 * time.Millisecond))
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, GapResequenceTimeout, res.Gaps[0].Source)
	require.Len(t, res.Batches, 2) // fill + drained packet 2
	assert.True(t, res.Batches[0].Fill)
	assert.False(t, res.Batches[1].Fill)
}

func TestResequencerLateAndDuplicate(t *testing.T) {
	rs := NewResequencer(20000)
	now := time.Now()

	rs.Submit(0, testSamples(0), false, now)
	rs.Submit(1*testPacketSamples, testSamples(1), false, now)

	// Exact retransmit of packet 1.
	res := rs.Submit(1*testPacketSamples, testSamples(1), false, now)
	require.Empty(t, res.Batches)
	assert.Equal(t, uint64(1), rs.Quality().PacketsDuplicate)

	// Packet 0 again: far behind, counted late.
	res = rs.Submit(0, testSamples(0), false, now)
	require.Empty(t, res.Batches)
	assert.Equal(t, uint64(1), rs.Quality().PacketsLate)
}

func TestResequencerEmptyPayload(t *testing.T) {
	rs := NewResequencer(20000)
	now := time.Now()

	rs.Submit(0, testSamples(0), false, now)

	res := rs.Submit(1*testPacketSamples, nil, true, now)
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, GapEmptyPayload, res.Gaps[0].Source)
	assert.Equal(t, uint32(testPacketSamples), res.Gaps[0].DurationSamples)
	require.Len(t, res.Batches, 1)
	assert.True(t, res.Batches[0].Fill)

	// The counter advanced: the next real packet is in sequence.
	res = rs.Submit(2*testPacketSamples, testSamples(2), false, now)
	require.Len(t, res.Batches, 1)
	assert.False(t, res.Batches[0].Fill)
	require.Empty(t, res.Gaps)
}

func TestResequencerWrapAround(t *testing.T) {
	rs := NewResequencer(20000)
	now := time.Now()

	var zero uint32
	start := zero - 2*testPacketSamples // two packets before wrap
	for i := 0; i < 5; i++ {
		res := rs.Submit(start+uint32(i*testPacketSamples), testSamples(i), false, now)
		require.Len(t, res.Batches, 1, "packet %d across wrap must emit", i)
		require.Empty(t, res.Gaps)
	}
	assert.Equal(t, uint64(5*testPacketSamples), rs.Position())
}

func TestResequencerCatastrophicJump(t *testing.T) {
	rs := NewResequencer(20000)
	now := time.Now()

	rs.Submit(0, testSamples(0), false, now)

	jump := uint32(25 * 20000) // 25 s forward
	res := rs.Submit(jump, testSamples(1), false, now)
	require.True(t, res.Interrupted)
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, GapStreamInterruption, res.Gaps[0].Source)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, 0, res.ResumeBatchIndex)
	assert.Equal(t, jump, res.Batches[0].RTPTimestamp)

	// Stream continues from the new anchor.
	res = rs.Submit(jump+testPacketSamples, testSamples(2), false, now)
	require.Len(t, res.Batches, 1)
	require.Empty(t, res.Gaps)
}

func TestResequencerAccountingInvariant(t *testing.T) {
	rs := NewResequencer(20000)
	rs.Capacity = 8
	now := time.Now()

	// Lossy pattern: drop every 7th packet.
	for i := 0; i < 200; i++ {
		if i%7 == 3 {
			continue
		}
		rs.Submit(uint32(i*testPacketSamples), testSamples(i), false, now)
	}
	rs.Flush()

	q := rs.Quality()
	assert.Equal(t, q.SamplesExpected, q.SamplesDelivered+q.GapSamples)
	assert.Equal(t, q.SamplesExpected, uint64(rs.Position()))
}

// Any arrival order of the same packet set within the reorder window
// produces an identical sample stream.
func TestResequencerIdempotence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 32).Draw(t, "packets")
		perm := intRange(n)
		for i := n - 1; i > 0; i-- {
			j := rapid.IntRange(0, i).Draw(t, "swap")
			perm[i], perm[j] = perm[j], perm[i]
		}
		now := time.Now()

		inOrder := NewResequencer(20000)
		var want []complex64
		for i := 0; i < n; i++ {
			want = append(want, collectSamples(inOrder.Submit(uint32(i*testPacketSamples), testSamples(i), false, now))...)
		}

		shuffled := NewResequencer(20000)
		// First packet must come first to fix the stream origin; the
		// rest arrive in arbitrary order within the window.
		var got []complex64
		got = append(got, collectSamples(shuffled.Submit(0, testSamples(0), false, now))...)
		for _, i := range perm {
			if i == 0 {
				continue
			}
			got = append(got, collectSamples(shuffled.Submit(uint32(i*testPacketSamples), testSamples(i), false, now))...)
		}
		got = append(got, collectSamples(shuffled.Flush())...)

		require.Equal(t, want, got)
		assert.Equal(t, inOrder.Position(), shuffled.Position())
	})
}

func intRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
