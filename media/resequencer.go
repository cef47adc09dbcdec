// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"time"
)

const (
	// DefaultResequenceCapacity is the reorder window in packets.
	DefaultResequenceCapacity = 64
	// DefaultHoldover bounds how long an unfilled hole may wait for a
	// late packet before being zero-filled.
	DefaultHoldover = 100 * time.Millisecond
	// DefaultSamplesPerPacket is radiod's nominal packet size at 20 kHz.
	DefaultSamplesPerPacket = 320
)

// Batch is an in-order run of samples. Fill batches carry zeros standing
// in for samples that never arrived; each fill batch pairs with exactly
// one GapEvent at the same position.
type Batch struct {
	RTPTimestamp uint32
	// Position is the sample offset since stream start.
	Position uint64
	Samples  []complex64
	Fill     bool
}

// SubmitResult is what one packet submission produced. Batches are in
// stream order. Interrupted signals the caller must rebootstrap the
// time-base before consuming the batches that follow the interruption.
type SubmitResult struct {
	Batches     []Batch
	Gaps        []GapEvent
	Interrupted bool
	// ResumeBatchIndex is the index of the first batch after a stream
	// interruption; it belongs to the next time-base epoch. Meaningful
	// only when Interrupted.
	ResumeBatchIndex int
}

type pendingPacket struct {
	rtpTS   uint32
	samples []complex64
	empty   bool
	arrived time.Time
}

// Resequencer recovers in-order samples from a lossy, reorderable
// stream of RTP packets belonging to one SSRC. It never fails: every
// ambiguity becomes a GapEvent and zero-filled samples.
//
// Wraparound of the 32-bit RTP timestamp is handled exclusively through
// signed 32-bit arithmetic on timestamp differences.
//
// Not safe for concurrent use; one resequencer belongs to one receive
// loop.
type Resequencer struct {
	// Capacity is the reorder buffer size in packets.
	Capacity int
	// Holdover bounds the wall-clock wait for a missing packet.
	Holdover time.Duration
	// CatastrophicSamples is the interruption threshold in samples
	// (default 20 s worth).
	CatastrophicSamples uint32
	// NominalPacketSamples sizes holes left by zero-length payloads and
	// converts gap durations to lost packet counts.
	NominalPacketSamples int

	started  bool
	expected uint32 // next expected RTP timestamp
	position uint64 // samples emitted since stream start
	pending  []pendingPacket

	quality StreamQuality

	zeros []complex64
}

// NewResequencer returns a resequencer with production defaults for
// the given sample rate.
func NewResequencer(sampleRate uint32) *Resequencer {
	return &Resequencer{
		Capacity:             DefaultResequenceCapacity,
		Holdover:             DefaultHoldover,
		CatastrophicSamples:  20 * sampleRate,
		NominalPacketSamples: DefaultSamplesPerPacket,
	}
}

// Quality returns the cumulative stream accounting.
func (rs *Resequencer) Quality() StreamQuality {
	return rs.quality
}

// Position returns the total samples emitted since stream start.
func (rs *Resequencer) Position() uint64 {
	return rs.position
}

// Started reports whether the first packet has been seen.
func (rs *Resequencer) Started() bool {
	return rs.started
}

// Submit feeds one packet. samples is retained until emitted; the
// caller must not reuse it. empty marks a zero-length or all-zero
// payload; such packets advance the stream but produce a gap instead of
// sample data.
func (rs *Resequencer) Submit(rtpTS uint32, samples []complex64, empty bool, now time.Time) SubmitResult {
	res := SubmitResult{}

	rs.quality.PacketsReceived++
	rs.quality.LastPacket = now

	if !rs.started {
		rs.started = true
		rs.expected = rtpTS
		rs.quality.StreamStart = now
		rs.emitPacket(&res, rtpTS, samples, empty)
		return res
	}

	diff := int32(rtpTS - rs.expected)

	switch {
	case diff == 0:
		rs.emitPacket(&res, rtpTS, samples, empty)
		rs.drain(&res)

	case rs.isCatastrophic(diff):
		rs.interrupt(&res, diff)
		res.ResumeBatchIndex = len(res.Batches)
		rs.expected = rtpTS
		rs.emitPacket(&res, rtpTS, samples, empty)

	case diff > 0:
		rs.insertPending(pendingPacket{rtpTS: rtpTS, samples: samples, empty: empty, arrived: now})
		if len(rs.pending) > rs.Capacity {
			// Buffer overflow: give up on the oldest hole.
			rs.fillTo(&res, rs.pending[0].rtpTS, GapNetworkLoss)
			rs.drain(&res)
		}

	default:
		// Late or duplicate. A packet overlapping the position we just
		// passed is a retransmit; anything older is simply late.
		if uint32(-diff) <= uint32(len(samples)) && len(samples) > 0 {
			rs.quality.PacketsDuplicate++
		} else {
			rs.quality.PacketsLate++
		}
	}

	rs.expireHoldover(&res, now)
	return res
}

// Tick zero-fills holes whose holdover deadline has expired. The
// receive loop calls it on read timeouts so holes are bounded even when
// no packets arrive.
func (rs *Resequencer) Tick(now time.Time) SubmitResult {
	res := SubmitResult{}
	rs.expireHoldover(&res, now)
	return res
}

// Flush drains the reorder buffer, zero-filling every remaining hole.
// Used on shutdown.
func (rs *Resequencer) Flush() SubmitResult {
	res := SubmitResult{}
	for len(rs.pending) > 0 {
		rs.fillTo(&res, rs.pending[0].rtpTS, GapResequenceTimeout)
		rs.drain(&res)
	}
	return res
}

func (rs *Resequencer) isCatastrophic(diff int32) bool {
	cat := rs.CatastrophicSamples
	if cat == 0 {
		return false
	}
	if diff > 0 {
		return uint32(diff) >= cat
	}
	return uint32(-diff) >= cat
}

// interrupt handles a timestamp jump beyond the catastrophic threshold:
// drain what we can, then mark the stream interrupted so the assembler
// rebootstraps the time-base.
func (rs *Resequencer) interrupt(res *SubmitResult, diff int32) {
	for len(rs.pending) > 0 {
		rs.fillTo(res, rs.pending[0].rtpTS, GapNetworkLoss)
		rs.drain(res)
	}

	gap := GapEvent{
		Source:          GapStreamInterruption,
		PositionSamples: rs.position,
	}
	if diff > 0 {
		gap.DurationSamples = uint32(diff)
		gap.PacketsAffected = rs.packetsIn(uint32(diff))
	}
	rs.quality.GapCount++
	res.Gaps = append(res.Gaps, gap)
	res.Interrupted = true
}

// emitPacket emits the packet whose timestamp equals expected.
func (rs *Resequencer) emitPacket(res *SubmitResult, rtpTS uint32, samples []complex64, empty bool) {
	n := len(samples)
	if empty {
		if n == 0 {
			n = rs.NominalPacketSamples
		}
		rs.emitGapFill(res, rtpTS, uint32(n), GapEmptyPayload, 1)
		rs.expected = rtpTS + uint32(n)
		rs.quality.PacketsExpected++
		return
	}

	res.Batches = append(res.Batches, Batch{
		RTPTimestamp: rtpTS,
		Position:     rs.position,
		Samples:      samples,
	})
	rs.position += uint64(n)
	rs.expected = rtpTS + uint32(n)
	rs.quality.SamplesDelivered += uint64(n)
	rs.quality.SamplesExpected += uint64(n)
	rs.quality.PacketsExpected++
}

// emitGapFill emits a zero batch plus its GapEvent at the current
// position.
func (rs *Resequencer) emitGapFill(res *SubmitResult, rtpTS uint32, duration uint32, source GapSource, packets int) {
	res.Gaps = append(res.Gaps, GapEvent{
		Source:          source,
		PositionSamples: rs.position,
		DurationSamples: duration,
		PacketsAffected: packets,
	})
	res.Batches = append(res.Batches, Batch{
		RTPTimestamp: rtpTS,
		Position:     rs.position,
		Samples:      rs.zeroSamples(int(duration)),
		Fill:         true,
	})
	rs.position += uint64(duration)
	rs.quality.GapCount++
	rs.quality.GapSamples += uint64(duration)
	rs.quality.SamplesExpected += uint64(duration)
}

// fillTo zero-fills from expected up to rtpTS and accounts the covered
// packets as lost, whatever the gap source.
func (rs *Resequencer) fillTo(res *SubmitResult, rtpTS uint32, source GapSource) {
	duration := uint32(int32(rtpTS - rs.expected))
	if duration == 0 {
		return
	}
	packets := rs.packetsIn(duration)
	rs.emitGapFill(res, rs.expected, duration, source, packets)
	rs.quality.PacketsLost += uint64(packets)
	rs.quality.PacketsExpected += uint64(packets)
	rs.expected = rtpTS
}

// drain emits the contiguous prefix of the reorder buffer.
func (rs *Resequencer) drain(res *SubmitResult) {
	for len(rs.pending) > 0 {
		p := rs.pending[0]
		if int32(p.rtpTS-rs.expected) != 0 {
			return
		}
		rs.pending = rs.pending[1:]
		rs.emitPacket(res, p.rtpTS, p.samples, p.empty)
	}
}

func (rs *Resequencer) expireHoldover(res *SubmitResult, now time.Time) {
	for len(rs.pending) > 0 && now.Sub(rs.pending[0].arrived) >= rs.Holdover {
		rs.fillTo(res, rs.pending[0].rtpTS, GapResequenceTimeout)
		rs.drain(res)
	}
}

// insertPending keeps pending sorted by signed distance from expected.
// Duplicates of a buffered packet are dropped.
func (rs *Resequencer) insertPending(p pendingPacket) {
	at := len(rs.pending)
	for i, q := range rs.pending {
		d := int32(p.rtpTS - q.rtpTS)
		if d == 0 {
			rs.quality.PacketsDuplicate++
			return
		}
		if d < 0 {
			at = i
			break
		}
	}
	rs.pending = append(rs.pending, pendingPacket{})
	copy(rs.pending[at+1:], rs.pending[at:])
	rs.pending[at] = p
}

func (rs *Resequencer) packetsIn(samples uint32) int {
	n := rs.NominalPacketSamples
	if n <= 0 {
		n = DefaultSamplesPerPacket
	}
	return int((samples + uint32(n) - 1) / uint32(n))
}

// zeroSamples returns a slice of count zeros. The backing store is
// shared across calls; fill batches must be treated as read-only.
func (rs *Resequencer) zeroSamples(count int) []complex64 {
	if count <= len(rs.zeros) {
		return rs.zeros[:count]
	}
	if count <= 1<<16 {
		rs.zeros = make([]complex64, 1<<16)
		return rs.zeros[:count]
	}
	return make([]complex64, count)
}
