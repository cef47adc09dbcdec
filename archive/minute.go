// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package archive

import (
	"math"

	"github.com/mijahauan/signal-recorder-sub006/media"
)

// Minute is one immutable per-minute record: exactly SampleRate*60
// samples aligned to the time-base's minute boundary. Shortfalls at the
// edges are zero-padded and accounted in the cadence fill fields.
type Minute struct {
	// BoundaryUTC is floor(utc/60)*60 of the first sample slot.
	BoundaryUTC int64
	SSRC        uint32
	FrequencyHz float64
	SampleRate  uint32
	Samples     []complex64

	// Quality is the stream accounting delta over this minute.
	Quality media.StreamQuality
	// Gaps are the gap events that started inside this minute.
	Gaps []media.GapEvent

	// CadenceFillStart/End are zero-padded samples at the record edges.
	CadenceFillStart uint32
	CadenceFillEnd   uint32
	// LateStartDelayMS is nonzero on the first record of a stream that
	// began mid-minute.
	LateStartDelayMS float64

	Epoch int
	// StartPosition is the stream sample position of the first real
	// (non-padded) sample; it names the record on disk.
	StartPosition uint64
}

// SampleCount is the invariant record length.
func (m *Minute) SampleCount() int {
	return int(m.SampleRate) * 60
}

// CompletenessPct is delivered/expected over this minute, counting
// cadence fill as missing.
func (m *Minute) CompletenessPct() float64 {
	total := float64(m.SampleCount())
	missing := float64(m.Quality.GapSamples) + float64(m.CadenceFillStart) + float64(m.CadenceFillEnd)
	if missing > total {
		missing = total
	}
	return 100.0 * (total - missing) / total
}

// MinuteOfHour returns 0..59 for the record boundary.
func (m *Minute) MinuteOfHour() int {
	return int((m.BoundaryUTC / 60) % 60)
}

// CutterConfig identifies the channel a cutter segments for.
type CutterConfig struct {
	SSRC        uint32
	FrequencyHz float64
	SampleRate  uint32
}

// Cutter groups an ordered segment stream into minute records in the
// time-base frame. Both the archiver and the analytics feed run one;
// the cutter itself does no I/O.
type Cutter struct {
	cfg CutterConfig

	cur      *Minute
	curFill  int // samples placed into cur, including front padding
	lastQ    media.StreamQuality // accounting at last completed minute
	seenQ    media.StreamQuality // latest accounting observed
	curEpoch int
	started  bool
}

func NewCutter(cfg CutterConfig) *Cutter {
	return &Cutter{cfg: cfg}
}

// Push feeds one segment and returns any completed minutes, in order.
func (c *Cutter) Push(seg media.Segment) []*Minute {
	var done []*Minute
	c.seenQ = seg.Quality

	if seg.Gap != nil && len(seg.Samples) == 0 {
		switch seg.Gap.Source {
		case media.GapStreamInterruption:
			if m := c.Flush(); m != nil {
				done = append(done, m)
			}
		case media.GapStreamStart:
			c.curEpoch = seg.Epoch
		}
		return done
	}
	if len(seg.Samples) == 0 {
		return done
	}

	if c.started && seg.Epoch != c.curEpoch {
		// Epoch changed without an explicit marker (restart path).
		if m := c.Flush(); m != nil {
			done = append(done, m)
		}
	}
	c.curEpoch = seg.Epoch
	c.started = true

	samples := seg.Samples
	utc := seg.UTC
	position := seg.Position

	for len(samples) > 0 {
		if c.cur == nil {
			c.open(utc, position, seg.Epoch)
		}

		space := c.cur.SampleCount() - c.curFill
		n := len(samples)
		if n > space {
			n = space
		}
		copy(c.cur.Samples[c.curFill:], samples[:n])
		c.curFill += n
		samples = samples[n:]
		position += uint64(n)
		utc += float64(n) / float64(c.cfg.SampleRate)

		if seg.Gap != nil && len(seg.Samples) > 0 && c.cur != nil {
			// Fill segment: attach its gap to the record it starts in.
			c.attachGap(*seg.Gap)
			seg.Gap = nil
		}

		if c.curFill == c.cur.SampleCount() {
			done = append(done, c.complete(seg.Quality))
		}
	}
	return done
}

// Flush completes the current partial minute with end padding. Returns
// nil when no minute is open. Used on interruption and shutdown.
func (c *Cutter) Flush() *Minute {
	if c.cur == nil {
		return nil
	}
	c.cur.CadenceFillEnd = uint32(c.cur.SampleCount() - c.curFill)
	return c.complete(c.seenQ)
}

func (c *Cutter) open(utc float64, position uint64, epoch int) {
	// Half-sample epsilon keeps a boundary-aligned sample from falling
	// into the previous minute through float rounding.
	eps := 0.5 / float64(c.cfg.SampleRate)
	boundary := int64(math.Floor((utc+eps)/60.0)) * 60
	offset := int(math.Round((utc - float64(boundary)) * float64(c.cfg.SampleRate)))
	total := int(c.cfg.SampleRate) * 60
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		offset = total - 1
	}

	m := &Minute{
		BoundaryUTC:   boundary,
		SSRC:          c.cfg.SSRC,
		FrequencyHz:   c.cfg.FrequencyHz,
		SampleRate:    c.cfg.SampleRate,
		Samples:       make([]complex64, total),
		Epoch:         epoch,
		StartPosition: position,
	}
	if offset > 0 {
		m.CadenceFillStart = uint32(offset)
		m.LateStartDelayMS = float64(offset) / float64(c.cfg.SampleRate) * 1000.0
	}
	c.cur = m
	c.curFill = offset
}

func (c *Cutter) attachGap(g media.GapEvent) {
	c.cur.Gaps = append(c.cur.Gaps, g)
}

func (c *Cutter) complete(q media.StreamQuality) *Minute {
	m := c.cur
	m.Quality = q.Sub(c.lastQ)
	c.lastQ = q
	c.cur = nil
	c.curFill = 0
	return m
}
